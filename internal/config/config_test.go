package config

import (
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("UpstreamTimeout 应解析为 15s，得到 %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.MaxBodySize == 0 {
		t.Fatalf("MaxBodySize 应该自动填充默认值")
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Worker.Namespace != "bible-ai-" {
		t.Fatalf("Namespace 解析错误: %q", cfg.Worker.Namespace)
	}
	if len(cfg.Worker.ShellManifest) != 3 {
		t.Fatalf("ShellManifest 应包含 3 项，得到 %v", cfg.Worker.ShellManifest)
	}
	if len(cfg.Worker.CacheableAPI) != 2 || cfg.Worker.CacheableAPI[0] != "/api/books" {
		t.Fatalf("CacheableAPI 解析错误: %v", cfg.Worker.CacheableAPI)
	}
}

func TestValidateRejectsMissingVersion(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestStorageDriverValidation(t *testing.T) {
	testCases := []struct {
		name      string
		driver    string
		redisAddr string
		shouldErr bool
	}{
		{"fs ok", DriverFS, "", false},
		{"sqlite ok", DriverSQLite, "", false},
		{"memory ok", DriverMemory, "", false},
		{"redis ok", DriverRedis, "127.0.0.1:6379", false},
		{"redis without addr", DriverRedis, "", true},
		{"unsupported driver", "bolt", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.StorageDriver = tc.driver
			cfg.Global.RedisAddr = tc.redisAddr
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for driver %q", tc.driver)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for driver %q: %v", tc.driver, err)
			}
		})
	}
}

func TestValidateRejectsDuplicateVersions(t *testing.T) {
	cfg := validConfig()
	cfg.Worker.APIVersion = cfg.Worker.ShellVersion
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("重复的版本后缀应报错")
	}
	fieldErr, ok := err.(FieldError)
	if !ok || fieldErr.Field != "Worker.APIVersion" {
		t.Fatalf("期望 Worker.APIVersion 字段错误，得到 %v", err)
	}
}

func TestValidateRejectsCacheableOutsideAPIPrefix(t *testing.T) {
	cfg := validConfig()
	cfg.Worker.CacheableAPI = []string{"/static/books"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("CacheableAPI 不在 API 前缀下时应报错")
	}
}

func TestValidateRejectsBadPrefix(t *testing.T) {
	cfg := validConfig()
	cfg.Worker.StaticPrefix = "static"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("前缀缺少 / 时应报错")
	}
}

func TestValidateRejectsNegativeRequestBodyLimit(t *testing.T) {
	cfg := validConfig()
	cfg.Global.RequestBodyLimit = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("负数请求体上限应报错")
	}
	cfg.Global.RequestBodyLimit = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("0 表示使用默认上限: %v", err)
	}
}

func TestValidateRequiresUpstream(t *testing.T) {
	cfg := validConfig()
	cfg.Global.Upstream = "ftp://origin.local"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非 http 上游应报错")
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:         5000,
			StorageDriver:      DriverFS,
			StoragePath:        "./data",
			Upstream:           "http://127.0.0.1:8000",
			Origin:             "http://localhost:5000",
			UpstreamTimeout:    Duration(time.Second),
			MaxBodySize:        1024,
			InstallConcurrency: 2,
		},
		Worker: WorkerConfig{
			Namespace:     "bible-ai-",
			ShellVersion:  "shell-v2",
			StaticVersion: "static-v2",
			APIVersion:    "api-v1-current",
			ShellManifest: []string{"/"},
			StaticPrefix:  "/static/",
			APIPrefix:     "/api/",
			CacheableAPI:  []string{"/api/books"},
		},
	}
}
