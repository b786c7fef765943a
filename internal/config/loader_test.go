package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
Upstream = "http://127.0.0.1:8000"
UpstreamTimeout = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAppliesWorkerDefaults(t *testing.T) {
	path := writeTempConfig(t, `
Upstream = "http://127.0.0.1:8000"
StorageDriver = "memory"
UpstreamTimeout = 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 5*time.Second {
		t.Fatalf("纯数字应按秒解析，得到 %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.Origin != "http://localhost:5000" {
		t.Fatalf("Origin 应默认为监听地址，得到 %s", cfg.Global.Origin)
	}
	w := cfg.Worker
	if w.Namespace != "bible-ai-" || w.ShellVersion != "shell-v2" || w.StaticVersion != "static-v2" || w.APIVersion != "api-v1-current" {
		t.Fatalf("版本默认值错误: %+v", w)
	}
	if w.StaticPrefix != "/static/" || w.APIPrefix != "/api/" {
		t.Fatalf("前缀默认值错误: %+v", w)
	}
	if len(w.ShellManifest) != len(DefaultShellManifest) {
		t.Fatalf("ShellManifest 默认值错误: %v", w.ShellManifest)
	}
	if len(w.CacheableAPI) != 0 {
		t.Fatalf("CacheableAPI 默认应为空: %v", w.CacheableAPI)
	}
}

func TestWatchReportsChanges(t *testing.T) {
	path := writeTempConfig(t, `
Upstream = "http://127.0.0.1:8000"
StorageDriver = "memory"

[Worker]
ShellVersion = "shell-v2"
`)
	changes := make(chan *Config, 4)
	if err := Watch(path, func(cfg *Config) { changes <- cfg }, nil); err != nil {
		t.Fatalf("Watch 返回错误: %v", err)
	}

	updated := `
Upstream = "http://127.0.0.1:8000"
StorageDriver = "memory"

[Worker]
ShellVersion = "shell-v3"
`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Worker.ShellVersion == "shell-v3" {
				return
			}
		case <-deadline:
			t.Fatalf("未收到配置变更通知")
		}
	}
}
