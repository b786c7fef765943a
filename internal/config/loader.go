package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultShellManifest 是安装阶段预热的关键路径。
var DefaultShellManifest = []string{
	"/",
	"/static/manifest.json",
	"/static/images/cross-particle.png",
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch 监听配置文件变更，每次变更成功解析并通过校验后回调 onChange；
// 解析失败时回调 onError，旧配置继续生效。
func Watch(path string, onChange func(*Config), onError func(error)) error {
	v, err := newViper(path)
	if err != nil {
		return err
	}
	v.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func newViper(path string) (*viper.Viper, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyWorkerDefaults(&cfg.Worker)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StoragePath != "" {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StorageDriver", DriverFS)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("RedisPrefix", "shell-cache")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MaxBodySize", 32*1024*1024)
	v.SetDefault("InstallConcurrency", 4)
	v.SetDefault("Worker.Namespace", "bible-ai-")
	v.SetDefault("Worker.ShellVersion", "shell-v2")
	v.SetDefault("Worker.StaticVersion", "static-v2")
	v.SetDefault("Worker.APIVersion", "api-v1-current")
	v.SetDefault("Worker.ShellManifest", DefaultShellManifest)
	v.SetDefault("Worker.StaticPrefix", "/static/")
	v.SetDefault("Worker.APIPrefix", "/api/")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.StorageDriver == "" {
		g.StorageDriver = DriverFS
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.MaxBodySize == 0 {
		g.MaxBodySize = 32 * 1024 * 1024
	}
	if g.InstallConcurrency == 0 {
		g.InstallConcurrency = 4
	}
	if strings.TrimSpace(g.Origin) == "" {
		g.Origin = fmt.Sprintf("http://localhost:%d", g.ListenPort)
	}
}

func applyWorkerDefaults(w *WorkerConfig) {
	if w.StaticPrefix == "" {
		w.StaticPrefix = "/static/"
	}
	if w.APIPrefix == "" {
		w.APIPrefix = "/api/"
	}
	if w.ShellManifest == nil {
		w.ShellManifest = append([]string(nil), DefaultShellManifest...)
	}
	for i, p := range w.ShellManifest {
		w.ShellManifest[i] = strings.TrimSpace(p)
	}
	for i, p := range w.CacheableAPI {
		w.CacheableAPI[i] = strings.TrimSpace(p)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
