package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的缓存存储驱动。
const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// GlobalConfig 描述网关进程级行为：监听端口、日志、存储与上游。
type GlobalConfig struct {
	ListenPort         int      `mapstructure:"ListenPort"`
	LogLevel           string   `mapstructure:"LogLevel"`
	LogFilePath        string   `mapstructure:"LogFilePath"`
	LogMaxSize         int      `mapstructure:"LogMaxSize"`
	LogMaxBackups      int      `mapstructure:"LogMaxBackups"`
	LogCompress        bool     `mapstructure:"LogCompress"`
	StorageDriver      string   `mapstructure:"StorageDriver"`
	StoragePath        string   `mapstructure:"StoragePath"`
	RedisAddr          string   `mapstructure:"RedisAddr"`
	RedisDB            int      `mapstructure:"RedisDB"`
	RedisPrefix        string   `mapstructure:"RedisPrefix"`
	Upstream           string   `mapstructure:"Upstream"`
	Origin             string   `mapstructure:"Origin"`
	UpstreamTimeout    Duration `mapstructure:"UpstreamTimeout"`
	MaxBodySize        int64    `mapstructure:"MaxBodySize"`
	RequestBodyLimit   int      `mapstructure:"RequestBodyLimit"`
	InstallConcurrency int      `mapstructure:"InstallConcurrency"`
	WatchConfig        bool     `mapstructure:"WatchConfig"`
}

// WorkerConfig 是拦截器的固定策略配置，随部署版本整体替换。
type WorkerConfig struct {
	Namespace     string   `mapstructure:"Namespace"`
	ShellVersion  string   `mapstructure:"ShellVersion"`
	StaticVersion string   `mapstructure:"StaticVersion"`
	APIVersion    string   `mapstructure:"APIVersion"`
	ShellManifest []string `mapstructure:"ShellManifest"`
	StaticPrefix  string   `mapstructure:"StaticPrefix"`
	APIPrefix     string   `mapstructure:"APIPrefix"`
	CacheableAPI  []string `mapstructure:"CacheableAPI"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Worker WorkerConfig `mapstructure:"Worker"`
}

