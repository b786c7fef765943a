package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedDrivers = map[string]struct{}{
	DriverFS:     {},
	DriverSQLite: {},
	DriverRedis:  {},
	DriverMemory: {},
}

const supportedDriverList = "fs|sqlite|redis|memory"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedDrivers[g.StorageDriver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 "+supportedDriverList)
	}
	switch g.StorageDriver {
	case DriverFS, DriverSQLite:
		if strings.TrimSpace(g.StoragePath) == "" {
			return newFieldError("Global.StoragePath", "不能为空")
		}
	case DriverRedis:
		if strings.TrimSpace(g.RedisAddr) == "" {
			return newFieldError("Global.RedisAddr", "redis 驱动需要配置地址")
		}
		if g.RedisDB < 0 {
			return newFieldError("Global.RedisDB", "不能为负数")
		}
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxBodySize <= 0 {
		return newFieldError("Global.MaxBodySize", "必须大于 0")
	}
	if g.RequestBodyLimit < 0 {
		return newFieldError("Global.RequestBodyLimit", "不能为负数")
	}
	if g.InstallConcurrency <= 0 {
		return newFieldError("Global.InstallConcurrency", "必须大于 0")
	}
	if err := validateHTTPURL(g.Upstream, "缺少上游地址"); err != nil {
		return fmt.Errorf("Global.Upstream: %w", err)
	}
	if err := validateHTTPURL(g.Origin, "缺少站点 Origin"); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}

	return c.Worker.validate()
}

func (w WorkerConfig) validate() error {
	names := map[string]string{
		"ShellVersion":  w.ShellVersion,
		"StaticVersion": w.StaticVersion,
		"APIVersion":    w.APIVersion,
	}
	seen := map[string]string{}
	for _, field := range []string{"ShellVersion", "StaticVersion", "APIVersion"} {
		value := strings.TrimSpace(names[field])
		if value == "" {
			return newFieldError(workerField(field), "不能为空")
		}
		if strings.ContainsAny(value, "/\\ ") {
			return newFieldError(workerField(field), "不允许包含路径分隔符或空格")
		}
		if other, exists := seen[value]; exists {
			return newFieldError(workerField(field), "与 "+other+" 重复")
		}
		seen[value] = field
	}
	if strings.ContainsAny(w.Namespace, "/\\ ") {
		return newFieldError(workerField("Namespace"), "不允许包含路径分隔符或空格")
	}

	if err := validatePrefix(w.StaticPrefix); err != nil {
		return fmt.Errorf("%s: %w", workerField("StaticPrefix"), err)
	}
	if err := validatePrefix(w.APIPrefix); err != nil {
		return fmt.Errorf("%s: %w", workerField("APIPrefix"), err)
	}
	for _, p := range w.ShellManifest {
		if !strings.HasPrefix(p, "/") {
			return newFieldError(workerField("ShellManifest"), fmt.Sprintf("路径必须以 / 开头: %q", p))
		}
	}
	for _, p := range w.CacheableAPI {
		if !strings.HasPrefix(p, w.APIPrefix) {
			return newFieldError(workerField("CacheableAPI"), fmt.Sprintf("路径必须位于 %s 之下: %q", w.APIPrefix, p))
		}
	}
	return nil
}

func validatePrefix(prefix string) error {
	if !strings.HasPrefix(prefix, "/") || !strings.HasSuffix(prefix, "/") {
		return errors.New("前缀必须以 / 开头并以 / 结尾")
	}
	if prefix == "/" {
		return errors.New("前缀不能为根路径")
	}
	return nil
}

func validateHTTPURL(raw, missing string) error {
	if raw == "" {
		return errors.New(missing)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
