package worker

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/any-hub/shell-cache/internal/cache"
	"github.com/any-hub/shell-cache/internal/config"
	"github.com/any-hub/shell-cache/internal/registry"
)

// Settings 是一个部署版本的不可变策略配置：缓存名称、站点 origin、路径前缀与白名单。
type Settings struct {
	Names              registry.Names
	Origin             *url.URL
	Manifest           []string
	StaticPrefix       string
	APIPrefix          string
	CacheableAPI       []string
	InstallConcurrency int
}

// NewSettings 从配置构建 Settings，校验失败时返回错误。
func NewSettings(cfg *config.Config) (Settings, error) {
	if cfg == nil {
		return Settings{}, errors.New("config required")
	}
	names, err := registry.FromConfig(cfg.Worker)
	if err != nil {
		return Settings{}, err
	}
	origin, err := url.Parse(strings.TrimSpace(cfg.Global.Origin))
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return Settings{}, fmt.Errorf("invalid origin %q", cfg.Global.Origin)
	}
	concurrency := cfg.Global.InstallConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return Settings{
		Names:              names,
		Origin:             origin,
		Manifest:           append([]string(nil), cfg.Worker.ShellManifest...),
		StaticPrefix:       cfg.Worker.StaticPrefix,
		APIPrefix:          cfg.Worker.APIPrefix,
		CacheableAPI:       append([]string(nil), cfg.Worker.CacheableAPI...),
		InstallConcurrency: concurrency,
	}, nil
}

// FallbackKey 是 stale-while-revalidate 的兜底条目：站点根路径。
func (s Settings) FallbackKey() cache.Key {
	return cache.KeyForPath("/")
}

// SameOrigin 判断 u 与站点 origin 的 scheme/host/port 是否一致，默认端口按 scheme 补齐。
func (s Settings) SameOrigin(u *url.URL) bool {
	if u == nil || s.Origin == nil {
		return false
	}
	if !strings.EqualFold(u.Scheme, s.Origin.Scheme) {
		return false
	}
	host, port := normalizeHost(u.Host, u.Scheme)
	originHost, originPort := normalizeHost(s.Origin.Host, s.Origin.Scheme)
	return host == originHost && port == originPort
}

// ManifestURL 将 manifest 中的路径解析为站点内的绝对地址。
func (s Settings) ManifestURL(p string) *url.URL {
	ref, err := url.Parse(p)
	if err != nil {
		ref = &url.URL{Path: p}
	}
	return s.Origin.ResolveReference(ref)
}

func (s Settings) isCacheableAPI(p string) bool {
	for _, allowed := range s.CacheableAPI {
		if p == allowed {
			return true
		}
	}
	return false
}

func normalizeHost(raw, scheme string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0
	if h, p, err := net.SplitHostPort(raw); err == nil {
		host = h
		if parsed, err := strconv.Atoi(p); err == nil {
			port = parsed
		}
	}
	if port == 0 {
		switch strings.ToLower(scheme) {
		case "https":
			port = 443
		default:
			port = 80
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
