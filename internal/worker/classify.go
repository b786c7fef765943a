package worker

import (
	"net/http"
	"strings"

	"github.com/any-hub/shell-cache/internal/registry"
)

// Kind 是请求分类结果。
type Kind string

const (
	KindNavigation   Kind = "navigation"
	KindStatic       Kind = "static"
	KindCacheableAPI Kind = "api_cacheable"
	KindAPI          Kind = "api"
	KindOther        Kind = "other"
)

// 不拦截的原因。
const (
	ReasonMethod      = "method"
	ReasonCrossOrigin = "cross_origin"
	ReasonNoWorker    = "no_worker"
)

// Classification 描述一个请求是否被拦截以及命中的规则。
type Classification struct {
	Intercept bool
	Reason    string
	Kind      Kind
}

// Rule 是分类表中的一行，按顺序求值，首个命中的规则生效。
type Rule struct {
	Kind     Kind          `json:"kind"`
	Match    string        `json:"match"`
	Strategy string        `json:"strategy"`
	Role     registry.Role `json:"role,omitempty"`
	Cache    string        `json:"cache,omitempty"`
}

// Rules 返回当前配置下的有序分类表，供诊断端展示。
func (s Settings) Rules() []Rule {
	return []Rule{
		{Kind: KindNavigation, Match: "navigation request", Strategy: "network-first", Role: registry.RoleShell, Cache: s.Names.Shell},
		{Kind: KindStatic, Match: "prefix " + s.StaticPrefix, Strategy: "stale-while-revalidate", Role: registry.RoleStatic, Cache: s.Names.Static},
		{Kind: KindCacheableAPI, Match: "allow-list " + strings.Join(s.CacheableAPI, ","), Strategy: "network-first", Role: registry.RoleAPI, Cache: s.Names.API},
		{Kind: KindAPI, Match: "prefix " + s.APIPrefix, Strategy: "network-only"},
		{Kind: KindOther, Match: "*", Strategy: "network-only"},
	}
}

// Classify 按固定优先级对请求分类：非 GET 与跨域请求不拦截；
// 其余依次匹配导航、静态前缀、API 白名单、API 前缀，最后落到 other。
func (s Settings) Classify(req *http.Request) Classification {
	if req == nil || req.Method != http.MethodGet {
		return Classification{Reason: ReasonMethod}
	}
	if !s.SameOrigin(req.URL) {
		return Classification{Reason: ReasonCrossOrigin}
	}

	p := req.URL.Path
	if p == "" {
		p = "/"
	}
	switch {
	case isNavigation(req):
		return Classification{Intercept: true, Kind: KindNavigation}
	case strings.HasPrefix(p, s.StaticPrefix):
		return Classification{Intercept: true, Kind: KindStatic}
	case strings.HasPrefix(p, s.APIPrefix) && s.isCacheableAPI(p):
		return Classification{Intercept: true, Kind: KindCacheableAPI}
	case strings.HasPrefix(p, s.APIPrefix):
		return Classification{Intercept: true, Kind: KindAPI}
	default:
		return Classification{Intercept: true, Kind: KindOther}
	}
}

// isNavigation 优先使用 Fetch Metadata；旧客户端没有该头部时退回 Accept 判断。
func isNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	if dest := req.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return strings.EqualFold(dest, "document")
	}
	return strings.Contains(strings.ToLower(req.Header.Get("Accept")), "text/html")
}
