// Package upstream talks to the origin web application behind the gateway.
// Fetch buffers a whole GET response so it can be cached; Forward streams any
// request through untouched.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/any-hub/shell-cache/internal/cache"
	"github.com/any-hub/shell-cache/internal/config"
	"github.com/any-hub/shell-cache/internal/version"
)

// ErrBodyTooLarge 表示上游响应体超过 MaxBodySize，无法缓冲。
var ErrBodyTooLarge = errors.New("upstream body exceeds max body size")

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient 返回共享 http.Client；重定向原样交还给浏览器处理。
func NewHTTPClient(cfg config.GlobalConfig) *http.Client {
	timeout := 30 * time.Second
	if cfg.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Client 把网关收到的请求改写到上游地址后发出。
type Client struct {
	http    *http.Client
	base    *url.URL
	maxBody int64
}

// New 基于全局配置创建上游客户端。
func New(cfg config.GlobalConfig) (*Client, error) {
	return NewWithHTTPClient(cfg, NewHTTPClient(cfg))
}

// NewWithHTTPClient 允许测试注入自定义 http.Client。
func NewWithHTTPClient(cfg config.GlobalConfig, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.Upstream))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q", cfg.Upstream)
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg)
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = 32 << 20
	}
	return &Client{http: httpClient, base: base, maxBody: maxBody}, nil
}

// Base 返回上游根地址的副本。
func (c *Client) Base() *url.URL {
	u := *c.base
	return &u
}

// Fetch 发出 GET 并完整读取响应体。非 2xx 状态不视为错误，由调用方决定是否缓存；
// 只有传输失败或响应体超限才返回 error。
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	out, err := c.buildRequest(ctx, req, http.MethodGet, http.NoBody)
	if err != nil {
		return nil, err
	}
	for _, h := range revalidationHeaders {
		out.Header.Del(h)
	}

	resp, err := c.http.Do(out)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", out.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", out.URL.Redacted(), err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w: %s", ErrBodyTooLarge, out.URL.Redacted())
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	return &cache.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
		Kind:   cache.KindBasic,
	}, nil
}

// Forward 原样转发请求并返回流式响应，调用方负责关闭 Body。
func (c *Client) Forward(ctx context.Context, req *http.Request) (*http.Response, error) {
	body := req.Body
	if body == nil {
		body = http.NoBody
	}
	out, err := c.buildRequest(ctx, req, req.Method, body)
	if err != nil {
		return nil, err
	}
	out.ContentLength = req.ContentLength
	resp, err := c.http.Do(out)
	if err != nil {
		return nil, fmt.Errorf("forward %s %s: %w", req.Method, out.URL.Redacted(), err)
	}
	return resp, nil
}

// ResolveURL 将请求 URI 映射到上游地址，保留原始 path 与 query。
func (c *Client) ResolveURL(u *url.URL) *url.URL {
	target := c.Base()
	p := "/"
	rawPath := ""
	query := ""
	if u != nil {
		if u.Path != "" {
			p = u.Path
		}
		rawPath = u.RawPath
		query = u.RawQuery
	}
	target.Path = joinPath(target.Path, p)
	if rawPath != "" {
		target.RawPath = joinPath(c.base.EscapedPath(), rawPath)
	} else {
		target.RawPath = ""
	}
	target.RawQuery = query
	return target
}

func (c *Client) buildRequest(ctx context.Context, in *http.Request, method string, body io.Reader) (*http.Request, error) {
	if in == nil || in.URL == nil {
		return nil, errors.New("request required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	target := c.ResolveURL(in.URL)
	out, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}

	CopyHeaders(out.Header, in.Header)
	out.Header.Del("Accept-Encoding")
	out.Host = target.Host
	if in.Host != "" {
		out.Header.Set("X-Forwarded-Host", in.Host)
	}
	if in.URL.Scheme != "" {
		out.Header.Set("X-Forwarded-Proto", in.URL.Scheme)
	}
	if out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", version.UserAgent())
	}
	return out, nil
}

func joinPath(base, p string) string {
	base = strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return base + p
}
