// Package strategy implements the caching algorithms the router dispatches
// to. Every strategy returns the primary response immediately and reports the
// best-effort cache write separately through an Effect, so a failed write can
// never change what the client receives.
package strategy

import (
	"context"
	"errors"
	"net/http"

	"github.com/any-hub/shell-cache/internal/cache"
)

// ErrNoResponse 表示 stale-while-revalidate 既没有新鲜响应也没有兜底条目。
var ErrNoResponse = errors.New("no usable response")

// Fetcher 是网络回源抽象；非 2xx 状态应作为正常响应返回，只有传输失败才返回 error。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*cache.Response, error)
}

// FetcherFunc 允许以函数形式实现 Fetcher。
type FetcherFunc func(ctx context.Context, req *http.Request) (*cache.Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	return f(ctx, req)
}

// Source 标识主响应的来源。
type Source string

const (
	SourceNetwork   Source = "network"
	SourceCache     Source = "cache"
	SourceFallback  Source = "fallback"
	SourceSynthetic Source = "synthetic"
)

// Result 区分主响应与次要的缓存写入效果。
type Result struct {
	Response *cache.Response
	Source   Source
	Effect   *Effect
}

// CacheHit 表示主响应是否来自缓存（含兜底条目）。
func (r Result) CacheHit() bool {
	return r.Source == SourceCache || r.Source == SourceFallback
}

// Synthetic 构造合成网络错误结果，保证调用方总能得到明确的失败响应。
func Synthetic() Result {
	return Result{Response: cache.NetworkError(), Source: SourceSynthetic}
}

// StoreOutcome 描述一次后台写缓存的结果。
type StoreOutcome struct {
	// Attempted 为 false 表示响应不可缓存或回源失败，没有发起写入。
	Attempted bool
	Stored    bool
	Err       error
}

// Effect 是后台运行的写缓存任务。nil Effect 表示没有次要效果。
type Effect struct {
	done    chan struct{}
	outcome StoreOutcome
}

func spawn(fn func() StoreOutcome) *Effect {
	e := &Effect{done: make(chan struct{})}
	go func() {
		defer close(e.done)
		e.outcome = fn()
	}()
	return e
}

// Done 在效果结束后关闭。
func (e *Effect) Done() <-chan struct{} {
	if e == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return e.done
}

// Wait 阻塞直到效果结束或 ctx 取消；ctx 取消时返回的 Err 为 ctx.Err()。
func (e *Effect) Wait(ctx context.Context) StoreOutcome {
	if e == nil {
		return StoreOutcome{}
	}
	select {
	case <-e.done:
		return e.outcome
	case <-ctx.Done():
		return StoreOutcome{Err: ctx.Err()}
	}
}

// store 把可用响应的副本写入分区；不可用的响应直接跳过。
func store(ctx context.Context, partition cache.Partition, key cache.Key, resp *cache.Response) StoreOutcome {
	if partition == nil || !resp.Usable() {
		return StoreOutcome{}
	}
	if err := cache.StoreUsable(ctx, partition, key, resp); err != nil {
		return StoreOutcome{Attempted: true, Err: err}
	}
	return StoreOutcome{Attempted: true, Stored: true}
}

func match(ctx context.Context, partition cache.Partition, key cache.Key) *cache.Response {
	if partition == nil {
		return nil
	}
	resp, err := partition.Match(ctx, key)
	if err != nil {
		return nil
	}
	return resp
}

// fetch 把合成网络错误也视为传输失败。
func fetch(ctx context.Context, fetcher Fetcher, req *http.Request) (*cache.Response, error) {
	resp, err := fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.IsNetworkError() {
		return nil, errNetworkError
	}
	return resp, nil
}

var errNetworkError = errors.New("network error response")
