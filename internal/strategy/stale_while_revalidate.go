package strategy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/any-hub/shell-cache/internal/cache"
)

// revalidation 是独立于请求生命周期的后台回源；fetched 在网络结果确定后关闭。
type revalidation struct {
	fetched chan struct{}
	fresh   *cache.Response
	effect  *Effect
}

func startRevalidation(ctx context.Context, fetcher Fetcher, partition cache.Partition, req *http.Request, key cache.Key) *revalidation {
	r := &revalidation{fetched: make(chan struct{})}
	bg := context.WithoutCancel(ctx)
	r.effect = spawn(func() StoreOutcome {
		resp, err := fetch(bg, fetcher, req)
		var copied *cache.Response
		if err == nil {
			r.fresh = resp
			copied = resp.Clone()
		}
		close(r.fetched)
		if copied == nil {
			return StoreOutcome{}
		}
		return store(bg, partition, key, copied)
	})
	return r
}

// Fallback 描述未命中且回源失败时的兜底条目：按顺序在 Partitions 中查找 Key。
type Fallback struct {
	Key        cache.Key
	Partitions []cache.Partition
}

func (f Fallback) match(ctx context.Context) *cache.Response {
	if f.Key == "" {
		return nil
	}
	resp, _, err := cache.MatchAny(ctx, f.Partitions, f.Key)
	if err != nil {
		return nil
	}
	return resp
}

// StaleWhileRevalidate 命中缓存时立即返回缓存副本，同时后台回源刷新；
// 未命中时等待回源，响应可用则返回，否则返回 fallback 中找到的条目，
// 仍然缺失时返回 ErrNoResponse。回源失败从不作为错误向上传播。
func StaleWhileRevalidate(ctx context.Context, fetcher Fetcher, partition cache.Partition, req *http.Request, fallback Fallback) (Result, error) {
	key := cache.KeyFor(req)
	cached := match(ctx, partition, key)
	reval := startRevalidation(ctx, fetcher, partition, req, key)

	if cached != nil {
		return Result{Response: cached, Source: SourceCache, Effect: reval.effect}, nil
	}

	select {
	case <-reval.fetched:
	case <-ctx.Done():
		return Result{Effect: reval.effect}, ctx.Err()
	}

	if reval.fresh.Usable() {
		return Result{Response: reval.fresh, Source: SourceNetwork, Effect: reval.effect}, nil
	}
	if resp := fallback.match(ctx); resp != nil {
		return Result{Response: resp, Source: SourceFallback, Effect: reval.effect}, nil
	}
	return Result{Effect: reval.effect}, fmt.Errorf("stale while revalidate %s: %w", key, ErrNoResponse)
}
