package strategy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/any-hub/shell-cache/internal/cache"
)

// NetworkFirst 优先回源：成功时返回实时响应，并仅在响应可用（2xx 且非 206）时后台写入副本；
// 非 2xx 响应原样返回但不缓存。回源失败时返回缓存副本，缓存缺失则返回回源错误。
func NetworkFirst(ctx context.Context, fetcher Fetcher, partition cache.Partition, req *http.Request) (Result, error) {
	key := cache.KeyFor(req)
	resp, err := fetch(ctx, fetcher, req)
	if err == nil {
		if !resp.Usable() {
			return Result{Response: resp, Source: SourceNetwork}, nil
		}
		copied := resp.Clone()
		bg := context.WithoutCancel(ctx)
		effect := spawn(func() StoreOutcome {
			return store(bg, partition, key, copied)
		})
		return Result{Response: resp, Source: SourceNetwork, Effect: effect}, nil
	}

	if cached := match(ctx, partition, key); cached != nil {
		return Result{Response: cached, Source: SourceCache}, nil
	}
	return Result{}, fmt.Errorf("network first %s: %w", key, err)
}

// NetworkOnly 直接回源且从不写缓存；回源失败时在 partitions 中查找同一请求的已有副本。
func NetworkOnly(ctx context.Context, fetcher Fetcher, partitions []cache.Partition, req *http.Request) (Result, error) {
	key := cache.KeyFor(req)
	resp, err := fetch(ctx, fetcher, req)
	if err == nil {
		return Result{Response: resp, Source: SourceNetwork}, nil
	}

	if cached, _, matchErr := cache.MatchAny(ctx, partitions, key); matchErr == nil {
		return Result{Response: cached, Source: SourceCache}, nil
	}
	return Result{}, fmt.Errorf("network %s: %w", key, err)
}
