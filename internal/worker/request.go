package worker

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shell-cache/internal/cache"
	"github.com/any-hub/shell-cache/internal/registry"
	"github.com/any-hub/shell-cache/internal/strategy"
)

// Outcome 是一次请求的路由结果。Intercepted 为 false 时调用方应原样转发请求。
type Outcome struct {
	Intercepted bool
	Reason      string
	Kind        Kind
	Cache       string
	Result      strategy.Result
}

// OnRequest 对请求分类并分派给唯一的策略。导航请求最终失败时返回合成网络错误，
// 不会挂起；规则 4/5 在回源失败且无缓存时返回错误。
func (w *Worker) OnRequest(ctx context.Context, req *http.Request) (Outcome, error) {
	class := w.settings.Classify(req)
	if !class.Intercept {
		return Outcome{Reason: class.Reason}, nil
	}
	outcome := Outcome{Intercepted: true, Kind: class.Kind}

	switch class.Kind {
	case KindNavigation:
		shell := w.optionalPartition(ctx, registry.RoleShell)
		outcome.Cache = w.settings.Names.Shell
		res, err := strategy.NetworkFirst(ctx, w.fetcher, shell, req)
		if err != nil {
			w.logFallback(class.Kind, req, err)
			res = strategy.Synthetic()
		}
		w.track(registry.RoleShell, cache.KeyFor(req), res.Effect)
		outcome.Result = res
		return outcome, nil

	case KindStatic:
		static := w.optionalPartition(ctx, registry.RoleStatic)
		outcome.Cache = w.settings.Names.Static
		fallback := strategy.Fallback{Key: w.settings.FallbackKey(), Partitions: w.openAll(ctx)}
		res, err := strategy.StaleWhileRevalidate(ctx, w.fetcher, static, req, fallback)
		w.track(registry.RoleStatic, cache.KeyFor(req), res.Effect)
		if err != nil {
			if !errors.Is(err, strategy.ErrNoResponse) {
				return outcome, err
			}
			w.logFallback(class.Kind, req, err)
			res = strategy.Synthetic()
		}
		outcome.Result = res
		return outcome, nil

	case KindCacheableAPI:
		api := w.optionalPartition(ctx, registry.RoleAPI)
		outcome.Cache = w.settings.Names.API
		res, err := strategy.NetworkFirst(ctx, w.fetcher, api, req)
		if err != nil {
			return outcome, err
		}
		w.track(registry.RoleAPI, cache.KeyFor(req), res.Effect)
		outcome.Result = res
		return outcome, nil

	default:
		res, err := strategy.NetworkOnly(ctx, w.fetcher, w.openAll(ctx), req)
		if err != nil {
			return outcome, err
		}
		outcome.Result = res
		return outcome, nil
	}
}

// optionalPartition 打开失败时返回 nil，策略退化为纯网络请求。
func (w *Worker) optionalPartition(ctx context.Context, role registry.Role) cache.Partition {
	p, err := w.partition(ctx, role)
	if err != nil {
		if errors.Is(err, errRetired) {
			return nil
		}
		w.logger.WithError(err).WithFields(w.fields(role)).Warn("cache_open_failed")
		return nil
	}
	return p
}

func (w *Worker) logFallback(kind Kind, req *http.Request, err error) {
	w.logger.WithError(err).WithFields(logrus.Fields{
		"worker_id": w.id,
		"kind":      string(kind),
		"key":       string(cache.KeyFor(req)),
	}).Debug("synthetic_network_error")
}
