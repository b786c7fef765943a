// Package worker is the request interceptor itself: it pre-warms the shell
// cache on install, prunes stale caches on activate and routes every
// intercepted GET to a caching strategy. A Controller owns the active
// worker and swaps it on each deployment.
package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shell-cache/internal/cache"
	"github.com/any-hub/shell-cache/internal/metrics"
	"github.com/any-hub/shell-cache/internal/registry"
	"github.com/any-hub/shell-cache/internal/strategy"
)

// Lifecycle 是拦截器的三个生命周期入口，便于用内存实现替换测试。
type Lifecycle interface {
	OnInstall(ctx context.Context) InstallReport
	OnActivate(ctx context.Context, clients Clients) (ActivationReport, error)
	OnRequest(ctx context.Context, req *http.Request) (Outcome, error)
}

var _ Lifecycle = (*Worker)(nil)

// Worker 绑定一个部署版本的 Settings，并通过注入的存储与回源实现执行策略。
type Worker struct {
	id       string
	settings Settings
	storage  cache.Storage
	fetcher  strategy.Fetcher
	logger   *logrus.Logger

	mu         sync.Mutex
	partitions map[registry.Role]cache.Partition
	retired    atomic.Bool

	pending sync.WaitGroup
}

// errRetired 表示 worker 已被替换，不再创建新的分区。
var errRetired = errors.New("worker retired")

// New 创建 Worker，storage 与 fetcher 不能为空。
func New(settings Settings, storage cache.Storage, fetcher strategy.Fetcher, logger *logrus.Logger) (*Worker, error) {
	if storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Worker{
		id:         uuid.NewString(),
		settings:   settings,
		storage:    storage,
		fetcher:    fetcher,
		logger:     logger,
		partitions: make(map[registry.Role]cache.Partition, 3),
	}, nil
}

// ID 返回 worker 的唯一标识，用于日志区分新旧版本。
func (w *Worker) ID() string {
	return w.id
}

// Settings 返回 worker 的策略配置。
func (w *Worker) Settings() Settings {
	return w.settings
}

// partition 惰性打开角色对应的分区并复用句柄；打开失败时下次请求会重试。
// 退役后的 worker 只复用已打开的句柄，不再调用 Open，避免重建已被激活阶段删除的分区。
func (w *Worker) partition(ctx context.Context, role registry.Role) (cache.Partition, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.partitions[role]; ok {
		return p, nil
	}
	if w.retired.Load() {
		return nil, errRetired
	}
	p, err := w.storage.Open(ctx, w.settings.Names.For(role))
	if err != nil {
		return nil, err
	}
	w.partitions[role] = p
	return p, nil
}

// retire 在新 worker 激活前调用，之后 partition 不再打开新分区。
func (w *Worker) retire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.retired.Store(true)
}

// Retired 报告 worker 是否已被替换。
func (w *Worker) Retired() bool {
	return w.retired.Load()
}

// openAll 返回当前版本集合中能成功打开的分区。
func (w *Worker) openAll(ctx context.Context) []cache.Partition {
	var result []cache.Partition
	for _, role := range registry.Roles() {
		p, err := w.partition(ctx, role)
		if err != nil {
			if !errors.Is(err, errRetired) {
				w.logger.WithError(err).WithFields(w.fields(role)).Warn("cache_open_failed")
			}
			continue
		}
		result = append(result, p)
	}
	return result
}

// track 登记后台写缓存效果，Drain 会等待它们全部结束。
func (w *Worker) track(role registry.Role, key cache.Key, effect *strategy.Effect) {
	if effect == nil {
		return
	}
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		<-effect.Done()
		out := effect.Wait(context.Background())
		w.recordStore(role, key, out)
	}()
}

func (w *Worker) recordStore(role registry.Role, key cache.Key, out strategy.StoreOutcome) {
	switch {
	case !out.Attempted:
		metrics.Stores.WithLabelValues(string(role), metrics.StoreSkipped).Inc()
	case out.Err != nil:
		metrics.Stores.WithLabelValues(string(role), metrics.StoreFailed).Inc()
		fields := w.fields(role)
		fields["key"] = string(key)
		w.logger.WithError(out.Err).WithFields(fields).Debug("cache_store_failed")
	default:
		metrics.Stores.WithLabelValues(string(role), metrics.StoreStored).Inc()
	}
}

// Drain 等待所有后台效果结束或 ctx 取消。
func (w *Worker) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) fields(role registry.Role) logrus.Fields {
	return logrus.Fields{
		"worker_id": w.id,
		"cache":     w.settings.Names.For(role),
	}
}
