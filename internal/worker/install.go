package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/any-hub/shell-cache/internal/cache"
	"github.com/any-hub/shell-cache/internal/metrics"
	"github.com/any-hub/shell-cache/internal/registry"
)

// InstallReport 记录一次预热结果。安装本身总是成功。
type InstallReport struct {
	Cache       string   `json:"cache"`
	Stored      []string `json:"stored"`
	Failed      []string `json:"failed"`
	SkipWaiting bool     `json:"skip_waiting"`
}

// OnInstall 打开 Shell 分区并并发拉取 manifest 中的每个路径，单个失败只记录不传播。
// 安装结束后请求跳过等待，由 Controller 立即激活。
func (w *Worker) OnInstall(ctx context.Context) InstallReport {
	report := InstallReport{Cache: w.settings.Names.Shell, SkipWaiting: true}

	shell, err := w.partition(ctx, registry.RoleShell)
	if err != nil {
		w.logger.WithError(err).WithFields(w.fields(registry.RoleShell)).Warn("install_open_failed")
		report.Failed = append(report.Failed, w.settings.Manifest...)
		metrics.Prewarm.WithLabelValues("failed").Add(float64(len(w.settings.Manifest)))
		return report
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.settings.InstallConcurrency)
	for _, entry := range w.settings.Manifest {
		g.Go(func() error {
			err := w.prewarm(gctx, shell, entry)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, entry)
				metrics.Prewarm.WithLabelValues("failed").Inc()
				fields := w.fields(registry.RoleShell)
				fields["path"] = entry
				w.logger.WithError(err).WithFields(fields).Debug("prewarm_failed")
				return nil
			}
			report.Stored = append(report.Stored, entry)
			metrics.Prewarm.WithLabelValues("stored").Inc()
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Stored)
	sort.Strings(report.Failed)
	return report
}

func (w *Worker) prewarm(ctx context.Context, shell cache.Partition, entry string) error {
	target := w.settings.ManifestURL(entry)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "*/*")

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Usable() {
		if resp.IsNetworkError() {
			return errors.New("network error")
		}
		return fmt.Errorf("unusable status %d", resp.Status)
	}
	return cache.StoreUsable(ctx, shell, cache.KeyFor(req), resp)
}
