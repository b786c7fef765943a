package worker

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shell-cache/internal/metrics"
)

// Clients 代表所有已打开的客户端；Claim 让指定 worker 立即接管它们。
type Clients interface {
	Claim(w *Worker)
}

// ActivationReport 记录激活时删除的过期分区。
type ActivationReport struct {
	Deleted []string `json:"deleted"`
	Failed  []string `json:"failed,omitempty"`
	Claimed bool     `json:"claimed"`
}

// OnActivate 删除属于本命名空间但不在版本集合中的分区，然后接管所有客户端。
// 对相同版本集合重复执行时不会再删除任何分区。列举失败也会完成接管，并返回错误。
func (w *Worker) OnActivate(ctx context.Context, clients Clients) (ActivationReport, error) {
	var report ActivationReport
	persisted, err := w.storage.Keys(ctx)
	if err != nil {
		err = fmt.Errorf("list caches: %w", err)
	} else {
		for _, name := range w.settings.Names.Stale(persisted) {
			deleted, delErr := w.storage.Delete(ctx, name)
			if delErr != nil {
				report.Failed = append(report.Failed, name)
				w.logger.WithError(delErr).WithFields(logrus.Fields{
					"worker_id": w.id,
					"cache":     name,
				}).Warn("cache_delete_failed")
				continue
			}
			if deleted {
				report.Deleted = append(report.Deleted, name)
				metrics.PartitionsDeleted.Inc()
			}
		}
	}

	if clients != nil {
		clients.Claim(w)
		report.Claimed = true
	}
	return report, err
}
