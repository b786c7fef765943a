package worker

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shell-cache/internal/metrics"
)

// retireTimeout 限制被替换的 worker 等待后台效果的时间。
const retireTimeout = 30 * time.Second

// DeployReport 汇总一次 install + activate。
type DeployReport struct {
	WorkerID   string           `json:"worker_id"`
	Install    InstallReport    `json:"install"`
	Activation ActivationReport `json:"activation"`
}

// Controller 持有当前生效的 worker。Deploy 串行执行，保证 install/activate 不重入。
type Controller struct {
	logger *logrus.Logger
	active atomic.Pointer[Worker]
	deploy sync.Mutex

	retiring sync.WaitGroup
}

// NewController 创建空的 Controller；在第一次 Deploy 之前所有请求都原样转发。
func NewController(logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{logger: logger}
}

// Active 返回当前生效的 worker，可能为 nil。
func (c *Controller) Active() *Worker {
	return c.active.Load()
}

// Claim 让 w 立即接管所有请求，被替换的旧 worker 在后台排空。
func (c *Controller) Claim(w *Worker) {
	prev := c.active.Swap(w)
	if prev == nil || prev == w {
		return
	}
	prev.retire()
	c.retiring.Add(1)
	go func() {
		defer c.retiring.Done()
		ctx, cancel := context.WithTimeout(context.Background(), retireTimeout)
		defer cancel()
		fields := logrus.Fields{"action": "retire", "worker_id": prev.ID(), "replaced_by": w.ID()}
		if err := prev.Drain(ctx); err != nil {
			c.logger.WithError(err).WithFields(fields).Warn("worker_drain_timeout")
			return
		}
		c.logger.WithFields(fields).Debug("worker_retired")
	}()
}

// Deploy 依次执行 install 与 activate。worker 请求跳过等待时立即激活，
// 否则先等待当前 worker 的后台效果排空。
func (c *Controller) Deploy(ctx context.Context, w *Worker) (DeployReport, error) {
	c.deploy.Lock()
	defer c.deploy.Unlock()

	report := DeployReport{WorkerID: w.ID()}
	report.Install = w.OnInstall(ctx)
	c.logger.WithFields(logrus.Fields{
		"action":    "install",
		"worker_id": w.ID(),
		"cache":     report.Install.Cache,
		"stored":    len(report.Install.Stored),
		"failed":    len(report.Install.Failed),
	}).Info("worker_installed")

	if !report.Install.SkipWaiting {
		if prev := c.Active(); prev != nil {
			if err := prev.Drain(ctx); err != nil {
				metrics.Deployments.WithLabelValues("failed").Inc()
				return report, err
			}
		}
	}

	// 激活会删除旧版本分区，先让旧 worker 停止打开新分区。
	if prev := c.Active(); prev != nil && prev != w {
		prev.retire()
	}
	activation, err := w.OnActivate(ctx, c)
	report.Activation = activation
	fields := logrus.Fields{
		"action":    "activate",
		"worker_id": w.ID(),
		"deleted":   activation.Deleted,
		"claimed":   activation.Claimed,
	}
	if err != nil {
		metrics.Deployments.WithLabelValues("failed").Inc()
		c.logger.WithError(err).WithFields(fields).Warn("worker_activate_failed")
		return report, err
	}
	metrics.Deployments.WithLabelValues("ok").Inc()
	c.logger.WithFields(fields).Info("worker_activated")
	return report, nil
}

// Dispatch 把请求交给当前 worker；尚未部署时不拦截。
func (c *Controller) Dispatch(ctx context.Context, req *http.Request) (Outcome, error) {
	w := c.Active()
	if w == nil {
		return Outcome{Reason: ReasonNoWorker}, nil
	}
	return w.OnRequest(ctx, req)
}

// Shutdown 等待当前与被替换 worker 的后台效果结束。
func (c *Controller) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.retiring.Wait()
		close(done)
	}()
	if w := c.Active(); w != nil {
		if err := w.Drain(ctx); err != nil {
			return err
		}
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
