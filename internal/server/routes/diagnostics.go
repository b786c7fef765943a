package routes

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/shell-cache/internal/cache"
	"github.com/any-hub/shell-cache/internal/version"
	"github.com/any-hub/shell-cache/internal/worker"
)

// ActiveWorker 返回当前生效的 worker，尚未部署时为 nil。
type ActiveWorker interface {
	Active() *worker.Worker
}

const diagnosticsTimeout = 5 * time.Second

// RegisterDiagnostics 暴露 /-/caches、/-/rules 与 /-/metrics 诊断接口。
func RegisterDiagnostics(app *fiber.App, workers ActiveWorker, storage cache.Storage) {
	if app == nil || workers == nil || storage == nil {
		return
	}

	app.Get("/-/caches", func(c fiber.Ctx) error {
		w := workers.Active()
		if w == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "worker_not_ready"})
		}
		ctx, cancel := context.WithTimeout(c.Context(), diagnosticsTimeout)
		defer cancel()
		persisted, err := storage.Keys(ctx)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_list_failed"})
		}
		return c.JSON(encodeCaches(w, persisted))
	})

	app.Get("/-/rules", func(c fiber.Ctx) error {
		w := workers.Active()
		if w == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "worker_not_ready"})
		}
		return c.JSON(fiber.Map{
			"worker_id": w.ID(),
			"rules":     w.Settings().Rules(),
		})
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/-/version", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"version": version.Full()})
	})
}

type cachesPayload struct {
	WorkerID   string   `json:"worker_id"`
	Namespace  string   `json:"namespace"`
	VersionSet []string `json:"version_set"`
	Persisted  []string `json:"persisted"`
	Stale      []string `json:"stale"`
}

func encodeCaches(w *worker.Worker, persisted []string) cachesPayload {
	names := w.Settings().Names
	stale := names.Stale(persisted)
	if persisted == nil {
		persisted = []string{}
	}
	if stale == nil {
		stale = []string{}
	}
	return cachesPayload{
		WorkerID:   w.ID(),
		Namespace:  names.Namespace,
		VersionSet: names.Set(),
		Persisted:  persisted,
		Stale:      stale,
	}
}
