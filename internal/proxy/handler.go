package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/shell-cache/internal/cache"
	"github.com/any-hub/shell-cache/internal/logging"
	"github.com/any-hub/shell-cache/internal/metrics"
	"github.com/any-hub/shell-cache/internal/server"
	"github.com/any-hub/shell-cache/internal/upstream"
	"github.com/any-hub/shell-cache/internal/worker"
)

// Dispatcher 把请求交给当前生效的 worker。
type Dispatcher interface {
	Dispatch(ctx context.Context, req *http.Request) (worker.Outcome, error)
}

// Upstream 负责未被拦截请求的流式转发。
type Upstream interface {
	Forward(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Handler 把 Fiber 请求转换为 http.Request 交给 worker 路由，
// 渲染策略结果；不拦截的请求原样流式转发到上游。
type Handler struct {
	dispatcher Dispatcher
	upstream   Upstream
	logger     *logrus.Logger
}

var _ server.ProxyHandler = (*Handler)(nil)

// NewHandler constructs a proxy handler around the worker controller and upstream client.
func NewHandler(dispatcher Dispatcher, up Upstream, logger *logrus.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		upstream:   up,
		logger:     logger,
	}
}

// Handle 执行分类 → 策略 → 渲染，任何阶段出错都会输出结构化日志；处理过程中的 panic
// 被恢复为 500 handler_panic。
func (h *Handler) Handle(c fiber.Ctx) (err error) {
	started := time.Now()
	requestID := server.RequestID(c)
	defer func() {
		if r := recover(); r != nil {
			err = h.respondHandlerPanic(c, r, requestID)
		}
	}()

	req, err := buildRequest(c)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"action":     "proxy",
			"request_id": requestID,
		}).Warn("request_invalid")
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request", requestID)
	}

	outcome, err := h.dispatcher.Dispatch(req.Context(), req)
	if err != nil {
		h.logResult(req, outcome, requestID, 0, started, err)
		metrics.Requests.WithLabelValues(string(outcome.Kind), "failed").Inc()
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed", requestID)
	}
	if !outcome.Intercepted {
		metrics.PassThrough.WithLabelValues(outcome.Reason).Inc()
		return h.forward(c, req, outcome.Reason, requestID, started)
	}

	metrics.Requests.WithLabelValues(string(outcome.Kind), string(outcome.Result.Source)).Inc()
	return h.serveResult(c, req, outcome, requestID, started)
}

func (h *Handler) serveResult(c fiber.Ctx, req *http.Request, outcome worker.Outcome, requestID string, started time.Time) error {
	resp := outcome.Result.Response
	setRequestIDHeader(c, requestID)
	c.Set("X-Shell-Cache-Kind", string(outcome.Kind))
	c.Set("X-Shell-Cache-Source", string(outcome.Result.Source))

	if resp == nil || resp.IsNetworkError() {
		h.logResult(req, outcome, requestID, fiber.StatusBadGateway, started, nil)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "network_error"})
	}

	copyResponseHeaders(c, resp.Header)
	if outcome.Result.CacheHit() && !resp.StoredAt.IsZero() {
		c.Set("X-Shell-Cache-Stored-At", resp.StoredAt.UTC().Format(time.RFC3339))
	}
	c.Status(resp.Status)
	h.logResult(req, outcome, requestID, resp.Status, started, nil)
	return c.Send(resp.Body)
}

func (h *Handler) respondHandlerPanic(c fiber.Ctx, recovered interface{}, requestID string) error {
	h.logger.WithFields(logrus.Fields{
		"action":     "proxy",
		"error":      "handler_panic",
		"request_id": requestID,
	}).Error(fmt.Sprintf("panic: %v", recovered))
	return h.writeError(c, fiber.StatusInternalServerError, "handler_panic", requestID)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code, requestID string) error {
	setRequestIDHeader(c, requestID)
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(req *http.Request, outcome worker.Outcome, requestID string, status int, started time.Time, err error) {
	fields := logging.RequestFields(
		string(outcome.Kind),
		outcome.Cache,
		string(outcome.Result.Source),
		outcome.Result.CacheHit(),
	)
	fields["action"] = "proxy"
	fields["method"] = req.Method
	fields["key"] = string(cache.KeyFor(req))
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		level := logrus.WarnLevel
		if errors.Is(err, context.Canceled) {
			level = logrus.DebugLevel
		}
		h.logger.WithFields(fields).Log(level, "request_failed")
		return
	}
	h.logger.WithFields(fields).Info("request_complete")
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if upstream.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
