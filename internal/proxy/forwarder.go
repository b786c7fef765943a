package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// forward 将未拦截的请求（非 GET、跨域或尚无 worker）原样流式转发，不读写任何缓存。
func (h *Handler) forward(c fiber.Ctx, req *http.Request, reason, requestID string, started time.Time) error {
	fields := logrus.Fields{
		"action":     "passthrough",
		"reason":     reason,
		"method":     req.Method,
		"path":       req.URL.Path,
		"request_id": requestID,
	}
	if h.upstream == nil {
		h.logger.WithFields(fields).Error("upstream_missing")
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed", requestID)
	}

	resp, err := h.upstream.Forward(req.Context(), req)
	if err != nil {
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		h.logger.WithError(err).WithFields(fields).Warn("passthrough_failed")
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed", requestID)
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	setRequestIDHeader(c, requestID)
	c.Status(resp.StatusCode)

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	fields["status"] = resp.StatusCode
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		h.logger.WithError(err).WithFields(fields).Error("passthrough_stream_failed")
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	h.logger.WithFields(fields).Info("passthrough_complete")
	return nil
}

// buildRequest 把 Fiber 请求还原为带完整 URL 的 http.Request，供分类与回源使用。
func buildRequest(c fiber.Ctx) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := requestURL(c)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, c.Method(), target, bytesReader(c.Body()))
	if err != nil {
		return nil, err
	}
	req.Header = fiberHeadersAsHTTP(c)
	req.Host = req.URL.Host
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	return req, nil
}

// requestURL 处理 origin-form 与 absolute-form 两种请求行。
func requestURL(c fiber.Ctx) (string, error) {
	raw := string(c.Request().RequestURI())
	if raw == "" {
		raw = "/"
	}
	if !strings.HasPrefix(raw, "/") {
		if strings.Contains(raw, "://") {
			return raw, nil
		}
		return "", errors.New("unsupported request target")
	}
	host := string(c.Request().Host())
	if host == "" {
		return "", errors.New("missing host")
	}
	return c.Scheme() + "://" + host + raw, nil
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}
