package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/shell-cache/internal/cache"
	"github.com/any-hub/shell-cache/internal/registry"
)

var errOffline = errors.New("offline")

// fakeNetwork 按路径返回预设响应，offline 时所有请求失败。
type fakeNetwork struct {
	mu        sync.Mutex
	offline   bool
	responses map[string]*cache.Response
	requests  []string
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{responses: make(map[string]*cache.Response)}
}

func (n *fakeNetwork) serve(uri string, status int, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.responses[uri] = &cache.Response{
		Status: status,
		Header: http.Header{"Content-Type": []string{"text/plain"}},
		Body:   []byte(body),
		Kind:   cache.KindBasic,
	}
}

func (n *fakeNetwork) setOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

func (n *fakeNetwork) Fetch(ctx context.Context, req *http.Request) (*cache.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req.URL.RequestURI())
	if n.offline {
		return nil, errOffline
	}
	resp, ok := n.responses[req.URL.RequestURI()]
	if !ok {
		return &cache.Response{Status: http.StatusNotFound, Kind: cache.KindBasic, Header: http.Header{}}, nil
	}
	return resp.Clone(), nil
}

func testSettings(t *testing.T) Settings {
	t.Helper()
	names, err := registry.New("bible-ai-", "shell-v2", "static-v2", "api-v1-current")
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	origin, _ := url.Parse("http://app.local")
	return Settings{
		Names:              names,
		Origin:             origin,
		Manifest:           []string{"/", "/static/manifest.json", "/static/images/cross-particle.png"},
		StaticPrefix:       "/static/",
		APIPrefix:          "/api/",
		CacheableAPI:       []string{"/api/books", "/api/verse-of-the-day"},
		InstallConcurrency: 2,
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestWorker(t *testing.T, storage cache.Storage, network *fakeNetwork) *Worker {
	t.Helper()
	w, err := New(testSettings(t), storage, network, testLogger())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func request(method, target string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func navigation(target string) *http.Request {
	return request(http.MethodGet, target, map[string]string{"Sec-Fetch-Mode": "navigate"})
}

func drain(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func matchBody(t *testing.T, storage cache.Storage, name string, key cache.Key) (string, bool) {
	t.Helper()
	p, err := storage.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	resp, err := p.Match(context.Background(), key)
	if errors.Is(err, cache.ErrNotFound) {
		return "", false
	}
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	return string(resp.Body), true
}

// recordingClients 记录 Claim 调用。
type recordingClients struct {
	claimed []*Worker
}

func (r *recordingClients) Claim(w *Worker) {
	r.claimed = append(r.claimed, w)
}
