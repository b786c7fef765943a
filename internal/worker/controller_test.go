package worker

import (
	"context"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/any-hub/shell-cache/internal/cache"
	"github.com/any-hub/shell-cache/internal/registry"
	"github.com/any-hub/shell-cache/internal/strategy"
)

func TestDeployInstallsActivatesAndClaims(t *testing.T) {
	network := newFakeNetwork()
	network.serve("/", http.StatusOK, "<html>shell</html>")
	network.serve("/static/manifest.json", http.StatusOK, "{}")
	// /static/images/cross-particle.png 404s
	storage := cache.NewMemoryStorage()
	w := newTestWorker(t, storage, network)
	controller := NewController(testLogger())

	report, err := controller.Deploy(context.Background(), w)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if controller.Active() != w {
		t.Fatalf("deployed worker should be active")
	}
	if !report.Activation.Claimed || report.WorkerID != w.ID() {
		t.Fatalf("unexpected report: %+v", report)
	}
	if !reflect.DeepEqual(report.Install.Failed, []string{"/static/images/cross-particle.png"}) {
		t.Fatalf("unexpected failed entries: %v", report.Install.Failed)
	}
}

func TestDeployReplacesPreviousVersion(t *testing.T) {
	network := newFakeNetwork()
	network.serve("/", http.StatusOK, "shell")
	storage := cache.NewMemoryStorage()
	controller := NewController(testLogger())

	v1Settings := testSettings(t)
	v1Names, _ := registry.New("bible-ai-", "shell-v1", "static-v1", "api-v1")
	v1Settings.Names = v1Names
	v1, _ := New(v1Settings, storage, network, testLogger())
	if _, err := controller.Deploy(context.Background(), v1); err != nil {
		t.Fatalf("deploy v1: %v", err)
	}
	if _, err := v1.OnRequest(context.Background(), request(http.MethodGet, "http://app.local/static/app.css", nil)); err != nil {
		t.Fatalf("v1 request: %v", err)
	}

	v2 := newTestWorker(t, storage, network)
	report, err := controller.Deploy(context.Background(), v2)
	if err != nil {
		t.Fatalf("deploy v2: %v", err)
	}
	if controller.Active() != v2 {
		t.Fatalf("v2 should be active")
	}
	if !reflect.DeepEqual(report.Activation.Deleted, []string{"bible-ai-shell-v1", "bible-ai-static-v1", "bible-ai-api-v1"}) {
		t.Fatalf("unexpected deleted caches: %v", report.Activation.Deleted)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := controller.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	keys, _ := storage.Keys(context.Background())
	for _, k := range keys {
		if k == "bible-ai-shell-v1" || k == "bible-ai-static-v1" || k == "bible-ai-api-v1" {
			t.Fatalf("stale cache %s survived activation: %v", k, keys)
		}
	}
}

func TestDispatchWithoutWorkerPassesThrough(t *testing.T) {
	controller := NewController(testLogger())
	out, err := controller.Dispatch(context.Background(), request(http.MethodGet, "http://app.local/", nil))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Intercepted || out.Reason != ReasonNoWorker {
		t.Fatalf("expected pass-through, got %+v", out)
	}
}

func TestDispatchUsesActiveWorker(t *testing.T) {
	network := newFakeNetwork()
	network.serve("/api/books", http.StatusOK, "books")
	controller := NewController(testLogger())
	w := newTestWorker(t, cache.NewMemoryStorage(), network)
	controller.Claim(w)

	out, err := controller.Dispatch(context.Background(), request(http.MethodGet, "http://app.local/api/books", nil))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !out.Intercepted || out.Kind != KindCacheableAPI || out.Cache != "bible-ai-api-v1-current" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	drain(t, w)
}

func TestRetiredWorkerDoesNotRecreateDeletedCaches(t *testing.T) {
	network := newFakeNetwork()
	network.serve("/", http.StatusOK, "shell")
	network.serve("/static/a.js", http.StatusOK, "a")
	storage := cache.NewMemoryStorage()
	controller := NewController(testLogger())

	old := newTestWorker(t, storage, network)
	if _, err := controller.Deploy(context.Background(), old); err != nil {
		t.Fatalf("deploy old: %v", err)
	}

	nextSettings := testSettings(t)
	nextNames, _ := registry.New("bible-ai-", "shell-v2", "static-v3", "api-v1-current")
	nextSettings.Names = nextNames
	next, _ := New(nextSettings, storage, network, testLogger())
	if _, err := controller.Deploy(context.Background(), next); err != nil {
		t.Fatalf("deploy next: %v", err)
	}
	if !old.Retired() || next.Retired() {
		t.Fatalf("only the replaced worker should be retired")
	}
	before, _ := storage.Keys(context.Background())

	// 交换前已取到旧 worker 的请求在激活之后才首次打开分区。
	out, err := old.OnRequest(context.Background(), request(http.MethodGet, "http://app.local/static/a.js", nil))
	if err != nil {
		t.Fatalf("old request: %v", err)
	}
	if out.Result.Source != strategy.SourceNetwork || string(out.Result.Response.Body) != "a" {
		t.Fatalf("retired worker should still answer from the network, got %+v", out.Result)
	}
	drain(t, old)

	after, _ := storage.Keys(context.Background())
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("retired worker changed the cache set: before=%v after=%v", before, after)
	}
	for _, k := range after {
		if k == "bible-ai-static-v2" {
			t.Fatalf("stale cache recreated: %v", after)
		}
	}
}

func TestRetiredWorkerReusesOpenHandles(t *testing.T) {
	network := newFakeNetwork()
	network.serve("/", http.StatusOK, "shell")
	storage := cache.NewMemoryStorage()
	controller := NewController(testLogger())

	old := newTestWorker(t, storage, network)
	if _, err := controller.Deploy(context.Background(), old); err != nil {
		t.Fatalf("deploy old: %v", err)
	}
	next := newTestWorker(t, storage, network)
	if _, err := controller.Deploy(context.Background(), next); err != nil {
		t.Fatalf("deploy next: %v", err)
	}

	network.setOffline(true)
	out, err := old.OnRequest(context.Background(), navigation("http://app.local/"))
	if err != nil {
		t.Fatalf("old navigation: %v", err)
	}
	if out.Result.Source != strategy.SourceCache || string(out.Result.Response.Body) != "shell" {
		t.Fatalf("retired worker should keep serving its open shell cache, got %+v", out.Result)
	}
}
