// Package metrics holds the Prometheus collectors of the gateway. All
// collectors register on the default registry via promauto and are exposed
// at /-/metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Requests counts intercepted requests by kind and response source.
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shell_cache_requests_total",
			Help: "Total number of intercepted requests by classification and response source",
		},
		[]string{"kind", "source"}, // source: network, cache, fallback, synthetic, failed
	)

	// PassThrough counts requests that were not intercepted.
	PassThrough = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shell_cache_passthrough_total",
			Help: "Total number of requests forwarded without interception",
		},
		[]string{"reason"}, // "method", "cross_origin"
	)

	// Stores tracks background store effects by partition role and result.
	Stores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shell_cache_stores_total",
			Help: "Total number of cache store attempts by role and result",
		},
		[]string{"role", "result"}, // result: stored, skipped, failed
	)

	// Prewarm tracks shell manifest entries fetched during install.
	Prewarm = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shell_cache_prewarm_total",
			Help: "Total number of shell manifest entries fetched during install",
		},
		[]string{"result"}, // "stored", "failed"
	)

	// PartitionsDeleted counts stale partitions removed at activation.
	PartitionsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shell_cache_partitions_deleted_total",
			Help: "Total number of stale cache partitions deleted during activation",
		},
	)

	// Deployments counts completed install+activate cycles.
	Deployments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shell_cache_deployments_total",
			Help: "Total number of worker deployments by result",
		},
		[]string{"result"}, // "ok", "failed"
	)
)

// Store result labels.
const (
	StoreStored  = "stored"
	StoreSkipped = "skipped"
	StoreFailed  = "failed"
)
