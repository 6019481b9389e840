// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mediacache"

var (
	// CacheOperationsTotal tracks asset lookup cache operations (get, set, delete).
	// Labels:
	//   - operation: get, set, delete
	//   - status: hit, miss, success, error
	//   - cache_type: redis
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of asset cache operations",
		},
		[]string{"operation", "status", "cache_type"},
	)

	// DBQueriesTotal tracks database queries.
	// Labels:
	//   - query_type: select, insert, delete
	//   - table: assets
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_queries_total",
			Help:      "Total number of database queries",
		},
		[]string{"query_type", "table"},
	)

	// SingleflightRequestsTotal tracks singleflight behavior.
	// Labels:
	//   - result: initiated (new execution), shared (reused result)
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of singleflight requests",
		},
		[]string{"result"},
	)

	// SpanBytes is the number of bytes currently held by the span cache.
	SpanBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "span_cache_bytes",
			Help:      "Bytes currently stored in the span cache",
		},
	)

	// SpanCount is the number of spans currently held by the span cache.
	SpanCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "span_cache_spans",
			Help:      "Spans currently stored in the span cache",
		},
	)

	// SpanWritesTotal tracks span commits.
	// Labels:
	//   - result: stored, covered (already cached), dropped (no room), error
	SpanWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "span_writes_total",
			Help:      "Total number of span cache writes",
		},
		[]string{"result"},
	)

	// SpanEvictedBytesTotal counts bytes removed by eviction.
	// Labels:
	//   - trigger: write, manual, open
	SpanEvictedBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "span_evicted_bytes_total",
			Help:      "Total number of bytes evicted from the span cache",
		},
		[]string{"trigger"},
	)

	// SpanRecoveriesTotal counts index corruption recoveries.
	SpanRecoveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "span_cache_recoveries_total",
			Help:      "Total number of times a corrupted cache was wiped and recreated",
		},
	)

	// OriginRequestsTotal tracks upstream fetches.
	// Labels:
	//   - scheme: http, https, s3
	//   - status: success, error
	OriginRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "origin_requests_total",
			Help:      "Total number of origin fetches",
		},
		[]string{"scheme", "status"},
	)

	// StreamBytesTotal counts bytes delivered to stream readers.
	// Labels:
	//   - source: cache, origin
	StreamBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Total number of bytes delivered to stream readers",
		},
		[]string{"source"},
	)

	// PrefetchTasksTotal tracks prefetch task outcomes.
	// Labels:
	//   - result: success, retried, dropped
	PrefetchTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prefetch_tasks_total",
			Help:      "Total number of prefetch tasks processed",
		},
		[]string{"result"},
	)
)

// Cache operation status constants.
const (
	CacheStatusHit     = "hit"
	CacheStatusMiss    = "miss"
	CacheStatusSuccess = "success"
	CacheStatusError   = "error"
)

// Cache operation type constants.
const (
	CacheOpGet    = "get"
	CacheOpSet    = "set"
	CacheOpDelete = "delete"
)

// Cache type constants.
const (
	CacheTypeRedis = "redis"
)

// DB query type constants.
const (
	DBQuerySelect = "select"
	DBQueryInsert = "insert"
	DBQueryDelete = "delete"
)

// Table name constants.
const (
	TableAssets = "assets"
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)

// Span write result constants.
const (
	SpanWriteStored  = "stored"
	SpanWriteCovered = "covered"
	SpanWriteDropped = "dropped"
	SpanWriteError   = "error"
)

// Eviction trigger constants.
const (
	EvictTriggerWrite  = "write"
	EvictTriggerManual = "manual"
	EvictTriggerOpen   = "open"
)

// Status and source constants for origin and stream metrics.
const (
	StatusSuccess = "success"
	StatusError   = "error"

	SourceCache  = "cache"
	SourceOrigin = "origin"
)

// Prefetch result constants.
const (
	PrefetchSuccess = "success"
	PrefetchRetried = "retried"
	PrefetchDropped = "dropped"
)
