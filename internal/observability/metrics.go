package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quill_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// CacheLookups counts cache-aside lookups by keyspace and result (hit, miss, error).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_cache_lookups_total",
		Help: "Cache lookups by keyspace and result",
	}, []string{"keyspace", "result"})

	// ToggleTotal counts like/bookmark/follow state flips.
	ToggleTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_toggle_total",
		Help: "Relationship toggles by kind and resulting state",
	}, []string{"kind", "state"})

	// PurgeJobsTotal counts post purge attempts by result.
	PurgeJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_purge_jobs_total",
		Help: "Post purge attempts by result",
	}, []string{"result"})

	// PurgeBacklog is the number of pending purges seen by the last sweep.
	PurgeBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quill_purge_backlog",
		Help: "Pending post purges at the last sweep",
	})

	// SideEffectFailures counts best-effort side effects that failed and were swallowed.
	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_side_effect_failures_total",
		Help: "Best-effort side effects that failed",
	}, []string{"effect"})

	// MediaUploadBytes records uploaded object sizes by domain.
	MediaUploadBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quill_media_upload_bytes",
		Help:    "Size of uploaded media objects",
		Buckets: prometheus.ExponentialBuckets(4096, 4, 8),
	}, []string{"domain"})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quill_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// RealtimePushesSkipped counts notifications stored without a push
	// because the recipient had no live socket.
	RealtimePushesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quill_realtime_pushes_skipped_total",
		Help: "Notifications not pushed because the recipient was offline",
	})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}

// RecordSideEffectFailure increments the failure counter for a best-effort effect.
func RecordSideEffectFailure(effect string) {
	SideEffectFailures.WithLabelValues(effect).Inc()
}
