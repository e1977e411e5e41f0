// Package metrics holds all Prometheus metrics exposed by the gateway
// at /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the gateway registers.
type Metrics struct {
	WSConnectionsActive prometheus.Gauge
	WSConnectionsTotal  *prometheus.CounterVec

	RateLimitHitsTotal *prometheus.CounterVec

	RedisOperationsTotal *prometheus.CounterVec

	AuditLogsWrittenTotal    prometheus.Counter
	AuditLogsDroppedTotal    prometheus.Counter
	AuditLogErrorsTotal      *prometheus.CounterVec
	AuditLogsTotal           *prometheus.CounterVec
	AuditBatchSize           prometheus.Histogram
	AuditLogCreationDuration prometheus.Histogram
	AuditQueueSize           prometheus.Gauge

	HandlerDuration *prometheus.HistogramVec
	HandlerTotal    *prometheus.CounterVec

	HTTPRequestDuration *prometheus.HistogramVec

	DBPoolOpenConns    prometheus.Gauge
	DBPoolInUseConns   prometheus.Gauge
	RedisPoolHits      prometheus.Gauge
	RedisPoolIdleConns prometheus.Gauge
}

var (
	instance *Metrics
	once     sync.Once
)

// New returns the gateway's Prometheus metrics, creating and registering
// them with the default registry on the first call. Later calls return
// the same instance, since a collector can be registered only once.
func New() *Metrics {
	once.Do(func() { instance = newMetrics() })
	return instance
}

func newMetrics() *Metrics {
	return &Metrics{
		WSConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Number of currently open WebSocket connections.",
		}),
		WSConnectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_connections_total",
				Help: "Total WebSocket connection attempts by outcome.",
			},
			[]string{"status"}, // accepted, rejected_auth, rejected_limit
		),
		RateLimitHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_hits_total",
				Help: "Total requests denied by the rate limiter, by limit type.",
			},
			[]string{"limit_type"}, // http, ws_message, ws_connection
		),
		RedisOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redis_operations_total",
				Help: "Total Redis operations by outcome.",
			},
			[]string{"status"}, // ok, error
		),
		AuditLogsWrittenTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audit_logs_written_total",
			Help: "Total audit log entries successfully persisted.",
		}),
		AuditLogsDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "audit_logs_dropped_total",
			Help: "Total audit log entries dropped because the queue was full.",
		}),
		AuditLogErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_log_errors_total",
				Help: "Total audit pipeline errors by error type.",
			},
			[]string{"error_type"},
		),
		AuditLogsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_logs_total",
				Help: "Total audit log entries persisted, by outcome.",
			},
			[]string{"outcome"}, // success, error, permission_denied
		),
		AuditBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_batch_size",
			Help:    "Size of audit log batches written to storage.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		AuditLogCreationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_log_creation_duration_seconds",
			Help:    "Duration of audit log batch persistence.",
			Buckets: prometheus.DefBuckets,
		}),
		AuditQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "audit_queue_size",
			Help: "Current depth of the audit log queue.",
		}),
		HandlerDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "handler_duration_seconds",
				Help:    "Duration of package handler invocations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"pkg_id"},
		),
		HandlerTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handler_invocations_total",
				Help: "Total package handler invocations by outcome.",
			},
			[]string{"pkg_id", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests by route and status.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "status"},
		),
		DBPoolOpenConns: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_open_connections",
			Help: "Number of open Postgres connections.",
		}),
		DBPoolInUseConns: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_in_use_connections",
			Help: "Number of Postgres connections currently in use.",
		}),
		RedisPoolHits: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "redis_pool_hits_total_gauge",
			Help: "Cumulative Redis pool hit count, sampled periodically.",
		}),
		RedisPoolIdleConns: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "redis_pool_idle_connections",
			Help: "Number of idle Redis pool connections.",
		}),
	}
}
