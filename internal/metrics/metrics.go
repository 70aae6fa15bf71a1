// Package metrics provides Prometheus instrumentation for the Quantum Tasks hub.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quantumtasks",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quantumtasks",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// LedgerEventsTotal counts committed ledger events by kind.
	LedgerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quantumtasks",
			Name:      "ledger_events_total",
			Help:      "Total ledger events committed by kind.",
		},
		[]string{"kind"},
	)

	// DuplicateReferencesTotal counts idempotent replays absorbed by the
	// uniqueness guard (same external reference seen again).
	DuplicateReferencesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quantumtasks",
			Name:      "duplicate_references_total",
			Help:      "Total ledger mutations absorbed as idempotent no-ops by kind.",
		},
		[]string{"kind"},
	)

	// CheckoutSessionsTotal counts checkout sessions by terminal status.
	CheckoutSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quantumtasks",
			Name:      "checkout_sessions_total",
			Help:      "Total checkout sessions by status transition.",
		},
		[]string{"status"},
	)

	// PaymentVerificationsTotal counts verification attempts by result.
	PaymentVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quantumtasks",
			Name:      "payment_verifications_total",
			Help:      "Total payment verification attempts by result (paid, unpaid, transient_error).",
		},
		[]string{"result"},
	)

	// InvocationsTotal counts agent invocations by agent and final status.
	InvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quantumtasks",
			Name:      "agent_invocations_total",
			Help:      "Total agent invocations by agent and final status.",
		},
		[]string{"agent", "status"},
	)

	// InvocationDuration observes external agent processing latency.
	InvocationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "quantumtasks",
			Name:      "agent_invocation_duration_seconds",
			Help:      "External agent processing duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"agent"},
	)

	// LedgerDriftTotal counts reconciliation sweeps that found a cached
	// balance disagreeing with the event sum. Should stay at zero.
	LedgerDriftTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quantumtasks",
		Name:      "ledger_drift_total",
		Help:      "Total accounts found with balance != sum of ledger events.",
	})

	// UnbilledCompletionsTotal counts invocations that completed but whose
	// debit failed and required reconciliation. Should stay at zero.
	UnbilledCompletionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "quantumtasks",
		Name:      "unbilled_completions_total",
		Help:      "Total completed invocations whose debit failed.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quantumtasks", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quantumtasks", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quantumtasks", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quantumtasks", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quantumtasks", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "quantumtasks", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LedgerEventsTotal,
		DuplicateReferencesTotal,
		CheckoutSessionsTotal,
		PaymentVerificationsTotal,
		InvocationsTotal,
		InvocationDuration,
		LedgerDriftTotal,
		UnbilledCompletionsTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
