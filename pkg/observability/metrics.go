package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Bulk sync metrics
	SyncBatchesTotal    *prometheus.CounterVec
	SyncRecordsTotal    *prometheus.CounterVec
	SyncChunkRetries    prometheus.Counter
	SyncDuration        *prometheus.HistogramVec

	// Query metrics
	QueryTotal    *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// Aggregate refresh metrics
	RefreshTotal    *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	RefreshRows     prometheus.Gauge

	// Audit metrics
	AuditEntriesTotal *prometheus.CounterVec

	// Authorization metrics
	AuthzDenialsTotal *prometheus.CounterVec

	// Database pool metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBWaitCount         prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsync_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crewsync_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		SyncBatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsync_sync_batches_total",
				Help: "Total number of bulk sync calls",
			},
			[]string{"table", "outcome"},
		),
		SyncRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsync_sync_records_total",
				Help: "Records processed by bulk sync, by disposition",
			},
			[]string{"table", "disposition"},
		),
		SyncChunkRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "crewsync_sync_chunk_retries_total",
				Help: "Chunk commit attempts retried after a transient storage error",
			},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crewsync_sync_duration_seconds",
				Help:    "Bulk sync call duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"table"},
		),

		QueryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsync_query_total",
				Help: "Total number of query gateway calls",
			},
			[]string{"table", "status"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crewsync_query_duration_seconds",
				Help:    "Query gateway call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"table"},
		),

		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsync_aggregate_refresh_total",
				Help: "Total number of trend aggregate refreshes",
			},
			[]string{"status"},
		),
		RefreshDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crewsync_aggregate_refresh_duration_seconds",
				Help:    "Trend aggregate refresh duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		RefreshRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crewsync_aggregate_rows",
				Help: "Rows written by the most recent aggregate refresh",
			},
		),

		AuditEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsync_audit_entries_total",
				Help: "Audit entries written, by action",
			},
			[]string{"action", "table"},
		),

		AuthzDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsync_authz_denials_total",
				Help: "Authorization denials, by reason",
			},
			[]string{"reason"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crewsync_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crewsync_db_connections_idle",
				Help: "Idle database connections",
			},
		),
		DBWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "crewsync_db_wait_count",
				Help: "Cumulative connections waited for",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SyncBatchesTotal,
		m.SyncRecordsTotal,
		m.SyncChunkRetries,
		m.SyncDuration,
		m.QueryTotal,
		m.QueryDuration,
		m.RefreshTotal,
		m.RefreshDuration,
		m.RefreshRows,
		m.AuditEntriesTotal,
		m.AuthzDenialsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBWaitCount,
	)

	return m
}

// ObserveDBStats copies connection pool stats into the gauges
func (m *Metrics) ObserveDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBWaitCount.Set(float64(stats.WaitCount))
}

// StartDBStatsCollector samples pool stats on the given interval until
// the done channel closes.
func (m *Metrics) StartDBStatsCollector(db *sql.DB, interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.ObserveDBStats(db.Stats())
			case <-done:
				return
			}
		}
	}()
}

// Handler returns an HTTP handler serving the registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware instruments HTTP handlers with request metrics
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}
