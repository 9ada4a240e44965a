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
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Security decision metrics
	SecurityChecksTotal   *prometheus.CounterVec
	SecurityCheckDuration *prometheus.HistogramVec
	SecurityStoreErrors   *prometheus.CounterVec

	// Plan feature cache metrics
	PlanCacheHitsTotal   prometheus.Counter
	PlanCacheMissesTotal prometheus.Counter

	// Audit metrics
	AuditEventsTotal *prometheus.CounterVec
	AuditPurgedTotal prometheus.Counter

	// Rate limiting metrics
	RateLimitedTotal *prometheus.CounterVec

	// Object registry metrics
	ObjectTypesRegistered prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doorway_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "doorway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "doorway_http_requests_in_flight",
				Help: "Number of HTTP requests currently being served",
			},
		),

		// Security decision metrics
		SecurityChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doorway_security_checks_total",
				Help: "Total number of security checks by decision and failed level",
			},
			[]string{"decision", "failed_level", "reason"},
		),
		SecurityCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "doorway_security_check_duration_seconds",
				Help:    "Security check evaluation duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"decision"},
		),
		SecurityStoreErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doorway_security_store_errors_total",
				Help: "Total number of store errors converted to denials",
			},
			[]string{"level"},
		),

		// Plan feature cache metrics
		PlanCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "doorway_plan_feature_cache_hits_total",
				Help: "Total number of plan feature cache hits",
			},
		),
		PlanCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "doorway_plan_feature_cache_misses_total",
				Help: "Total number of plan feature cache misses",
			},
		),

		// Audit metrics
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doorway_audit_events_total",
				Help: "Total number of security audit events recorded",
			},
			[]string{"decision"},
		),
		AuditPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "doorway_audit_events_purged_total",
				Help: "Total number of audit events deleted by the retention sweeper",
			},
		),

		// Rate limiting metrics
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "doorway_rate_limited_requests_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"scope"},
		),

		// Object registry metrics
		ObjectTypesRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "doorway_object_types_registered",
				Help: "Number of object types currently known to the registry",
			},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "doorway_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "doorway_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SecurityChecksTotal,
		m.SecurityCheckDuration,
		m.SecurityStoreErrors,
		m.PlanCacheHitsTotal,
		m.PlanCacheMissesTotal,
		m.AuditEventsTotal,
		m.AuditPurgedTotal,
		m.RateLimitedTotal,
		m.ObjectTypesRegistered,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveCheck records one security decision. Empty failedLevel/reason are
// normalized to "none" so allowed decisions stay on a single series.
func (m *Metrics) ObserveCheck(allowed bool, failedLevel, reason string, elapsed time.Duration) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	if failedLevel == "" {
		failedLevel = "none"
	}
	if reason == "" {
		reason = "none"
	}
	m.SecurityChecksTotal.WithLabelValues(decision, failedLevel, reason).Inc()
	m.SecurityCheckDuration.WithLabelValues(decision).Observe(elapsed.Seconds())
}

// CollectDBStats copies connection pool stats into the DB gauges. Intended
// to be called periodically by the server.
func (m *Metrics) CollectDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			metrics.HTTPRequestsInFlight.Inc()
			defer metrics.HTTPRequestsInFlight.Dec()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
