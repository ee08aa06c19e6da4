package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec
	cacheWrite      prometheus.Observer
	cacheLookups    *prometheus.CounterVec
	authzDecisions  *prometheus.CounterVec
	forcedSignOuts  *prometheus.CounterVec
	migrationRuns   *prometheus.CounterVec
	migrationRows   *prometheus.CounterVec
	exportJobs      *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roster_cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	}, []string{"cache"})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "roster_cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_cache_lookups_total",
		Help: "Cache lookups by cache and result",
	}, []string{"cache", "result"})

	authzDecisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_authz_decisions_total",
		Help: "Authorization decisions by check and outcome",
	}, []string{"check", "outcome"})

	forcedSignOuts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_forced_signouts_total",
		Help: "Forced sign-outs by triggering code and signal source",
	}, []string{"code", "source"})

	migrationRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_migration_runs_total",
		Help: "Legacy migration shim runs by shim and result",
	}, []string{"shim", "result"})

	migrationRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_migration_rows_total",
		Help: "Rows touched by legacy migration shims",
	}, []string{"shim", "stat"})

	exportJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_export_jobs_total",
		Help: "Roster export jobs by format and final status",
	}, []string{"format", "status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups,
		authzDecisions, forcedSignOuts, migrationRuns, migrationRows, exportJobs, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheLookups:    cacheLookups,
		authzDecisions:  authzDecisions,
		forcedSignOuts:  forcedSignOuts,
		migrationRuns:   migrationRuns,
		migrationRows:   migrationRows,
		exportJobs:      exportJobs,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup for the named cache.
func (m *MetricsService) RecordCacheOperation(cache string, hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLatency.WithLabelValues(cache).Observe(duration.Seconds())
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordAuthzDecision counts one authorization outcome. outcome is "allow",
// "deny" or an error code.
func (m *MetricsService) RecordAuthzDecision(check, outcome string) {
	if m == nil {
		return
	}
	m.authzDecisions.WithLabelValues(check, outcome).Inc()
}

// RecordForcedSignOut counts a sign-out triggered by the session guard.
func (m *MetricsService) RecordForcedSignOut(code, source string) {
	if m == nil {
		return
	}
	m.forcedSignOuts.WithLabelValues(code, source).Inc()
}

// RecordMigrationRun counts a shim run and the rows it touched.
func (m *MetricsService) RecordMigrationRun(shim string, success bool, stats map[string]int) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.migrationRuns.WithLabelValues(shim, result).Inc()
	for stat, n := range stats {
		if n > 0 {
			m.migrationRows.WithLabelValues(shim, stat).Add(float64(n))
		}
	}
}

// RecordExportJob counts a finished or failed export job.
func (m *MetricsService) RecordExportJob(format, status string) {
	if m == nil {
		return
	}
	m.exportJobs.WithLabelValues(format, status).Inc()
}
