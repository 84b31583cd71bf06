package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/boddenberg/commission-tracker-go/internal/domain"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the commission service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	computeDuration *prometheus.HistogramVec
	computations    *prometheus.CounterVec
	recordsEmitted  prometheus.Counter
	anomalies       *prometheus.CounterVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		computeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commission_operation_duration_seconds",
				Help:    "Duration of commission operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		computations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_computations_total",
				Help: "Allocation runs by outcome.",
			},
			[]string{"status"},
		),
		recordsEmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "commission_records_total",
				Help: "Commission records produced by allocation runs.",
			},
		),
		anomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_anomalies_total",
				Help: "Data anomalies tolerated during allocation, by kind.",
			},
			[]string{"kind"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commission_http_requests_total",
				Help: "HTTP requests by status code.",
			},
			[]string{"code"},
		),
	}
}

// RecordDuration records the duration of an operation.
func (m *Metrics) RecordDuration(operation string, d time.Duration) {
	m.computeDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordComputation counts one allocation run with its output size and
// tolerated anomalies.
func (m *Metrics) RecordComputation(records int, diag *domain.Diagnostics) {
	m.computations.WithLabelValues("success").Inc()
	m.recordsEmitted.Add(float64(records))
	if diag == nil {
		return
	}
	for kind, n := range diag.Counts() {
		if n > 0 {
			m.anomalies.WithLabelValues(kind).Add(float64(n))
		}
	}
}

// IncrComputationError counts a run that failed before allocation.
func (m *Metrics) IncrComputationError() {
	m.computations.WithLabelValues("error").Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// HTTPMiddleware counts responses by status code.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	})
}

// GetAllocatorSnapshot returns a snapshot of allocation metrics suitable for
// the GET /v1/metrics/allocator endpoint.
func (m *Metrics) GetAllocatorSnapshot() *domain.AllocatorMetrics {
	// Prometheus counters expose cumulative values.
	success := getCounterValue(m.computations, "success")
	hits := getCounterValue(m.cacheHits, "report")
	misses := getCounterValue(m.cacheMisses, "report")

	cacheHitRate := float64(0)
	if hits+misses > 0 {
		cacheHitRate = hits / (hits + misses)
	}

	anomalies := make(map[string]int64)
	for kind := range (&domain.Diagnostics{}).Counts() {
		anomalies[kind] = int64(getCounterValue(m.anomalies, kind))
	}

	return &domain.AllocatorMetrics{
		Computations:   int64(success),
		RecordsEmitted: int64(readCounter(m.recordsEmitted)),
		CacheHitRate:   cacheHitRate,
		Anomalies:      anomalies,
		Period:         "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return readCounter(cv.WithLabelValues(label))
}

func readCounter(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
