package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates the engine's Prometheus instrumentation.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	jobRuns         *prometheus.CounterVec
	jobFailures     *prometheus.CounterVec
	leadsIngested   *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	emits           *prometheus.CounterVec
}

// NewMetricsService registers the engine's collectors on a private registry.
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

	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_duration_seconds",
		Help:    "Duration of periodic job runs",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
	}, []string{"kind"})

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_runs_total",
		Help: "Total periodic job runs",
	}, []string{"kind"})

	jobFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_failures_total",
		Help: "Total periodic job runs that returned an error",
	}, []string{"kind"})

	leadsIngested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leads_ingested_total",
		Help: "Ingestion outcomes by disposition",
	}, []string{"disposition"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lead_transitions_total",
		Help: "Accepted lead state transitions by target state",
	}, []string{"state"})

	emits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_emitted_total",
		Help: "Sink emissions by template key",
	}, []string{"template"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, jobDuration, jobRuns, jobFailures,
		leadsIngested, transitions, emits, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		jobDuration:     jobDuration,
		jobRuns:         jobRuns,
		jobFailures:     jobFailures,
		leadsIngested:   leadsIngested,
		transitions:     transitions,
		emits:           emits,
	}
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
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveJob records one periodic job run.
func (m *MetricsService) ObserveJob(kind string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(kind).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if err != nil {
		m.jobFailures.WithLabelValues(kind).Inc()
	}
}

// CountIngested tallies ingestion outcomes: created, duplicate or skipped.
func (m *MetricsService) CountIngested(disposition string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.leadsIngested.WithLabelValues(disposition).Add(float64(n))
}

// CountTransition tallies an accepted move into the given state.
func (m *MetricsService) CountTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

// CountEmit tallies a sink emission.
func (m *MetricsService) CountEmit(template string) {
	if m == nil {
		return
	}
	m.emits.WithLabelValues(template).Inc()
}
