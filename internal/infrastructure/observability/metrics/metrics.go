package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreschagin/desertyard/internal/application/port"
)

// Metrics bundles prometheus collectors for the read API and the capture pipeline.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestDurationSec *prometheus.HistogramVec
	RateLimitDropped   prometheus.Counter

	CaptureAttempts  *prometheus.CounterVec
	CaptureOutcomes  *prometheus.CounterVec
	SnapshotBytes    *prometheus.HistogramVec
	LastSuccessUnix  *prometheus.GaugeVec
	CaptureRunsTotal prometheus.Counter
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "desertyard_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		RequestDurationSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "desertyard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		RateLimitDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "desertyard_ratelimit_dropped_total",
			Help: "Total number of requests dropped by rate limiter.",
		}),
		CaptureAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "desertyard_capture_attempts_total",
			Help: "Fetch-and-store attempts per source.",
		}, []string{"source", "result"}),
		CaptureOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "desertyard_capture_outcomes_total",
			Help: "Final capture outcome per source and run.",
		}, []string{"source", "outcome"}),
		SnapshotBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "desertyard_snapshot_bytes",
			Help:    "Size of captured snapshots.",
			Buckets: prometheus.ExponentialBuckets(8<<10, 2, 10),
		}, []string{"source"}),
		LastSuccessUnix: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "desertyard_capture_last_success_timestamp_seconds",
			Help: "Unix time of the last successful capture per source.",
		}, []string{"source"}),
		CaptureRunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "desertyard_capture_runs_total",
			Help: "Total number of completed capture runs.",
		}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDurationSec,
		m.RateLimitDropped,
		m.CaptureAttempts,
		m.CaptureOutcomes,
		m.SnapshotBytes,
		m.LastSuccessUnix,
		m.CaptureRunsTotal,
	)

	return m
}

// NewWithRuntime registers process and Go runtime collectors next to the service metrics.
func NewWithRuntime() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(registry)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAttempt(sourceID string, err error) {
	m.CaptureAttempts.WithLabelValues(sourceID, attemptResult(err)).Inc()
}

func (m *Metrics) ObserveOutcome(sourceID string, outcome port.CaptureOutcome, _ int, sizeBytes int) {
	m.CaptureOutcomes.WithLabelValues(sourceID, string(outcome)).Inc()
	if outcome == port.CaptureOutcomeExhausted {
		return
	}
	m.SnapshotBytes.WithLabelValues(sourceID).Observe(float64(sizeBytes))
	m.LastSuccessUnix.WithLabelValues(sourceID).Set(float64(time.Now().Unix()))
}

func attemptResult(err error) string {
	if err == nil {
		return "ok"
	}
	var fetchErr *port.FetchError
	if errors.As(err, &fetchErr) {
		return string(fetchErr.Kind)
	}
	var storageErr *port.StorageError
	if errors.As(err, &storageErr) {
		return "storage_" + string(storageErr.Op)
	}
	return "error"
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		status := strconv.Itoa(wrapped.statusCode)
		route := normalizeRoute(r.URL.Path)
		m.RequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		m.RequestDurationSec.WithLabelValues(route, r.Method, status).Observe(time.Since(startedAt).Seconds())
	})
}

// normalizeRoute keeps label cardinality bounded for unknown paths.
func normalizeRoute(path string) string {
	switch path {
	case "/", "/imgs", "/healthz", "/readyz", "/metrics", "/api/v1/capture/status", "/api/v1/capture/run":
		return path
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
