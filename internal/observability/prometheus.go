package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetricsRecorder exposes per-operation counters and latency
// histograms through a Prometheus registry.
type PrometheusMetricsRecorder struct {
	registry *prometheus.Registry
	results  *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder constructs a recorder with its own registry so
// multiple services in one process do not collide.
func NewPrometheusMetricsRecorder(service string) *PrometheusMetricsRecorder {
	registry := prometheus.NewRegistry()
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   "studycore",
		Name:        "operation_results_total",
		Help:        "Count of service operation outcomes by operation and status.",
		ConstLabels: prometheus.Labels{"service": service},
	}, []string{"operation", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   "studycore",
		Name:        "operation_duration_seconds",
		Help:        "Latency of service operations.",
		ConstLabels: prometheus.Labels{"service": service},
		Buckets:     prometheus.DefBuckets,
	}, []string{"operation"})
	registry.MustRegister(results, latency)
	return &PrometheusMetricsRecorder{
		registry: registry,
		results:  results,
		latency:  latency,
	}
}

// Observe records a service operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.results.WithLabelValues(operation, status).Inc()
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler returns an HTTP handler serving the recorder's registry in the
// Prometheus exposition format.
func (r *PrometheusMetricsRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for test assertions.
func (r *PrometheusMetricsRecorder) Registry() *prometheus.Registry {
	return r.registry
}
