// Package metrics exposes Prometheus instrumentation for the submission
// service, following the teacher's NewMetricsWithRegistry pattern so each
// test gets an isolated registry and production wires the default one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/histogram the HTTP ingress and domain
// packages record against.
type Metrics struct {
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
	SubmissionsTotal    *prometheus.CounterVec
	RateLimitDenied     *prometheus.CounterVec
	QueuePosition       prometheus.Histogram
	CircuitBreakerState *prometheus.GaugeVec
}

// NewMetricsWithRegistry registers all collectors against registry and
// returns the bundle. Passing a fresh *prometheus.Registry per test avoids
// duplicate-registration panics across test cases.
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "txgateway_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint", "status"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txgateway_http_requests_total",
			Help: "Total HTTP requests processed.",
		}, []string{"method", "endpoint", "status"}),

		SubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txgateway_submissions_total",
			Help: "Total submissions by outcome.",
		}, []string{"outcome"}),

		RateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "txgateway_rate_limit_denied_total",
			Help: "Total submissions denied by the rate limiter, by client.",
		}, []string{"client_id"}),

		QueuePosition: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "txgateway_queue_position",
			Help:    "Reported queue position at admission time.",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "txgateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),
	}

	registry.MustRegister(
		m.HTTPRequestDuration,
		m.HTTPRequestsTotal,
		m.SubmissionsTotal,
		m.RateLimitDenied,
		m.QueuePosition,
		m.CircuitBreakerState,
	)
	return m
}
