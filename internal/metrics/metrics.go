// Package metrics exposes Prometheus collectors on a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels used by the login and revocation counters.
const (
	OutcomeSuccess       = "success"
	OutcomeDenied        = "denied"
	OutcomeInvalidState  = "invalid_state"
	OutcomeUpstreamError = "upstream_error"
	OutcomeError         = "error"
)

// Metrics holds every collector the service records to. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	// OAuthLogins counts completed callbacks by provider and outcome.
	OAuthLogins *prometheus.CounterVec
	// OAuthRevocations counts token revocation attempts.
	OAuthRevocations *prometheus.CounterVec
	// HTTPRequests counts requests by method, route pattern and status.
	HTTPRequests *prometheus.CounterVec
	// HTTPDuration tracks request latency by method and route pattern.
	HTTPDuration *prometheus.HistogramVec
	// RateLimitRejections counts requests refused with 429.
	RateLimitRejections prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all collectors under namespace.
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		OAuthLogins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oauth_logins_total",
				Help:      "OAuth callbacks by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		OAuthRevocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "oauth_revocations_total",
				Help:      "Provider token revocations by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		RateLimitRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejections_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),
	}

	registry.MustRegister(
		m.OAuthLogins,
		m.OAuthRevocations,
		m.HTTPRequests,
		m.HTTPDuration,
		m.RateLimitRejections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry, for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordLogin(provider, outcome string) {
	if m == nil {
		return
	}
	m.OAuthLogins.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordRevocation(provider, outcome string) {
	if m == nil {
		return
	}
	m.OAuthRevocations.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, route, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, status).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

func (m *Metrics) RecordRateLimitRejection() {
	if m == nil {
		return
	}
	m.RateLimitRejections.Inc()
}
