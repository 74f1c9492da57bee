package observ

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the counters the service exports. A nil *Metrics is
// valid and records nothing, which keeps tests free of registries.
type Metrics struct {
	authAttempts         *prometheus.CounterVec
	tokensRevoked        *prometheus.CounterVec
	resolutionFailures   *prometheus.CounterVec
	connectionsDiscarded prometheus.Counter
	revocationsPurged    prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers every collector on reg. Pass
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_auth_attempts_total",
			Help: "Authentication attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		tokensRevoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_tokens_revoked_total",
			Help: "Tokens newly written to the revocation store.",
		}, []string{"type"}),
		resolutionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tenantgate_tenant_resolution_failures_total",
			Help: "Requests rejected while resolving the tenant context.",
		}, []string{"code"}),
		connectionsDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenantgate_db_connections_discarded_total",
			Help: "Pooled connections closed because their tenant binding could not be reset.",
		}),
		revocationsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tenantgate_revocations_purged_total",
			Help: "Expired revocation records removed by the purger.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.authAttempts,
		m.tokensRevoked,
		m.resolutionFailures,
		m.connectionsDiscarded,
		m.revocationsPurged,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) AuthAttempt(method, outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) TokenRevoked(tokenType string) {
	if m == nil {
		return
	}
	m.tokensRevoked.WithLabelValues(tokenType).Inc()
}

func (m *Metrics) TenantResolutionFailed(code string) {
	if m == nil {
		return
	}
	m.resolutionFailures.WithLabelValues(code).Inc()
}

func (m *Metrics) ConnectionDiscarded() {
	if m == nil {
		return
	}
	m.connectionsDiscarded.Inc()
}

func (m *Metrics) RevocationsPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.revocationsPurged.Add(float64(n))
}

func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route, status).Observe(seconds)
}
