// Package metrics holds the Prometheus collectors for authorization and
// token endpoint outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "passport"

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeDenied  = "denied"
)

// Metrics groups the server's collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	AuthorizeRequests *prometheus.CounterVec
	TokenRequests     *prometheus.CounterVec
	Revocations       *prometheus.CounterVec
	UserInfoRequests  *prometheus.CounterVec
	RateLimited       prometheus.Counter
	PurgedRecords     *prometheus.CounterVec
}

// New registers every collector, plus the Go and process collectors, on a new registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AuthorizeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorize_requests_total",
			Help:      "Authorization requests by outcome (success, denied, or an OAuth error code).",
		}, []string{"outcome"}),
		TokenRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_requests_total",
			Help:      "Token endpoint requests by grant type and outcome.",
		}, []string{"grant_type", "outcome"}),
		Revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocation_requests_total",
			Help:      "Revocation requests by outcome.",
		}, []string{"outcome"}),
		UserInfoRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "userinfo_requests_total",
			Help:      "Userinfo requests by outcome.",
		}, []string{"outcome"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the per-client-IP rate limiter.",
		}),
		PurgedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_records_total",
			Help:      "Expired records removed by the sweeper.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AuthorizeRequests,
		m.TokenRequests,
		m.Revocations,
		m.UserInfoRequests,
		m.RateLimited,
		m.PurgedRecords,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
