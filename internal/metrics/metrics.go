package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	AttemptsTotal   *prometheus.CounterVec
	RequestLatency  *prometheus.HistogramVec
	CostUSD         *prometheus.CounterVec
	ProviderHealthy *prometheus.GaugeVec
	RolloversTotal  prometheus.Counter
	RateLimited     prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptgate_attempts_total",
			Help: "Provider generation attempts by outcome",
		}, []string{"provider", "outcome"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "promptgate_request_latency_ms",
			Help:    "End-to-end generation latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"provider"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "promptgate_cost_usd_total",
			Help: "Estimated USD cost per provider",
		}, []string{"provider"}),
		ProviderHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "promptgate_provider_healthy",
			Help: "1 when the last health probe of the provider succeeded",
		}, []string{"provider"}),
		RolloversTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptgate_journal_rollovers_total",
			Help: "Journal document rollovers performed",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "promptgate_http_rate_limited_total",
			Help: "HTTP requests rejected by the per-IP rate limiter",
		}),
	}
	reg.MustRegister(m.AttemptsTotal, m.RequestLatency, m.CostUSD, m.ProviderHealthy, m.RolloversTotal, m.RateLimited)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
