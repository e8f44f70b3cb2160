// Package metrics holds the gateway's Prometheus instrumentation: request
// counters and latency, generation outcomes, streaming token counts, and
// time-to-first-token.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveGenerations prometheus.Gauge
	GenerationsTotal  *prometheus.CounterVec
	ChunksStreamed    prometheus.Counter
	TimeToFirstToken  prometheus.Histogram
}

// New builds the metric set on a private registry so tests can instantiate
// freely without duplicate-registration panics.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osaurus_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "osaurus_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ActiveGenerations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "osaurus_active_generations",
			Help: "Generations currently in flight.",
		}),
		GenerationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osaurus_generations_total",
			Help: "Completed generations by service target and outcome.",
		}, []string{"target", "outcome"}),
		ChunksStreamed: factory.NewCounter(prometheus.CounterOpts{
			Name: "osaurus_generation_chunks_total",
			Help: "Backend chunks consumed across all streams.",
		}),
		TimeToFirstToken: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "osaurus_time_to_first_token_seconds",
			Help:    "Latency from backend stream open to first chunk.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveGeneration records one finished generation.
func (m *Metrics) ObserveGeneration(target, outcome string) {
	m.GenerationsTotal.WithLabelValues(target, outcome).Inc()
}
