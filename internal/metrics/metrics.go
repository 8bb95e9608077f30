// Package metrics provides Prometheus metrics for the daybook server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	RateLimitDenials    *prometheus.CounterVec
	AICallsTotal        *prometheus.CounterVec
	AITokensTotal       *prometheus.CounterVec
	HistoryRecordsTotal *prometheus.CounterVec
	StreamsActive       prometheus.Gauge
	ErrorsTotal         *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daybook_requests_total",
				Help: "Total number of HTTP requests by route and status.",
			},
			[]string{"route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "daybook_request_duration_seconds",
				Help:    "Request processing duration by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RateLimitDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daybook_ratelimit_denials_total",
				Help: "Requests rejected by the rate limiter, by endpoint class.",
			},
			[]string{"class"},
		),
		AICallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daybook_ai_calls_total",
				Help: "Upstream AI provider calls by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		AITokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daybook_ai_tokens_total",
				Help: "Tokens consumed by upstream AI calls, by direction.",
			},
			[]string{"direction"},
		),
		HistoryRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daybook_history_records_total",
				Help: "Execution history recording attempts by outcome.",
			},
			[]string{"outcome"},
		),
		StreamsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "daybook_streams_active",
				Help: "Number of chat streams currently open.",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "daybook_errors_total",
				Help: "Total errors by component and type.",
			},
			[]string{"component", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RequestDuration)
	reg.MustRegister(m.RateLimitDenials)
	reg.MustRegister(m.AICallsTotal)
	reg.MustRegister(m.AITokensTotal)
	reg.MustRegister(m.HistoryRecordsTotal)
	reg.MustRegister(m.StreamsActive)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments the request counter.
func (m *Metrics) RecordRequest(route, status string) {
	m.RequestsTotal.WithLabelValues(route, status).Inc()
}

// ObserveDuration records request duration.
func (m *Metrics) ObserveDuration(route string, seconds float64) {
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// RecordRateLimitDenial increments the denial counter for an endpoint class.
func (m *Metrics) RecordRateLimitDenial(class string) {
	m.RateLimitDenials.WithLabelValues(class).Inc()
}

// RecordAICall increments the AI call counter.
func (m *Metrics) RecordAICall(operation, outcome string) {
	m.AICallsTotal.WithLabelValues(operation, outcome).Inc()
}

// AddAITokens adds token usage for one AI call.
func (m *Metrics) AddAITokens(input, output int) {
	m.AITokensTotal.WithLabelValues("input").Add(float64(input))
	m.AITokensTotal.WithLabelValues("output").Add(float64(output))
}

// RecordHistory increments the history recording counter.
func (m *Metrics) RecordHistory(outcome string) {
	m.HistoryRecordsTotal.WithLabelValues(outcome).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errType string) {
	m.ErrorsTotal.WithLabelValues(component, errType).Inc()
}
