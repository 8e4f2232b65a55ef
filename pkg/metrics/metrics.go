// Package metrics holds the Prometheus collectors for sessions and model
// calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session outcomes.
const (
	OutcomeDone      = "done"
	OutcomeError     = "error"
	OutcomeExhausted = "exhausted"
	OutcomeNone      = "none"
)

// Metrics groups the service collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionsAdmitted prometheus.Counter
	sessionsRejected prometheus.Counter
	sessionsActive   prometheus.Gauge
	sessionOutcomes  *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
	modelTokens      *prometheus.CounterVec
	modelDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a new registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ircview_sessions_admitted_total",
			Help: "Total number of search sessions admitted",
		}),
		sessionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ircview_sessions_rejected_total",
			Help: "Total number of search sessions rejected because the server was busy",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ircview_sessions_active",
			Help: "Number of search sessions currently running",
		}),
		sessionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ircview_session_outcomes_total",
			Help: "Finished search sessions by outcome",
		}, []string{"outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ircview_tool_calls_total",
			Help: "Tool calls dispatched by name",
		}, []string{"tool"}),
		modelTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ircview_model_tokens_total",
			Help: "Model tokens by type",
		}, []string{"type"}),
		modelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ircview_model_request_duration_seconds",
			Help:    "Duration of model requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to 32s
		}, []string{"provider"}),
	}
	m.registry.MustRegister(
		m.sessionsAdmitted,
		m.sessionsRejected,
		m.sessionsActive,
		m.sessionOutcomes,
		m.toolCalls,
		m.modelTokens,
		m.modelDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SessionAdmitted records an admitted session and marks it active.
func (m *Metrics) SessionAdmitted() {
	if m == nil {
		return
	}
	m.sessionsAdmitted.Inc()
	m.sessionsActive.Inc()
}

// SessionRejected records a session refused by the admission gate.
func (m *Metrics) SessionRejected() {
	if m == nil {
		return
	}
	m.sessionsRejected.Inc()
}

// SessionFinished marks an admitted session as no longer active.
func (m *Metrics) SessionFinished() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// SessionOutcome records how a session ended.
func (m *Metrics) SessionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.sessionOutcomes.WithLabelValues(outcome).Inc()
}

// ToolCall records one dispatched tool.
func (m *Metrics) ToolCall(name string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(name).Inc()
}

// ModelRequest records a model round trip and its token usage.
func (m *Metrics) ModelRequest(provider string, d time.Duration, input, output, cacheCreate, cacheRead int64) {
	if m == nil {
		return
	}
	m.modelDuration.WithLabelValues(provider).Observe(d.Seconds())
	m.modelTokens.WithLabelValues("input").Add(float64(input))
	m.modelTokens.WithLabelValues("output").Add(float64(output))
	m.modelTokens.WithLabelValues("cache_creation").Add(float64(cacheCreate))
	m.modelTokens.WithLabelValues("cache_read").Add(float64(cacheRead))
}
