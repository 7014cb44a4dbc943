package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for luaclaw.
// Uses a custom registry — no global state.
type Metrics struct {
	Registry *prometheus.Registry

	// Script execution metrics.
	ScriptRunsTotal   *prometheus.CounterVec
	ScriptRunDuration *prometheus.HistogramVec

	// LLM metrics.
	LLMRequestsTotal *prometheus.CounterVec
	LLMTokensUsed    *prometheus.CounterVec

	// Dashboard context metrics.
	ContextUpdatesTotal prometheus.Counter

	// HTTP gateway metrics.
	HTTPRequestsTotal *prometheus.CounterVec

	// Websocket feed metrics.
	WSClients prometheus.Gauge
}

// NewMetrics creates a Metrics with all collectors registered on a custom
// prometheus.Registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ScriptRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "luaclaw",
			Subsystem: "script",
			Name:      "runs_total",
			Help:      "Total Lua script executions.",
		}, []string{"origin", "status"}),

		ScriptRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "luaclaw",
			Subsystem: "script",
			Name:      "run_duration_seconds",
			Help:      "Lua script execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"origin"}),

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "luaclaw",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total LLM API requests.",
		}, []string{"model", "status"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "luaclaw",
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total LLM tokens consumed.",
		}, []string{"model", "direction"}),

		ContextUpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "luaclaw",
			Subsystem: "context",
			Name:      "updates_total",
			Help:      "Total dashboard context updates published.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "luaclaw",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the gateway.",
		}, []string{"method", "path", "status_code"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "luaclaw",
			Name:      "ws_clients",
			Help:      "Number of connected websocket subscribers.",
		}),
	}

	reg.MustRegister(
		m.ScriptRunsTotal,
		m.ScriptRunDuration,
		m.LLMRequestsTotal,
		m.LLMTokensUsed,
		m.ContextUpdatesTotal,
		m.HTTPRequestsTotal,
		m.WSClients,
	)

	return m
}
