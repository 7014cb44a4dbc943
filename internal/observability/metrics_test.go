package observability

import (
	"testing"
)

func TestNewMetricsRegisters(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	m.ScriptRunsTotal.WithLabelValues("user", "ok").Inc()
	m.ScriptRunDuration.WithLabelValues("llm").Observe(0.2)
	m.LLMRequestsTotal.WithLabelValues("stub", "ok").Inc()
	m.LLMTokensUsed.WithLabelValues("stub", "prompt").Add(12)
	m.ContextUpdatesTotal.Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "200").Inc()
	m.WSClients.Set(2)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	seen := make(map[string]bool, len(families))
	for _, f := range families {
		seen[f.GetName()] = true
	}
	for _, want := range []string{
		"luaclaw_script_runs_total",
		"luaclaw_script_run_duration_seconds",
		"luaclaw_llm_requests_total",
		"luaclaw_llm_tokens_used_total",
		"luaclaw_context_updates_total",
		"luaclaw_http_requests_total",
		"luaclaw_ws_clients",
	} {
		if !seen[want] {
			t.Errorf("metric %s not gathered (got %v)", want, seen)
		}
	}
}

func TestTwoMetricsInstancesAreIndependent(t *testing.T) {
	t.Parallel()

	// A shared default registry would panic on duplicate registration.
	a := NewMetrics()
	b := NewMetrics()
	a.ContextUpdatesTotal.Inc()

	families, err := b.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "luaclaw_context_updates_total" {
			if f.GetMetric()[0].GetCounter().GetValue() != 0 {
				t.Error("registries share state")
			}
		}
	}
}
