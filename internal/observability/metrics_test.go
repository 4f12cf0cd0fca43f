package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordRun("completed", 2*time.Second)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"agentrun_runs_total", "agentrun_run_duration_seconds"} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestRecordRun(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordRun("completed", time.Second)
	m.RecordRun("completed", time.Second)
	m.RecordRun("failed", time.Second)

	expected := `
		# HELP agentrun_runs_total Total number of run segments by outcome
		# TYPE agentrun_runs_total counter
		agentrun_runs_total{outcome="completed"} 2
		agentrun_runs_total{outcome="failed"} 1
	`
	if err := testutil.CollectAndCompare(m.RunCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
	}
	if count := testutil.CollectAndCount(m.RunDuration); count != 1 {
		t.Errorf("Expected 1 histogram, got %d", count)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordToolExecution("get_preferences", "success", 10*time.Millisecond)
	m.RecordToolExecution("get_preferences", "panic", 10*time.Millisecond)

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("get_preferences", "success")); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("get_preferences", "panic")); got != 1 {
		t.Errorf("panic count = %v, want 1", got)
	}
	if count := testutil.CollectAndCount(m.ToolExecutionDuration); count != 1 {
		t.Errorf("Expected 1 label combination, got %d", count)
	}
}

func TestRecordModelInvocationAndEvents(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordModelInvocation("openai", "success")
	m.RecordStreamEvent("status")
	m.RecordStreamEvent("status")
	m.RecordInterruption("set_preference")

	if got := testutil.ToFloat64(m.ModelInvocationCounter.WithLabelValues("openai", "success")); got != 1 {
		t.Errorf("invocations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StreamEventCounter.WithLabelValues("status")); got != 2 {
		t.Errorf("status events = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.InterruptionCounter.WithLabelValues("set_preference")); got != 1 {
		t.Errorf("interruptions = %v, want 1", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRun("completed", time.Second)
	m.RecordModelInvocation("p", "success")
	m.RecordToolExecution("t", "success", time.Second)
	m.RecordInterruption("t")
	m.RecordStreamEvent("status")
}
