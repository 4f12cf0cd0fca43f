package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects orchestrator metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Run outcomes and durations
//   - Model invocations per provider
//   - Tool execution patterns and latencies
//   - Approval interruptions per tool
//
// A nil *Metrics is valid and records nothing.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordRun("completed", time.Since(start))
type Metrics struct {
	// RunCounter counts finished run segments.
	// Labels: outcome (completed|failed|awaiting_approval|rejected)
	RunCounter *prometheus.CounterVec

	// RunDuration measures the wall time of one Start or Resume call.
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s
	RunDuration prometheus.Histogram

	// ModelInvocationCounter counts model invocations.
	// Labels: provider, status (success|error)
	ModelInvocationCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error|timeout|panic|validation|not_found|canceled)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// InterruptionCounter counts tool calls paused for approval.
	// Labels: tool
	InterruptionCounter *prometheus.CounterVec

	// StreamEventCounter counts events read from model streams.
	// Labels: type (status|tool_call_started|tool_call_completed|final_output|error|ignored)
	StreamEventCounter *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// creates unregistered collectors, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_runs_total",
				Help: "Total number of run segments by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agentrun_run_duration_seconds",
				Help:    "Duration of Start and Resume calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		ModelInvocationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_model_invocations_total",
				Help: "Total number of model invocations by provider and status",
			},
			[]string{"provider", "status"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentrun_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		InterruptionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_interruptions_total",
				Help: "Total number of tool calls paused for approval",
			},
			[]string{"tool"},
		),
		StreamEventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrun_stream_events_total",
				Help: "Total number of model stream events by type",
			},
			[]string{"type"},
		),
	}
}

// RecordRun records the outcome and duration of a Start or Resume call.
func (m *Metrics) RecordRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RunCounter.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(duration.Seconds())
}

// RecordModelInvocation records one model invocation.
func (m *Metrics) RecordModelInvocation(provider, status string) {
	if m == nil {
		return
	}
	m.ModelInvocationCounter.WithLabelValues(provider, status).Inc()
}

// RecordToolExecution records a tool execution with its status and duration.
func (m *Metrics) RecordToolExecution(toolName, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(duration.Seconds())
}

// RecordInterruption records a tool call paused for approval.
func (m *Metrics) RecordInterruption(toolName string) {
	if m == nil {
		return
	}
	m.InterruptionCounter.WithLabelValues(toolName).Inc()
}

// RecordStreamEvent records one event read from a model stream.
func (m *Metrics) RecordStreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.StreamEventCounter.WithLabelValues(eventType).Inc()
}
