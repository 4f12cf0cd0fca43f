package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/agentrun/internal/observability"
	"github.com/haasonsaas/agentrun/pkg/models"
)

type toolOutput struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

func decodeOutput(t *testing.T, content string) toolOutput {
	t.Helper()
	var out toolOutput
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		t.Fatalf("output is not structured JSON: %q: %v", content, err)
	}
	return out
}

func TestToolExecutor_Success(t *testing.T) {
	rc := &models.RunContext{UserID: "u1", ConversationID: "c1"}
	var seen *models.RunContext
	tool := &testTool{
		name: "echo",
		execFunc: func(ctx context.Context, params json.RawMessage, got *models.RunContext) (*ToolResult, error) {
			seen = got
			return &ToolResult{Content: string(params)}, nil
		},
	}
	executor := NewToolExecutor(mustRegistry(tool), ToolExecConfig{})

	result := executor.Execute(context.Background(), models.ToolCall{ID: "1", Name: "echo", Input: json.RawMessage(`{"a":1}`)}, rc)
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != `{"a":1}` || result.ToolCallID != "1" || result.Name != "echo" {
		t.Errorf("unexpected result: %+v", result)
	}
	if seen != rc {
		t.Error("run context should be passed by reference")
	}
}

func TestToolExecutor_PlainTextIsJSONEncoded(t *testing.T) {
	tool := &testTool{
		name: "text",
		execFunc: func(context.Context, json.RawMessage, *models.RunContext) (*ToolResult, error) {
			return &ToolResult{Content: "blue"}, nil
		},
	}
	executor := NewToolExecutor(mustRegistry(tool), ToolExecConfig{})
	result := executor.Execute(context.Background(), models.ToolCall{ID: "1", Name: "text"}, nil)
	if result.Content != `"blue"` {
		t.Errorf("content = %s, want \"blue\"", result.Content)
	}
}

func TestToolExecutor_EmptyInputIsEmptyObject(t *testing.T) {
	tool := &testTool{name: "noargs", schema: `{"type":"object","additionalProperties":false}`}
	executor := NewToolExecutor(mustRegistry(tool), ToolExecConfig{})
	result := executor.Execute(context.Background(), models.ToolCall{ID: "1", Name: "noargs"}, nil)
	if result.IsError {
		t.Fatalf("empty input should validate as {}: %s", result.Content)
	}
	if got := string(tool.calls[0]); got != "{}" {
		t.Errorf("tool received %s, want {}", got)
	}
}

func TestToolExecutor_StructuredFailures(t *testing.T) {
	schema := `{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`
	tools := []Tool{
		&testTool{name: "strict", schema: schema},
		&testTool{name: "fails", execFunc: func(context.Context, json.RawMessage, *models.RunContext) (*ToolResult, error) {
			return nil, errors.New("database unavailable")
		}},
		&testTool{name: "panics", execFunc: func(context.Context, json.RawMessage, *models.RunContext) (*ToolResult, error) {
			panic("nil map write")
		}},
		&testTool{name: "reports", execFunc: func(context.Context, json.RawMessage, *models.RunContext) (*ToolResult, error) {
			return &ToolResult{Content: "quota exceeded", IsError: true}, nil
		}},
	}
	executor := NewToolExecutor(mustRegistry(tools...), ToolExecConfig{})

	tests := []struct {
		name     string
		call     models.ToolCall
		wantType ToolErrorType
		wantMsg  string
	}{
		{"unknown tool", models.ToolCall{ID: "1", Name: "missing"}, ToolErrorNotFound, "tool not found: missing"},
		{"schema violation", models.ToolCall{ID: "2", Name: "strict", Input: json.RawMessage(`{"key":5}`)}, ToolErrorValidation, "arguments do not match schema"},
		{"missing required", models.ToolCall{ID: "3", Name: "strict", Input: json.RawMessage(`{}`)}, ToolErrorValidation, "arguments do not match schema"},
		{"malformed json", models.ToolCall{ID: "4", Name: "strict", Input: json.RawMessage(`{"key":`)}, ToolErrorValidation, "not valid JSON"},
		{"error return", models.ToolCall{ID: "5", Name: "fails"}, ToolErrorExecution, "database unavailable"},
		{"panic", models.ToolCall{ID: "6", Name: "panics"}, ToolErrorPanic, "nil map write"},
		{"error result", models.ToolCall{ID: "7", Name: "reports"}, ToolErrorExecution, "quota exceeded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := executor.Execute(context.Background(), tt.call, nil)
			if !result.IsError {
				t.Fatalf("expected error result, got %s", result.Content)
			}
			out := decodeOutput(t, result.Content)
			if out.Type != string(tt.wantType) {
				t.Errorf("type = %q, want %q", out.Type, tt.wantType)
			}
			if !strings.Contains(out.Error, tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", out.Error, tt.wantMsg)
			}
			if result.ToolCallID != tt.call.ID {
				t.Errorf("tool call id = %q, want %q", result.ToolCallID, tt.call.ID)
			}
		})
	}
}

func TestToolExecutor_TimesOut(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	tool := &testTool{
		name: "stuck",
		execFunc: func(context.Context, json.RawMessage, *models.RunContext) (*ToolResult, error) {
			// Ignores its context on purpose.
			<-release
			return &ToolResult{Content: "late"}, nil
		},
	}
	executor := NewToolExecutor(mustRegistry(tool), ToolExecConfig{
		Timeouts: map[string]time.Duration{"stuck": 20 * time.Millisecond},
	})

	start := time.Now()
	result := executor.Execute(context.Background(), models.ToolCall{ID: "1", Name: "stuck"}, nil)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("executor waited %v for a stuck tool", elapsed)
	}
	out := decodeOutput(t, result.Content)
	if out.Type != string(ToolErrorTimeout) {
		t.Errorf("type = %q, want timeout", out.Type)
	}
}

func TestToolExecutor_Canceled(t *testing.T) {
	tool := &testTool{
		name: "slow",
		execFunc: func(ctx context.Context, _ json.RawMessage, _ *models.RunContext) (*ToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	executor := NewToolExecutor(mustRegistry(tool), ToolExecConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	result := executor.Execute(ctx, models.ToolCall{ID: "1", Name: "slow"}, nil)
	out := decodeOutput(t, result.Content)
	if out.Type != string(ToolErrorCanceled) && out.Type != string(ToolErrorExecution) {
		t.Errorf("type = %q, want canceled", out.Type)
	}
}

func TestToolExecutor_RecordsMetrics(t *testing.T) {
	metrics := observability.NewMetrics(nil)
	tool := &testTool{name: "ok"}
	executor := NewToolExecutor(mustRegistry(tool), ToolExecConfig{Metrics: metrics})

	executor.Execute(context.Background(), models.ToolCall{ID: "1", Name: "ok"}, nil)
	executor.Execute(context.Background(), models.ToolCall{ID: "2", Name: "nope"}, nil)

	if got := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("ok", "success")); got != 1 {
		t.Errorf("success count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("nope", "not_found")); got != 1 {
		t.Errorf("not_found count = %v, want 1", got)
	}
}

func TestRejectedResult(t *testing.T) {
	result := rejectedResult(models.ToolCall{ID: "c1", Name: "set_preference"})
	if result.Content != `{"error":"tool call rejected by user","type":"rejected"}` {
		t.Errorf("unexpected rejected output: %s", result.Content)
	}
	if !result.IsError || result.ToolCallID != "c1" {
		t.Errorf("unexpected result: %+v", result)
	}
}
