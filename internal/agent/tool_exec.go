package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/haasonsaas/agentrun/internal/observability"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20

	// DefaultToolTimeout bounds a single tool execution.
	DefaultToolTimeout = 30 * time.Second
)

// ToolExecConfig configures tool execution behavior.
type ToolExecConfig struct {
	// PerToolTimeout is the timeout for individual tool executions.
	// Default: 30 seconds.
	PerToolTimeout time.Duration

	// Timeouts overrides PerToolTimeout for specific tools.
	Timeouts map[string]time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// ToolExecutor validates tool arguments and runs tools, turning every
// failure into a structured output. Execute always returns exactly one
// result and never panics.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
}

// NewToolExecutor creates a new tool executor with the given registry and configuration.
// Default values are applied if config fields are zero.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig) *ToolExecutor {
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = DefaultToolTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &ToolExecutor{
		registry: registry,
		config:   config,
	}
}

func (e *ToolExecutor) timeoutFor(name string) time.Duration {
	if d, ok := e.config.Timeouts[name]; ok && d > 0 {
		return d
	}
	return e.config.PerToolTimeout
}

// Execute runs one tool call. rc is passed through to the tool unchanged.
func (e *ToolExecutor) Execute(ctx context.Context, call models.ToolCall, rc *models.RunContext) models.ToolResult {
	start := time.Now()
	ctx = observability.AddToolCallID(ctx, call.ID)
	ctx, span := e.config.Tracer.TraceToolExecution(ctx, call.Name, call.ID)
	defer span.End()

	content, toolErr := e.execute(ctx, call, rc)

	status := "success"
	result := models.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: content}
	if toolErr != nil {
		toolErr.ToolCallID = call.ID
		status = string(toolErr.Type)
		result.Content = toolErr.Output()
		result.IsError = true
		e.config.Tracer.RecordError(span, toolErr)
		e.config.Logger.WarnContext(ctx, "tool call failed",
			"tool", call.Name,
			"type", toolErr.Type,
			"error", toolErr.Message,
		)
	}
	e.config.Metrics.RecordToolExecution(call.Name, status, time.Since(start))
	return result
}

func (e *ToolExecutor) execute(ctx context.Context, call models.ToolCall, rc *models.RunContext) (string, *ToolError) {
	if len(call.Input) > MaxToolParamsSize {
		return "", NewToolError(ToolErrorValidation, call.Name, nil).
			WithMessage(fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize))
	}
	entry, ok := e.registry.lookup(call.Name)
	if !ok {
		return "", NewToolError(ToolErrorNotFound, call.Name, ErrToolNotFound).
			WithMessage("tool not found: " + call.Name)
	}
	params, err := entry.validate(call.Input)
	if err != nil {
		return "", NewToolError(ToolErrorValidation, call.Name, err)
	}

	timeout := e.timeoutFor(call.Name)
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, toolErr := e.executeWithTimeout(toolCtx, entry.tool, params, rc, timeout)
	if toolErr != nil {
		return "", toolErr
	}
	if res == nil {
		return "null", nil
	}
	if res.IsError {
		return "", NewToolError(ToolErrorExecution, call.Name, nil).WithMessage(res.Content)
	}
	return normalizeContent(res.Content), nil
}

// executeWithTimeout runs the tool in its own goroutine so a tool that
// ignores its context cannot hold the run past the deadline.
func (e *ToolExecutor) executeWithTimeout(ctx context.Context, tool Tool, params json.RawMessage, rc *models.RunContext, timeout time.Duration) (*ToolResult, *ToolError) {
	type execResult struct {
		result *ToolResult
		err    *ToolError
	}

	resultChan := make(chan execResult, 1)
	name := tool.Name()

	go func() {
		var out execResult
		defer func() {
			if r := recover(); r != nil {
				e.config.Logger.ErrorContext(ctx, "tool panicked",
					"tool", name,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
				out = execResult{err: NewToolError(ToolErrorPanic, name, nil).
					WithMessage(fmt.Sprintf("tool panicked: %v", r))}
			}
			select {
			case resultChan <- out:
			default:
			}
		}()
		res, err := tool.Execute(ctx, params, rc)
		if err != nil {
			out = execResult{err: NewToolError(ToolErrorExecution, name, err)}
			return
		}
		out = execResult{result: res}
	}()

	select {
	case <-ctx.Done():
		// The buffered send lets a late tool goroutine exit.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewToolError(ToolErrorTimeout, name, ctx.Err()).
				WithMessage(fmt.Sprintf("tool execution timed out after %v", timeout))
		}
		return nil, NewToolError(ToolErrorCanceled, name, ctx.Err()).
			WithMessage("tool execution canceled")
	case res := <-resultChan:
		return res.result, res.err
	}
}

// normalizeContent keeps valid JSON as-is and encodes anything else as a
// JSON string.
func normalizeContent(content string) string {
	if json.Valid([]byte(content)) {
		return content
	}
	encoded, err := json.Marshal(content)
	if err != nil {
		return `""`
	}
	return string(encoded)
}

// rejectedResult is the output folded for a call the user rejected.
func rejectedResult(call models.ToolCall) models.ToolResult {
	err := NewToolError(ToolErrorRejected, call.Name, nil).
		WithToolCallID(call.ID).
		WithMessage("tool call rejected by user")
	return models.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    err.Output(),
		IsError:    true,
	}
}
