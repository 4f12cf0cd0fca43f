package tape

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/internal/observability"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// Recorder wraps a provider and records every invocation it serves.
type Recorder struct {
	provider agent.ModelProvider
	tape     *Tape
	mu       sync.Mutex
	turnIdx  int
	inflight sync.WaitGroup
}

// NewRecorder creates a recorder wrapping provider.
func NewRecorder(provider agent.ModelProvider) *Recorder {
	tape := NewTape()
	tape.Metadata["provider"] = provider.Name()

	return &Recorder{
		provider: provider,
		tape:     tape,
	}
}

// WithModel sets the model in the tape.
func (r *Recorder) WithModel(model string) *Recorder {
	r.tape.Model = model
	return r
}

// WithInstructions sets the instructions in the tape.
func (r *Recorder) WithInstructions(instructions string) *Recorder {
	r.tape.Instructions = instructions
	return r
}

// Invoke implements agent.ModelProvider. Events are forwarded unchanged and
// the turn is added to the tape once the upstream stream closes.
func (r *Recorder) Invoke(ctx context.Context, req *agent.InvocationRequest) (<-chan *models.StreamEvent, error) {
	r.mu.Lock()
	turnIndex := r.turnIdx
	r.turnIdx++
	r.mu.Unlock()

	start := time.Now()
	upstream, err := r.provider.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan *models.StreamEvent)
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer close(out)

		turn := Turn{
			Index:   turnIndex,
			Request: req,
			Events:  []models.StreamEvent{},
		}
		forward := true
		for ev := range upstream {
			if ev == nil {
				continue
			}
			turn.Events = append(turn.Events, *ev)
			switch ev.Type {
			case models.StreamToolCallStarted:
				if ev.ToolCall != nil {
					turn.ToolCalls = append(turn.ToolCalls, ev.ToolCall.Clone())
				}
			case models.StreamFinalOutput:
				if ev.Final != nil {
					turn.Text = ev.Final.Text
				}
			case models.StreamError:
				turn.StopReason = "error"
			}
			if !forward {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				// Keep draining upstream so the recorded turn is complete.
				forward = false
			}
		}

		turn.Duration = time.Since(start)
		if turn.StopReason == "" {
			if len(turn.ToolCalls) > 0 {
				turn.StopReason = "tool_use"
			} else {
				turn.StopReason = "end_turn"
			}
		}

		r.mu.Lock()
		r.tape.AddTurn(turn)
		r.mu.Unlock()
	}()

	return out, nil
}

// Name implements agent.ModelProvider.
func (r *Recorder) Name() string {
	return "recorder:" + r.provider.Name()
}

// RecordToolRun records a local tool execution.
func (r *Recorder) RecordToolRun(turnIndex int, call models.ToolCall, result *agent.ToolResult, err error, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := ToolRun{
		TurnIndex: turnIndex,
		Call:      call.Clone(),
		Result:    result,
		Duration:  duration,
	}
	if err != nil {
		run.Error = err.Error()
	}
	r.tape.AddToolRun(run)
}

// Wait blocks until every started invocation has been recorded.
func (r *Recorder) Wait() {
	r.inflight.Wait()
}

// Tape returns a copy of the recorded tape. Call Wait first to include
// streams that are still being consumed.
func (r *Recorder) Tape() *Tape {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tape.Clone()
}

// Reset clears the recording.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tape = NewTape()
	r.tape.Metadata["provider"] = r.provider.Name()
	r.turnIdx = 0
}

// currentTurn is the index of the most recent invocation.
func (r *Recorder) currentTurn() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.turnIdx == 0 {
		return 0
	}
	return r.turnIdx - 1
}

// RecordingTool wraps a tool and records its executions on the recorder.
type RecordingTool struct {
	tool     agent.Tool
	recorder *Recorder
}

// WrapTool returns a recording wrapper for tool.
func (r *Recorder) WrapTool(tool agent.Tool) *RecordingTool {
	return &RecordingTool{tool: tool, recorder: r}
}

// WrapTools wraps every tool in tools.
func (r *Recorder) WrapTools(tools []agent.Tool) []agent.Tool {
	out := make([]agent.Tool, len(tools))
	for i, t := range tools {
		out[i] = r.WrapTool(t)
	}
	return out
}

// Name implements agent.Tool.
func (t *RecordingTool) Name() string { return t.tool.Name() }

// Description implements agent.Tool.
func (t *RecordingTool) Description() string { return t.tool.Description() }

// Schema implements agent.Tool.
func (t *RecordingTool) Schema() json.RawMessage { return t.tool.Schema() }

// RequiresApproval implements agent.Tool.
func (t *RecordingTool) RequiresApproval() bool { return t.tool.RequiresApproval() }

// Execute implements agent.Tool, recording the execution.
func (t *RecordingTool) Execute(ctx context.Context, params json.RawMessage, rc *models.RunContext) (*agent.ToolResult, error) {
	start := time.Now()
	result, err := t.tool.Execute(ctx, params, rc)

	call := models.ToolCall{
		ID:    observability.GetToolCallID(ctx),
		Name:  t.tool.Name(),
		Input: params,
	}
	t.recorder.RecordToolRun(t.recorder.currentTurn(), call, result, err, time.Since(start))
	return result, err
}
