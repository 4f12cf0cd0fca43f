package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// ModelProvider is the model invocation collaborator.
//
// Invoke returns an ordered stream of events for one model turn. The
// provider must emit tool_call_started before any tool_call_completed for
// the same call, and exactly one final_output as its last event when no
// tool call is pending. The channel is closed when the turn ends; the
// provider must stop sending and close it when ctx is done.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Runs for different
// conversations invoke the same provider concurrently.
type ModelProvider interface {
	// Invoke starts one model turn.
	Invoke(ctx context.Context, req *InvocationRequest) (<-chan *models.StreamEvent, error)

	// Name returns the provider name used in logs and metrics.
	Name() string
}

// InvocationRequest is everything a provider needs for one model turn.
type InvocationRequest struct {
	// RunID identifies the run for correlation.
	RunID string `json:"run_id"`

	// Model selects the model; empty means the provider default.
	Model string `json:"model,omitempty"`

	// Instructions is the system prompt, if any.
	Instructions string `json:"instructions,omitempty"`

	// Messages is the conversation in chronological order.
	Messages []models.Message `json:"messages"`

	// Tools describes the callable tools.
	Tools []ToolSpec `json:"tools,omitempty"`

	// Context is the run's external context object.
	Context *models.RunContext `json:"context,omitempty"`
}

// ToolSpec is the provider-facing description of a registered tool.
type ToolSpec struct {
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	Schema           json.RawMessage `json:"schema"`
	RequiresApproval bool            `json:"requires_approval,omitempty"`
}

// Tool is the capability interface every registered tool implements.
//
// Implementing a Tool:
//
//	type Clock struct{}
//
//	func (Clock) Name() string              { return "current_time" }
//	func (Clock) Description() string       { return "Returns the current time" }
//	func (Clock) Schema() json.RawMessage   { return json.RawMessage(`{"type":"object"}`) }
//	func (Clock) RequiresApproval() bool    { return false }
//	func (Clock) Execute(ctx context.Context, params json.RawMessage, rc *models.RunContext) (*ToolResult, error) {
//	    return &ToolResult{Content: time.Now().Format(time.RFC3339)}, nil
//	}
type Tool interface {
	// Name returns the tool name used by the model.
	Name() string

	// Description helps the model decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema of the tool's parameters.
	Schema() json.RawMessage

	// RequiresApproval reports whether every call needs a human decision.
	RequiresApproval() bool

	// Execute runs the tool with validated parameters. rc is shared and
	// must not be modified.
	Execute(ctx context.Context, params json.RawMessage, rc *models.RunContext) (*ToolResult, error)
}

// ToolResult is what a tool returns. Content that is not valid JSON is
// encoded as a JSON string before it is folded into the conversation.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// TurnSource is the storage collaborator consumed by the window builder.
type TurnSource interface {
	// GetRecentTurns returns up to limit turns, newest first.
	GetRecentTurns(ctx context.Context, conversationID string, limit int) ([]models.Turn, error)
}

// RunStore checkpoints run state for resumption across calls or processes.
type RunStore interface {
	Save(ctx context.Context, state *RunState) error
	Load(ctx context.Context, runID string) (*RunState, error)
	Delete(ctx context.Context, runID string) error
}
