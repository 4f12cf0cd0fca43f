// Package models provides the data types shared between the run orchestrator,
// its collaborators, and hosts.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the author of a conversation item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is a stored conversation turn. Turns are immutable once created.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is a single item of the conversation handed to the model.
//
// Role values: "user", "assistant", "tool". Assistant messages may carry the
// tool calls the model requested; tool messages carry the folded outputs in
// call order.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			out.ToolCalls[i] = tc.Clone()
		}
	}
	if m.ToolResults != nil {
		out.ToolResults = append([]ToolResult(nil), m.ToolResults...)
	}
	return out
}

// ToolCall represents the model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
	// Hosted marks a call the provider executes itself; its output arrives
	// as a tool_call_completed event.
	Hosted bool `json:"hosted,omitempty"`
}

// Clone returns a copy of the call with its own input buffer.
func (tc ToolCall) Clone() ToolCall {
	out := tc
	if tc.Input != nil {
		out.Input = append(json.RawMessage(nil), tc.Input...)
	}
	return out
}

// ToolResult is the output of a tool call. Content is JSON text; failed
// calls carry a structured error object and IsError=true.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// RunContext is the external context object for a run. The orchestrator
// treats it as read-only and passes the same pointer to every tool call.
type RunContext struct {
	UserID         string            `json:"user_id,omitempty"`
	ConversationID string            `json:"conversation_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Clone returns a copy that does not share the metadata map.
func (rc *RunContext) Clone() *RunContext {
	if rc == nil {
		return nil
	}
	out := *rc
	if rc.Metadata != nil {
		out.Metadata = make(map[string]string, len(rc.Metadata))
		for k, v := range rc.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}
