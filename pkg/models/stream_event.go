package models

import "encoding/json"

// StreamEventType discriminates the kinds of StreamEvent a model invocation
// can emit.
type StreamEventType string

const (
	StreamStatus            StreamEventType = "status"
	StreamToolCallStarted   StreamEventType = "tool_call_started"
	StreamToolCallCompleted StreamEventType = "tool_call_completed"
	StreamFinalOutput       StreamEventType = "final_output"
	StreamError             StreamEventType = "error"
)

// IsStreamShaped reports whether t is one of the five relayed kinds. Other
// values (usage reports, raw provider frames) are ignored by the relay.
func (t StreamEventType) IsStreamShaped() bool {
	switch t {
	case StreamStatus, StreamToolCallStarted, StreamToolCallCompleted, StreamFinalOutput, StreamError:
		return true
	default:
		return false
	}
}

// StreamEvent is a discrete, ordered unit of progress emitted by a model
// invocation. Exactly one payload matches Type:
//
//	status               Text
//	tool_call_started    ToolCall
//	tool_call_completed  ToolResult
//	final_output         Final
//	error                Error
type StreamEvent struct {
	Type       StreamEventType  `json:"type"`
	Text       string           `json:"text,omitempty"`
	ToolCall   *ToolCall        `json:"tool_call,omitempty"`
	ToolResult *ToolResult      `json:"tool_result,omitempty"`
	Final      *FinalOutput     `json:"final,omitempty"`
	Error      *StreamErrorInfo `json:"error,omitempty"`
}

// FinalOutput is the terminal answer of a run: plain text, a structured
// JSON payload, or both.
type FinalOutput struct {
	Text       string          `json:"text,omitempty"`
	Structured json.RawMessage `json:"structured,omitempty"`
}

// IsEmpty reports whether the output carries neither text nor structure.
func (f *FinalOutput) IsEmpty() bool {
	return f == nil || (f.Text == "" && len(f.Structured) == 0)
}

// StreamErrorInfo describes a failure reported in-band by the model provider.
// Kind is one of the provider error reasons ("rate_limit", "auth", ...).
type StreamErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewStatusEvent builds a status event.
func NewStatusEvent(text string) *StreamEvent {
	return &StreamEvent{Type: StreamStatus, Text: text}
}

// NewToolCallStartedEvent builds a tool_call_started event.
func NewToolCallStartedEvent(id, name string, input json.RawMessage) *StreamEvent {
	return &StreamEvent{Type: StreamToolCallStarted, ToolCall: &ToolCall{ID: id, Name: name, Input: input}}
}

// NewToolCallCompletedEvent builds a tool_call_completed event.
func NewToolCallCompletedEvent(id, content string) *StreamEvent {
	return &StreamEvent{Type: StreamToolCallCompleted, ToolResult: &ToolResult{ToolCallID: id, Content: content}}
}

// NewFinalOutputEvent builds a final_output event carrying text.
func NewFinalOutputEvent(text string) *StreamEvent {
	return &StreamEvent{Type: StreamFinalOutput, Final: &FinalOutput{Text: text}}
}

// NewErrorEvent builds an error event.
func NewErrorEvent(kind, message string) *StreamEvent {
	return &StreamEvent{Type: StreamError, Error: &StreamErrorInfo{Kind: kind, Message: message}}
}
