package models

import (
	"encoding/json"
	"testing"
)

func TestStreamEventType_IsStreamShaped(t *testing.T) {
	tests := []struct {
		typ  StreamEventType
		want bool
	}{
		{StreamStatus, true},
		{StreamToolCallStarted, true},
		{StreamToolCallCompleted, true},
		{StreamFinalOutput, true},
		{StreamError, true},
		{StreamEventType("usage"), false},
		{StreamEventType(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.IsStreamShaped(); got != tt.want {
				t.Errorf("IsStreamShaped() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStreamEvent_JSONShape(t *testing.T) {
	event := NewToolCallStartedEvent("call-1", "search_memory", json.RawMessage(`{"query":"color"}`))
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["type"] != "tool_call_started" {
		t.Errorf("type = %v, want tool_call_started", decoded["type"])
	}
	if _, ok := decoded["final"]; ok {
		t.Error("unexpected final payload on tool_call_started")
	}
	call, ok := decoded["tool_call"].(map[string]any)
	if !ok {
		t.Fatalf("tool_call payload missing: %s", data)
	}
	if call["id"] != "call-1" || call["name"] != "search_memory" {
		t.Errorf("tool_call = %v", call)
	}
}

func TestFinalOutput_IsEmpty(t *testing.T) {
	var nilOut *FinalOutput
	if !nilOut.IsEmpty() {
		t.Error("nil output should be empty")
	}
	if !(&FinalOutput{}).IsEmpty() {
		t.Error("zero output should be empty")
	}
	if (&FinalOutput{Text: "blue"}).IsEmpty() {
		t.Error("text output should not be empty")
	}
	if (&FinalOutput{Structured: json.RawMessage(`{"a":1}`)}).IsEmpty() {
		t.Error("structured output should not be empty")
	}
}

func TestMessage_CloneIsDeep(t *testing.T) {
	original := Message{
		Role:        RoleAssistant,
		ToolCalls:   []ToolCall{{ID: "a", Name: "t", Input: json.RawMessage(`{"x":1}`)}},
		ToolResults: []ToolResult{{ToolCallID: "a", Content: `"ok"`}},
	}
	clone := original.Clone()
	clone.ToolCalls[0].Input[2] = 'y'
	clone.ToolResults[0].Content = "changed"

	if string(original.ToolCalls[0].Input) != `{"x":1}` {
		t.Errorf("original input mutated: %s", original.ToolCalls[0].Input)
	}
	if original.ToolResults[0].Content != `"ok"` {
		t.Errorf("original result mutated: %s", original.ToolResults[0].Content)
	}
}

func TestRunContext_Clone(t *testing.T) {
	var nilCtx *RunContext
	if nilCtx.Clone() != nil {
		t.Error("Clone() of nil should be nil")
	}

	rc := &RunContext{UserID: "u1", ConversationID: "c1", Metadata: map[string]string{"k": "v"}}
	clone := rc.Clone()
	clone.Metadata["k"] = "changed"
	if rc.Metadata["k"] != "v" {
		t.Error("Clone() shares metadata map")
	}
}

func TestNewErrorEvent(t *testing.T) {
	event := NewErrorEvent("rate_limit", "slow down")
	if event.Type != StreamError {
		t.Fatalf("Type = %q, want %q", event.Type, StreamError)
	}
	if event.Error == nil || event.Error.Kind != "rate_limit" || event.Error.Message != "slow down" {
		t.Fatalf("Error = %+v", event.Error)
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded StreamEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Error == nil || decoded.Error.Kind != "rate_limit" {
		t.Errorf("decoded error = %+v", decoded.Error)
	}
}
