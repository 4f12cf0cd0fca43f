package agent

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/agentrun/pkg/models"
)

func TestRunState_CloneIsIndependent(t *testing.T) {
	state := awaitingState("c1")
	state.Input = userInput("hi")
	state.Context = &models.RunContext{UserID: "u", Metadata: map[string]string{"k": "v"}}
	state.Turn.Results["x"] = models.ToolResult{ToolCallID: "x"}

	clone := state.Clone()
	clone.Interruptions[0].Status = InterruptionApproved
	clone.Input[0].Content = "changed"
	clone.Context.Metadata["k"] = "changed"
	clone.Turn.Calls[0].Name = "changed"
	delete(clone.Turn.Results, "x")

	if state.Interruptions[0].Status != InterruptionPending ||
		state.Input[0].Content != "hi" ||
		state.Context.Metadata["k"] != "v" ||
		state.Turn.Calls[0].Name != "set_preference" ||
		len(state.Turn.Results) != 1 {
		t.Fatal("clone shares memory with the original")
	}
}

func TestRunState_MarshalRoundTripKeepsFailure(t *testing.T) {
	state := &RunState{
		ID:      "run-1",
		Phase:   PhaseFailed,
		Failure: &Failure{Kind: FailureStalled, Message: "run stalled"},
	}
	data, err := state.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	restored, err := UnmarshalRunState(data)
	if err != nil {
		t.Fatalf("UnmarshalRunState: %v", err)
	}
	var runErr *RunError
	if !errors.As(restored.LastError, &runErr) || runErr.Kind != FailureStalled {
		t.Fatalf("LastError = %v", restored.LastError)
	}
}

func TestTurnRecord_FoldInCallOrder(t *testing.T) {
	turn := newTurnRecord()
	turn.Text = "checking"
	turn.Calls = []models.ToolCall{{ID: "a", Name: "first"}, {ID: "b", Name: "second"}}
	// Results arrive out of order.
	turn.Results["b"] = models.ToolResult{ToolCallID: "b", Content: `"B"`}
	turn.Results["a"] = models.ToolResult{ToolCallID: "a", Content: `"A"`}

	msgs := turn.fold(time.Now())
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Role != models.RoleAssistant || len(msgs[0].ToolCalls) != 2 {
		t.Errorf("unexpected assistant message: %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleTool || msgs[1].ToolResults[0].ToolCallID != "a" || msgs[1].ToolResults[1].ToolCallID != "b" {
		t.Errorf("tool results not in call order: %+v", msgs[1].ToolResults)
	}

	plain := &TurnRecord{Text: "done"}
	if msgs := plain.fold(time.Now()); len(msgs) != 1 || msgs[0].Content != "done" {
		t.Errorf("plain fold = %+v", msgs)
	}
}

func TestRunHandle_NilSafe(t *testing.T) {
	var h *RunHandle
	if h.ID() != "" || h.Phase() != "" || h.Pending() != nil || h.Final() != nil || h.Err() != nil {
		t.Error("nil handle accessors should return zero values")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	runErr := &RunError{Phase: PhaseRunning, Kind: FailureStalled, Cause: ErrRunStalled}
	if !errors.Is(runErr, ErrRunStalled) {
		t.Error("RunError should unwrap to its cause")
	}
	if !errors.Is(&ModelError{Kind: "x"}, ErrModelInvocation) {
		t.Error("ModelError should match ErrModelInvocation")
	}
	tests := map[error]string{
		ErrCancelled:               FailureCancelled,
		ErrRunStalled:              FailureStalled,
		&ModelError{Message: "m"}:  FailureModelInvocation,
		ErrRelayFault:              FailureRelay,
		ErrMaxIterations:           FailureMaxIterations,
		errors.New("anything"):     FailureInternal,
	}
	for err, want := range tests {
		if got := FailureKind(err); got != want {
			t.Errorf("FailureKind(%v) = %s, want %s", err, got, want)
		}
	}
	if !IsMisuse(ErrIncompleteApproval) || IsMisuse(ErrRunStalled) {
		t.Error("IsMisuse misclassified")
	}

	te := NewToolError(ToolErrorExecution, "t", errors.New("boom"))
	var out map[string]string
	if err := json.Unmarshal([]byte(te.Output()), &out); err != nil || out["error"] != "boom" || out["type"] != "execution" {
		t.Errorf("Output = %s", te.Output())
	}
}
