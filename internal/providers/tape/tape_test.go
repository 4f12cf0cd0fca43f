package tape

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// scriptProvider streams fixed events per invocation.
type scriptProvider struct {
	turns [][]*models.StreamEvent
	n     int
}

func (p *scriptProvider) Name() string { return "script" }

func (p *scriptProvider) Invoke(ctx context.Context, _ *agent.InvocationRequest) (<-chan *models.StreamEvent, error) {
	if p.n >= len(p.turns) {
		return nil, errors.New("script exhausted")
	}
	events := p.turns[p.n]
	p.n++
	ch := make(chan *models.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

type colorTool struct {
	executions int
}

func (t *colorTool) Name() string            { return "get_preferences" }
func (t *colorTool) Description() string     { return "returns stored preferences" }
func (t *colorTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *colorTool) RequiresApproval() bool  { return false }
func (t *colorTool) Execute(context.Context, json.RawMessage, *models.RunContext) (*agent.ToolResult, error) {
	t.executions++
	return &agent.ToolResult{Content: `{"color":"blue"}`}, nil
}

func scriptedTurns() [][]*models.StreamEvent {
	return [][]*models.StreamEvent{
		{
			models.NewStatusEvent("looking up preferences"),
			models.NewToolCallStartedEvent("call-1", "get_preferences", json.RawMessage(`{}`)),
		},
		{models.NewFinalOutputEvent("Your favorite color is blue.")},
	}
}

func userInput(text string) agent.RunInput {
	return agent.RunInput{{Role: models.RoleUser, Content: text}}
}

func TestTape_Basic(t *testing.T) {
	tape := NewTape()
	if tape.Version != Version {
		t.Errorf("Version = %q, want %q", tape.Version, Version)
	}
	if tape.TotalTurns() != 0 || tape.TotalToolRuns() != 0 {
		t.Errorf("new tape should be empty")
	}

	tape.AddTurn(Turn{Text: "one", Duration: time.Second})
	tape.AddTurn(Turn{Text: "two"})
	turn, ok := tape.GetTurn(1)
	if !ok || turn.Index != 1 || turn.Text != "two" {
		t.Fatalf("GetTurn(1) = %+v, %v", turn, ok)
	}
	if _, ok := tape.GetTurn(2); ok {
		t.Error("GetTurn out of range should fail")
	}
}

func TestTape_CloneIsIndependent(t *testing.T) {
	tape := NewTape()
	tape.AddTurn(Turn{Text: "original"})
	tape.Metadata["k"] = "v"

	clone := tape.Clone()
	clone.Turns[0].Text = "changed"
	clone.Metadata["k"] = "other"

	if tape.Turns[0].Text != "original" || tape.Metadata["k"] != "v" {
		t.Error("clone shares state with the original")
	}
}

func TestTape_SaveAndLoadFile(t *testing.T) {
	tape := NewTape()
	tape.Model = "gpt-4o"
	tape.AddTurn(Turn{Events: []models.StreamEvent{*models.NewFinalOutputEvent("hi")}, Text: "hi"})

	path := filepath.Join(t.TempDir(), "run.tape.json")
	if err := tape.SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if loaded.Model != "gpt-4o" || loaded.TotalTurns() != 1 || loaded.Turns[0].Events[0].Type != models.StreamFinalOutput {
		t.Errorf("loaded tape = %+v", loaded)
	}
	if s := loaded.Summary(); s.TurnCount != 1 || s.TotalEvents != 1 || s.TotalTextLen != 2 {
		t.Errorf("summary = %+v", s)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRecordThenReplay(t *testing.T) {
	tool := &colorTool{}
	recorder := NewRecorder(&scriptProvider{turns: scriptedTurns()}).WithModel("gpt-4o")
	registry, err := agent.NewToolRegistry(recorder.WrapTools([]agent.Tool{tool})...)
	if err != nil {
		t.Fatalf("NewToolRegistry: %v", err)
	}
	orch, err := agent.NewOrchestrator(recorder, registry)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	handle, err := orch.Start(context.Background(), userInput("What is my favorite color?"), nil)
	if err != nil {
		t.Fatalf("recorded run: %v", err)
	}
	recorder.Wait()
	recorded := recorder.Tape()

	if recorded.TotalTurns() != 2 {
		t.Fatalf("recorded %d turns, want 2", recorded.TotalTurns())
	}
	if recorded.Turns[0].StopReason != "tool_use" || recorded.Turns[1].StopReason != "end_turn" {
		t.Errorf("stop reasons = %q, %q", recorded.Turns[0].StopReason, recorded.Turns[1].StopReason)
	}
	if recorded.TotalToolRuns() != 1 || recorded.ToolRuns[0].Call.ID != "call-1" || recorded.ToolRuns[0].TurnIndex != 0 {
		t.Fatalf("tool runs = %+v", recorded.ToolRuns)
	}

	replayer := NewReplayer(recorded).WithMode(ReplayStrict)
	replayRegistry, err := agent.NewToolRegistry(replayer.Tools()...)
	if err != nil {
		t.Fatalf("replay registry: %v", err)
	}
	replayOrch, err := agent.NewOrchestrator(replayer, replayRegistry)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	replayed, err := replayOrch.Start(context.Background(), userInput("What is my favorite color?"), nil)
	if err != nil {
		t.Fatalf("replayed run: %v", err)
	}

	if replayed.Final().Text != handle.Final().Text {
		t.Errorf("replayed final = %q, want %q", replayed.Final().Text, handle.Final().Text)
	}
	if tool.executions != 1 {
		t.Errorf("real tool executed %d times, want 1", tool.executions)
	}
	if m := replayer.Mismatches(); len(m) != 0 {
		t.Errorf("unexpected mismatches: %+v", m)
	}
}

func TestReplayer_Exhausted(t *testing.T) {
	replayer := NewReplayer(NewTape())
	if _, err := replayer.Invoke(context.Background(), &agent.InvocationRequest{}); !errors.Is(err, ErrTapeExhausted) {
		t.Fatalf("err = %v, want ErrTapeExhausted", err)
	}
}

func TestReplayer_StrictModeRecordsMismatches(t *testing.T) {
	tape := NewTape()
	tape.AddTurn(Turn{
		Request: &agent.InvocationRequest{Model: "gpt-4o", Messages: make([]models.Message, 2)},
		Events:  []models.StreamEvent{*models.NewFinalOutputEvent("ok")},
	})
	replayer := NewReplayer(tape).WithMode(ReplayStrict)

	events, err := replayer.Invoke(context.Background(), &agent.InvocationRequest{Model: "other", Messages: make([]models.Message, 1)})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	for range events {
	}

	mismatches := replayer.Mismatches()
	if len(mismatches) != 2 || mismatches[0].Field != "model" || mismatches[1].Field != "message_count" {
		t.Errorf("mismatches = %+v", mismatches)
	}

	replayer.Reset()
	if replayer.CurrentTurn() != 0 || len(replayer.Mismatches()) != 0 {
		t.Error("Reset should rewind the replayer")
	}
}

func TestReplayTool_MissingRun(t *testing.T) {
	tape := NewTape()
	tape.AddTurn(Turn{})
	replayer := NewReplayer(tape)
	tool := replayer.NewReplayTool("search_memory", nil)

	if _, err := tool.Execute(context.Background(), nil, nil); !errors.Is(err, ErrToolNotInTape) {
		t.Fatalf("err = %v, want ErrToolNotInTape", err)
	}
}

func TestReplayTool_RecordedError(t *testing.T) {
	tape := NewTape()
	tape.AddTurn(Turn{})
	tape.AddToolRun(ToolRun{TurnIndex: 0, Call: ToolCall("c1", "search_memory", map[string]string{"query": "x"}), Error: "index offline"})
	replayer := NewReplayer(tape)
	tool := replayer.NewReplayTool("search_memory", nil)

	if _, err := tool.Execute(context.Background(), nil, nil); err == nil || err.Error() != "index offline" {
		t.Fatalf("err = %v, want recorded error", err)
	}
}

func TestTape_ValidateRejectsBrokenTapes(t *testing.T) {
	cases := map[string]func(*Tape){
		"future version": func(tp *Tape) { tp.Version = "3.0" },
		"renumbered":     func(tp *Tape) { tp.Turns[0].Index = 4 },
		"orphan tool run": func(tp *Tape) {
			tp.AddToolRun(ToolRun{TurnIndex: 1, Call: ToolCall("c1", "get_preferences", nil)})
		},
	}
	for name, breakTape := range cases {
		t.Run(name, func(t *testing.T) {
			tp := NewTape()
			tp.AddTurn(Turn{Text: "hi"})
			breakTape(tp)
			data, err := tp.Marshal()
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if _, err := Unmarshal(data); !errors.Is(err, ErrInvalidTape) {
				t.Fatalf("err = %v, want ErrInvalidTape", err)
			}
		})
	}

	ok := NewTape()
	ok.Version = "2.7"
	if err := ok.Validate(); err != nil {
		t.Errorf("minor version bump should load: %v", err)
	}
}

func TestTape_SummaryListsTools(t *testing.T) {
	tp := NewTape()
	tp.AddTurn(Turn{})
	tp.AddToolRun(ToolRun{Call: ToolCall("c1", "search_memory", nil)})
	tp.AddToolRun(ToolRun{Call: ToolCall("c2", "get_preferences", nil)})
	tp.AddToolRun(ToolRun{Call: ToolCall("c3", "search_memory", nil)})

	got := tp.Summary().Tools
	if len(got) != 2 || got[0] != "get_preferences" || got[1] != "search_memory" {
		t.Fatalf("Tools = %v", got)
	}
}

func TestReplayer_ToolsTakeRecordedSpec(t *testing.T) {
	tp := NewTape()
	tp.AddTurn(Turn{Request: &agent.InvocationRequest{Tools: []agent.ToolSpec{
		{Name: "delete_memory", Schema: json.RawMessage(`{"type":"object","required":["id"]}`), RequiresApproval: true},
	}}})
	tp.AddToolRun(ToolRun{Call: ToolCall("c1", "delete_memory", map[string]string{"id": "m1"})})
	tp.AddToolRun(ToolRun{Call: ToolCall("c2", "get_preferences", nil)})

	tools := NewReplayer(tp).Tools()
	if len(tools) != 2 || tools[0].Name() != "delete_memory" || tools[1].Name() != "get_preferences" {
		t.Fatalf("tools = %v", tools)
	}
	if !tools[0].RequiresApproval() || string(tools[0].Schema()) != `{"type":"object","required":["id"]}` {
		t.Errorf("delete_memory spec not taken from the recorded request")
	}
	if tools[1].RequiresApproval() || string(tools[1].Schema()) != `{"type":"object"}` {
		t.Errorf("undeclared tool should get the default spec")
	}
}
