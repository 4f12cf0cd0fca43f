package tape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/pkg/models"
)

var (
	ErrTapeExhausted = errors.New("tape exhausted: no more turns to replay")
	ErrTapeMismatch  = errors.New("tape mismatch: request differs from recorded")
	ErrToolNotInTape = errors.New("tool call not found in tape")
)

// ReplayMode controls how strictly the replayer matches requests.
type ReplayMode int

const (
	// ReplayLoose serves recorded turns whatever the live request looks like.
	ReplayLoose ReplayMode = iota

	// ReplayStrict also records every difference between the live request
	// and the recorded one. Replay still proceeds.
	ReplayStrict
)

// Mismatch is one request field that differed from the recording.
type Mismatch struct {
	TurnIndex int    `json:"turn_index"`
	Field     string `json:"field"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
}

// Replayer serves a recorded tape as an agent.ModelProvider, one turn per
// Invoke, and hands out tools that answer with the recorded tool runs.
type Replayer struct {
	mu         sync.Mutex
	tape       *Tape
	mode       ReplayMode
	next       int         // next turn to serve
	served     map[int]int // turn index -> tool runs already answered
	mismatches []Mismatch
}

// NewReplayer replays a private copy of tape.
func NewReplayer(tape *Tape) *Replayer {
	return &Replayer{
		tape:   tape.Clone(),
		mode:   ReplayLoose,
		served: map[int]int{},
	}
}

func (r *Replayer) WithMode(mode ReplayMode) *Replayer {
	r.mode = mode
	return r
}

func (r *Replayer) Name() string { return "replayer" }

// Invoke streams the next recorded turn. The stream stops early when ctx is
// cancelled.
func (r *Replayer) Invoke(ctx context.Context, req *agent.InvocationRequest) (<-chan *models.StreamEvent, error) {
	r.mu.Lock()
	if r.next >= len(r.tape.Turns) {
		r.mu.Unlock()
		return nil, ErrTapeExhausted
	}
	turn := r.tape.Turns[r.next]
	r.next++
	if r.mode == ReplayStrict {
		r.mismatches = append(r.mismatches, compareRequests(turn.Index, turn.Request, req)...)
	}
	r.mu.Unlock()

	out := make(chan *models.StreamEvent)
	go func() {
		defer close(out)
		for i := range turn.Events {
			ev := turn.Events[i]
			select {
			case out <- &ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// requestFields lists what strict replay compares. An empty recorded value
// matches anything.
var requestFields = []struct {
	name  string
	value func(*agent.InvocationRequest) string
}{
	{"model", func(r *agent.InvocationRequest) string { return r.Model }},
	{"message_count", func(r *agent.InvocationRequest) string { return strconv.Itoa(len(r.Messages)) }},
	{"tool_count", func(r *agent.InvocationRequest) string { return strconv.Itoa(len(r.Tools)) }},
}

func compareRequests(turnIndex int, expected, actual *agent.InvocationRequest) []Mismatch {
	if expected == nil || actual == nil {
		return nil
	}
	var out []Mismatch
	for _, f := range requestFields {
		want, got := f.value(expected), f.value(actual)
		if want == "" || want == got {
			continue
		}
		out = append(out, Mismatch{TurnIndex: turnIndex, Field: f.name, Expected: want, Actual: got})
	}
	return out
}

func (r *Replayer) Mismatches() []Mismatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mismatch{}, r.mismatches...)
}

// Reset rewinds to the first turn and forgets recorded mismatches.
func (r *Replayer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
	r.served = map[int]int{}
	r.mismatches = nil
}

// CurrentTurn returns the index of the next turn to replay.
func (r *Replayer) CurrentTurn() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// nextToolRun pops the next recorded run of the turn served last.
func (r *Replayer) nextToolRun(name string) (ToolRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	turnIndex := max(r.next-1, 0)
	runs := r.tape.GetToolRuns(turnIndex)
	n := r.served[turnIndex]
	if n >= len(runs) {
		return ToolRun{}, fmt.Errorf("%w: %s at turn %d", ErrToolNotInTape, name, turnIndex)
	}
	r.served[turnIndex] = n + 1
	if runs[n].Call.Name != name {
		return ToolRun{}, fmt.Errorf("%w: expected %s, got %s", ErrTapeMismatch, runs[n].Call.Name, name)
	}
	return runs[n], nil
}

// ReplayTool answers with recorded results instead of executing anything.
type ReplayTool struct {
	replayer *Replayer
	name     string
	schema   json.RawMessage
	approval bool
}

// NewReplayTool returns a replay tool called name.
func (r *Replayer) NewReplayTool(name string, schema json.RawMessage) *ReplayTool {
	return &ReplayTool{replayer: r, name: name, schema: schema}
}

func (t *ReplayTool) Name() string            { return t.name }
func (t *ReplayTool) Description() string     { return "replays recorded results of " + t.name }
func (t *ReplayTool) Schema() json.RawMessage { return t.schema }
func (t *ReplayTool) RequiresApproval() bool  { return t.approval }

// Execute returns the next recorded result for this tool in the current
// turn. A recorded error is returned as an error.
func (t *ReplayTool) Execute(_ context.Context, _ json.RawMessage, _ *models.RunContext) (*agent.ToolResult, error) {
	run, err := t.replayer.nextToolRun(t.name)
	if err != nil {
		return nil, err
	}
	if run.Error != "" {
		return nil, errors.New(run.Error)
	}
	return run.Result, nil
}

// Tools returns one replay tool per tool name in the tape's tool runs,
// sorted by name. Schema and approval come from the first recorded request
// that declared the tool.
func (r *Replayer) Tools() []agent.Tool {
	declared := map[string]agent.ToolSpec{}
	for _, turn := range r.tape.Turns {
		if turn.Request == nil {
			continue
		}
		for _, spec := range turn.Request.Tools {
			if _, ok := declared[spec.Name]; !ok {
				declared[spec.Name] = spec
			}
		}
	}

	names := r.tape.Summary().Tools
	tools := make([]agent.Tool, 0, len(names))
	for _, name := range names {
		tool := r.NewReplayTool(name, json.RawMessage(`{"type":"object"}`))
		if spec, ok := declared[name]; ok {
			if len(spec.Schema) > 0 {
				tool.schema = spec.Schema
			}
			tool.approval = spec.RequiresApproval
		}
		tools = append(tools, tool)
	}
	return tools
}

// ToolCall builds a tool call with input encoded as JSON.
func ToolCall(id, name string, input any) models.ToolCall {
	data, _ := json.Marshal(input)
	return models.ToolCall{ID: id, Name: name, Input: data}
}
