// Package tape records and replays model invocations so agent runs can be
// exercised without calling a real model.
package tape

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// Version is the tape format written by NewTape. Tapes with another major
// version are rejected on load.
const Version = "2.0"

// ErrInvalidTape reports a tape that cannot be replayed as recorded.
var ErrInvalidTape = errors.New("invalid tape")

// Tape is the ordered record of the model turns and tool executions of one
// or more runs.
type Tape struct {
	Version      string         `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	Model        string         `json:"model,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	Turns        []Turn         `json:"turns"`
	ToolRuns     []ToolRun      `json:"tool_runs"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Turn is one invocation: the request the orchestrator built and every
// event the provider streamed back.
type Turn struct {
	Index     int                      `json:"index"`
	Request   *agent.InvocationRequest `json:"request"`
	Events    []models.StreamEvent     `json:"events"`
	ToolCalls []models.ToolCall        `json:"tool_calls,omitempty"`
	Text      string                   `json:"text,omitempty"`

	// StopReason is "tool_use", "end_turn" or "error".
	StopReason string        `json:"stop_reason,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// ToolRun is one local tool execution, attributed to the turn whose tool
// call it answered.
type ToolRun struct {
	TurnIndex int               `json:"turn_index"`
	Call      models.ToolCall   `json:"call"`
	Result    *agent.ToolResult `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
}

// NewTape returns an empty tape stamped with the current format version.
func NewTape() *Tape {
	return &Tape{
		Version:   Version,
		CreatedAt: time.Now(),
		Turns:     []Turn{},
		ToolRuns:  []ToolRun{},
		Metadata:  map[string]any{},
	}
}

// AddTurn appends turn, numbering it after the existing turns.
func (t *Tape) AddTurn(turn Turn) {
	turn.Index = len(t.Turns)
	t.Turns = append(t.Turns, turn)
}

func (t *Tape) AddToolRun(run ToolRun) {
	t.ToolRuns = append(t.ToolRuns, run)
}

func (t *Tape) GetTurn(index int) (*Turn, bool) {
	if index < 0 || index >= len(t.Turns) {
		return nil, false
	}
	return &t.Turns[index], true
}

// GetToolRuns returns the executions answering turnIndex, in recorded order.
func (t *Tape) GetToolRuns(turnIndex int) []ToolRun {
	var runs []ToolRun
	for _, run := range t.ToolRuns {
		if run.TurnIndex == turnIndex {
			runs = append(runs, run)
		}
	}
	return runs
}

func (t *Tape) TotalTurns() int    { return len(t.Turns) }
func (t *Tape) TotalToolRuns() int { return len(t.ToolRuns) }

// Validate checks that the tape can be replayed: a readable version, turns
// numbered in order and tool runs that point at a recorded turn.
func (t *Tape) Validate() error {
	major, _, _ := strings.Cut(t.Version, ".")
	if want, _, _ := strings.Cut(Version, "."); major != want {
		return fmt.Errorf("%w: version %q, this build reads %s.x", ErrInvalidTape, t.Version, want)
	}
	for i, turn := range t.Turns {
		if turn.Index != i {
			return fmt.Errorf("%w: turn %d is numbered %d", ErrInvalidTape, i, turn.Index)
		}
	}
	for i, run := range t.ToolRuns {
		if run.TurnIndex < 0 || run.TurnIndex >= len(t.Turns) {
			return fmt.Errorf("%w: tool run %d (%s) refers to turn %d of %d", ErrInvalidTape, i, run.Call.Name, run.TurnIndex, len(t.Turns))
		}
	}
	return nil
}

func (t *Tape) Marshal() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// Unmarshal decodes and validates a tape.
func Unmarshal(data []byte) (*Tape, error) {
	var tape Tape
	if err := json.Unmarshal(data, &tape); err != nil {
		return nil, err
	}
	if err := tape.Validate(); err != nil {
		return nil, err
	}
	return &tape, nil
}

// Clone returns a deep copy of t. Metadata values survive only as far as
// they round-trip through JSON.
func (t *Tape) Clone() *Tape {
	data, err := json.Marshal(t)
	if err != nil {
		return t.shallowClone()
	}
	var clone Tape
	if err := json.Unmarshal(data, &clone); err != nil {
		return t.shallowClone()
	}
	return &clone
}

func (t *Tape) shallowClone() *Tape {
	clone := *t
	clone.Turns = append([]Turn(nil), t.Turns...)
	clone.ToolRuns = append([]ToolRun(nil), t.ToolRuns...)
	clone.Metadata = make(map[string]any, len(t.Metadata))
	for k, v := range t.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}

// SaveFile writes the tape to path through a temporary file in the same
// directory, so a crash never leaves half a tape behind.
func (t *Tape) SaveFile(path string) error {
	data, err := t.Marshal()
	if err != nil {
		return fmt.Errorf("marshal tape: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tape-*")
	if err != nil {
		return fmt.Errorf("write tape %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write tape %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write tape %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write tape %s: %w", path, err)
	}
	return nil
}

func LoadFile(path string) (*Tape, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tape %s: %w", path, err)
	}
	tape, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("load tape %s: %w", path, err)
	}
	return tape, nil
}

// Summary is what `agentrun` logs about a tape it loads or saves.
type Summary struct {
	Version      string    `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	Model        string    `json:"model,omitempty"`
	TurnCount    int       `json:"turn_count"`
	ToolRunCount int       `json:"tool_run_count"`
	TotalEvents  int       `json:"total_events"`
	TotalTextLen int       `json:"total_text_len"`
	Tools        []string  `json:"tools,omitempty"`
}

func (t *Tape) Summary() Summary {
	s := Summary{
		Version:      t.Version,
		CreatedAt:    t.CreatedAt,
		Model:        t.Model,
		TurnCount:    len(t.Turns),
		ToolRunCount: len(t.ToolRuns),
	}
	for _, turn := range t.Turns {
		s.TotalEvents += len(turn.Events)
		s.TotalTextLen += len(turn.Text)
	}
	seen := map[string]bool{}
	for _, run := range t.ToolRuns {
		if !seen[run.Call.Name] {
			seen[run.Call.Name] = true
			s.Tools = append(s.Tools, run.Call.Name)
		}
	}
	sort.Strings(s.Tools)
	return s
}
