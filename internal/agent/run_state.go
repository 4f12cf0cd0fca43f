package agent

import (
	"encoding/json"
	"time"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// Phase is the run-level lifecycle phase.
type Phase string

const (
	PhaseRunning          Phase = "running"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseCompleted        Phase = "completed"
	PhaseFailed           Phase = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// RunInput is the ordered conversation window for a run, oldest first,
// ending with the newly received user turn. It is never mutated after Start.
type RunInput []models.Message

// Clone returns a deep copy of the input.
func (in RunInput) Clone() RunInput {
	if in == nil {
		return nil
	}
	out := make(RunInput, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// Failure is the serializable record of a run-level error.
type Failure struct {
	Kind    string `json:"kind"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// RunState is the complete, serializable state of one run. It is owned by a
// single orchestrator call at a time; Resume works on a clone so a prior
// state value is never mutated.
type RunState struct {
	ID             string             `json:"id"`
	ConversationID string             `json:"conversation_id"`
	Phase          Phase              `json:"phase"`
	Context        *models.RunContext `json:"context,omitempty"`

	// Input is the conversation window the run started from.
	Input RunInput `json:"input"`

	// Transcript holds every message appended by the run: assistant turns
	// with their tool calls and the tool outputs folded after them.
	Transcript []models.Message `json:"transcript,omitempty"`

	// Interruptions holds every approval-gated call of the run, resolved or not.
	Interruptions []*Interruption `json:"interruptions,omitempty"`

	// Turn is the model turn that produced the current interruptions. It is
	// folded into Transcript once every call has an output.
	Turn *TurnRecord `json:"turn,omitempty"`

	Final   *models.FinalOutput `json:"final,omitempty"`
	Failure *Failure            `json:"failure,omitempty"`

	Iterations        int `json:"iterations"`
	AutoApproveCycles int `json:"auto_approve_cycles"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// LastError is the typed failure; Failure is its serializable form.
	LastError error `json:"-"`
}

// Messages returns the full conversation for the next model invocation.
func (s *RunState) Messages() []models.Message {
	out := make([]models.Message, 0, len(s.Input)+len(s.Transcript))
	for _, m := range s.Input {
		out = append(out, m.Clone())
	}
	for _, m := range s.Transcript {
		out = append(out, m.Clone())
	}
	return out
}

// PendingInterruptions returns the interruptions still awaiting a decision, in call order.
func (s *RunState) PendingInterruptions() []*Interruption {
	var pending []*Interruption
	for _, in := range s.Interruptions {
		if in.Status == InterruptionPending {
			pending = append(pending, in)
		}
	}
	return pending
}

// HasPending reports whether any interruption awaits a decision.
func (s *RunState) HasPending() bool {
	for _, in := range s.Interruptions {
		if in.Status == InterruptionPending {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the state.
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	out := *s
	out.Context = s.Context.Clone()
	out.Input = s.Input.Clone()
	if s.Transcript != nil {
		out.Transcript = make([]models.Message, len(s.Transcript))
		for i, m := range s.Transcript {
			out.Transcript[i] = m.Clone()
		}
	}
	if s.Interruptions != nil {
		out.Interruptions = make([]*Interruption, len(s.Interruptions))
		for i, in := range s.Interruptions {
			c := *in
			c.Arguments = append(json.RawMessage(nil), in.Arguments...)
			out.Interruptions[i] = &c
		}
	}
	out.Turn = s.Turn.clone()
	if s.Final != nil {
		f := *s.Final
		f.Structured = append(json.RawMessage(nil), s.Final.Structured...)
		out.Final = &f
	}
	if s.Failure != nil {
		f := *s.Failure
		out.Failure = &f
	}
	return &out
}

// Marshal serializes the state for checkpointing.
func (s *RunState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalRunState restores a checkpointed state.
func UnmarshalRunState(data []byte) (*RunState, error) {
	var s RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Failure != nil && s.LastError == nil {
		s.LastError = &RunError{Phase: s.Phase, Kind: s.Failure.Kind, Reason: s.Failure.Reason, Message: s.Failure.Message}
	}
	return &s, nil
}

// TurnRecord is one model turn: the assistant text, the calls it requested
// in order, and the outputs collected so far keyed by call ID.
type TurnRecord struct {
	Text    string                       `json:"text,omitempty"`
	Calls   []models.ToolCall            `json:"calls,omitempty"`
	Results map[string]models.ToolResult `json:"results,omitempty"`
	// Local marks calls executed (or to be executed) by this process, as
	// opposed to calls the provider executed itself.
	Local map[string]bool `json:"local,omitempty"`
}

func newTurnRecord() *TurnRecord {
	return &TurnRecord{
		Results: make(map[string]models.ToolResult),
		Local:   make(map[string]bool),
	}
}

func (t *TurnRecord) hasCall(id string) bool {
	for _, c := range t.Calls {
		if c.ID == id {
			return true
		}
	}
	return false
}

// appendText adds assistant text streamed outside the final output, such as
// the preamble a provider sends ahead of its tool calls.
func (t *TurnRecord) appendText(text string) {
	if text == "" {
		return
	}
	if t.Text != "" {
		t.Text += "\n"
	}
	t.Text += text
}

// outstanding returns the calls that have no output yet.
func (t *TurnRecord) outstanding() []models.ToolCall {
	var out []models.ToolCall
	for _, c := range t.Calls {
		if _, ok := t.Results[c.ID]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// fold renders the turn as an assistant message followed, when calls were
// made, by a tool message with outputs in call order.
func (t *TurnRecord) fold(now time.Time) []models.Message {
	assistant := models.Message{
		Role:      models.RoleAssistant,
		Content:   t.Text,
		CreatedAt: now,
	}
	if len(t.Calls) == 0 {
		return []models.Message{assistant}
	}
	assistant.ToolCalls = make([]models.ToolCall, len(t.Calls))
	results := make([]models.ToolResult, len(t.Calls))
	for i, c := range t.Calls {
		assistant.ToolCalls[i] = c.Clone()
		results[i] = t.Results[c.ID]
	}
	return []models.Message{assistant, {
		Role:        models.RoleTool,
		ToolResults: results,
		CreatedAt:   now,
	}}
}

func (t *TurnRecord) clone() *TurnRecord {
	if t == nil {
		return nil
	}
	out := &TurnRecord{Text: t.Text}
	if t.Calls != nil {
		out.Calls = make([]models.ToolCall, len(t.Calls))
		for i, c := range t.Calls {
			out.Calls[i] = c.Clone()
		}
	}
	out.Results = make(map[string]models.ToolResult, len(t.Results))
	for k, v := range t.Results {
		out.Results[k] = v
	}
	out.Local = make(map[string]bool, len(t.Local))
	for k, v := range t.Local {
		out.Local[k] = v
	}
	return out
}

// RunHandle is returned by Start and Resume. It is the caller's reference
// to a run and the value passed back into Resume.
type RunHandle struct {
	State *RunState
}

// ID returns the run ID.
func (h *RunHandle) ID() string {
	if h == nil || h.State == nil {
		return ""
	}
	return h.State.ID
}

// Phase returns the run phase.
func (h *RunHandle) Phase() Phase {
	if h == nil || h.State == nil {
		return ""
	}
	return h.State.Phase
}

// Pending returns the interruptions awaiting a decision.
func (h *RunHandle) Pending() []*Interruption {
	if h == nil || h.State == nil {
		return nil
	}
	return h.State.PendingInterruptions()
}

// Final returns the final output of a completed run.
func (h *RunHandle) Final() *models.FinalOutput {
	if h == nil || h.State == nil {
		return nil
	}
	return h.State.Final
}

// Err returns the failure of a failed run.
func (h *RunHandle) Err() error {
	if h == nil || h.State == nil {
		return nil
	}
	return h.State.LastError
}
