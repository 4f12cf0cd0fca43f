package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/agentrun/pkg/models"
)

// InterruptionStatus is the per-call approval state. pending moves to
// approved or rejected exactly once; both are terminal.
type InterruptionStatus string

const (
	InterruptionPending  InterruptionStatus = "pending"
	InterruptionApproved InterruptionStatus = "approved"
	InterruptionRejected InterruptionStatus = "rejected"
)

// Interruption is a tool call paused pending an external approval decision.
type Interruption struct {
	CallID    string             `json:"call_id"`
	ToolName  string             `json:"tool_name"`
	Arguments json.RawMessage    `json:"arguments,omitempty"`
	Status    InterruptionStatus `json:"status"`
	Reason    string             `json:"reason,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	DecidedAt time.Time          `json:"decided_at,omitempty"`
	DecidedBy string             `json:"decided_by,omitempty"`
}

// Decision resolves one pending interruption.
type Decision struct {
	CallID    string `json:"call_id"`
	Approved  bool   `json:"approved"`
	DecidedBy string `json:"decided_by,omitempty"`
}

// Approve is shorthand for an approving decision.
func Approve(callID string) Decision {
	return Decision{CallID: callID, Approved: true}
}

// Reject is shorthand for a rejecting decision.
func Reject(callID string) Decision {
	return Decision{CallID: callID, Approved: false}
}

// ApprovalPolicy decides which tool calls must be approved before they run,
// in addition to tools that declare RequiresApproval themselves.
type ApprovalPolicy struct {
	// RequireApproval lists tools that always require approval.
	// Supports patterns like "set_*", "*_delete", "*".
	RequireApproval []string `yaml:"require_approval" json:"require_approval"`

	// Allowlist lists tools that never require approval, even when the tool
	// declares it. Used for trusted deployments.
	Allowlist []string `yaml:"allowlist" json:"allowlist"`
}

// Requires reports whether a call to the tool must be approved, with a reason.
func (p *ApprovalPolicy) Requires(tool Tool) (bool, string) {
	name := tool.Name()
	if p != nil && matchesPattern(p.Allowlist, name) {
		return false, "tool in allowlist"
	}
	if tool.RequiresApproval() {
		return true, "tool requires approval"
	}
	if p != nil && matchesPattern(p.RequireApproval, name) {
		return true, "tool matches approval policy"
	}
	return false, ""
}

// addInterruption records a new pending interruption for call. A call ID may
// be interrupted at most once per run.
func addInterruption(state *RunState, call models.ToolCall, reason string, now time.Time) (*Interruption, error) {
	for _, in := range state.Interruptions {
		if in.CallID == call.ID {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateInterruption, call.ID)
		}
	}
	in := &Interruption{
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: append(json.RawMessage(nil), call.Input...),
		Status:    InterruptionPending,
		Reason:    reason,
		CreatedAt: now,
	}
	state.Interruptions = append(state.Interruptions, in)
	return in, nil
}

// applyDecisions resolves interruptions on state. Every decision must name a
// pending call, and no call may remain pending afterwards. The caller passes
// a clone so a failed validation leaves its own state untouched.
func applyDecisions(state *RunState, decisions []Decision, now time.Time) error {
	for _, d := range decisions {
		in := findPending(state, d.CallID)
		if in == nil {
			return fmt.Errorf("%w: %s", ErrUnknownInterruption, d.CallID)
		}
		if d.Approved {
			in.Status = InterruptionApproved
		} else {
			in.Status = InterruptionRejected
		}
		in.DecidedAt = now
		in.DecidedBy = d.DecidedBy
	}
	if pending := state.PendingInterruptions(); len(pending) > 0 {
		ids := make([]string, len(pending))
		for i, in := range pending {
			ids[i] = in.CallID
		}
		return fmt.Errorf("%w: undecided calls %s", ErrIncompleteApproval, strings.Join(ids, ", "))
	}
	return nil
}

// ApplyDecisions returns a copy of state with decisions applied; state
// itself is never modified. A decision naming a call that was already
// resolved fails with ErrUnknownInterruption even after the run moved on;
// otherwise a run that is not awaiting approval fails with
// ErrRunNotResumable.
func ApplyDecisions(state *RunState, decisions []Decision, now time.Time) (*RunState, error) {
	if state == nil {
		return nil, ErrRunNotResumable
	}
	if state.Phase != PhaseAwaitingApproval {
		for _, d := range decisions {
			if in := findInterruption(state, d.CallID); in != nil && in.Status != InterruptionPending {
				return nil, fmt.Errorf("%w: %s already %s", ErrUnknownInterruption, d.CallID, in.Status)
			}
		}
		return nil, fmt.Errorf("%w: phase %s", ErrRunNotResumable, state.Phase)
	}
	next := state.Clone()
	if err := applyDecisions(next, decisions, now); err != nil {
		return nil, err
	}
	next.Phase = PhaseRunning
	next.UpdatedAt = now
	return next, nil
}

// autoApproveDecisions synthesizes approving decisions for every pending call.
func autoApproveDecisions(state *RunState) []Decision {
	pending := state.PendingInterruptions()
	decisions := make([]Decision, len(pending))
	for i, in := range pending {
		decisions[i] = Decision{CallID: in.CallID, Approved: true, DecidedBy: "auto"}
	}
	return decisions
}

func findPending(state *RunState, callID string) *Interruption {
	for _, in := range state.Interruptions {
		if in.CallID == callID && in.Status == InterruptionPending {
			return in
		}
	}
	return nil
}

func findInterruption(state *RunState, callID string) *Interruption {
	for _, in := range state.Interruptions {
		if in.CallID == callID {
			return in
		}
	}
	return nil
}

// matchesPattern checks if toolName matches any pattern in the list.
// Supports: exact match, prefix* match, *suffix match, and * (all).
func matchesPattern(patterns []string, toolName string) bool {
	normalizedTool := normalizeToolName(toolName)
	for _, pattern := range patterns {
		normalizedPattern := normalizeToolName(pattern)
		if normalizedPattern == "" {
			continue
		}
		if normalizedPattern == "*" || normalizedPattern == normalizedTool {
			return true
		}
		if len(normalizedPattern) > 1 && strings.HasSuffix(normalizedPattern, "*") {
			if strings.HasPrefix(normalizedTool, strings.TrimSuffix(normalizedPattern, "*")) {
				return true
			}
		}
		if len(normalizedPattern) > 1 && strings.HasPrefix(normalizedPattern, "*") {
			if strings.HasSuffix(normalizedTool, strings.TrimPrefix(normalizedPattern, "*")) {
				return true
			}
		}
	}
	return false
}

func normalizeToolName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
