package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for orchestrator operations.
var (
	// ErrUnknownInterruption indicates a decision for a call that is not
	// pending in the run (never interrupted, or already decided).
	ErrUnknownInterruption = errors.New("unknown interruption")

	// ErrIncompleteApproval indicates resume was called while at least one
	// interruption is still pending.
	ErrIncompleteApproval = errors.New("incomplete approval")

	// ErrDuplicateInterruption indicates the model requested the same call ID twice.
	ErrDuplicateInterruption = errors.New("duplicate interruption")

	// ErrRunStalled indicates the auto-approve cycle bound was exceeded.
	ErrRunStalled = errors.New("run stalled")

	// ErrModelInvocation indicates the model provider failed or broke the stream contract.
	ErrModelInvocation = errors.New("model invocation failed")

	// ErrRelayFault indicates the event relay could not deliver an event.
	ErrRelayFault = errors.New("relay fault")

	// ErrCancelled indicates the caller cancelled the run.
	ErrCancelled = errors.New("run cancelled")

	// ErrRunAlreadyActive indicates another run holds the conversation.
	ErrRunAlreadyActive = errors.New("run already active for conversation")

	// ErrRunNotResumable indicates resume was called on a run that is not
	// awaiting approval.
	ErrRunNotResumable = errors.New("run not resumable")

	// ErrRunNotFound indicates no checkpoint exists for the run ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrCheckpoint indicates a run awaiting approval could not be saved
	// to the run store.
	ErrCheckpoint = errors.New("run checkpoint failed")

	// ErrMaxIterations indicates the run exceeded its model turn limit.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoProvider indicates no model provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrToolNotFound indicates a requested tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrDuplicateTool indicates a tool name is already registered.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrInvalidToolSchema indicates a tool's parameter schema does not compile.
	ErrInvalidToolSchema = errors.New("invalid tool schema")

	// ErrRegistryFrozen indicates registration after the registry was frozen.
	ErrRegistryFrozen = errors.New("tool registry frozen")

	// ErrUnsupportedRole indicates a stored turn has a role other than user or assistant.
	ErrUnsupportedRole = errors.New("unsupported turn role")
)

// ToolErrorType categorizes tool failures in structured outputs.
type ToolErrorType string

const (
	ToolErrorNotFound   ToolErrorType = "not_found"
	ToolErrorValidation ToolErrorType = "validation"
	ToolErrorExecution  ToolErrorType = "execution"
	ToolErrorPanic      ToolErrorType = "panic"
	ToolErrorTimeout    ToolErrorType = "timeout"
	ToolErrorCanceled   ToolErrorType = "canceled"
	ToolErrorRejected   ToolErrorType = "rejected"
)

// ToolError is a tool-level fault. It never escapes a run: the executor
// renders it into the call's output with Output.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// Output renders the structured tool output, e.g. {"error":"boom","type":"execution"}.
func (e *ToolError) Output() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	payload, err := json.Marshal(struct {
		Error string        `json:"error"`
		Type  ToolErrorType `json:"type"`
	}{Error: msg, Type: e.Type})
	if err != nil {
		return `{"error":"unencodable tool error"}`
	}
	return string(payload)
}

// NewToolError creates a ToolError of the given type.
func NewToolError(t ToolErrorType, toolName string, cause error) *ToolError {
	err := &ToolError{Type: t, ToolName: toolName, Cause: cause}
	if cause != nil {
		err.Message = cause.Error()
	}
	return err
}

// WithToolCallID sets the call ID for correlation.
func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithMessage sets a custom message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

// RunError is a run-level failure. It always wraps one of the sentinel
// errors above so callers can use errors.Is.
type RunError struct {
	// Phase is the run phase at the time of failure.
	Phase Phase

	// Iteration is the model turn index.
	Iteration int

	// Kind is a stable failure kind (see FailureKind).
	Kind string

	// Reason refines Kind with the collaborator's own classification,
	// such as the provider error reason "rate_limit" (see FailureReason).
	Reason string

	// Message is the human-readable message.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("run error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("run error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("run error at %s (iteration %d)", e.Phase, e.Iteration)
}

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// ModelError carries the provider-reported error kind.
type ModelError struct {
	Kind    string
	Message string
}

// Error implements the error interface.
func (e *ModelError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return e.Kind + ": " + e.Message
}

// Is makes ModelError match ErrModelInvocation.
func (e *ModelError) Is(target error) bool {
	return target == ErrModelInvocation
}

// FailureReason reports the provider-supplied kind.
func (e *ModelError) FailureReason() string { return e.Kind }

// reasoner is implemented by errors that carry a finer classification than
// their failure kind.
type reasoner interface {
	FailureReason() string
}

// FailureReason returns the most specific reason carried in err's chain, or
// "" when none of its errors report one.
func FailureReason(err error) string {
	var r reasoner
	if errors.As(err, &r) {
		return r.FailureReason()
	}
	return ""
}

// Failure kinds stored in RunState.Failure.
const (
	FailureCancelled       = "cancelled"
	FailureStalled         = "run_stalled"
	FailureModelInvocation = "model_invocation"
	FailureRelay           = "relay"
	FailureMaxIterations   = "max_iterations"
	FailureCheckpoint      = "checkpoint"
	FailureInternal        = "internal"
)

// FailureKind maps an error to its stable failure kind.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return FailureCancelled
	case errors.Is(err, ErrRunStalled):
		return FailureStalled
	case errors.Is(err, ErrModelInvocation):
		return FailureModelInvocation
	case errors.Is(err, ErrRelayFault):
		return FailureRelay
	case errors.Is(err, ErrMaxIterations):
		return FailureMaxIterations
	case errors.Is(err, ErrCheckpoint):
		return FailureCheckpoint
	default:
		return FailureInternal
	}
}

// IsMisuse reports whether err is a caller misuse of resume that leaves the
// run unchanged.
func IsMisuse(err error) bool {
	return errors.Is(err, ErrUnknownInterruption) ||
		errors.Is(err, ErrIncompleteApproval) ||
		errors.Is(err, ErrRunNotResumable)
}
