package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/agentrun/internal/observability"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// Orchestrator drives agent runs: it invokes the model, relays its events
// to the observer, executes tool calls inline, pauses on calls that need
// approval, and resumes once every pending call is decided.
//
// Thread Safety:
// An Orchestrator is safe for concurrent use. Runs for different
// conversations proceed independently; runs for the same conversation are
// serialized according to Options.Conflict.
type Orchestrator struct {
	provider ModelProvider
	registry *ToolRegistry
	executor *ToolExecutor
	relay    *Relay
	opts     Options
	locks    *conversationLocks
}

// NewOrchestrator creates an orchestrator. The registry is frozen; tools
// must be registered beforehand.
func NewOrchestrator(provider ModelProvider, registry *ToolRegistry, opts ...Option) (*Orchestrator, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if registry == nil {
		registry, _ = NewToolRegistry()
	}
	registry.Freeze()

	options := DefaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.normalize()

	return &Orchestrator{
		provider: provider,
		registry: registry,
		executor: NewToolExecutor(registry, ToolExecConfig{
			PerToolTimeout: options.ToolTimeout,
			Timeouts:       options.ToolTimeouts,
			Logger:         options.Logger,
			Metrics:        options.Metrics,
			Tracer:         options.Tracer,
		}),
		relay: NewRelay(options.Logger, options.Metrics),
		opts:  options,
		locks: newConversationLocks(),
	}, nil
}

// Registry returns the orchestrator's tool registry.
func (o *Orchestrator) Registry() *ToolRegistry {
	return o.registry
}

// Start begins a run for input and drives it until it completes, fails, or
// awaits approval. rc is shared read-only with every tool call of the run.
//
// A failed run is reported as the returned handle (phase failed) together
// with a *RunError. A nil handle is returned only when the run could not be
// created: empty input, or the conversation already has an active run.
func (o *Orchestrator) Start(ctx context.Context, input RunInput, rc *models.RunContext) (*RunHandle, error) {
	if len(input) == 0 {
		return nil, errors.New("start run: empty input")
	}
	if rc == nil {
		rc = &models.RunContext{}
	}

	now := o.opts.Now()
	state := &RunState{
		ID:             o.opts.NewID(),
		ConversationID: rc.ConversationID,
		Phase:          PhaseRunning,
		Context:        rc,
		Input:          input.Clone(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	release, err := o.locks.acquire(ctx, lockKey(state), o.opts.Conflict)
	if err != nil {
		return nil, err
	}
	defer release()

	handle := &RunHandle{State: state}
	return handle, o.advance(ctx, handle, "start")
}

// Resume applies decisions to the run behind handle and continues it.
// Each pending interruption needs exactly one decision. Approved calls are
// executed in call order; rejected calls get a rejection output the model
// can react to.
//
// The state the handle pointed to is not modified: Resume works on a copy
// and points handle at it. Misuse (ErrUnknownInterruption,
// ErrIncompleteApproval, ErrRunNotResumable) returns the handle unchanged.
func (o *Orchestrator) Resume(ctx context.Context, handle *RunHandle, decisions []Decision) (*RunHandle, error) {
	return o.resume(ctx, handle, decisions, false)
}

// ResumeByID resumes a run checkpointed in the configured RunStore.
func (o *Orchestrator) ResumeByID(ctx context.Context, runID string, decisions []Decision) (*RunHandle, error) {
	if o.opts.Store == nil {
		return nil, fmt.Errorf("%w: no run store configured", ErrRunNotFound)
	}
	state, err := o.opts.Store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	return o.resume(ctx, &RunHandle{State: state}, decisions, true)
}

func (o *Orchestrator) resume(ctx context.Context, handle *RunHandle, decisions []Decision, fromStore bool) (*RunHandle, error) {
	if handle == nil || handle.State == nil {
		return handle, ErrRunNotResumable
	}

	release, err := o.locks.acquire(ctx, lockKey(handle.State), o.opts.Conflict)
	if err != nil {
		return handle, err
	}
	defer release()

	// Another writer may have advanced the checkpoint while we waited.
	if fromStore {
		latest, err := o.opts.Store.Load(ctx, handle.State.ID)
		if err != nil {
			return handle, err
		}
		handle.State = latest
	}

	next, err := ApplyDecisions(handle.State, decisions, o.opts.Now())
	if err != nil {
		return handle, err
	}
	handle.State = next
	return handle, o.advance(ctx, handle, "resume")
}

// advance runs the loop on handle.State and settles the outcome.
func (o *Orchestrator) advance(ctx context.Context, handle *RunHandle, op string) error {
	state := handle.State
	started := time.Now()

	ctx = observability.AddRunID(ctx, state.ID)
	ctx = observability.AddConversationID(ctx, state.ConversationID)
	if state.Context != nil && state.Context.UserID != "" {
		ctx = observability.AddUserID(ctx, state.Context.UserID)
	}
	ctx, span := o.opts.Tracer.TraceRun(ctx, state.ID, state.ConversationID)
	defer span.End()

	obs := observerFromContext(ctx, o.opts.Observer)
	logger := o.opts.Logger
	logger.InfoContext(ctx, "run "+op, "phase", state.Phase, "iteration", state.Iterations)

	failed := func(err error) error {
		runErr := o.fail(ctx, state, obs, err)
		o.opts.Tracer.RecordError(span, runErr)
		o.opts.Metrics.RecordRun(string(PhaseFailed), time.Since(started))
		return runErr
	}

	if err := o.loop(ctx, state, obs); err != nil {
		return failed(err)
	}

	state.UpdatedAt = o.opts.Now()
	if state.Phase == PhaseAwaitingApproval && o.opts.Store != nil {
		if err := o.opts.Store.Save(ctx, state); err != nil {
			return failed(fmt.Errorf("%w: run %s: %w", ErrCheckpoint, state.ID, err))
		}
	}
	o.opts.Tracer.RecordPhase(span, string(state.Phase))
	o.opts.Metrics.RecordRun(string(state.Phase), time.Since(started))

	switch state.Phase {
	case PhaseAwaitingApproval:
		logger.InfoContext(ctx, "run awaiting approval", "pending", len(state.PendingInterruptions()))
	case PhaseCompleted:
		logger.InfoContext(ctx, "run completed", "iterations", state.Iterations)
		o.forget(ctx, state)
	}
	return nil
}

// loop invokes the model until the run completes or awaits approval.
func (o *Orchestrator) loop(ctx context.Context, state *RunState, obs Observer) error {
	// A resumed run first settles the turn its decisions belong to.
	if state.Turn != nil {
		if err := o.executeDecided(ctx, state, obs, true); err != nil {
			return err
		}
	}

	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		if iteration >= o.opts.MaxIterations {
			return fmt.Errorf("%w: %d model turns", ErrMaxIterations, o.opts.MaxIterations)
		}

		turn, final, err := o.runTurn(ctx, state, obs)
		if err != nil {
			return err
		}

		if state.HasPending() {
			if !o.opts.AutoApprove {
				state.Phase = PhaseAwaitingApproval
				return nil
			}
			state.AutoApproveCycles++
			if state.AutoApproveCycles > o.opts.MaxAutoApproveCycles {
				return fmt.Errorf("%w: %d consecutive auto-approved cycles", ErrRunStalled, o.opts.MaxAutoApproveCycles)
			}
			if err := applyDecisions(state, autoApproveDecisions(state), o.opts.Now()); err != nil {
				return err
			}
			if err := o.executeDecided(ctx, state, obs, false); err != nil {
				return err
			}
			continue
		}

		for _, c := range turn.outstanding() {
			if c.Hosted {
				return &ModelError{Kind: "protocol", Message: fmt.Sprintf("hosted call %q ended without output", c.ID)}
			}
		}

		state.AutoApproveCycles = 0
		ranLocally := len(turn.Local) > 0
		o.foldTurn(state)

		switch {
		case final != nil && !ranLocally:
			state.Final = final
			state.Phase = PhaseCompleted
			return nil
		case len(turn.Calls) > 0:
			// The model has not seen these outputs yet.
			continue
		default:
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, err)
			}
			return &ModelError{Kind: "protocol", Message: "stream ended without final output"}
		}
	}
}

// runTurn performs one model invocation and relays its stream.
func (o *Orchestrator) runTurn(ctx context.Context, state *RunState, obs Observer) (*TurnRecord, *models.FinalOutput, error) {
	state.Iterations++
	turn := newTurnRecord()
	state.Turn = turn

	invokeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	invokeCtx, span := o.opts.Tracer.TraceModelInvocation(invokeCtx, o.provider.Name(), state.Iterations)
	defer span.End()

	req := &InvocationRequest{
		RunID:        state.ID,
		Model:        o.opts.Model,
		Instructions: o.opts.Instructions,
		Messages:     state.Messages(),
		Tools:        o.registry.Specs(&o.opts.Policy),
		Context:      state.Context,
	}
	events, err := o.provider.Invoke(invokeCtx, req)
	if err != nil {
		o.opts.Metrics.RecordModelInvocation(o.provider.Name(), "error")
		o.opts.Tracer.RecordError(span, err)
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrModelInvocation, o.provider.Name(), err)
	}
	if events == nil {
		o.opts.Metrics.RecordModelInvocation(o.provider.Name(), "error")
		err := &ModelError{Kind: "protocol", Message: o.provider.Name() + " returned no stream"}
		o.opts.Tracer.RecordError(span, err)
		return nil, nil, err
	}

	var final *models.FinalOutput
	err = o.relay.Run(invokeCtx, events, func(ctx context.Context, ev *models.StreamEvent) (bool, error) {
		switch ev.Type {
		case models.StreamStatus:
			turn.appendText(ev.Text)
			return false, obs.OnStatus(ctx, ev.Text)
		case models.StreamToolCallStarted:
			return false, o.handleToolStarted(ctx, state, turn, ev.ToolCall, obs)
		case models.StreamToolCallCompleted:
			return false, o.handleToolCompleted(ctx, state, turn, ev.ToolResult, obs)
		case models.StreamFinalOutput:
			final = &models.FinalOutput{}
			if ev.Final != nil {
				final.Text = ev.Final.Text
				final.Structured = append(final.Structured, ev.Final.Structured...)
			}
			return true, nil
		case models.StreamError:
			merr := &ModelError{Kind: "unknown", Message: "provider reported an error"}
			if ev.Error != nil {
				merr = &ModelError{Kind: ev.Error.Kind, Message: ev.Error.Message}
			}
			return true, merr
		}
		return false, nil
	})
	if err != nil {
		o.opts.Metrics.RecordModelInvocation(o.provider.Name(), "error")
		o.opts.Tracer.RecordError(span, err)
		return nil, nil, err
	}
	o.opts.Metrics.RecordModelInvocation(o.provider.Name(), "success")

	if final != nil {
		turn.Text = final.Text
	}
	return turn, final, nil
}

// handleToolStarted records a requested call and either pauses it for
// approval or executes it before the next event is read.
func (o *Orchestrator) handleToolStarted(ctx context.Context, state *RunState, turn *TurnRecord, call *models.ToolCall, obs Observer) error {
	if call == nil || call.ID == "" {
		return &ModelError{Kind: "protocol", Message: "tool_call_started without call id"}
	}
	if turn.hasCall(call.ID) || findInterruption(state, call.ID) != nil {
		return fmt.Errorf("%w: %w: %s", ErrModelInvocation, ErrDuplicateInterruption, call.ID)
	}
	c := call.Clone()
	turn.Calls = append(turn.Calls, c)

	if err := obs.OnToolStart(ctx, c.ID, c.Name); err != nil {
		return err
	}
	if c.Hosted {
		return nil
	}

	if tool, ok := o.registry.Get(c.Name); ok {
		if flagged, reason := o.opts.Policy.Requires(tool); flagged {
			if _, err := addInterruption(state, c, reason, o.opts.Now()); err != nil {
				return fmt.Errorf("%w: %w", ErrModelInvocation, err)
			}
			o.opts.Metrics.RecordInterruption(c.Name)
			o.opts.Logger.InfoContext(ctx, "tool call requires approval",
				"tool", c.Name,
				"tool_call_id", c.ID,
				"reason", reason,
			)
			return nil
		}
	}

	return o.runLocal(ctx, state, turn, c, obs)
}

// handleToolCompleted records an output the provider produced itself.
func (o *Orchestrator) handleToolCompleted(ctx context.Context, state *RunState, turn *TurnRecord, res *models.ToolResult, obs Observer) error {
	if res == nil || !turn.hasCall(res.ToolCallID) {
		id := ""
		if res != nil {
			id = res.ToolCallID
		}
		return &ModelError{Kind: "protocol", Message: fmt.Sprintf("tool_call_completed for unknown call %q", id)}
	}
	if turn.Local[res.ToolCallID] || findInterruption(state, res.ToolCallID) != nil {
		o.opts.Logger.DebugContext(ctx, "ignoring provider output for locally handled call", "tool_call_id", res.ToolCallID)
		return nil
	}
	if _, done := turn.Results[res.ToolCallID]; done {
		return nil
	}

	var name string
	for _, c := range turn.Calls {
		if c.ID == res.ToolCallID {
			name = c.Name
			break
		}
	}
	out := models.ToolResult{
		ToolCallID: res.ToolCallID,
		Name:       name,
		Content:    normalizeContent(res.Content),
		IsError:    res.IsError,
	}
	turn.Results[out.ToolCallID] = out
	return obs.OnToolResult(ctx, out.ToolCallID, out.Content)
}

// runLocal executes one call through the adapter and relays its result.
func (o *Orchestrator) runLocal(ctx context.Context, state *RunState, turn *TurnRecord, call models.ToolCall, obs Observer) error {
	turn.Local[call.ID] = true
	result := o.executor.Execute(ctx, call, state.Context)
	turn.Results[call.ID] = result
	return obs.OnToolResult(ctx, call.ID, result.Content)
}

// executeDecided produces outputs for the decided calls of the current
// turn, in call order, then folds the turn. With announce set, approved
// calls get an OnToolStart before they run; a caller resuming a parked
// run uses it so the observer sees the call begin again.
func (o *Orchestrator) executeDecided(ctx context.Context, state *RunState, obs Observer, announce bool) error {
	turn := state.Turn
	for _, call := range turn.outstanding() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		in := findInterruption(state, call.ID)
		if in == nil {
			return fmt.Errorf("run %s: call %s has no output and no decision", state.ID, call.ID)
		}
		switch in.Status {
		case InterruptionApproved:
			if announce {
				if err := obs.OnToolStart(ctx, call.ID, call.Name); err != nil {
					return relayFault(ctx, err)
				}
			}
			if err := o.runLocal(ctx, state, turn, call, obs); err != nil {
				return relayFault(ctx, err)
			}
		case InterruptionRejected:
			result := rejectedResult(call)
			turn.Results[call.ID] = result
			o.opts.Logger.InfoContext(ctx, "tool call rejected", "tool", call.Name, "tool_call_id", call.ID)
			if err := obs.OnToolResult(ctx, call.ID, result.Content); err != nil {
				return relayFault(ctx, err)
			}
		default:
			return fmt.Errorf("%w: %s", ErrIncompleteApproval, call.ID)
		}
	}
	o.foldTurn(state)
	return nil
}

func (o *Orchestrator) foldTurn(state *RunState) {
	if state.Turn == nil {
		return
	}
	state.Transcript = append(state.Transcript, state.Turn.fold(o.opts.Now())...)
	state.Turn = nil
}

// fail marks the run failed, tells the observer, and returns the typed error.
func (o *Orchestrator) fail(ctx context.Context, state *RunState, obs Observer, err error) *RunError {
	runErr := &RunError{
		Phase:     state.Phase,
		Iteration: state.Iterations,
		Kind:      FailureKind(err),
		Reason:    FailureReason(err),
		Message:   err.Error(),
		Cause:     err,
	}
	state.Phase = PhaseFailed
	state.Failure = &Failure{Kind: runErr.Kind, Reason: runErr.Reason, Message: runErr.Message}
	state.LastError = runErr
	state.UpdatedAt = o.opts.Now()

	// The caller may have cancelled ctx; the failure notice still goes out.
	notifyCtx := context.WithoutCancel(ctx)
	o.opts.Logger.ErrorContext(notifyCtx, "run failed", "kind", runErr.Kind, "reason", runErr.Reason, "error", err)
	if nerr := obs.OnStatus(notifyCtx, "run failed: "+runErr.Message); nerr != nil {
		o.opts.Logger.WarnContext(notifyCtx, "observer rejected failure status", "error", nerr)
	}
	o.forget(notifyCtx, state)
	return runErr
}

// forget removes the checkpoint of a run that reached a terminal phase.
func (o *Orchestrator) forget(ctx context.Context, state *RunState) {
	if o.opts.Store == nil {
		return
	}
	if err := o.opts.Store.Delete(ctx, state.ID); err != nil && !errors.Is(err, ErrRunNotFound) {
		o.opts.Logger.WarnContext(ctx, "failed to delete run checkpoint", "error", err)
	}
}

func relayFault(ctx context.Context, err error) error {
	if isRunFault(err) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return fmt.Errorf("%w: %w", ErrRelayFault, err)
}

// lockKey is the single-writer key of a run. Runs without a conversation
// are only serialized against themselves.
func lockKey(state *RunState) string {
	if state.ConversationID != "" {
		return "conversation:" + state.ConversationID
	}
	return "run:" + state.ID
}
