package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/pkg/models"
)

func runRun(ctx context.Context, opts runOptions, in io.Reader, out io.Writer) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p := newPrompter(in, out)
	if opts.prompt == "" {
		line, readErr := p.readLine()
		if readErr != nil || line == "" {
			return errors.New("a prompt is required")
		}
		opts.prompt = line
	}

	h, err := newHost(ctx, opts, out)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, h.Close(context.Background()))
	}()

	userTurn := models.Turn{Role: models.RoleUser, Content: opts.prompt}
	input, err := agent.BuildWindow(ctx, h.stores.Turns, opts.conversationID, h.cfg.Orchestrator.HistoryLimit, userTurn)
	if err != nil {
		return err
	}

	rc := &models.RunContext{UserID: opts.userID, ConversationID: opts.conversationID}
	handle, err := h.orch.Start(ctx, input, rc)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	handle, err = h.drive(ctx, handle, p, out)
	if err != nil {
		return err
	}
	return h.finish(ctx, handle, userTurn, out)
}

// drive prompts for pending interruptions and resumes until the run stops
// waiting for approval.
func (h *host) drive(ctx context.Context, handle *agent.RunHandle, p *prompter, out io.Writer) (*agent.RunHandle, error) {
	for handle.Phase() == agent.PhaseAwaitingApproval {
		fmt.Fprintf(out, "run %s is waiting for approval\n", handle.ID())
		next, err := h.orch.Resume(ctx, handle, p.decide(handle.Pending()))
		if err != nil {
			return next, fmt.Errorf("run failed: %w", err)
		}
		handle = next
	}
	return handle, nil
}

// finish prints the answer and appends the exchange to the conversation.
func (h *host) finish(ctx context.Context, handle *agent.RunHandle, userTurn models.Turn, out io.Writer) error {
	if handle.Phase() != agent.PhaseCompleted {
		return fmt.Errorf("run %s ended in phase %s", handle.ID(), handle.Phase())
	}
	final := handle.Final()
	fmt.Fprintln(out, final.Text)

	conversationID := handle.State.ConversationID
	if err := h.stores.Turns.AppendTurn(ctx, conversationID, userTurn); err != nil {
		return fmt.Errorf("store user turn: %w", err)
	}
	if err := h.stores.Turns.AppendTurn(ctx, conversationID, models.Turn{Role: models.RoleAssistant, Content: final.Text}); err != nil {
		return fmt.Errorf("store assistant turn: %w", err)
	}
	return nil
}
