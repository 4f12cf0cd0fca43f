package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/pkg/models"
)

func runRunsList(ctx context.Context, configPath string, out io.Writer) (err error) {
	h, err := newHost(ctx, runOptions{configPath: configPath}, out)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, h.Close(context.Background()))
	}()

	states, err := h.stores.Runs.List(ctx)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Fprintln(out, "no runs awaiting approval")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tCONVERSATION\tPHASE\tPENDING\tUPDATED")
	for _, s := range states {
		var pending []string
		for _, in := range s.PendingInterruptions() {
			pending = append(pending, in.ToolName)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n", s.ID, s.ConversationID, s.Phase, pending, s.UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runResume(ctx context.Context, opts runOptions, runID string, in io.Reader, out io.Writer) (err error) {
	h, err := newHost(ctx, opts, out)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, h.Close(context.Background()))
	}()

	state, err := h.stores.Runs.Load(ctx, runID)
	if err != nil {
		return err
	}
	handle := &agent.RunHandle{State: state}
	p := newPrompter(in, out)

	var decisions []agent.Decision
	if !opts.autoApprove {
		decisions = p.decide(handle.Pending())
	} else {
		for _, pending := range handle.Pending() {
			decisions = append(decisions, agent.Decision{CallID: pending.CallID, Approved: true, DecidedBy: "console"})
		}
	}
	handle, err = h.orch.ResumeByID(ctx, runID, decisions)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}
	if handle, err = h.drive(ctx, handle, p, out); err != nil {
		return err
	}
	return h.finish(ctx, handle, lastUserTurn(state.Input), out)
}

func lastUserTurn(input agent.RunInput) models.Turn {
	for i := len(input) - 1; i >= 0; i-- {
		if input[i].Role == models.RoleUser {
			return models.Turn{Role: models.RoleUser, Content: input[i].Content, CreatedAt: input[i].CreatedAt}
		}
	}
	return models.Turn{Role: models.RoleUser}
}
