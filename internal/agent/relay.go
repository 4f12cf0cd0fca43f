package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/agentrun/internal/observability"
	"github.com/haasonsaas/agentrun/pkg/models"
)

// EventHandler processes one stream event. Returning stop ends the relay
// without error; no further events are handed to the handler.
type EventHandler func(ctx context.Context, ev *models.StreamEvent) (stop bool, err error)

// Relay consumes a model event stream with a single consumer. The handler
// for event N returns before event N+1 is read from the channel, so the
// handler's pace is the consumer's pace. The relay does not buffer,
// coalesce, reorder, or retry.
type Relay struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRelay creates a relay. A nil logger uses slog.Default.
func NewRelay(logger *slog.Logger, metrics *observability.Metrics) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{logger: logger, metrics: metrics}
}

// Run relays events until the channel closes, the handler stops, or ctx is
// done. Nil events and types outside the stream union are skipped.
//
// Errors: ErrModelInvocation for a nil channel; ErrCancelled when ctx ends,
// including when it ends as the channel closes; handler errors that are not already a
// run fault are wrapped with ErrRelayFault.
//
// When Run returns before the channel is closed, the remaining events are
// drained in the background and discarded; the producer is expected to
// close the channel once its context is cancelled.
func (r *Relay) Run(ctx context.Context, events <-chan *models.StreamEvent, handle EventHandler) (err error) {
	if events == nil {
		return &ModelError{Kind: "protocol", Message: "provider returned no stream"}
	}
	closed := false
	defer func() {
		if !closed {
			go drain(events)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case ev, ok := <-events:
			if !ok {
				closed = true
				// The handler may have observed cancellation just before the
				// producer closed the stream.
				if err := ctx.Err(); err != nil {
					return fmt.Errorf("%w: %v", ErrCancelled, err)
				}
				return nil
			}
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
			if ev == nil {
				continue
			}
			if !ev.Type.IsStreamShaped() {
				r.metrics.RecordStreamEvent("ignored")
				r.logger.DebugContext(ctx, "ignoring non-stream event", "type", ev.Type)
				continue
			}
			r.metrics.RecordStreamEvent(string(ev.Type))

			stop, herr := handle(ctx, ev)
			if herr != nil {
				return r.classify(ctx, herr)
			}
			if stop {
				return nil
			}
		}
	}
}

func (r *Relay) classify(ctx context.Context, err error) error {
	switch {
	case isRunFault(err):
		return err
	case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	default:
		return fmt.Errorf("%w: %w", ErrRelayFault, err)
	}
}

// isRunFault reports whether err already carries a run-level classification.
func isRunFault(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, ErrModelInvocation) ||
		errors.Is(err, ErrRelayFault) ||
		errors.Is(err, ErrRunStalled) ||
		errors.Is(err, ErrMaxIterations)
}

func drain(events <-chan *models.StreamEvent) {
	for range events {
	}
}
