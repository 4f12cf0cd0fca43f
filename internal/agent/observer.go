package agent

import (
	"context"
	"log/slog"
)

// Observer receives run progress. Each method returns once the update is
// acknowledged (rendered, written, sent); the run waits for it before
// reading the next model event, so a slow observer throttles the run.
// Methods are never called concurrently for one run.
type Observer interface {
	OnStatus(ctx context.Context, text string) error
	OnToolStart(ctx context.Context, callID, name string) error
	OnToolResult(ctx context.Context, callID, output string) error
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are no-ops.
type ObserverFuncs struct {
	Status     func(ctx context.Context, text string) error
	ToolStart  func(ctx context.Context, callID, name string) error
	ToolResult func(ctx context.Context, callID, output string) error
}

// OnStatus implements Observer.
func (f ObserverFuncs) OnStatus(ctx context.Context, text string) error {
	if f.Status == nil {
		return nil
	}
	return f.Status(ctx, text)
}

// OnToolStart implements Observer.
func (f ObserverFuncs) OnToolStart(ctx context.Context, callID, name string) error {
	if f.ToolStart == nil {
		return nil
	}
	return f.ToolStart(ctx, callID, name)
}

// OnToolResult implements Observer.
func (f ObserverFuncs) OnToolResult(ctx context.Context, callID, output string) error {
	if f.ToolResult == nil {
		return nil
	}
	return f.ToolResult(ctx, callID, output)
}

// NopObserver discards all updates.
type NopObserver struct{}

func (NopObserver) OnStatus(context.Context, string) error             { return nil }
func (NopObserver) OnToolStart(context.Context, string, string) error  { return nil }
func (NopObserver) OnToolResult(context.Context, string, string) error { return nil }

// MultiObserver fans updates out to several observers in order. The first
// error stops the fan-out and is returned.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver creates an observer that dispatches to multiple observers.
// Nil observers are filtered out automatically.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	filtered := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	return &MultiObserver{observers: filtered}
}

// OnStatus implements Observer.
func (m *MultiObserver) OnStatus(ctx context.Context, text string) error {
	for _, o := range m.observers {
		if err := o.OnStatus(ctx, text); err != nil {
			return err
		}
	}
	return nil
}

// OnToolStart implements Observer.
func (m *MultiObserver) OnToolStart(ctx context.Context, callID, name string) error {
	for _, o := range m.observers {
		if err := o.OnToolStart(ctx, callID, name); err != nil {
			return err
		}
	}
	return nil
}

// OnToolResult implements Observer.
func (m *MultiObserver) OnToolResult(ctx context.Context, callID, output string) error {
	for _, o := range m.observers {
		if err := o.OnToolResult(ctx, callID, output); err != nil {
			return err
		}
	}
	return nil
}

// LogObserver writes every update to a logger at debug level.
type LogObserver struct {
	Logger *slog.Logger
}

func (o LogObserver) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// OnStatus implements Observer.
func (o LogObserver) OnStatus(ctx context.Context, text string) error {
	o.logger().DebugContext(ctx, "run status", "text", text)
	return nil
}

// OnToolStart implements Observer.
func (o LogObserver) OnToolStart(ctx context.Context, callID, name string) error {
	o.logger().DebugContext(ctx, "tool started", "tool_call_id", callID, "tool", name)
	return nil
}

// OnToolResult implements Observer.
func (o LogObserver) OnToolResult(ctx context.Context, callID, output string) error {
	o.logger().DebugContext(ctx, "tool result", "tool_call_id", callID, "bytes", len(output))
	return nil
}
