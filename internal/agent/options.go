package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentrun/internal/observability"
)

// Defaults for orchestrator options.
const (
	DefaultMaxIterations        = 10
	DefaultMaxAutoApproveCycles = 5
)

// Options configures an Orchestrator.
type Options struct {
	// Model is passed to the provider; empty means the provider default.
	Model string

	// Instructions is the system prompt sent with every invocation.
	Instructions string

	// MaxIterations limits model invocations per Start or Resume call.
	MaxIterations int

	// AutoApprove synthesizes approving decisions instead of returning
	// awaiting_approval to the caller.
	AutoApprove bool

	// MaxAutoApproveCycles bounds consecutive auto-approved cycles before the
	// run fails with ErrRunStalled.
	MaxAutoApproveCycles int

	// ToolTimeout applies a default timeout to each tool call.
	ToolTimeout time.Duration

	// ToolTimeouts overrides ToolTimeout per tool name.
	ToolTimeouts map[string]time.Duration

	// Policy flags tool calls for approval in addition to Tool.RequiresApproval.
	Policy ApprovalPolicy

	// Conflict decides how a second concurrent run for one conversation is handled.
	Conflict ConflictPolicy

	// Observer receives run progress unless a call overrides it with
	// ContextWithObserver.
	Observer Observer

	// Store checkpoints runs that await approval. Optional.
	Store RunStore

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Now and NewID are the clock and run ID source.
	Now   func() time.Time
	NewID func() string
}

// DefaultOptions returns the baseline orchestrator options.
func DefaultOptions() Options {
	return Options{
		MaxIterations:        DefaultMaxIterations,
		MaxAutoApproveCycles: DefaultMaxAutoApproveCycles,
		ToolTimeout:          DefaultToolTimeout,
		Conflict:             ConflictReject,
		Observer:             NopObserver{},
		Logger:               slog.Default(),
		Now:                  time.Now,
		NewID:                uuid.NewString,
	}
}

// Option customizes an Orchestrator.
type Option func(*Options)

// WithOptions overlays the non-zero fields of o.
func WithOptions(o Options) Option {
	return func(base *Options) {
		*base = mergeOptions(*base, o)
	}
}

// WithObserver sets the default observer.
func WithObserver(obs Observer) Option {
	return func(o *Options) { o.Observer = obs }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(o *Options) { o.Tracer = t }
}

// WithRunStore enables checkpointing.
func WithRunStore(store RunStore) Option {
	return func(o *Options) { o.Store = store }
}

// WithAutoApprove enables auto-approval with the given cycle bound.
// maxCycles <= 0 keeps the current bound.
func WithAutoApprove(maxCycles int) Option {
	return func(o *Options) {
		o.AutoApprove = true
		if maxCycles > 0 {
			o.MaxAutoApproveCycles = maxCycles
		}
	}
}

// WithApprovalPolicy sets the approval policy.
func WithApprovalPolicy(p ApprovalPolicy) Option {
	return func(o *Options) { o.Policy = p }
}

// WithConflictPolicy sets the concurrent run policy.
func WithConflictPolicy(p ConflictPolicy) Option {
	return func(o *Options) { o.Conflict = p }
}

// WithMaxIterations sets the model invocation bound.
func WithMaxIterations(n int) Option {
	return func(o *Options) { o.MaxIterations = n }
}

// WithToolTimeout sets the default tool timeout.
func WithToolTimeout(d time.Duration) Option {
	return func(o *Options) { o.ToolTimeout = d }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

// WithIDGenerator sets the run ID source.
func WithIDGenerator(newID func() string) Option {
	return func(o *Options) { o.NewID = newID }
}

func mergeOptions(base Options, override Options) Options {
	merged := base
	if override.Model != "" {
		merged.Model = override.Model
	}
	if override.Instructions != "" {
		merged.Instructions = override.Instructions
	}
	if override.MaxIterations > 0 {
		merged.MaxIterations = override.MaxIterations
	}
	if override.AutoApprove {
		merged.AutoApprove = true
	}
	if override.MaxAutoApproveCycles > 0 {
		merged.MaxAutoApproveCycles = override.MaxAutoApproveCycles
	}
	if override.ToolTimeout > 0 {
		merged.ToolTimeout = override.ToolTimeout
	}
	if len(override.ToolTimeouts) > 0 {
		merged.ToolTimeouts = override.ToolTimeouts
	}
	if len(override.Policy.RequireApproval) > 0 {
		merged.Policy.RequireApproval = override.Policy.RequireApproval
	}
	if len(override.Policy.Allowlist) > 0 {
		merged.Policy.Allowlist = override.Policy.Allowlist
	}
	if override.Conflict != "" {
		merged.Conflict = override.Conflict
	}
	if override.Observer != nil {
		merged.Observer = override.Observer
	}
	if override.Store != nil {
		merged.Store = override.Store
	}
	if override.Logger != nil {
		merged.Logger = override.Logger
	}
	if override.Metrics != nil {
		merged.Metrics = override.Metrics
	}
	if override.Tracer != nil {
		merged.Tracer = override.Tracer
	}
	if override.Now != nil {
		merged.Now = override.Now
	}
	if override.NewID != nil {
		merged.NewID = override.NewID
	}
	return merged
}

// normalize fills zero fields left by options that set them to zero.
func (o *Options) normalize() {
	defaults := DefaultOptions()
	if o.MaxIterations <= 0 {
		o.MaxIterations = defaults.MaxIterations
	}
	if o.MaxAutoApproveCycles <= 0 {
		o.MaxAutoApproveCycles = defaults.MaxAutoApproveCycles
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = defaults.ToolTimeout
	}
	if o.Conflict == "" {
		o.Conflict = defaults.Conflict
	}
	if o.Observer == nil {
		o.Observer = defaults.Observer
	}
	if o.Logger == nil {
		o.Logger = defaults.Logger
	}
	if o.Now == nil {
		o.Now = defaults.Now
	}
	if o.NewID == nil {
		o.NewID = defaults.NewID
	}
}

type observerKey struct{}

// ContextWithObserver overrides the orchestrator's observer for calls made
// with the returned context.
func ContextWithObserver(ctx context.Context, obs Observer) context.Context {
	return context.WithValue(ctx, observerKey{}, obs)
}

func observerFromContext(ctx context.Context, fallback Observer) Observer {
	if obs, ok := ctx.Value(observerKey{}).(Observer); ok && obs != nil {
		return obs
	}
	return fallback
}
