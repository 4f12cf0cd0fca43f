package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Span names. Tool spans are named toolSpanPrefix plus the tool name.
const (
	SpanRun        = "agent.run"
	SpanInvoke     = "agent.invoke"
	toolSpanPrefix = "tool."
)

// Span attribute keys.
const (
	attrRunID          = attribute.Key("run.id")
	attrConversationID = attribute.Key("conversation.id")
	attrRunPhase       = attribute.Key("run.phase")
	attrIteration      = attribute.Key("run.iteration")
	attrProvider       = attribute.Key("llm.provider")
	attrToolName       = attribute.Key("tool.name")
	attrToolCallID     = attribute.Key("tool.call_id")
)

const defaultServiceName = "agentrun"

// Tracer opens the spans of a run: one per Start or Resume call, a child per
// model turn and a grandchild per tool execution. A nil *Tracer opens no-op
// spans, so callers never check for it.
type Tracer struct {
	tracer trace.Tracer
}

// TraceConfig configures span export. Tracing is off when Endpoint is empty.
type TraceConfig struct {
	ServiceName    string `yaml:"service_name" json:"service_name"`
	ServiceVersion string `yaml:"service_version" json:"service_version"`
	Environment    string `yaml:"environment" json:"environment"`

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// SamplingRate is the fraction of runs recorded. Zero means all of them.
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`

	// EnableInsecure dials the collector without TLS.
	EnableInsecure bool `yaml:"insecure" json:"insecure"`
}

// NewTracer builds a tracer exporting to cfg.Endpoint and returns it with
// the function that flushes pending spans. Without an endpoint, or when the
// exporter cannot be built, spans go to whatever global provider the host
// installed.
func NewTracer(cfg TraceConfig) (*Tracer, func(context.Context) error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	fallback := &Tracer{tracer: otel.Tracer(cfg.ServiceName)}
	nothing := func(context.Context) error { return nil }
	if cfg.Endpoint == "" {
		return fallback, nothing
	}

	clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.EnableInsecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(clientOpts...))
	if err != nil {
		return fallback, nothing
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(serviceResource(cfg)),
		sdktrace.WithSampler(samplerFor(cfg.SamplingRate)),
	)
	return &Tracer{tracer: provider.Tracer(cfg.ServiceName)}, provider.Shutdown
}

// NewTracerFromProvider uses tp instead of building an exporter.
func NewTracerFromProvider(tp trace.TracerProvider, name string) *Tracer {
	if name == "" {
		name = defaultServiceName
	}
	return &Tracer{tracer: tp.Tracer(name)}
}

func serviceResource(cfg TraceConfig) *resource.Resource {
	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return resource.Default()
	}
	return res
}

// samplerFor maps a sampling rate to a sampler. Zero and rates of one or
// more record every run; negative rates record none.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate == 0 || rate >= 1:
		return sdktrace.AlwaysSample()
	case rate < 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Start opens a span named name under the span in ctx.
func (t *Tracer) Start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return noop.NewTracerProvider().Tracer("").Start(ctx, name)
	}
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// RecordError marks span failed with err. A nil err is ignored.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordPhase stamps the phase a run reached when its span ends.
func (t *Tracer) RecordPhase(span trace.Span, phase string) {
	if span == nil || phase == "" {
		return
	}
	span.SetAttributes(attrRunPhase.String(phase))
}

// TraceRun opens the span of one Start or Resume call.
func (t *Tracer) TraceRun(ctx context.Context, runID, conversationID string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanRun, trace.SpanKindInternal,
		attrRunID.String(runID),
		attrConversationID.String(conversationID),
	)
}

// TraceModelInvocation opens the span of one model turn.
func (t *Tracer) TraceModelInvocation(ctx context.Context, provider string, iteration int) (context.Context, trace.Span) {
	return t.Start(ctx, SpanInvoke, trace.SpanKindClient,
		attrProvider.String(provider),
		attrIteration.Int(iteration),
	)
}

// TraceToolExecution opens the span of one tool call.
func (t *Tracer) TraceToolExecution(ctx context.Context, toolName, callID string) (context.Context, trace.Span) {
	return t.Start(ctx, toolSpanPrefix+toolName, trace.SpanKindInternal,
		attrToolName.String(toolName),
		attrToolCallID.String(callID),
	)
}
