// Package tracing defines the span interface used around loads, replays and
// gateway requests. pkg/tracing/otel adapts it to OpenTelemetry.
package tracing

import (
	"context"
)

// Tracer starts spans and propagates span context into gateway requests.
type Tracer interface {
	// StartSpan starts a span as a child of any span in ctx. The caller
	// must End the span.
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)

	// Inject writes the span context of ctx into carrier.
	Inject(ctx context.Context, carrier Carrier)
}

// Span is a single traced operation.
type Span interface {
	// SetAttribute records a value learned after the span started.
	SetAttribute(key string, value any)

	// Fail records err on the span and marks it failed. A nil err is a no-op.
	Fail(err error)

	// TraceID returns the hex trace id, or "" when the span is not recorded.
	TraceID() string

	End()
}

// Attribute is a key-value pair set when a span starts.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute { return Attribute{Key: key, Value: value} }
func Int(key string, value int) Attribute { return Attribute{Key: key, Value: value} }

// SpanKind indicates the role of a span.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindClient
)

// SpanConfig is the resolved form of a set of SpanOptions.
type SpanConfig struct {
	Kind       SpanKind
	Attributes []Attribute
}

// SpanOption configures span creation.
type SpanOption func(*SpanConfig)

// WithSpanKind sets the span kind.
func WithSpanKind(k SpanKind) SpanOption {
	return func(c *SpanConfig) { c.Kind = k }
}

// WithAttributes sets attributes at span start.
func WithAttributes(attrs ...Attribute) SpanOption {
	return func(c *SpanConfig) { c.Attributes = append(c.Attributes, attrs...) }
}

// ResolveSpanOptions applies opts in order.
func ResolveSpanOptions(opts ...SpanOption) SpanConfig {
	var c SpanConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&c)
		}
	}
	return c
}

// Carrier transports span context, typically in HTTP headers.
type Carrier interface {
	Get(key string) string
	Set(key, value string)
	Keys() []string
}

// NullTracer discards all spans.
type NullTracer struct{}

func (NullTracer) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, Span) {
	return ctx, nullSpan{}
}

func (NullTracer) Inject(context.Context, Carrier) {}

type nullSpan struct{}

func (nullSpan) SetAttribute(string, any) {}
func (nullSpan) Fail(error)               {}
func (nullSpan) TraceID() string          { return "" }
func (nullSpan) End()                     {}

var _ Tracer = NullTracer{}

// Config configures tracing.
type Config struct {
	Enabled          bool
	ServiceName      string
	ServiceVersion   string
	Environment      string
	SampleRate       float64
	Exporter         string
	ExporterEndpoint string
}

// DefaultConfig returns tracing disabled with a warp service name.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "warp",
		ServiceVersion: "0.0.0",
		Environment:    "development",
		SampleRate:     0.1,
		Exporter:       "none",
	}
}

// Span names.
const (
	SpanEvaluate    = "warp.Evaluate"
	SpanLoad        = "warp.LoadInteractions"
	SpanReplay      = "warp.Replay"
	SpanNestedRead  = "warp.ReadContractState"
	SpanGatewayCall = "warp.GatewayRequest"
)

// Attribute keys.
const (
	AttrContractID    = "warp.contract.id"
	AttrBound         = "warp.sort_key.bound"
	AttrSortKey       = "warp.sort_key"
	AttrCachedKey     = "warp.cache.sort_key"
	AttrCacheHit      = "warp.cache.hit"
	AttrInteractions  = "warp.interactions"
	AttrInteractionID = "warp.interaction.id"
	AttrOutcome       = "warp.interaction.outcome"
	AttrCodeVersion   = "warp.code.version"
	AttrPolicy        = "warp.policy.unsafe_client"
	AttrDepth         = "warp.nested.depth"
	AttrEndpoint      = "warp.gateway.endpoint"
)
