// Package otel implements tracing.Tracer on OpenTelemetry.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/janekolszak/warp/pkg/tracing"
)

// Tracer implements tracing.Tracer on an OpenTelemetry TracerProvider.
// Span context travels in W3C trace context headers.
type Tracer struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracerWithProvider creates a tracer named serviceName on provider.
func NewTracerWithProvider(serviceName string, provider trace.TracerProvider) *Tracer {
	return &Tracer{
		tracer:     provider.Tracer(serviceName),
		propagator: propagation.TraceContext{},
	}
}

func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...tracing.SpanOption) (context.Context, tracing.Span) {
	cfg := tracing.ResolveSpanOptions(opts...)
	startOpts := []trace.SpanStartOption{trace.WithAttributes(attributes(cfg.Attributes)...)}
	if cfg.Kind == tracing.SpanKindClient {
		startOpts = append(startOpts, trace.WithSpanKind(trace.SpanKindClient))
	}
	ctx, s := t.tracer.Start(ctx, name, startOpts...)
	return ctx, span{s}
}

func (t *Tracer) Inject(ctx context.Context, carrier tracing.Carrier) {
	t.propagator.Inject(ctx, carrier)
}

type span struct {
	trace.Span
}

func (s span) SetAttribute(key string, value any) {
	s.SetAttributes(attributeOf(key, value))
}

func (s span) Fail(err error) {
	if err == nil {
		return
	}
	s.RecordError(err)
	s.SetStatus(codes.Error, err.Error())
}

func (s span) TraceID() string {
	sc := s.SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

func (s span) End() {
	s.Span.End()
}

func attributes(attrs []tracing.Attribute) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, attributeOf(a.Key, a.Value))
	}
	return out
}

// attributeOf maps the value types spans are given in this module; anything
// else is formatted.
func attributeOf(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case uint64:
		return attribute.Int64(key, int64(v))
	case bool:
		return attribute.Bool(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}

var _ tracing.Tracer = (*Tracer)(nil)
