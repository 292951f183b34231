package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Span is the subset of an OpenTelemetry span fishnet-go components use.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	SetError(err error)
}

type otelSpan struct{ span trace.Span }

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, toString(v)))
	}
}

func (s *otelSpan) SetError(err error) {
	if err == nil {
		s.span.SetStatus(codes.Ok, "")
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	if str, ok := v.(interface{ String() string }); ok {
		return str.String()
	}
	return ""
}

// SpanStarter is implemented by both Tracer and NoopTracer.
type SpanStarter interface {
	StartSpan(ctx context.Context, op string, attrs map[string]string) (context.Context, Span)
}

// Tracer starts spans around the API client's remote calls. The
// engine actor's chunk runs are not traced.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer builds a tracer backed by a local, no-collector
// TracerProvider. No OTLP exporter is registered: the client's config
// surface has no collector endpoint to export to, so spans are
// created and timed in-process (observable via sdktrace's span
// processors if a caller later attaches one) without the
// otlptracegrpc dependency the ambient stack pulls in for server-side
// tracing.
func NewTracer(serviceName string) *Tracer {
	provider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(provider)
	return &Tracer{tracer: provider.Tracer(serviceName)}
}

// StartSpan starts a span named op, tagged with the given attributes.
func (t *Tracer) StartSpan(ctx context.Context, op string, attrs map[string]string) (context.Context, Span) {
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kv = append(kv, attribute.String(k, v))
	}
	ctx, span := t.tracer.Start(ctx, op, trace.WithAttributes(kv...))
	return ctx, &otelSpan{span: span}
}

// NoopTracer discards spans without the overhead of a real TracerProvider.
type NoopTracer struct{}

func (NoopTracer) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End()                            {}
func (noopSpan) SetAttribute(string, interface{}) {}
func (noopSpan) SetError(error)                  {}
