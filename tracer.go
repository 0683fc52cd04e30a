package instrumentz

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Tracer creates spans and propagates their identity.
// Safe for concurrent use by multiple goroutines.
type Tracer interface {
	TextMapPropagator

	// StartSpan starts a span whose parent is the SpanContextKey entry of b, if any.
	// The returned span's Baggage is b with SpanContextKey pointing at the new span.
	StartSpan(b Baggage, name string, opts ...SpanStartOption) Span

	// ForceFlush asks the tracer to hand buffered spans to its backend.
	ForceFlush(ctx context.Context) error
}

// SpanConfig is the resolved set of start options.
type SpanConfig struct {
	StartTime  time.Time
	Attributes []attribute.KeyValue
	Links      []SpanLink
	Kind       SpanKind
}

// SpanStartOption configures a span at start.
type SpanStartOption func(*SpanConfig)

// NewSpanConfig applies opts to a zero SpanConfig.
// Tracer implementations call it from StartSpan.
func NewSpanConfig(opts ...SpanStartOption) SpanConfig {
	var cfg SpanConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanStartOption {
	return func(cfg *SpanConfig) {
		cfg.Kind = kind
	}
}

// WithStartTime overrides the start timestamp.
func WithStartTime(t time.Time) SpanStartOption {
	return func(cfg *SpanConfig) {
		cfg.StartTime = t
	}
}

// WithLinks adds links at start.
func WithLinks(links ...SpanLink) SpanStartOption {
	return func(cfg *SpanConfig) {
		cfg.Links = append(cfg.Links, links...)
	}
}

// WithAttributes sets attributes at start.
func WithAttributes(attrs ...attribute.KeyValue) SpanStartOption {
	return func(cfg *SpanConfig) {
		cfg.Attributes = append(cfg.Attributes, attrs...)
	}
}

// spanKeyType is a private type for context keys to avoid collisions.
type spanKeyType struct{}

var spanKey spanKeyType

// ContextWithSpan returns a copy of ctx carrying span and its Baggage.
func ContextWithSpan(ctx context.Context, span Span) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if span == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, spanKey, span)
	return ContextWithBaggage(ctx, span.Baggage())
}

// SpanFromContext returns the span carried by ctx.
// Without one it returns a non-recording span over the ambient Baggage.
func SpanFromContext(ctx context.Context) Span {
	if ctx != nil {
		if span, ok := ctx.Value(spanKey).(Span); ok {
			return span
		}
	}
	return newNoopSpan(BaggageFromContext(ctx), "", SpanConfig{})
}

// Start starts a span under the ambient Baggage of ctx and returns a context carrying it.
// A nil tracer means the bootstrapped one.
func Start(ctx context.Context, tracer Tracer, name string, opts ...SpanStartOption) (context.Context, Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracer == nil {
		tracer = CurrentTracer()
	}
	span := tracer.StartSpan(BaggageFromContext(ctx), name, opts...)
	return ContextWithSpan(ctx, span), span
}

// WithSpan runs fn inside a new span and ends the span on every exit path.
//
// An error from fn is recorded and marks the span failed, and is returned
// unchanged. A panic marks the span failed, ends it, and is re-raised with the
// same value. If ctx is canceled or past its deadline by the time fn returns,
// the span is marked failed even when fn succeeded.
func WithSpan(ctx context.Context, tracer Tracer, name string, fn func(context.Context, Span) error, opts ...SpanStartOption) error {
	_, err := WithSpanResult(ctx, tracer, name, func(ctx context.Context, span Span) (struct{}, error) {
		return struct{}{}, fn(ctx, span)
	}, opts...)
	return err
}

// WithSpanResult is WithSpan for operations that produce a value.
func WithSpanResult[T any](ctx context.Context, tracer Tracer, name string, fn func(context.Context, Span) (T, error), opts ...SpanStartOption) (result T, err error) {
	ctx, span := Start(ctx, tracer, name, opts...)
	completed := false
	defer func() {
		if completed {
			finishSpan(ctx, span, err)
			return
		}
		r := recover()
		if r == nil {
			// runtime.Goexit
			span.SetStatus(ErrorStatus("goroutine exited"))
			span.End()
			return
		}
		span.SetStatus(ErrorStatus(fmt.Sprint(r)))
		span.End()
		panic(r)
	}()
	result, err = fn(ctx, span)
	completed = true
	return result, err
}

func finishSpan(ctx context.Context, span Span, err error) {
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(ErrorStatus(err.Error()))
	case ctx.Err() != nil:
		span.SetStatus(ErrorStatus(ctx.Err().Error()))
	}
	span.End()
}

// Traced wraps fn so that every call runs inside its own span.
// A nil tracer is resolved to the bootstrapped one on each call.
func Traced(tracer Tracer, name string, fn func(context.Context, Span) error, opts ...SpanStartOption) func(context.Context) error {
	return func(ctx context.Context) error {
		return WithSpan(ctx, tracer, name, fn, opts...)
	}
}

// TracedResult is Traced for operations that produce a value.
func TracedResult[T any](tracer Tracer, name string, fn func(context.Context, Span) (T, error), opts ...SpanStartOption) func(context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return WithSpanResult(ctx, tracer, name, fn, opts...)
	}
}
