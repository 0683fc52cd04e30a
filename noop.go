package instrumentz

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// NoopTracer discards everything. It is the tracer in effect before Bootstrap.
type NoopTracer struct{}

// StartSpan returns a non-recording span whose Baggage is b.
func (NoopTracer) StartSpan(b Baggage, name string, opts ...SpanStartOption) Span {
	return newNoopSpan(b, name, NewSpanConfig(opts...))
}

// ForceFlush implements Tracer.
func (NoopTracer) ForceFlush(context.Context) error { return nil }

// Inject implements Propagator.
func (NoopTracer) Inject(Baggage, TextMapCarrier) {}

// Extract implements Propagator.
func (NoopTracer) Extract(_ TextMapCarrier, b Baggage) Baggage { return b }

type noopSpan struct {
	start   time.Time
	baggage Baggage
	name    string
	kind    SpanKind
}

func newNoopSpan(b Baggage, name string, cfg SpanConfig) *noopSpan {
	start := cfg.StartTime
	if start.IsZero() {
		start = time.Now()
	}
	return &noopSpan{baggage: b, name: name, kind: cfg.Kind, start: start}
}

func (s *noopSpan) Baggage() Baggage { return s.baggage }

func (s *noopSpan) Context() SpanContext {
	sc, _ := SpanContextKey.Get(s.baggage)
	return sc
}

func (s *noopSpan) OperationName() string                         { return s.name }
func (s *noopSpan) Kind() SpanKind                                { return s.kind }
func (s *noopSpan) StartTime() time.Time                          { return s.start }
func (s *noopSpan) EndTime() (time.Time, bool)                    { return time.Time{}, false }
func (s *noopSpan) SetAttributes(...attribute.KeyValue)           {}
func (s *noopSpan) Attributes() map[attribute.Key]attribute.Value { return nil }
func (s *noopSpan) AddEvent(SpanEvent)                            {}
func (s *noopSpan) AddLink(SpanLink)                              {}
func (s *noopSpan) SetStatus(Status)                              {}
func (s *noopSpan) RecordError(error, ...attribute.KeyValue)      {}
func (s *noopSpan) IsRecording() bool                             { return false }
func (s *noopSpan) End()                                          {}
func (s *noopSpan) EndAt(time.Time)                               {}

var (
	_ Tracer = NoopTracer{}
	_ Span   = (*noopSpan)(nil)
)
