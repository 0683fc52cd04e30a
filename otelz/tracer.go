// Package otelz backs instrumentz.Tracer with OpenTelemetry.
package otelz

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoobzio/instrumentz"
)

// DefaultInstrumentationName names the OpenTelemetry tracer when none is given.
const DefaultInstrumentationName = "github.com/zoobzio/instrumentz/otelz"

// Option configures a Tracer.
type Option func(*Tracer)

// WithPropagator replaces the default W3C trace context plus baggage propagator.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(t *Tracer) {
		if p != nil {
			t.propagator = p
		}
	}
}

// WithInstrumentationName sets the name passed to TracerProvider.Tracer.
func WithInstrumentationName(name string) Option {
	return func(t *Tracer) {
		if name != "" {
			t.name = name
		}
	}
}

// Tracer is an instrumentz.Tracer that records through an OpenTelemetry TracerProvider.
// Safe for concurrent use by multiple goroutines.
type Tracer struct {
	provider   trace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	name       string
}

// New builds a Tracer on tp.
func New(tp trace.TracerProvider, opts ...Option) *Tracer {
	t := &Tracer{
		provider: tp,
		name:     DefaultInstrumentationName,
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.tracer = tp.Tracer(t.name)
	return t
}

// StartSpan implements instrumentz.Tracer.
func (t *Tracer) StartSpan(b instrumentz.Baggage, name string, opts ...instrumentz.SpanStartOption) instrumentz.Span {
	cfg := instrumentz.NewSpanConfig(opts...)

	startOpts := []trace.SpanStartOption{trace.WithSpanKind(spanKind(cfg.Kind))}
	if !cfg.StartTime.IsZero() {
		startOpts = append(startOpts, trace.WithTimestamp(cfg.StartTime))
	}
	if len(cfg.Attributes) > 0 {
		startOpts = append(startOpts, trace.WithAttributes(cfg.Attributes...))
	}
	if l := links(cfg.Links); len(l) > 0 {
		startOpts = append(startOpts, trace.WithLinks(l...))
	}

	parent := ContextFromBaggage(context.Background(), b)
	var parentSpanID string
	if psc := trace.SpanContextFromContext(parent); psc.IsValid() {
		parentSpanID = psc.SpanID().String()
	}

	_, otelSpan := t.tracer.Start(parent, name, startOpts...)
	sc := FromSpanContext(otelSpan.SpanContext(), parentSpanID)

	start := cfg.StartTime
	if start.IsZero() {
		start = time.Now()
	}

	s := &span{
		otel:    otelSpan,
		baggage: instrumentz.SpanContextKey.Set(b, sc),
		sc:      sc,
		name:    name,
		kind:    cfg.Kind,
		start:   start,
		attrs:   make(map[attribute.Key]attribute.Value, len(cfg.Attributes)),
	}
	for _, kv := range cfg.Attributes {
		if kv.Valid() {
			s.attrs[kv.Key] = kv.Value
			s.recording = true
		}
	}
	if len(cfg.Links) > 0 {
		s.recording = true
	}
	return s
}

// Inject implements instrumentz.Propagator through the OpenTelemetry propagator.
func (t *Tracer) Inject(b instrumentz.Baggage, carrier instrumentz.TextMapCarrier) {
	if carrier == nil {
		return
	}
	t.propagator.Inject(ContextFromBaggage(context.Background(), b), carrier)
}

// Extract implements instrumentz.Propagator through the OpenTelemetry propagator.
func (t *Tracer) Extract(carrier instrumentz.TextMapCarrier, b instrumentz.Baggage) instrumentz.Baggage {
	if carrier == nil {
		return b
	}
	return BaggageFromContext(t.propagator.Extract(context.Background(), carrier), b)
}

// ForceFlush flushes the provider when it supports flushing.
func (t *Tracer) ForceFlush(ctx context.Context) error {
	if f, ok := t.provider.(interface{ ForceFlush(context.Context) error }); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

// Shutdown shuts the provider down when it supports it.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if s, ok := t.provider.(interface{ Shutdown(context.Context) error }); ok {
		return s.Shutdown(ctx)
	}
	return nil
}

// span mirrors what it forwards so that Attributes and IsRecording can be answered locally.
//
//nolint:govet // Field order optimized for functionality over memory
type span struct {
	otel      trace.Span
	baggage   instrumentz.Baggage
	sc        instrumentz.SpanContext
	name      string
	kind      instrumentz.SpanKind
	start     time.Time
	end       time.Time
	attrs     map[attribute.Key]attribute.Value
	mu        sync.Mutex
	ended     bool
	recording bool
}

func (s *span) Baggage() instrumentz.Baggage     { return s.baggage }
func (s *span) Context() instrumentz.SpanContext { return s.sc }
func (s *span) OperationName() string            { return s.name }
func (s *span) Kind() instrumentz.SpanKind       { return s.kind }
func (s *span) StartTime() time.Time             { return s.start }

func (s *span) EndTime() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end, s.ended
}

func (s *span) SetAttributes(attrs ...attribute.KeyValue) {
	s.mutate("set_attributes", func() {
		for _, kv := range attrs {
			if kv.Valid() {
				s.attrs[kv.Key] = kv.Value
				s.recording = true
			}
		}
		s.otel.SetAttributes(attrs...)
	})
}

func (s *span) Attributes() map[attribute.Key]attribute.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[attribute.Key]attribute.Value, len(s.attrs))
	for k, v := range s.attrs {
		out[k] = v
	}
	return out
}

func (s *span) AddEvent(event instrumentz.SpanEvent) {
	opts := []trace.EventOption{trace.WithAttributes(event.Attributes...)}
	if !event.Timestamp.IsZero() {
		opts = append(opts, trace.WithTimestamp(event.Timestamp))
	}
	s.mutate("add_event", func() {
		s.otel.AddEvent(event.Name, opts...)
		s.recording = true
	})
}

func (s *span) AddLink(link instrumentz.SpanLink) {
	s.mutate("add_link", func() {
		for _, l := range links([]instrumentz.SpanLink{link}) {
			s.otel.AddLink(l)
		}
		s.recording = true
	})
}

func (s *span) SetStatus(status instrumentz.Status) {
	s.mutate("set_status", func() {
		s.otel.SetStatus(statusCode(status.Code), status.Description)
		if status.Code != instrumentz.StatusUnset {
			s.recording = true
		}
	})
}

func (s *span) RecordError(err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}
	s.mutate("record_error", func() {
		s.otel.RecordError(err, trace.WithAttributes(attrs...))
		s.recording = true
	})
}

func (s *span) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

func (s *span) End() {
	s.EndAt(time.Now())
}

func (s *span) EndAt(t time.Time) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		instrumentz.ReportUsage(instrumentz.ErrSpanAlreadyEnded,
			slog.String("span", s.name),
			slog.String("span_id", s.sc.SpanID))
		return
	}
	s.ended = true
	s.end = t
	s.mu.Unlock()

	s.otel.End(trace.WithTimestamp(t))
}

func (s *span) mutate(op string, fn func()) {
	s.mu.Lock()
	if !s.ended {
		fn()
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	instrumentz.Logger().Debug(instrumentz.ErrSpanMutatedAfterEnd.Error(),
		slog.String("op", op),
		slog.String("span", s.name))
}

var (
	_ instrumentz.Tracer = (*Tracer)(nil)
	_ instrumentz.Span   = (*span)(nil)
)
