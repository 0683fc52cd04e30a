package instrumentz

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// System bundles a Tracer with the propagator used at process boundaries.
// Pass it explicitly where global state is unwanted; Bootstrap publishes its tracer.
type System struct {
	tracer     Tracer
	propagator TextMapPropagator
}

// SystemOption configures a System.
type SystemOption func(*System)

// WithTracer sets the system tracer.
func WithTracer(t Tracer) SystemOption {
	return func(s *System) {
		s.tracer = t
	}
}

// WithPropagators sets the boundary propagator to a Multiplex over ps.
func WithPropagators(ps ...TextMapPropagator) SystemOption {
	return func(s *System) {
		s.propagator = NewMultiplex(ps)
	}
}

// NewSystem builds a System. Without a tracer it uses NoopTracer.
func NewSystem(opts ...SystemOption) *System {
	s := &System{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tracer returns the system tracer, or NoopTracer if none was set.
func (s *System) Tracer() Tracer {
	if s == nil || s.tracer == nil {
		return NoopTracer{}
	}
	return s.tracer
}

// Propagator returns the boundary propagator. It defaults to the tracer itself.
func (s *System) Propagator() TextMapPropagator {
	if s == nil || s.propagator == nil {
		return s.Tracer()
	}
	return s.propagator
}

// Inject writes the ambient Baggage of ctx into carrier.
func (s *System) Inject(ctx context.Context, carrier TextMapCarrier) {
	s.Propagator().Inject(BaggageFromContext(ctx), carrier)
}

// Extract returns ctx with the Baggage read from carrier merged into its ambient Baggage.
func (s *System) Extract(ctx context.Context, carrier TextMapCarrier) context.Context {
	return ContextWithBaggage(ctx, s.Propagator().Extract(carrier, BaggageFromContext(ctx)))
}

// Start starts a span with the system tracer.
func (s *System) Start(ctx context.Context, name string, opts ...SpanStartOption) (context.Context, Span) {
	return Start(ctx, s.Tracer(), name, opts...)
}

// Bootstrap publishes the system tracer process-wide.
func (s *System) Bootstrap() error {
	return Bootstrap(s.Tracer())
}

// Shutdown flushes the tracer and releases its resources.
func (s *System) Shutdown(ctx context.Context) error {
	t := s.Tracer()
	err := t.ForceFlush(ctx)
	switch c := t.(type) {
	case interface{ Close() }:
		c.Close()
	case interface{ Shutdown(context.Context) error }:
		if serr := c.Shutdown(ctx); err == nil {
			err = serr
		}
	}
	return err
}

type tracerHolder struct {
	tracer Tracer
}

var globalTracer atomic.Pointer[tracerHolder]

// Bootstrap installs t as the process-wide tracer. The first call wins.
// Later calls are usage errors: they return ErrAlreadyBootstrapped, or panic
// under UsagePanic.
func Bootstrap(t Tracer) error {
	if t == nil {
		return ErrNilTracer
	}
	if globalTracer.CompareAndSwap(nil, &tracerHolder{tracer: t}) {
		return nil
	}
	ReportUsage(ErrAlreadyBootstrapped, slog.String("tracer", typeName(t)))
	return ErrAlreadyBootstrapped
}

// CurrentTracer returns the bootstrapped tracer, or NoopTracer before Bootstrap.
func CurrentTracer() Tracer {
	if h := globalTracer.Load(); h != nil {
		return h.tracer
	}
	return NoopTracer{}
}

// IsBootstrapped reports whether Bootstrap has succeeded.
func IsBootstrapped() bool {
	return globalTracer.Load() != nil
}
