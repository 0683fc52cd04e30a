package instrumentz

import (
	"log/slog"
)

// Propagator moves Baggage entries across a process boundary through a carrier.
//
// Inject writes the entries the propagator owns into carrier and must leave every
// other carrier entry alone. Extract returns b with the owned entries read from
// carrier; entries it does not own pass through unchanged, and missing or
// malformed carrier data is treated as absent rather than an error.
type Propagator[C any] interface {
	Inject(b Baggage, carrier C)
	Extract(carrier C, b Baggage) Baggage
}

// TextMapPropagator is a Propagator over string-keyed carriers.
type TextMapPropagator = Propagator[TextMapCarrier]

// PropagatorFuncs builds a Propagator from two closures.
// A nil func is a no-op for that direction.
type PropagatorFuncs[C any] struct {
	InjectFunc  func(b Baggage, carrier C)
	ExtractFunc func(carrier C, b Baggage) Baggage
}

// Inject implements Propagator.
func (p PropagatorFuncs[C]) Inject(b Baggage, carrier C) {
	if p.InjectFunc != nil {
		p.InjectFunc(b, carrier)
	}
}

// Extract implements Propagator.
func (p PropagatorFuncs[C]) Extract(carrier C, b Baggage) Baggage {
	if p.ExtractFunc == nil {
		return b
	}
	return p.ExtractFunc(carrier, b)
}

// NoopPropagator ignores both directions.
type NoopPropagator[C any] struct{}

// Inject implements Propagator.
func (NoopPropagator[C]) Inject(Baggage, C) {}

// Extract implements Propagator.
func (NoopPropagator[C]) Extract(_ C, b Baggage) Baggage { return b }

// MultiplexOption configures a Multiplex.
type MultiplexOption func(*multiplexConfig)

type multiplexConfig struct {
	onFault func(index int, err error)
}

// WithFaultHandler registers fn to receive every recovered component fault.
func WithFaultHandler(fn func(index int, err error)) MultiplexOption {
	return func(cfg *multiplexConfig) {
		cfg.onFault = fn
	}
}

// Multiplex runs a fixed, ordered list of propagators over one carrier type.
// A component that panics is isolated: the remaining components still run, and
// on extract its partial writes are discarded.
type Multiplex[C any] struct {
	onFault     func(index int, err error)
	propagators []Propagator[C]
}

// NewMultiplex composes propagators in the given order. Nil entries are skipped.
func NewMultiplex[C any](propagators []Propagator[C], opts ...MultiplexOption) *Multiplex[C] {
	cfg := &multiplexConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	list := make([]Propagator[C], 0, len(propagators))
	for _, p := range propagators {
		if p != nil {
			list = append(list, p)
		}
	}
	return &Multiplex[C]{propagators: list, onFault: cfg.onFault}
}

// Len returns the number of components.
func (m *Multiplex[C]) Len() int {
	return len(m.propagators)
}

// Inject runs every component's Inject in list order.
func (m *Multiplex[C]) Inject(b Baggage, carrier C) {
	for i, p := range m.propagators {
		m.safeInject(i, p, b, carrier)
	}
}

// Extract runs every component's Extract in list order, threading the Baggage.
func (m *Multiplex[C]) Extract(carrier C, b Baggage) Baggage {
	for i, p := range m.propagators {
		b = m.safeExtract(i, p, carrier, b)
	}
	return b
}

func (m *Multiplex[C]) safeInject(i int, p Propagator[C], b Baggage, carrier C) {
	defer func() {
		if r := recover(); r != nil {
			m.fault(&PropagationFault{Index: i, Op: "inject", Recovered: r})
		}
	}()
	p.Inject(b, carrier)
}

func (m *Multiplex[C]) safeExtract(i int, p Propagator[C], carrier C, b Baggage) (out Baggage) {
	defer func() {
		if r := recover(); r != nil {
			out = b
			m.fault(&PropagationFault{Index: i, Op: "extract", Recovered: r})
		}
	}()
	return p.Extract(carrier, b)
}

func (m *Multiplex[C]) fault(f *PropagationFault) {
	Logger().Warn("instrumentz: propagator fault",
		slog.Int("index", f.Index),
		slog.String("op", f.Op),
		slog.Any("recovered", f.Recovered))
	if m.onFault != nil {
		m.onFault(f.Index, f)
	}
}

var (
	_ Propagator[TextMapCarrier] = (*Multiplex[TextMapCarrier])(nil)
	_ Propagator[TextMapCarrier] = PropagatorFuncs[TextMapCarrier]{}
	_ Propagator[TextMapCarrier] = NoopPropagator[TextMapCarrier]{}
)
