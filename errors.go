package instrumentz

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyBootstrapped is reported when Bootstrap is called more than once.
	ErrAlreadyBootstrapped = errors.New("instrumentz: tracer already bootstrapped")

	// ErrSpanAlreadyEnded is reported when End is called on an ended span.
	ErrSpanAlreadyEnded = errors.New("instrumentz: span already ended")

	// ErrSpanMutatedAfterEnd is reported when an ended span is mutated.
	ErrSpanMutatedAfterEnd = errors.New("instrumentz: span mutated after end")

	// ErrBoxTypeMismatch means a Baggage entry holds a value of the wrong type.
	// It can only surface through an internal bug.
	ErrBoxTypeMismatch = errors.New("instrumentz: baggage entry type mismatch")

	// ErrNilTracer is returned when a nil tracer is bootstrapped.
	ErrNilTracer = errors.New("instrumentz: nil tracer")
)

// PropagationFault describes a propagator that panicked inside a Multiplex.
type PropagationFault struct {
	Recovered any
	Op        string
	Index     int
}

// Error implements error.
func (f *PropagationFault) Error() string {
	return fmt.Sprintf("instrumentz: propagator %d panicked during %s: %v", f.Index, f.Op, f.Recovered)
}

// Unwrap exposes a recovered error value.
func (f *PropagationFault) Unwrap() error {
	if err, ok := f.Recovered.(error); ok {
		return err
	}
	return nil
}
