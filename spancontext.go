package instrumentz

import (
	"fmt"
)

// TraceFlags carries the W3C trace-flags byte.
type TraceFlags byte

// FlagsSampled marks a trace as sampled.
const FlagsSampled TraceFlags = 0x01

// IsSampled reports whether the sampled bit is set.
func (f TraceFlags) IsSampled() bool {
	return f&FlagsSampled == FlagsSampled
}

// String renders the flags as two lowercase hex digits.
func (f TraceFlags) String() string {
	return fmt.Sprintf("%02x", byte(f))
}

// SpanContext identifies a span so that children and links can refer to it.
// It is carried inside a Baggage under SpanContextKey; the span owns its identity,
// the Baggage only references it.
type SpanContext struct {
	TraceID      string
	SpanID       string
	ParentSpanID string
	TraceFlags   TraceFlags
	Remote       bool
}

// IsValid reports whether both ids are well-formed W3C ids.
func (sc SpanContext) IsValid() bool {
	return isValidTraceID(sc.TraceID) && isValidSpanID(sc.SpanID)
}

// IsRoot reports whether the span has no parent.
func (sc SpanContext) IsRoot() bool {
	return sc.ParentSpanID == ""
}

// String implements fmt.Stringer.
func (sc SpanContext) String() string {
	return sc.TraceID + "/" + sc.SpanID
}

// Well-known keys shared by the built-in propagators and tracers.
var (
	// SpanContextKey references the active span.
	SpanContextKey = NewKey[SpanContext]("span-context")

	// TraceStateKey holds the raw W3C tracestate header.
	TraceStateKey = NewKey[string]("tracestate")

	// TraceIDKey holds a free-form trace id propagated verbatim by field propagators.
	TraceIDKey = NewKey[string]("trace-id")

	// RequestIDKey holds a per-request correlation id.
	RequestIDKey = NewKey[string]("request-id")
)
