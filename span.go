package instrumentz

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// SpanKind describes the relationship of a span to its callers and callees.
type SpanKind int

// Span kinds. The zero value is SpanKindInternal.
const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
	SpanKindProducer
	SpanKindConsumer
)

// String implements fmt.Stringer.
func (k SpanKind) String() string {
	switch k {
	case SpanKindServer:
		return "server"
	case SpanKindClient:
		return "client"
	case SpanKindProducer:
		return "producer"
	case SpanKindConsumer:
		return "consumer"
	default:
		return "internal"
	}
}

// StatusCode is the outcome of a span.
type StatusCode int

// Status codes.
const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

// String implements fmt.Stringer.
func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "unset"
	}
}

// Status is a span's status code plus an optional description.
// The description is only meaningful for StatusError.
type Status struct {
	Description string
	Code        StatusCode
}

// ErrorStatus builds an error status.
func ErrorStatus(description string) Status {
	return Status{Code: StatusError, Description: description}
}

// SpanEvent is a timestamped annotation on a span.
type SpanEvent struct {
	Timestamp  time.Time
	Name       string
	Attributes []attribute.KeyValue
}

// NewSpanEvent builds an event stamped with the current time.
func NewSpanEvent(name string, attrs ...attribute.KeyValue) SpanEvent {
	return SpanEvent{Name: name, Timestamp: time.Now(), Attributes: attrs}
}

// SpanLink points at another span, typically one from a different trace.
type SpanLink struct {
	Baggage    Baggage
	Attributes []attribute.KeyValue
}

// LinkTo builds a link to other's identity.
func LinkTo(other Span, attrs ...attribute.KeyValue) SpanLink {
	return SpanLink{Baggage: other.Baggage(), Attributes: attrs}
}

// SpanContext returns the identity the link points at, if any.
func (l SpanLink) SpanContext() (SpanContext, bool) {
	return SpanContextKey.Get(l.Baggage)
}

// Span is one traced unit of work.
//
// Spans are created by a Tracer, mutated by the owning call chain and ended
// exactly once. Implementations must be safe for concurrent use.
type Span interface {
	// Baggage returns the Baggage that identifies this span to children.
	Baggage() Baggage
	// Context returns the span's identity.
	Context() SpanContext
	// OperationName returns the name given at start.
	OperationName() string
	// Kind returns the span kind.
	Kind() SpanKind
	// StartTime returns when the span started.
	StartTime() time.Time
	// EndTime returns when the span ended, and false while it is still open.
	EndTime() (time.Time, bool)

	// SetAttributes stores attributes; later writes to a key win.
	SetAttributes(attrs ...attribute.KeyValue)
	// Attributes returns a copy of the current attributes.
	Attributes() map[attribute.Key]attribute.Value
	// AddEvent appends an event.
	AddEvent(event SpanEvent)
	// AddLink appends a link.
	AddLink(link SpanLink)
	// SetStatus replaces the status.
	SetStatus(status Status)
	// RecordError records err as an exception event. It does not change the status.
	RecordError(err error, attrs ...attribute.KeyValue)
	// IsRecording reports whether the span has captured observable content.
	IsRecording() bool

	// End ends the span now.
	End()
	// EndAt ends the span at t.
	EndAt(t time.Time)
}
