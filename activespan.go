package instrumentz

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// Exception event name and attribute keys, following OpenTelemetry conventions.
const (
	ExceptionEventName = "exception"

	ExceptionTypeKey    = attribute.Key("exception.type")
	ExceptionMessageKey = attribute.Key("exception.message")
)

// FinishedSpan is the immutable record of an ended span.
//
//nolint:govet // Field order follows the span lifecycle
type FinishedSpan struct {
	Name        string
	Kind        SpanKind
	SpanContext SpanContext
	Baggage     Baggage
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Attributes  map[attribute.Key]attribute.Value
	Events      []SpanEvent
	Links       []SpanLink
	Errors      []error
	Status      Status
}

// Attribute returns the value of key.
func (f FinishedSpan) Attribute(key attribute.Key) (attribute.Value, bool) {
	v, ok := f.Attributes[key]
	return v, ok
}

// clone deep-copies the slices and map so the copy can be handed out freely.
func (f FinishedSpan) clone() FinishedSpan {
	out := f
	if f.Attributes != nil {
		out.Attributes = make(map[attribute.Key]attribute.Value, len(f.Attributes))
		for k, v := range f.Attributes {
			out.Attributes[k] = v
		}
	}
	out.Events = append([]SpanEvent(nil), f.Events...)
	out.Links = append([]SpanLink(nil), f.Links...)
	out.Errors = append([]error(nil), f.Errors...)
	return out
}

// ActiveSpan is the recording span produced by MemoryTracer.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type ActiveSpan struct {
	tracer    *MemoryTracer
	baggage   Baggage
	sc        SpanContext
	name      string
	kind      SpanKind
	start     time.Time
	end       time.Time
	attrs     map[attribute.Key]attribute.Value
	events    []SpanEvent
	links     []SpanLink
	errs      []error
	status    Status
	mu        sync.Mutex // Guards everything below the identity fields.
	ended     bool
	recording bool
}

// Baggage implements Span.
func (a *ActiveSpan) Baggage() Baggage { return a.baggage }

// Context implements Span.
func (a *ActiveSpan) Context() SpanContext { return a.sc }

// OperationName implements Span.
func (a *ActiveSpan) OperationName() string { return a.name }

// Kind implements Span.
func (a *ActiveSpan) Kind() SpanKind { return a.kind }

// StartTime implements Span.
func (a *ActiveSpan) StartTime() time.Time { return a.start }

// EndTime implements Span.
func (a *ActiveSpan) EndTime() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.end, a.ended
}

// SetAttributes implements Span. Invalid attributes are skipped.
func (a *ActiveSpan) SetAttributes(attrs ...attribute.KeyValue) {
	if len(attrs) == 0 {
		return
	}
	a.mutate("set_attributes", func() {
		for _, kv := range attrs {
			if !kv.Valid() {
				continue
			}
			if a.attrs == nil {
				a.attrs = make(map[attribute.Key]attribute.Value, len(attrs))
			}
			a.attrs[kv.Key] = kv.Value
			a.recording = true
		}
	})
}

// Attributes implements Span.
func (a *ActiveSpan) Attributes() map[attribute.Key]attribute.Value {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[attribute.Key]attribute.Value, len(a.attrs))
	for k, v := range a.attrs {
		out[k] = v
	}
	return out
}

// AddEvent implements Span. A zero timestamp is stamped with the tracer's clock.
func (a *ActiveSpan) AddEvent(event SpanEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = a.tracer.clock.Now()
	}
	a.mutate("add_event", func() {
		a.events = append(a.events, event)
		a.recording = true
	})
}

// AddLink implements Span.
func (a *ActiveSpan) AddLink(link SpanLink) {
	a.mutate("add_link", func() {
		a.links = append(a.links, link)
		a.recording = true
	})
}

// SetStatus implements Span.
func (a *ActiveSpan) SetStatus(status Status) {
	if status.Code != StatusError {
		status.Description = ""
	}
	a.mutate("set_status", func() {
		a.status = status
		if status.Code != StatusUnset {
			a.recording = true
		}
	})
}

// RecordError implements Span.
func (a *ActiveSpan) RecordError(err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}
	event := SpanEvent{
		Name:      ExceptionEventName,
		Timestamp: a.tracer.clock.Now(),
		Attributes: append([]attribute.KeyValue{
			ExceptionTypeKey.String(errorType(err)),
			ExceptionMessageKey.String(err.Error()),
		}, attrs...),
	}
	a.mutate("record_error", func() {
		a.errs = append(a.errs, err)
		a.events = append(a.events, event)
		a.recording = true
	})
}

// IsRecording implements Span.
func (a *ActiveSpan) IsRecording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recording
}

// Status returns the current status.
func (a *ActiveSpan) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Events returns a copy of the recorded events.
func (a *ActiveSpan) Events() []SpanEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]SpanEvent(nil), a.events...)
}

// Links returns a copy of the recorded links.
func (a *ActiveSpan) Links() []SpanLink {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]SpanLink(nil), a.links...)
}

// IsEnded reports whether the span has ended.
func (a *ActiveSpan) IsEnded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ended
}

// End implements Span.
func (a *ActiveSpan) End() {
	a.EndAt(a.tracer.clock.Now())
}

// EndAt implements Span. Only the first call has an effect; later calls are
// usage errors handled by the current UsagePolicy.
func (a *ActiveSpan) EndAt(t time.Time) {
	a.mu.Lock()
	if a.ended {
		a.mu.Unlock()
		ReportUsage(ErrSpanAlreadyEnded,
			slog.String("span", a.name),
			slog.String("trace_id", a.sc.TraceID),
			slog.String("span_id", a.sc.SpanID))
		return
	}
	a.ended = true
	a.end = t
	finished := FinishedSpan{
		Name:        a.name,
		Kind:        a.kind,
		SpanContext: a.sc,
		Baggage:     a.baggage,
		StartTime:   a.start,
		EndTime:     t,
		Duration:    t.Sub(a.start),
		Attributes:  a.attrs,
		Events:      a.events,
		Links:       a.links,
		Errors:      a.errs,
		Status:      a.status,
	}.clone()
	a.mu.Unlock()

	a.tracer.finish(a, finished)
}

// mutate runs fn under the lock unless the span has ended.
// Mutations after end are dropped and logged at debug level.
func (a *ActiveSpan) mutate(op string, fn func()) {
	a.mu.Lock()
	if !a.ended {
		fn()
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	Logger().Debug(ErrSpanMutatedAfterEnd.Error(),
		slog.String("op", op),
		slog.String("span", a.name),
		slog.String("span_id", a.sc.SpanID))
}

func errorType(err error) string {
	t := reflect.TypeOf(err)
	if t.PkgPath() == "" && t.Name() == "" {
		return t.String()
	}
	return fmt.Sprintf("%s.%s", t.PkgPath(), t.Name())
}

var _ Span = (*ActiveSpan)(nil)
