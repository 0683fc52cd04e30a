package instrumentz

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Log attribute keys added by LogHandler.
const (
	LogTraceIDKey  = "trace_id"
	LogSpanIDKey   = "span_id"
	LogBaggageKey  = "baggage"
	maxEnrichAttrs = 3
)

// LogHandler decorates records with the trace identity and printable metadata
// of the ambient Baggage.
type LogHandler struct {
	next slog.Handler
}

// NewLogHandler wraps next. A nil next discards every record.
func NewLogHandler(next slog.Handler) *LogHandler {
	if next == nil {
		next = discardHandler{}
	}
	return &LogHandler{next: next}
}

// Enabled implements slog.Handler.
func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	b := BaggageFromContext(ctx)
	if b.IsEmpty() {
		return h.next.Handle(ctx, r)
	}

	var buf [maxEnrichAttrs]slog.Attr
	attrs := buf[:0]
	if sc, ok := SpanContextKey.Get(b); ok {
		attrs = append(attrs, slog.String(LogTraceIDKey, sc.TraceID), slog.String(LogSpanIDKey, sc.SpanID))
	}
	if md, ok := printableWithout(b, SpanContextKey.Name()); ok {
		attrs = append(attrs, slog.Attr{Key: LogBaggageKey, Value: md})
	}
	if len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{next: h.next.WithAttrs(attrs)}
}

// WithGroup implements slog.Handler.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{next: h.next.WithGroup(name)}
}

func printableWithout(b Baggage, skip string) (slog.Value, bool) {
	md := b.PrintableMetadata()
	delete(md, skip)
	if len(md) == 0 {
		return slog.Value{}, false
	}
	names := make([]string, 0, len(md))
	for name := range md {
		names = append(names, name)
	}
	sort.Strings(names)
	attrs := make([]slog.Attr, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, slog.String(name, md[name]))
	}
	return slog.GroupValue(attrs...), true
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}

var _ slog.Handler = (*LogHandler)(nil)
