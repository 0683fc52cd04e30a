package instrumentz

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogHandlerEnrichesRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(slog.NewTextHandler(&buf, nil)))

	b := SpanContextKey.Set(Empty(), SpanContext{TraceID: testTraceID, SpanID: testSpanID})
	b = TraceIDKey.Set(b, "abc123")
	ctx := ContextWithBaggage(context.Background(), b)

	logger.InfoContext(ctx, "handled")

	out := buf.String()
	assert.Contains(t, out, "trace_id="+testTraceID)
	assert.Contains(t, out, "span_id="+testSpanID)
	assert.Contains(t, out, "baggage.trace-id=abc123")
	assert.NotContains(t, out, "baggage.span-context")
}

func TestLogHandlerWithoutBaggage(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLogHandler(slog.NewTextHandler(&buf, nil))).With("service", "api").WithGroup("req")

	logger.InfoContext(context.Background(), "plain", "id", 1)

	out := buf.String()
	assert.Contains(t, out, "service=api")
	assert.Contains(t, out, "req.id=1")
	assert.NotContains(t, out, "trace_id")
}

func TestLogHandlerNilNext(t *testing.T) {
	h := NewLogHandler(nil)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.NoError(t, h.Handle(context.Background(), slog.Record{}))
}

func TestSetLoggerNilSilences(t *testing.T) {
	prev := Logger()
	t.Cleanup(func() { SetLogger(prev) })

	SetLogger(nil)
	assert.False(t, Logger().Enabled(context.Background(), slog.LevelError))
}
