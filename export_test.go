package instrumentz

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
)

// ResetBootstrap forgets the process-wide tracer.
func ResetBootstrap() {
	globalTracer.Store(nil)
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// CaptureLogs routes the package logger into a buffer at debug level until the test ends.
func CaptureLogs(tb testing.TB) interface{ String() string } {
	tb.Helper()
	prev := Logger()
	buf := &syncBuffer{}
	SetLogger(slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	tb.Cleanup(func() { SetLogger(prev) })
	return buf
}

// StrictUsage switches to UsagePanic until the test ends.
func StrictUsage(tb testing.TB) {
	tb.Helper()
	prev := CurrentUsagePolicy()
	SetUsagePolicy(UsagePanic)
	tb.Cleanup(func() { SetUsagePolicy(prev) })
}
