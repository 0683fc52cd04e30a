package instrumentz

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
)

// UsagePolicy controls how programmer misuse is handled.
type UsagePolicy int32

const (
	// UsageLog logs misuse and carries on. This is the default.
	UsageLog UsagePolicy = iota
	// UsagePanic panics on misuse. Meant for development and tests.
	UsagePanic
)

// String implements fmt.Stringer.
func (p UsagePolicy) String() string {
	switch p {
	case UsagePanic:
		return "panic"
	default:
		return "log"
	}
}

var (
	usagePolicy   atomic.Int32
	packageLogger atomic.Pointer[slog.Logger]
)

// SetUsagePolicy changes the process-wide usage policy.
func SetUsagePolicy(p UsagePolicy) {
	usagePolicy.Store(int32(p))
}

// CurrentUsagePolicy returns the process-wide usage policy.
func CurrentUsagePolicy() UsagePolicy {
	return UsagePolicy(usagePolicy.Load())
}

// SetLogger replaces the logger used for usage errors and propagation faults.
// A nil logger silences the package.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(discardHandler{})
	}
	packageLogger.Store(l)
}

// Logger returns the package logger.
func Logger() *slog.Logger {
	if l := packageLogger.Load(); l != nil {
		return l
	}
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if packageLogger.CompareAndSwap(nil, l) {
		return l
	}
	return packageLogger.Load()
}

// ReportUsage applies the usage policy to err.
func ReportUsage(err error, attrs ...slog.Attr) {
	if CurrentUsagePolicy() == UsagePanic {
		panic(err)
	}
	Logger().LogAttrs(context.Background(), slog.LevelWarn, err.Error(), attrs...)
}

// discardHandler drops every record.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
