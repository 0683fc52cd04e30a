package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/zoobzio/instrumentz"
)

// DefaultKeys are the baggage keys fields entries can name without WithKeys.
var DefaultKeys = []instrumentz.Key[string]{
	instrumentz.RequestIDKey,
	instrumentz.TraceIDKey,
}

// Option adjusts what Settings.NewSystem builds beyond the settings themselves.
type Option func(*options)

type options struct {
	keys      []instrumentz.Key[string]
	exporters []instrumentz.Exporter
}

// WithKeys makes keys available to fields entries, alongside DefaultKeys.
func WithKeys(keys ...instrumentz.Key[string]) Option {
	return func(o *options) {
		o.keys = append(o.keys, keys...)
	}
}

// WithExporters attaches exporters that receive the collector's spans on
// ForceFlush and on Shutdown.
func WithExporters(exporters ...instrumentz.Exporter) Option {
	return func(o *options) {
		o.exporters = append(o.exporters, exporters...)
	}
}

// NewSystem builds a MemoryTracer and a System from s.
//
// The configured propagators run through a Multiplex in the listed order. The
// System propagates through the tracer, so the tracer records every boundary
// Inject and Extract. Fields entries resolve their key by name against
// DefaultKeys and WithKeys. The caller owns the returned tracer and should
// Close it, or call System.Shutdown.
func (s Settings) NewSystem(opts ...Option) (*instrumentz.System, *instrumentz.MemoryTracer, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	propagators, err := s.propagators(o.keys)
	if err != nil {
		return nil, nil, err
	}

	tracerOpts := []instrumentz.MemoryTracerOption{
		instrumentz.WithPropagator(instrumentz.NewMultiplex(propagators)),
		instrumentz.WithExporters(o.exporters...),
	}
	if s.Collector.Enabled {
		name := s.ServiceName
		if name == "" {
			name = "default"
		}
		size := s.Collector.BufferSize
		if size == 0 {
			size = defaultBufferSize
		}
		tracerOpts = append(tracerOpts, instrumentz.WithCollector(instrumentz.NewCollector(name, size)))
	}

	tracer := instrumentz.NewMemoryTracer(tracerOpts...)
	if s.Handlers.Workers > 0 {
		queue := s.Handlers.QueueSize
		if queue == 0 {
			queue = s.Handlers.Workers * 64
		}
		if err := tracer.EnableWorkerPool(s.Handlers.Workers, queue); err != nil {
			tracer.Close()
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}

	return instrumentz.NewSystem(instrumentz.WithTracer(tracer)), tracer, nil
}

// UsagePolicy returns UsagePanic for strict settings and UsageLog otherwise.
func (s Settings) UsagePolicy() instrumentz.UsagePolicy {
	if s.Strict {
		return instrumentz.UsagePanic
	}
	return instrumentz.UsageLog
}

// ApplyGlobals sets the process-wide usage policy and, when LogLevel is set,
// the package logger, writing text records to w.
func (s Settings) ApplyGlobals(w io.Writer) error {
	instrumentz.SetUsagePolicy(s.UsagePolicy())
	if s.LogLevel == "" {
		return nil
	}
	level, err := parseLevel(s.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	if s.ServiceName != "" {
		logger = logger.With(slog.String("service", s.ServiceName))
	}
	instrumentz.SetLogger(logger)
	return nil
}

func (s Settings) propagators(keys []instrumentz.Key[string]) ([]instrumentz.TextMapPropagator, error) {
	out := make([]instrumentz.TextMapPropagator, 0, len(s.Propagators))
	for _, name := range s.Propagators {
		switch strings.ToLower(name) {
		case PropagatorTraceContext:
			out = append(out, instrumentz.TraceContext{})
		case PropagatorBaggage:
			out = append(out, instrumentz.W3CBaggage{})
		case PropagatorFields:
			p, err := s.fieldPropagator(keys)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownPropagator, name)
		}
	}
	return out, nil
}

func (s Settings) fieldPropagator(keys []instrumentz.Key[string]) (*instrumentz.FieldPropagator, error) {
	byName := make(map[string]instrumentz.Key[string], len(DefaultKeys)+len(keys))
	for _, k := range DefaultKeys {
		byName[k.Name()] = k
	}
	for _, k := range keys {
		byName[k.Name()] = k
	}

	fields := make([]instrumentz.Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		key, ok := byName[f.Key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKey, f.Key)
		}
		fields = append(fields, instrumentz.Field{Name: f.Header, Key: key})
	}
	return instrumentz.NewFieldPropagator(fields...), nil
}
