// Package httpz instruments net/http servers and clients.
//
// Middleware extracts the caller's Baggage from request headers, ensures a
// request id, and runs the handler inside a server span. Transport does the
// reverse for outgoing requests: it opens a client span and injects the
// Baggage into the request headers.
//
//	sys := instrumentz.NewSystem(
//		instrumentz.WithTracer(tracer),
//		instrumentz.WithPropagators(instrumentz.TraceContext{}, instrumentz.W3CBaggage{}),
//	)
//	handler := httpz.Middleware(sys)(mux)
//	client := &http.Client{Transport: httpz.NewTransport(sys, nil)}
package httpz

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zoobzio/instrumentz"
)

// HeaderRequestID is the default request id header.
const HeaderRequestID = "X-Request-ID"

// Span attribute keys.
const (
	MethodKey     = attribute.Key("http.request.method")
	PathKey       = attribute.Key("url.path")
	StatusCodeKey = attribute.Key("http.response.status_code")
	RequestIDKey  = attribute.Key("http.request_id")
)

// Option configures Middleware and Transport.
type Option func(*config)

type config struct {
	spanName        func(*http.Request) string
	requestIDHeader string
	newRequestID    func() string
}

func newConfig(opts []Option) *config {
	cfg := &config{
		spanName:        defaultSpanName,
		requestIDHeader: HeaderRequestID,
		newRequestID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithSpanNameFormatter overrides the "METHOD /path" span name.
func WithSpanNameFormatter(fn func(*http.Request) string) Option {
	return func(c *config) {
		if fn != nil {
			c.spanName = fn
		}
	}
}

// WithRequestIDHeader changes the request id header. An empty name disables request ids.
func WithRequestIDHeader(name string) Option {
	return func(c *config) {
		c.requestIDHeader = name
	}
}

// WithRequestIDGenerator replaces uuid.NewString for missing request ids.
func WithRequestIDGenerator(fn func() string) Option {
	return func(c *config) {
		if fn != nil {
			c.newRequestID = fn
		}
	}
}

func defaultSpanName(r *http.Request) string {
	return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
}

// Middleware returns server middleware that traces each request with sys.
// A nil sys uses the bootstrapped tracer and no extra propagation.
func Middleware(sys *instrumentz.System, opts ...Option) func(http.Handler) http.Handler {
	cfg := newConfig(opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := sys.Extract(r.Context(), instrumentz.HeaderCarrier(r.Header))

			attrs := []attribute.KeyValue{
				MethodKey.String(r.Method),
				PathKey.String(r.URL.Path),
			}
			if cfg.requestIDHeader != "" {
				b := instrumentz.BaggageFromContext(ctx)
				id, ok := instrumentz.RequestIDKey.Get(b)
				if header := r.Header.Get(cfg.requestIDHeader); header != "" {
					id, ok = header, true
				}
				if !ok || id == "" {
					id = cfg.newRequestID()
				}
				ctx = instrumentz.ContextWithBaggage(ctx, instrumentz.RequestIDKey.Set(b, id))
				w.Header().Set(cfg.requestIDHeader, id)
				attrs = append(attrs, RequestIDKey.String(id))
			}

			ctx, span := sys.Start(ctx, cfg.spanName(r),
				instrumentz.WithSpanKind(instrumentz.SpanKindServer),
				instrumentz.WithAttributes(attrs...))

			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			completed := false
			defer func() {
				if !completed {
					if rec := recover(); rec != nil {
						span.SetStatus(instrumentz.ErrorStatus(fmt.Sprint(rec)))
						span.End()
						panic(rec)
					}
				}
				span.SetAttributes(StatusCodeKey.Int(rw.status))
				if rw.status >= http.StatusInternalServerError {
					span.SetStatus(instrumentz.ErrorStatus(http.StatusText(rw.status)))
				}
				span.End()
			}()

			next.ServeHTTP(rw, r.WithContext(ctx))
			completed = true
		})
	}
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(p)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
