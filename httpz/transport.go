package httpz

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zoobzio/instrumentz"
)

// Transport is an http.RoundTripper that runs each request in a client span
// and injects the request context's Baggage into the outgoing headers.
type Transport struct {
	base http.RoundTripper
	sys  *instrumentz.System
	cfg  *config
}

// NewTransport wraps base. A nil base means http.DefaultTransport.
func NewTransport(sys *instrumentz.System, base http.RoundTripper, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{base: base, sys: sys, cfg: newConfig(opts)}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	attrs := []attribute.KeyValue{
		MethodKey.String(req.Method),
		PathKey.String(req.URL.Path),
	}
	ctx, span := t.sys.Start(req.Context(), t.cfg.spanName(req),
		instrumentz.WithSpanKind(instrumentz.SpanKindClient),
		instrumentz.WithAttributes(attrs...))
	defer span.End()

	// RoundTrippers must not modify the caller's request.
	out := req.Clone(ctx)
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	t.sys.Inject(ctx, instrumentz.HeaderCarrier(out.Header))
	if t.cfg.requestIDHeader != "" && out.Header.Get(t.cfg.requestIDHeader) == "" {
		if id, ok := instrumentz.RequestIDKey.From(ctx); ok && id != "" {
			out.Header.Set(t.cfg.requestIDHeader, id)
		}
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(instrumentz.ErrorStatus(err.Error()))
		return nil, err
	}

	span.SetAttributes(StatusCodeKey.Int(resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(instrumentz.ErrorStatus(http.StatusText(resp.StatusCode)))
	}
	return resp, nil
}

var _ http.RoundTripper = (*Transport)(nil)
