package otelz

import (
	"context"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoobzio/instrumentz"
)

// ToSpanContext converts a SpanContext into its OpenTelemetry form.
// It reports false when the ids are not valid W3C ids.
func ToSpanContext(sc instrumentz.SpanContext) (trace.SpanContext, bool) {
	traceID, err := trace.TraceIDFromHex(sc.TraceID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(sc.SpanID)
	if err != nil {
		return trace.SpanContext{}, false
	}
	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.TraceFlags(sc.TraceFlags),
		Remote:     sc.Remote,
	}), true
}

// FromSpanContext converts an OpenTelemetry span context. parentSpanID may be empty.
func FromSpanContext(sc trace.SpanContext, parentSpanID string) instrumentz.SpanContext {
	return instrumentz.SpanContext{
		TraceID:      sc.TraceID().String(),
		SpanID:       sc.SpanID().String(),
		ParentSpanID: parentSpanID,
		TraceFlags:   instrumentz.TraceFlags(sc.TraceFlags()),
		Remote:       sc.IsRemote(),
	}
}

// ContextFromBaggage builds an OpenTelemetry context carrying the span
// context, tracestate and W3C baggage members found in b.
func ContextFromBaggage(ctx context.Context, b instrumentz.Baggage) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if sc, ok := instrumentz.SpanContextKey.Get(b); ok {
		if osc, ok := ToSpanContext(sc); ok {
			if raw, ok := instrumentz.TraceStateKey.Get(b); ok {
				if ts, err := trace.ParseTraceState(raw); err == nil {
					osc = osc.WithTraceState(ts)
				}
			}
			ctx = trace.ContextWithSpanContext(ctx, osc)
		}
	}
	if items, ok := instrumentz.BaggageItemsKey.Get(b); ok && items.Len() > 0 {
		ctx = baggage.ContextWithBaggage(ctx, items)
	}
	return ctx
}

// BaggageFromContext returns b with the span context, tracestate and W3C
// baggage members of an OpenTelemetry context stored in it.
func BaggageFromContext(ctx context.Context, b instrumentz.Baggage) instrumentz.Baggage {
	osc := trace.SpanContextFromContext(ctx)
	if osc.IsValid() {
		b = instrumentz.SpanContextKey.Set(b, FromSpanContext(osc, ""))
		if ts := osc.TraceState(); ts.Len() > 0 {
			b = instrumentz.TraceStateKey.Set(b, ts.String())
		}
	}
	if items := baggage.FromContext(ctx); items.Len() > 0 {
		b = instrumentz.BaggageItemsKey.Set(b, items)
	}
	return b
}

func spanKind(k instrumentz.SpanKind) trace.SpanKind {
	switch k {
	case instrumentz.SpanKindServer:
		return trace.SpanKindServer
	case instrumentz.SpanKindClient:
		return trace.SpanKindClient
	case instrumentz.SpanKindProducer:
		return trace.SpanKindProducer
	case instrumentz.SpanKindConsumer:
		return trace.SpanKindConsumer
	default:
		return trace.SpanKindInternal
	}
}

func statusCode(c instrumentz.StatusCode) codes.Code {
	switch c {
	case instrumentz.StatusOK:
		return codes.Ok
	case instrumentz.StatusError:
		return codes.Error
	default:
		return codes.Unset
	}
}

func links(in []instrumentz.SpanLink) []trace.Link {
	out := make([]trace.Link, 0, len(in))
	for _, l := range in {
		sc, ok := l.SpanContext()
		if !ok {
			continue
		}
		osc, ok := ToSpanContext(sc)
		if !ok {
			continue
		}
		out = append(out, trace.Link{SpanContext: osc, Attributes: l.Attributes})
	}
	return out
}
