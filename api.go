// Package instrumentz provides a vendor-neutral tracing instrumentation core.
//
// Libraries record tracing data against the Tracer and Span interfaces and
// move request-scoped values across process boundaries with propagators,
// without binding to a tracing backend.
//
// Core Components:
//   - Key and Baggage: typed, value-semantic request-scoped storage.
//   - Propagator and Multiplex: inject/extract Baggage through carriers.
//   - Tracer and Span: span lifecycle behind a backend-neutral interface.
//   - MemoryTracer: in-memory tracer with handlers, collector and exporters.
//   - System and Bootstrap: explicit or process-wide tracer wiring.
//
// Basic Usage:
//
//	tracer := instrumentz.NewMemoryTracer()
//	defer tracer.Close()
//
//	err := instrumentz.WithSpan(ctx, tracer, "operation-name", func(ctx context.Context, span instrumentz.Span) error {
//		span.SetAttributes(attribute.String("user.id", "123"))
//		return doWork(ctx)
//	})
//
// Baggage:
//
// Values are stored under typed keys declared once per process:
//
//	var TenantKey = instrumentz.NewKey[string]("tenant")
//
//	b := TenantKey.Set(instrumentz.Empty(), "acme")
//	tenant, ok := TenantKey.Get(b)
//
// Every mutation returns a new Baggage, so a Baggage can be shared between
// goroutines without locking.
//
// Propagation:
//
// TraceContext, W3CBaggage and FieldPropagator cover the W3C trace context,
// the W3C baggage header and verbatim header fields. NewMultiplex chains them
// and isolates a failing component from the rest.
//
// Thread Safety:
//
// Tracers, spans, collectors and Systems are safe for concurrent use.
//
// Resource Cleanup:
//
// Call MemoryTracer.Close or System.Shutdown to stop background goroutines.
package instrumentz
