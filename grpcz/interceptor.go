package grpcz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/zoobzio/instrumentz"
)

// MetaRequestID is the metadata key that carries the request id.
const MetaRequestID = "x-request-id"

// Span attribute keys.
const (
	MethodKey     = attribute.Key("rpc.method")
	StatusCodeKey = attribute.Key("rpc.grpc.status_code")
	RequestIDKey  = attribute.Key("rpc.request_id")
)

// Option configures the interceptors.
type Option func(*config)

type config struct {
	newRequestID func() string
	requestIDKey string
}

func newConfig(opts []Option) *config {
	cfg := &config{
		newRequestID: uuid.NewString,
		requestIDKey: MetaRequestID,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithRequestIDKey changes the request id metadata key. An empty key disables request ids.
func WithRequestIDKey(key string) Option {
	return func(c *config) {
		c.requestIDKey = key
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

// UnaryServerInterceptor traces unary calls with sys.
func UnaryServerInterceptor(sys *instrumentz.System, opts ...Option) grpc.UnaryServerInterceptor {
	cfg := newConfig(opts)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		ctx, span := cfg.startServer(ctx, sys, info.FullMethod)
		defer func() {
			if r := recover(); r != nil {
				span.SetStatus(instrumentz.ErrorStatus(fmt.Sprint(r)))
				span.End()
				panic(r)
			}
			endSpan(span, err)
		}()
		return handler(ctx, req)
	}
}

// StreamServerInterceptor traces streaming calls with sys.
func StreamServerInterceptor(sys *instrumentz.System, opts ...Option) grpc.StreamServerInterceptor {
	cfg := newConfig(opts)

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		ctx, span := cfg.startServer(ss.Context(), sys, info.FullMethod)
		defer func() {
			if r := recover(); r != nil {
				span.SetStatus(instrumentz.ErrorStatus(fmt.Sprint(r)))
				span.End()
				panic(r)
			}
			endSpan(span, err)
		}()
		return handler(srv, &serverStream{ServerStream: ss, ctx: ctx})
	}
}

func (c *config) startServer(ctx context.Context, sys *instrumentz.System, method string) (context.Context, instrumentz.Span) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		md = metadata.MD{}
	}
	ctx = sys.Extract(ctx, MetadataCarrier(md))

	attrs := []attribute.KeyValue{MethodKey.String(method)}
	if c.requestIDKey != "" {
		b := instrumentz.BaggageFromContext(ctx)
		id := MetadataCarrier(md).Get(c.requestIDKey)
		if id == "" {
			id, _ = instrumentz.RequestIDKey.Get(b)
		}
		if id == "" {
			id = c.newRequestID()
		}
		ctx = instrumentz.ContextWithBaggage(ctx, instrumentz.RequestIDKey.Set(b, id))
		attrs = append(attrs, RequestIDKey.String(id))
	}

	return sys.Start(ctx, method,
		instrumentz.WithSpanKind(instrumentz.SpanKindServer),
		instrumentz.WithAttributes(attrs...))
}

// serverStream overrides Context so handlers see the extracted Baggage.
type serverStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *serverStream) Context() context.Context {
	return s.ctx
}

// UnaryClientInterceptor opens a client span and injects Baggage into the outgoing metadata.
func UnaryClientInterceptor(sys *instrumentz.System, opts ...Option) grpc.UnaryClientInterceptor {
	cfg := newConfig(opts)

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
		ctx, span := cfg.startClient(ctx, sys, method)
		err := invoker(ctx, method, req, reply, cc, callOpts...)
		endSpan(span, err)
		return err
	}
}

// StreamClientInterceptor is UnaryClientInterceptor for streams. The span ends
// when the stream fails to open or when RecvMsg reports the end of the stream.
func StreamClientInterceptor(sys *instrumentz.System, opts ...Option) grpc.StreamClientInterceptor {
	cfg := newConfig(opts)

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, callOpts ...grpc.CallOption) (grpc.ClientStream, error) {
		ctx, span := cfg.startClient(ctx, sys, method)
		cs, err := streamer(ctx, desc, cc, method, callOpts...)
		if err != nil {
			endSpan(span, err)
			return nil, err
		}
		return &clientStream{ClientStream: cs, span: span}, nil
	}
}

func (c *config) startClient(ctx context.Context, sys *instrumentz.System, method string) (context.Context, instrumentz.Span) {
	ctx, span := sys.Start(ctx, method,
		instrumentz.WithSpanKind(instrumentz.SpanKindClient),
		instrumentz.WithAttributes(MethodKey.String(method)))

	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}
	sys.Inject(ctx, MetadataCarrier(md))
	if c.requestIDKey != "" && len(md.Get(c.requestIDKey)) == 0 {
		if id, ok := instrumentz.RequestIDKey.From(ctx); ok && id != "" {
			md.Set(c.requestIDKey, id)
		}
	}
	return metadata.NewOutgoingContext(ctx, md), span
}

// clientStream ends the span once the stream is drained or fails.
type clientStream struct {
	grpc.ClientStream
	span instrumentz.Span
	once sync.Once
}

func (s *clientStream) RecvMsg(m any) error {
	err := s.ClientStream.RecvMsg(m)
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.finish(nil)
		} else {
			s.finish(err)
		}
	}
	return err
}

func (s *clientStream) finish(err error) {
	s.once.Do(func() { endSpan(s.span, err) })
}

func endSpan(span instrumentz.Span, err error) {
	code := status.Code(err)
	span.SetAttributes(StatusCodeKey.Int(int(code)))
	if err != nil && code != codes.OK {
		span.RecordError(err)
		span.SetStatus(instrumentz.ErrorStatus(status.Convert(err).Message()))
	}
	span.End()
}
