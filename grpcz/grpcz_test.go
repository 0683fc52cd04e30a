package grpcz_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/zoobzio/instrumentz"
	"github.com/zoobzio/instrumentz/grpcz"
)

const incoming = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSystem(t *testing.T) (*instrumentz.System, *instrumentz.MemoryTracer) {
	t.Helper()
	tracer := instrumentz.NewMemoryTracer(instrumentz.WithIDGenerator(&instrumentz.IncrementingIDs{}))
	t.Cleanup(tracer.Close)
	return instrumentz.NewSystem(
		instrumentz.WithTracer(tracer),
		instrumentz.WithPropagators(instrumentz.TraceContext{}, instrumentz.W3CBaggage{}),
	), tracer
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeServerStream) Context() context.Context { return s.ctx }

type fakeClientStream struct {
	grpc.ClientStream
	msgs int
}

func (s *fakeClientStream) RecvMsg(any) error {
	if s.msgs == 0 {
		return io.EOF
	}
	s.msgs--
	return nil
}

func TestMetadataCarrier(t *testing.T) {
	carrier := grpcz.MetadataCarrier(metadata.MD{})
	carrier.Set("Traceparent", incoming)
	carrier.Set("x-request-id", "r1")

	assert.Equal(t, incoming, carrier.Get("traceparent"))
	assert.Equal(t, "", carrier.Get("missing"))
	assert.Equal(t, []string{"traceparent", "x-request-id"}, carrier.Keys())

	b := instrumentz.TraceContext{}.Extract(carrier, instrumentz.Empty())
	sc, ok := instrumentz.SpanContextKey.Get(b)
	require.True(t, ok)
	assert.Equal(t, "00f067aa0ba902b7", sc.SpanID)
}

func TestUnaryServerContinuesTrace(t *testing.T) {
	sys, tracer := newSystem(t)
	interceptor := grpcz.UnaryServerInterceptor(sys, grpcz.WithRequestIDGenerator(func() string { return "gen-1" }))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("traceparent", incoming))
	info := &grpc.UnaryServerInfo{FullMethod: "/orders.v1.Orders/Get"}

	var requestID string
	resp, err := interceptor(ctx, "req", info, func(ctx context.Context, req any) (any, error) {
		requestID, _ = instrumentz.RequestIDKey.From(ctx)
		return "resp", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "resp", resp)
	assert.Equal(t, "gen-1", requestID)

	finished := tracer.FinishedSpans()
	require.Len(t, finished, 1)
	span := finished[0]
	assert.Equal(t, "/orders.v1.Orders/Get", span.Name)
	assert.Equal(t, instrumentz.SpanKindServer, span.Kind)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", span.SpanContext.TraceID)
	assert.Equal(t, "00f067aa0ba902b7", span.SpanContext.ParentSpanID)
	code, _ := span.Attribute(grpcz.StatusCodeKey)
	assert.Equal(t, int64(codes.OK), code.AsInt64())
	assert.Equal(t, instrumentz.StatusUnset, span.Status.Code)
}

func TestUnaryServerKeepsIncomingRequestID(t *testing.T) {
	sys, _ := newSystem(t)
	interceptor := grpcz.UnaryServerInterceptor(sys)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(grpcz.MetaRequestID, "abc-123"))
	var requestID string
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/M"}, func(ctx context.Context, _ any) (any, error) {
		requestID, _ = instrumentz.RequestIDKey.From(ctx)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", requestID)
}

func TestUnaryServerRecordsStatusErrors(t *testing.T) {
	sys, tracer := newSystem(t)
	interceptor := grpcz.UnaryServerInterceptor(sys)
	want := status.Error(codes.NotFound, "order 42 not found")

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/M"}, func(context.Context, any) (any, error) {
		return nil, want
	})
	assert.Equal(t, want, err, "handler error is returned unchanged")

	span := tracer.FinishedSpans()[0]
	assert.Equal(t, instrumentz.ErrorStatus("order 42 not found"), span.Status)
	code, _ := span.Attribute(grpcz.StatusCodeKey)
	assert.Equal(t, int64(codes.NotFound), code.AsInt64())
	require.Len(t, span.Errors, 1)
}

func TestUnaryServerPanicEndsSpan(t *testing.T) {
	sys, tracer := newSystem(t)
	interceptor := grpcz.UnaryServerInterceptor(sys)

	assert.PanicsWithValue(t, "boom", func() {
		_, _ = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/M"}, func(context.Context, any) (any, error) {
			panic("boom")
		})
	})
	require.Len(t, tracer.FinishedSpans(), 1)
	assert.Equal(t, instrumentz.ErrorStatus("boom"), tracer.FinishedSpans()[0].Status)
}

func TestStreamServerWrapsContext(t *testing.T) {
	sys, tracer := newSystem(t)
	interceptor := grpcz.StreamServerInterceptor(sys)

	ss := &fakeServerStream{ctx: metadata.NewIncomingContext(context.Background(), metadata.Pairs("traceparent", incoming))}
	err := interceptor(nil, ss, &grpc.StreamServerInfo{FullMethod: "/svc/Watch"}, func(_ any, stream grpc.ServerStream) error {
		span := instrumentz.SpanFromContext(stream.Context())
		assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", span.Context().TraceID)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, tracer.FinishedSpans(), 1)
}

func TestUnaryClientInjectsMetadata(t *testing.T) {
	sys, tracer := newSystem(t)
	interceptor := grpcz.UnaryClientInterceptor(sys)

	b, err := instrumentz.SetBaggageItem(instrumentz.RequestIDKey.Set(instrumentz.Empty(), "req-5"), "tenant", "acme")
	require.NoError(t, err)
	ctx := instrumentz.ContextWithBaggage(context.Background(), b)
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "token")

	var sent metadata.MD
	err = interceptor(ctx, "/svc/M", nil, nil, nil, func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		sent, _ = metadata.FromOutgoingContext(ctx)
		return nil
	})
	require.NoError(t, err)

	span := tracer.FinishedSpans()[0]
	assert.Equal(t, instrumentz.SpanKindClient, span.Kind)

	carrier := grpcz.MetadataCarrier(sent)
	assert.Equal(t, "token", carrier.Get("authorization"))
	assert.Equal(t, "req-5", carrier.Get(grpcz.MetaRequestID))
	assert.Contains(t, carrier.Get("baggage"), "tenant=acme")

	sc, ok := instrumentz.SpanContextKey.Get(instrumentz.TraceContext{}.Extract(carrier, instrumentz.Empty()))
	require.True(t, ok)
	assert.Equal(t, span.SpanContext.SpanID, sc.SpanID)
}

func TestUnaryClientRecordsFailure(t *testing.T) {
	sys, tracer := newSystem(t)
	interceptor := grpcz.UnaryClientInterceptor(sys)

	err := interceptor(context.Background(), "/svc/M", nil, nil, nil, func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
		return status.Error(codes.Unavailable, "no healthy upstream")
	})
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, instrumentz.ErrorStatus("no healthy upstream"), tracer.FinishedSpans()[0].Status)
}

func TestStreamClientEndsOnEOF(t *testing.T) {
	sys, tracer := newSystem(t)
	interceptor := grpcz.StreamClientInterceptor(sys)

	cs, err := interceptor(context.Background(), &grpc.StreamDesc{ServerStreams: true}, nil, "/svc/Watch",
		func(context.Context, *grpc.StreamDesc, *grpc.ClientConn, string, ...grpc.CallOption) (grpc.ClientStream, error) {
			return &fakeClientStream{msgs: 2}, nil
		})
	require.NoError(t, err)

	require.NoError(t, cs.RecvMsg(nil))
	require.NoError(t, cs.RecvMsg(nil))
	assert.Empty(t, tracer.FinishedSpans(), "span stays open while messages flow")
	assert.ErrorIs(t, cs.RecvMsg(nil), io.EOF)
	assert.ErrorIs(t, cs.RecvMsg(nil), io.EOF)

	finished := tracer.FinishedSpans()
	require.Len(t, finished, 1)
	assert.Equal(t, instrumentz.StatusUnset, finished[0].Status.Code)
}

func TestStreamClientOpenFailure(t *testing.T) {
	sys, tracer := newSystem(t)
	interceptor := grpcz.StreamClientInterceptor(sys)

	_, err := interceptor(context.Background(), &grpc.StreamDesc{}, nil, "/svc/Watch",
		func(context.Context, *grpc.StreamDesc, *grpc.ClientConn, string, ...grpc.CallOption) (grpc.ClientStream, error) {
			return nil, status.Error(codes.PermissionDenied, "denied")
		})
	require.Error(t, err)
	assert.Equal(t, instrumentz.ErrorStatus("denied"), tracer.FinishedSpans()[0].Status)
}

func TestClientServerRoundTrip(t *testing.T) {
	sys, tracer := newSystem(t)
	client := grpcz.UnaryClientInterceptor(sys)
	server := grpcz.UnaryServerInterceptor(sys)
	info := &grpc.UnaryServerInfo{FullMethod: "/svc/M"}

	err := client(context.Background(), "/svc/M", nil, nil, nil, func(ctx context.Context, _ string, req, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		_, err := server(metadata.NewIncomingContext(context.Background(), md), req, info, func(context.Context, any) (any, error) {
			return nil, nil
		})
		return err
	})
	require.NoError(t, err)

	finished := tracer.FinishedSpans()
	require.Len(t, finished, 2)
	srv, cli := finished[0], finished[1]
	assert.Equal(t, instrumentz.SpanKindServer, srv.Kind)
	assert.Equal(t, cli.SpanContext.TraceID, srv.SpanContext.TraceID)
	assert.Equal(t, cli.SpanContext.SpanID, srv.SpanContext.ParentSpanID)
}
