package msgz_test

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/zoobzio/instrumentz"
	"github.com/zoobzio/instrumentz/msgz"
)

func TestMain(m *testing.M) {
	// The Pub/Sub client library starts the OpenCensus view worker at init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func newSystem(t *testing.T) (*instrumentz.System, *instrumentz.MemoryTracer) {
	t.Helper()
	tracer := instrumentz.NewMemoryTracer(instrumentz.WithIDGenerator(&instrumentz.IncrementingIDs{}))
	t.Cleanup(tracer.Close)
	return instrumentz.NewSystem(
		instrumentz.WithTracer(tracer),
		instrumentz.WithPropagators(
			instrumentz.TraceContext{},
			instrumentz.W3CBaggage{},
			instrumentz.NewFieldPropagator(instrumentz.Field{Name: "x-request-id", Key: instrumentz.RequestIDKey}),
		),
	), tracer
}

func TestSaramaProducerCarrier(t *testing.T) {
	msg := &sarama.ProducerMessage{Headers: []sarama.RecordHeader{
		{Key: []byte("content-type"), Value: []byte("json")},
		{Key: []byte("traceparent"), Value: []byte("stale")},
	}}
	carrier := msgz.SaramaProducerCarrier{Msg: msg}

	carrier.Set("traceparent", "fresh")
	assert.Equal(t, "fresh", carrier.Get("traceparent"))
	assert.Equal(t, "json", carrier.Get("content-type"))
	assert.Equal(t, "", carrier.Get("missing"))
	assert.Equal(t, []string{"content-type", "traceparent"}, carrier.Keys())
	assert.Len(t, msg.Headers, 2, "Set replaces rather than appends")
}

func TestSaramaProducerCarrierSharedHeaders(t *testing.T) {
	shared := []sarama.RecordHeader{
		{Key: []byte("traceparent"), Value: []byte("stale")},
		{Key: []byte("content-type"), Value: []byte("json")},
	}
	first := &sarama.ProducerMessage{Headers: shared}
	second := &sarama.ProducerMessage{Headers: shared}

	msgz.SaramaProducerCarrier{Msg: first}.Set("traceparent", "fresh")

	assert.Equal(t, "fresh", msgz.SaramaProducerCarrier{Msg: first}.Get("traceparent"))
	assert.Equal(t, "stale", msgz.SaramaProducerCarrier{Msg: second}.Get("traceparent"))
	assert.Equal(t, "json", msgz.SaramaProducerCarrier{Msg: second}.Get("content-type"))
	assert.Equal(t, []byte("traceparent"), shared[0].Key, "the shared backing array is untouched")
	assert.Equal(t, []byte("content-type"), shared[1].Key)
}

func TestSaramaConsumerCarrier(t *testing.T) {
	msg := &sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{
		{Key: []byte("a"), Value: []byte("1")},
		nil,
		{Key: []byte("a"), Value: []byte("2")},
	}}
	carrier := msgz.SaramaConsumerCarrier{Msg: msg}

	assert.Equal(t, "2", carrier.Get("a"), "last header wins")
	assert.Equal(t, []string{"a"}, carrier.Keys())

	carrier.Set("b", "3")
	assert.Equal(t, "3", carrier.Get("b"))
	assert.Equal(t, []string{"a", "b"}, carrier.Keys())
}

func TestPubSubCarrier(t *testing.T) {
	msg := &pubsub.Message{}
	carrier := msgz.PubSubCarrier{Msg: msg}

	assert.Equal(t, "", carrier.Get("x"))
	assert.Empty(t, carrier.Keys())

	carrier.Set("x", "1")
	carrier.Set("a", "2")
	assert.Equal(t, "1", msg.Attributes["x"])
	assert.Equal(t, []string{"a", "x"}, carrier.Keys())
}

func TestKafkaProduceConsume(t *testing.T) {
	sys, tracer := newSystem(t)

	ctx := instrumentz.ContextWithBaggage(context.Background(), instrumentz.RequestIDKey.Set(instrumentz.Empty(), "req-77"))
	out := &sarama.ProducerMessage{Topic: "orders", Value: sarama.StringEncoder("{}")}
	_, producer := msgz.StartKafkaProducer(ctx, sys, out)
	producer.End()

	// What the broker hands the consumer.
	in := &sarama.ConsumerMessage{Topic: "orders", Partition: 3, Offset: 99}
	for _, h := range out.Headers {
		in.Headers = append(in.Headers, &h)
	}

	var requestID string
	consumeCtx, consumer := msgz.StartKafkaConsumer(context.Background(), sys, in)
	requestID, _ = instrumentz.RequestIDKey.From(consumeCtx)
	consumer.End()

	assert.Equal(t, "req-77", requestID)

	finished := tracer.FinishedSpans()
	require.Len(t, finished, 2)
	p, c := finished[0], finished[1]
	assert.Equal(t, "orders publish", p.Name)
	assert.Equal(t, instrumentz.SpanKindProducer, p.Kind)
	assert.Equal(t, "orders process", c.Name)
	assert.Equal(t, instrumentz.SpanKindConsumer, c.Kind)
	assert.Equal(t, p.SpanContext.TraceID, c.SpanContext.TraceID)
	assert.Equal(t, p.SpanContext.SpanID, c.SpanContext.ParentSpanID)

	offset, ok := c.Attribute(msgz.OffsetKey)
	require.True(t, ok)
	assert.Equal(t, int64(99), offset.AsInt64())
	partition, _ := c.Attribute(msgz.PartitionKey)
	assert.Equal(t, int64(3), partition.AsInt64())
}

func TestPubSubPublishReceive(t *testing.T) {
	sys, tracer := newSystem(t)

	msg := &pubsub.Message{ID: "m-1", Data: []byte("hello")}
	_, publish := msgz.StartPubSubPublish(context.Background(), sys, "events", msg)
	publish.End()

	require.NotEmpty(t, msg.Attributes["traceparent"])

	_, receive := msgz.StartPubSubReceive(context.Background(), sys, "events-sub", msg)
	receive.End()

	finished := tracer.FinishedSpans()
	require.Len(t, finished, 2)
	assert.Equal(t, finished[0].SpanContext.SpanID, finished[1].SpanContext.ParentSpanID)
	id, _ := finished[1].Attribute(msgz.MessageIDKey)
	assert.Equal(t, "m-1", id.AsString())
}

func TestConsumerWithoutHeadersStartsNewTrace(t *testing.T) {
	sys, tracer := newSystem(t)

	_, span := msgz.StartKafkaConsumer(context.Background(), sys, &sarama.ConsumerMessage{Topic: "orders"})
	span.End()

	assert.True(t, tracer.FinishedSpans()[0].SpanContext.IsRoot())
}
