// Package msgz carries instrumentz Baggage in message headers.
//
// The carriers adapt Kafka record headers (IBM/sarama) and Google Pub/Sub
// attributes to instrumentz.TextMapCarrier. The Start helpers open a
// producer or consumer span and move the Baggage in or out of the message.
package msgz

import (
	"bytes"
	"context"
	"sort"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zoobzio/instrumentz"
)

// Span attribute keys.
const (
	SystemKey      = attribute.Key("messaging.system")
	DestinationKey = attribute.Key("messaging.destination.name")
	PartitionKey   = attribute.Key("messaging.kafka.destination.partition")
	OffsetKey      = attribute.Key("messaging.kafka.message.offset")
	MessageIDKey   = attribute.Key("messaging.message.id")
)

// SaramaProducerCarrier adapts the headers of an outgoing Kafka message.
type SaramaProducerCarrier struct {
	Msg *sarama.ProducerMessage
}

// Get returns the last header value stored under key.
func (c SaramaProducerCarrier) Get(key string) string {
	for i := len(c.Msg.Headers) - 1; i >= 0; i-- {
		if string(c.Msg.Headers[i].Key) == key {
			return string(c.Msg.Headers[i].Value)
		}
	}
	return ""
}

// Set replaces every header stored under key.
func (c SaramaProducerCarrier) Set(key, value string) {
	kept := make([]sarama.RecordHeader, 0, len(c.Msg.Headers)+1)
	for _, h := range c.Msg.Headers {
		if !bytes.Equal(h.Key, []byte(key)) {
			kept = append(kept, h)
		}
	}
	c.Msg.Headers = append(kept, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

// Keys implements instrumentz.TextMapCarrier.
func (c SaramaProducerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Msg.Headers))
	for _, h := range c.Msg.Headers {
		keys = append(keys, string(h.Key))
	}
	return uniqueSorted(keys)
}

// SaramaConsumerCarrier adapts the headers of a consumed Kafka message.
type SaramaConsumerCarrier struct {
	Msg *sarama.ConsumerMessage
}

// Get returns the last header value stored under key.
func (c SaramaConsumerCarrier) Get(key string) string {
	for i := len(c.Msg.Headers) - 1; i >= 0; i-- {
		if h := c.Msg.Headers[i]; h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set replaces every header stored under key.
func (c SaramaConsumerCarrier) Set(key, value string) {
	kept := make([]*sarama.RecordHeader, 0, len(c.Msg.Headers)+1)
	for _, h := range c.Msg.Headers {
		if h != nil && !bytes.Equal(h.Key, []byte(key)) {
			kept = append(kept, h)
		}
	}
	c.Msg.Headers = append(kept, &sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

// Keys implements instrumentz.TextMapCarrier.
func (c SaramaConsumerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Msg.Headers))
	for _, h := range c.Msg.Headers {
		if h != nil {
			keys = append(keys, string(h.Key))
		}
	}
	return uniqueSorted(keys)
}

// StartKafkaProducer opens a producer span for msg and injects its Baggage
// into the message headers. End the span once the broker acknowledges.
func StartKafkaProducer(ctx context.Context, sys *instrumentz.System, msg *sarama.ProducerMessage) (context.Context, instrumentz.Span) {
	ctx, span := sys.Start(ctx, msg.Topic+" publish",
		instrumentz.WithSpanKind(instrumentz.SpanKindProducer),
		instrumentz.WithAttributes(
			SystemKey.String("kafka"),
			DestinationKey.String(msg.Topic),
		))
	sys.Inject(ctx, SaramaProducerCarrier{Msg: msg})
	return ctx, span
}

// StartKafkaConsumer extracts the Baggage carried by msg and opens a consumer span under it.
func StartKafkaConsumer(ctx context.Context, sys *instrumentz.System, msg *sarama.ConsumerMessage) (context.Context, instrumentz.Span) {
	ctx = sys.Extract(ctx, SaramaConsumerCarrier{Msg: msg})
	return sys.Start(ctx, msg.Topic+" process",
		instrumentz.WithSpanKind(instrumentz.SpanKindConsumer),
		instrumentz.WithAttributes(
			SystemKey.String("kafka"),
			DestinationKey.String(msg.Topic),
			PartitionKey.Int64(int64(msg.Partition)),
			OffsetKey.Int64(msg.Offset),
		))
}

func uniqueSorted(keys []string) []string {
	sort.Strings(keys)
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			out = append(out, k)
		}
	}
	return out
}

var (
	_ instrumentz.TextMapCarrier = SaramaProducerCarrier{}
	_ instrumentz.TextMapCarrier = SaramaConsumerCarrier{}
)
