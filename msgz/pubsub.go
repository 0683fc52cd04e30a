package msgz

import (
	"context"
	"sort"

	"cloud.google.com/go/pubsub"

	"github.com/zoobzio/instrumentz"
)

// PubSubCarrier adapts the attributes of a Pub/Sub message.
type PubSubCarrier struct {
	Msg *pubsub.Message
}

// Get implements instrumentz.TextMapCarrier.
func (c PubSubCarrier) Get(key string) string {
	return c.Msg.Attributes[key]
}

// Set implements instrumentz.TextMapCarrier. It allocates Attributes when needed.
func (c PubSubCarrier) Set(key, value string) {
	if c.Msg.Attributes == nil {
		c.Msg.Attributes = make(map[string]string)
	}
	c.Msg.Attributes[key] = value
}

// Keys implements instrumentz.TextMapCarrier.
func (c PubSubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Msg.Attributes))
	for k := range c.Msg.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StartPubSubPublish opens a producer span for a message bound for topic and
// injects its Baggage into the message attributes.
func StartPubSubPublish(ctx context.Context, sys *instrumentz.System, topic string, msg *pubsub.Message) (context.Context, instrumentz.Span) {
	ctx, span := sys.Start(ctx, topic+" publish",
		instrumentz.WithSpanKind(instrumentz.SpanKindProducer),
		instrumentz.WithAttributes(
			SystemKey.String("gcp_pubsub"),
			DestinationKey.String(topic),
		))
	sys.Inject(ctx, PubSubCarrier{Msg: msg})
	return ctx, span
}

// StartPubSubReceive extracts the Baggage carried by msg and opens a consumer
// span for a message received on subscription.
func StartPubSubReceive(ctx context.Context, sys *instrumentz.System, subscription string, msg *pubsub.Message) (context.Context, instrumentz.Span) {
	ctx = sys.Extract(ctx, PubSubCarrier{Msg: msg})
	return sys.Start(ctx, subscription+" receive",
		instrumentz.WithSpanKind(instrumentz.SpanKindConsumer),
		instrumentz.WithAttributes(
			SystemKey.String("gcp_pubsub"),
			DestinationKey.String(subscription),
			MessageIDKey.String(msg.ID),
		))
}

var _ instrumentz.TextMapCarrier = PubSubCarrier{}
