// Package grpcz carries instrumentz Baggage across gRPC calls.
//
// MetadataCarrier lets any TextMapPropagator read and write gRPC metadata.
// The interceptors extract on the server side and inject on the client side,
// running each call inside a span.
package grpcz

import (
	"sort"

	"google.golang.org/grpc/metadata"

	"github.com/zoobzio/instrumentz"
)

// MetadataCarrier adapts metadata.MD. Keys are lowercased by the metadata package.
type MetadataCarrier metadata.MD

// Get returns the first value stored under key.
func (c MetadataCarrier) Get(key string) string {
	values := metadata.MD(c).Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Set replaces the values stored under key.
func (c MetadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

// Keys implements instrumentz.TextMapCarrier.
func (c MetadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ instrumentz.TextMapCarrier = MetadataCarrier(nil)
