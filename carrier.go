package instrumentz

import (
	"net/http"
	"sort"
)

// TextMapCarrier is a string-keyed container a propagator reads from and writes to.
// The method set matches OpenTelemetry's propagation.TextMapCarrier, so carriers
// can be shared with otel propagators.
type TextMapCarrier interface {
	// Get returns the value for key, or "" when absent.
	Get(key string) string
	// Set stores value under key, replacing any previous value.
	Set(key, value string)
	// Keys lists the keys present in the carrier.
	Keys() []string
}

// MapCarrier adapts a map[string]string.
type MapCarrier map[string]string

// Get implements TextMapCarrier.
func (c MapCarrier) Get(key string) string {
	return c[key]
}

// Set implements TextMapCarrier.
func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

// Keys implements TextMapCarrier.
func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HeaderCarrier adapts http.Header. Keys are canonicalised by net/http.
type HeaderCarrier http.Header

// Get implements TextMapCarrier.
func (c HeaderCarrier) Get(key string) string {
	return http.Header(c).Get(key)
}

// Set implements TextMapCarrier.
func (c HeaderCarrier) Set(key, value string) {
	http.Header(c).Set(key, value)
}

// Keys implements TextMapCarrier.
func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ TextMapCarrier = MapCarrier(nil)
	_ TextMapCarrier = HeaderCarrier(nil)
)
