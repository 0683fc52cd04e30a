package instrumentz

import (
	"strings"
)

// W3C Trace Context field names.
const (
	TraceparentHeader = "traceparent"
	TracestateHeader  = "tracestate"
)

const (
	traceparentLen = 55
	zeroTraceID    = "00000000000000000000000000000000"
	zeroSpanID     = "0000000000000000"
)

// TraceContext propagates SpanContextKey and TraceStateKey using the W3C
// traceparent and tracestate fields.
//
// Extract accepts upper- or lowercase hex and unknown future versions parsed with
// the version-00 layout; version ff and all-zero ids are rejected. Inject always
// writes a lowercase version-00 traceparent, and only writes tracestate next to a
// valid traceparent.
type TraceContext struct{}

// Fields returns the carrier fields TraceContext touches.
func (TraceContext) Fields() []string {
	return []string{TraceparentHeader, TracestateHeader}
}

// Inject implements Propagator.
func (TraceContext) Inject(b Baggage, carrier TextMapCarrier) {
	if carrier == nil {
		return
	}
	sc, ok := SpanContextKey.Get(b)
	if !ok {
		return
	}
	traceparent := formatTraceparent(sc.TraceID, sc.SpanID, sc.TraceFlags)
	if traceparent == "" {
		return
	}
	carrier.Set(TraceparentHeader, traceparent)
	if state, ok := TraceStateKey.Get(b); ok && state != "" {
		carrier.Set(TracestateHeader, state)
	}
}

// Extract implements Propagator.
func (TraceContext) Extract(carrier TextMapCarrier, b Baggage) Baggage {
	if carrier == nil {
		return b
	}
	traceID, spanID, flags, ok := parseTraceparent(strings.TrimSpace(carrier.Get(TraceparentHeader)))
	if !ok {
		return b
	}
	b = SpanContextKey.Set(b, SpanContext{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	if state := strings.TrimSpace(carrier.Get(TracestateHeader)); state != "" {
		b = TraceStateKey.Set(b, state)
	}
	return b
}

// parseTraceparent parses {version}-{trace-id}-{parent-id}-{trace-flags}.
func parseTraceparent(s string) (traceID, spanID string, flags TraceFlags, ok bool) {
	if len(s) < traceparentLen || s[2] != '-' || s[35] != '-' || s[52] != '-' {
		return "", "", 0, false
	}
	version := s[0:2]
	if !isValidHex(version) || strings.EqualFold(version, "ff") {
		return "", "", 0, false
	}
	// Version 00 has no extra fields; later versions separate them with '-'.
	if version == "00" && len(s) != traceparentLen {
		return "", "", 0, false
	}
	if len(s) > traceparentLen && s[traceparentLen] != '-' {
		return "", "", 0, false
	}

	traceID = strings.ToLower(s[3:35])
	spanID = strings.ToLower(s[36:52])
	rawFlags := s[53:55]
	if !isValidTraceID(traceID) || !isValidSpanID(spanID) || !isValidHex(rawFlags) {
		return "", "", 0, false
	}
	return traceID, spanID, TraceFlags(hexByte(rawFlags)), true
}

// formatTraceparent returns "" unless both ids are valid.
func formatTraceparent(traceID, spanID string, flags TraceFlags) string {
	if !isValidTraceID(traceID) || !isValidSpanID(spanID) {
		return ""
	}
	var buf [traceparentLen]byte
	copy(buf[0:3], "00-")
	copy(buf[3:35], strings.ToLower(traceID))
	buf[35] = '-'
	copy(buf[36:52], strings.ToLower(spanID))
	buf[52] = '-'
	copy(buf[53:55], flags.String())
	return string(buf[:])
}

func isValidHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9') && !(c >= 'a' && c <= 'f') && !(c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func isValidTraceID(id string) bool {
	return len(id) == 32 && isValidHex(id) && id != zeroTraceID
}

func isValidSpanID(id string) bool {
	return len(id) == 16 && isValidHex(id) && id != zeroSpanID
}

func hexByte(s string) byte {
	var v byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= c - '0'
		case c >= 'a' && c <= 'f':
			v |= c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v |= c - 'A' + 10
		}
	}
	return v
}

var _ TextMapPropagator = TraceContext{}
