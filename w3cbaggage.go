package instrumentz

import (
	"go.opentelemetry.io/otel/baggage"
)

// BaggageHeader is the W3C baggage field name.
const BaggageHeader = "baggage"

// BaggageItemsKey holds W3C baggage members.
var BaggageItemsKey = NewKey[baggage.Baggage]("baggage")

// W3CBaggage propagates BaggageItemsKey through the W3C baggage field.
// A header that fails to parse is ignored as a whole.
type W3CBaggage struct{}

// Fields returns the carrier fields W3CBaggage touches.
func (W3CBaggage) Fields() []string {
	return []string{BaggageHeader}
}

// Inject implements Propagator.
func (W3CBaggage) Inject(b Baggage, carrier TextMapCarrier) {
	if carrier == nil {
		return
	}
	items, ok := BaggageItemsKey.Get(b)
	if !ok || items.Len() == 0 {
		return
	}
	carrier.Set(BaggageHeader, items.String())
}

// Extract implements Propagator.
func (W3CBaggage) Extract(carrier TextMapCarrier, b Baggage) Baggage {
	if carrier == nil {
		return b
	}
	raw := carrier.Get(BaggageHeader)
	if raw == "" {
		return b
	}
	items, err := baggage.Parse(raw)
	if err != nil || items.Len() == 0 {
		return b
	}
	return BaggageItemsKey.Set(b, items)
}

// BaggageItem returns the value of the W3C baggage member name.
func BaggageItem(b Baggage, name string) (string, bool) {
	items, ok := BaggageItemsKey.Get(b)
	if !ok {
		return "", false
	}
	m := items.Member(name)
	if m.Key() == "" {
		return "", false
	}
	return m.Value(), true
}

// SetBaggageItem returns b with the W3C baggage member name=value added or replaced.
func SetBaggageItem(b Baggage, name, value string) (Baggage, error) {
	m, err := baggage.NewMemberRaw(name, value)
	if err != nil {
		return b, err
	}
	items, _ := BaggageItemsKey.Get(b)
	items, err = items.SetMember(m)
	if err != nil {
		return b, err
	}
	return BaggageItemsKey.Set(b, items), nil
}

var _ TextMapPropagator = W3CBaggage{}
