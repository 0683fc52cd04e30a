package instrumentz

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// box holds a type-erased value together with its key's display name.
type box struct {
	value any
	name  string
}

// Baggage is a heterogeneous, typed key-value container with value semantics.
// Copying a Baggage yields an independent snapshot: every mutation returns a new
// Baggage and leaves the receiver untouched, so concurrent readers never race.
// The zero value is an empty Baggage ready to use.
type Baggage struct {
	entries map[*keyToken]box
}

// Empty returns an empty Baggage.
func Empty() Baggage {
	return Baggage{}
}

// with copies the entries and stores bx under token.
func (b Baggage) with(token *keyToken, bx box) Baggage {
	entries := make(map[*keyToken]box, len(b.entries)+1)
	for k, v := range b.entries {
		entries[k] = v
	}
	entries[token] = bx
	return Baggage{entries: entries}
}

// without copies the entries minus token.
func (b Baggage) without(token *keyToken) Baggage {
	if _, ok := b.entries[token]; !ok {
		return b
	}
	if len(b.entries) == 1 {
		return Baggage{}
	}
	entries := make(map[*keyToken]box, len(b.entries)-1)
	for k, v := range b.entries {
		if k != token {
			entries[k] = v
		}
	}
	return Baggage{entries: entries}
}

// Len returns the number of entries.
func (b Baggage) Len() int {
	return len(b.entries)
}

// IsEmpty reports whether b holds no entries.
func (b Baggage) IsEmpty() bool {
	return len(b.entries) == 0
}

// Merge returns a Baggage holding the entries of b and other.
// Entries from other take precedence on collision.
func (b Baggage) Merge(other Baggage) Baggage {
	if other.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return other
	}
	entries := make(map[*keyToken]box, len(b.entries)+len(other.entries))
	for k, v := range b.entries {
		entries[k] = v
	}
	for k, v := range other.entries {
		entries[k] = v
	}
	return Baggage{entries: entries}
}

// ForEach calls fn for every entry until fn returns false.
// Iteration order is unspecified.
func (b Baggage) ForEach(fn func(name string, value any) bool) {
	for _, bx := range b.entries {
		if !fn(bx.name, bx.value) {
			return
		}
	}
}

// PrintableMetadata renders every entry as displayName -> string(value).
// Two keys sharing a display name collide; whichever is visited last wins.
func (b Baggage) PrintableMetadata() map[string]string {
	if len(b.entries) == 0 {
		return map[string]string{}
	}
	md := make(map[string]string, len(b.entries))
	for _, bx := range b.entries {
		md[bx.name] = fmt.Sprint(bx.value)
	}
	return md
}

// LogValue implements slog.LogValuer.
func (b Baggage) LogValue() slog.Value {
	md := b.PrintableMetadata()
	names := make([]string, 0, len(md))
	for name := range md {
		names = append(names, name)
	}
	sort.Strings(names)

	attrs := make([]slog.Attr, 0, len(names))
	for _, name := range names {
		attrs = append(attrs, slog.String(name, md[name]))
	}
	return slog.GroupValue(attrs...)
}

// String implements fmt.Stringer.
func (b Baggage) String() string {
	names := make([]string, 0, len(b.entries))
	for _, bx := range b.entries {
		names = append(names, bx.name)
	}
	sort.Strings(names)
	return "Baggage(keys: [" + strings.Join(names, ", ") + "])"
}

// baggageKeyType is a private type for context keys to avoid collisions.
type baggageKeyType struct{}

var baggageKey baggageKeyType

// ContextWithBaggage returns a copy of ctx carrying b.
func ContextWithBaggage(ctx context.Context, b Baggage) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, baggageKey, b)
}

// BaggageFromContext returns the Baggage carried by ctx, or an empty one.
func BaggageFromContext(ctx context.Context) Baggage {
	if ctx == nil {
		return Baggage{}
	}
	if b, ok := ctx.Value(baggageKey).(Baggage); ok {
		return b
	}
	return Baggage{}
}
