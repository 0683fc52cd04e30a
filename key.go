package instrumentz

import (
	"context"
	"fmt"
)

// keyToken is the identity of a Key. Each NewKey call allocates its own token,
// so two keys are distinct even when they share a name and value type.
type keyToken struct {
	name string
}

// Key is a typed handle into a Baggage.
// The value type V is fixed when the key is declared and gates every access.
// Keys are comparable and intended to be declared once as package-level vars.
type Key[V any] struct {
	token *keyToken
}

// NewKey declares a new key. The name is display metadata only.
func NewKey[V any](name string) Key[V] {
	return Key[V]{token: &keyToken{name: name}}
}

// Name returns the key's display name.
func (k Key[V]) Name() string {
	if k.token == nil {
		return ""
	}
	return k.token.name
}

// String implements fmt.Stringer.
func (k Key[V]) String() string {
	var zero V
	return fmt.Sprintf("Key[%T](%s)", zero, k.Name())
}

// Get returns the value stored under k.
func (k Key[V]) Get(b Baggage) (V, bool) {
	var zero V
	if k.token == nil {
		return zero, false
	}
	bx, ok := b.entries[k.token]
	if !ok {
		return zero, false
	}
	v, ok := bx.value.(V)
	if !ok {
		// Only Set creates boxes, so this is an internal invariant violation.
		panic(fmt.Errorf("%w: key %q holds %T, want %T", ErrBoxTypeMismatch, bx.name, bx.value, zero))
	}
	return v, true
}

// Set returns a copy of b with v stored under k.
func (k Key[V]) Set(b Baggage, v V) Baggage {
	if k.token == nil {
		return b
	}
	return b.with(k.token, box{name: k.token.name, value: v})
}

// SetOptional stores *v under k, or removes k when v is nil.
func (k Key[V]) SetOptional(b Baggage, v *V) Baggage {
	if v == nil {
		return k.Remove(b)
	}
	return k.Set(b, *v)
}

// Remove returns a copy of b without k.
func (k Key[V]) Remove(b Baggage) Baggage {
	if k.token == nil {
		return b
	}
	return b.without(k.token)
}

// From reads k from the baggage carried by ctx.
func (k Key[V]) From(ctx context.Context) (V, bool) {
	return k.Get(BaggageFromContext(ctx))
}
