package instrumentz

// Field maps a carrier field name to a string key.
type Field struct {
	Key  Key[string]
	Name string
}

// FieldPropagator copies string entries verbatim between carrier fields and keys.
// Empty carrier values are treated as absent.
type FieldPropagator struct {
	fields []Field
}

// NewFieldPropagator builds a propagator for fields. Fields with an empty name are skipped.
func NewFieldPropagator(fields ...Field) *FieldPropagator {
	list := make([]Field, 0, len(fields))
	for _, f := range fields {
		if f.Name != "" {
			list = append(list, f)
		}
	}
	return &FieldPropagator{fields: list}
}

// Fields returns the carrier fields the propagator touches.
func (p *FieldPropagator) Fields() []string {
	names := make([]string, len(p.fields))
	for i, f := range p.fields {
		names[i] = f.Name
	}
	return names
}

// Inject implements Propagator.
func (p *FieldPropagator) Inject(b Baggage, carrier TextMapCarrier) {
	if carrier == nil {
		return
	}
	for _, f := range p.fields {
		if v, ok := f.Key.Get(b); ok && v != "" {
			carrier.Set(f.Name, v)
		}
	}
}

// Extract implements Propagator.
func (p *FieldPropagator) Extract(carrier TextMapCarrier, b Baggage) Baggage {
	if carrier == nil {
		return b
	}
	for _, f := range p.fields {
		if v := carrier.Get(f.Name); v != "" {
			b = f.Key.Set(b, v)
		}
	}
	return b
}

var _ TextMapPropagator = (*FieldPropagator)(nil)
