package rewrite

// MapLabels is a LabelResolver backed by static maps, typically loaded
// from a messages file at startup. Unknown fields and values resolve to
// themselves.
type MapLabels struct {
	Fields map[string]string
	Values map[string]map[string]string
}

// FieldLabel implements LabelResolver.
func (m MapLabels) FieldLabel(field string) string {
	if label, ok := m.Fields[field]; ok {
		return label
	}
	return field
}

// ValueLabel implements LabelResolver.
func (m MapLabels) ValueLabel(field, value string) string {
	if vals, ok := m.Values[field]; ok {
		if label, ok := vals[value]; ok {
			return label
		}
	}
	return value
}
