package domain

// FacetValue is one bucket of a facet: the raw index value, its count,
// the filter that selects it and an optional human-readable label.
type FacetValue struct {
	Value string `json:"i18nCode,omitempty"`
	Label string `json:"label"`
	Count int64  `json:"count"`
	Fq    string `json:"fq"`
}

// FacetResult is all buckets for one faceted field.
type FacetResult struct {
	Field  string       `json:"fieldName"`
	Values []FacetValue `json:"fieldResult"`
}

// GroupedFacetResult carries group counts plus one page of documents
// per group.
type GroupedFacetResult struct {
	Field  string       `json:"fieldName"`
	Count  int64        `json:"count"` // distinct group count
	Groups []FacetGroup `json:"groups"`
}

// FacetGroup is one value group with its matching documents.
type FacetGroup struct {
	Value     string           `json:"value"`
	Total     int64            `json:"count"`
	Documents []map[string]any `json:"occurrences,omitempty"`
}

// PivotResult is a node of a nested facet tree.
type PivotResult struct {
	Field    string        `json:"field"`
	Value    string        `json:"value"`
	Count    int64         `json:"count"`
	Children []PivotResult `json:"pivot,omitempty"`
}

// FieldStats holds numeric aggregates for one field.
type FieldStats struct {
	Field   string  `json:"field"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Sum     float64 `json:"sum"`
	Mean    float64 `json:"mean"`
	Count   int64   `json:"count"`
	Missing int64   `json:"missing"`
}

// LegendItem is one entry of a map legend: a display name, the filter
// that selects it and the record count.
type LegendItem struct {
	Name  string `json:"name"`
	Fq    string `json:"fq"`
	Count int64  `json:"count"`
}
