// Package index talks to the occurrence index: a Solr-style HTTP select
// API with facets, pivots, grouping, stats and cursor paging.
package index

import (
	"context"
	"errors"
)

// Client executes queries against the occurrence index.
type Client interface {
	Execute(ctx context.Context, q *Query) (*Response, error)
	Fields(ctx context.Context) ([]FieldInfo, error)
}

// Query is a single index request. Zero values mean "not requested".
type Query struct {
	Q       string
	Filters []string
	Fields  []string
	Start   int
	Rows    int
	Sort    string

	FacetFields   []string
	FacetQueries  []string
	FacetLimit    int
	FacetMinCount int
	FacetMissing  bool
	FacetSort     string
	FacetOffset   int
	FacetPrefix   string

	// PivotFields holds comma-joined field paths, one per pivot.
	PivotFields []string

	GroupField   string
	GroupLimit   int
	GroupNGroups bool

	StatsFields []string

	RangeField string
	RangeStart float64
	RangeEnd   float64
	RangeGap   float64

	// Cursor enables cursor-mark deep paging. Requires a sort with the
	// unique key as tiebreaker.
	Cursor string
}

// Response is a decoded index reply. Only the sections requested by the
// query are populated.
type Response struct {
	Total      int64
	Start      int
	Docs       []map[string]any
	NextCursor string

	Facets       []FacetField
	FacetQueries map[string]int64
	RangeCounts  []FacetCount
	Pivots       []Pivot
	Groups       *GroupResult
	Stats        map[string]StatsResult
}

// FacetField is one faceted field with its value counts.
type FacetField struct {
	Name   string
	Counts []FacetCount
}

// FacetCount is one facet bucket. An empty Value is the missing-value
// bucket.
type FacetCount struct {
	Value string
	Count int64
}

// Pivot is a node of a nested facet tree.
type Pivot struct {
	Field  string
	Value  string
	Count  int64
	Pivots []Pivot
}

// GroupResult carries grouped search results for one field.
type GroupResult struct {
	Field   string
	Matches int64
	NGroups int64
	Groups  []Group
}

// Group is one value group with its document page.
type Group struct {
	Value string
	Total int64
	Docs  []map[string]any
}

// StatsResult holds numeric aggregates for one stats field.
type StatsResult struct {
	Min     float64
	Max     float64
	Sum     float64
	Mean    float64
	Count   int64
	Missing int64
}

// FieldInfo describes one index schema field.
type FieldInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Indexed  bool   `json:"indexed"`
	Stored   bool   `json:"stored"`
	DocValue bool   `json:"docvalue"`
}

// TransientError marks a failure worth retrying: connection resets,
// timeouts, bad-gateway responses from a proxy in front of the index.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "index: transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
