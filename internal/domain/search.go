package domain

// SearchSpec is a raw occurrence search request as received from a client,
// before rewriting. Q and Fq may contain qid references, taxon shorthands
// and unescaped reserved characters.
type SearchSpec struct {
	Q        string   `json:"q"`
	Fq       []string `json:"fq,omitempty"`
	Fields   []string `json:"fl,omitempty"`
	Facets   []string `json:"facets,omitempty"`
	Start    int      `json:"start,omitempty"`
	PageSize int      `json:"pageSize,omitempty"`
	Sort     string   `json:"sort,omitempty"`
	Dir      string   `json:"dir,omitempty"`

	// Spatial constraint: either an explicit WKT geometry or a
	// lat/lon/radius circle.
	WKT       string  `json:"wkt,omitempty"`
	Lat       float64 `json:"lat,omitempty"`
	Lon       float64 `json:"lon,omitempty"`
	RadiusKm  float64 `json:"radius,omitempty"`
	HasCircle bool    `json:"-"`
}

// Clone returns a deep copy of the spec.
func (s *SearchSpec) Clone() *SearchSpec {
	cp := *s
	cp.Fq = append([]string(nil), s.Fq...)
	cp.Fields = append([]string(nil), s.Fields...)
	cp.Facets = append([]string(nil), s.Facets...)
	return &cp
}

// RewrittenQuery is the result of running a SearchSpec through the
// rewriter: index-ready query and filter strings plus a human-readable
// display form.
type RewrittenQuery struct {
	Query   string
	Filters []string
	Display string
	// QidRef is the resolved query-context key when the raw query was a
	// qid reference, empty otherwise.
	QidRef string
}

// SearchResult is one page of occurrence documents.
type SearchResult struct {
	Total     int64            `json:"totalRecords"`
	Start     int              `json:"start"`
	PageSize  int              `json:"pageSize"`
	Query     string           `json:"query"`
	Display   string           `json:"queryTitle"`
	Documents []map[string]any `json:"occurrences"`
	Facets    []FacetResult    `json:"facetResults,omitempty"`
}
