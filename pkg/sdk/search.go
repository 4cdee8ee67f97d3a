package occsearch

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Query describes an occurrence search: the main query, filters,
// paging and faceting. The zero value matches all records.
type Query struct {
	Q        string   `json:"q,omitempty"`
	Filters  []string `json:"fq,omitempty"`
	Fields   []string `json:"fl,omitempty"`
	Facets   []string `json:"facets,omitempty"`
	Start    int      `json:"start,omitempty"`
	PageSize int      `json:"pageSize,omitempty"`
	Sort     string   `json:"sort,omitempty"`
	Dir      string   `json:"dir,omitempty"`

	// Spatial constraint: either a WKT shape or a point with a
	// radius in kilometres.
	WKT      string  `json:"wkt,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Lon      float64 `json:"lon,omitempty"`
	RadiusKm float64 `json:"radius,omitempty"`
}

func (q Query) params() url.Values {
	v := url.Values{}
	if q.Q != "" {
		v.Set("q", q.Q)
	}
	for _, fq := range q.Filters {
		v.Add("fq", fq)
	}
	if len(q.Fields) > 0 {
		v.Set("fl", strings.Join(q.Fields, ","))
	}
	if len(q.Facets) > 0 {
		v.Set("facets", strings.Join(q.Facets, ","))
	}
	if q.Start > 0 {
		v.Set("start", strconv.Itoa(q.Start))
	}
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.Sort != "" {
		v.Set("sort", q.Sort)
	}
	if q.Dir != "" {
		v.Set("dir", q.Dir)
	}
	if q.WKT != "" {
		v.Set("wkt", q.WKT)
	}
	if q.RadiusKm > 0 && q.WKT == "" {
		v.Set("lat", strconv.FormatFloat(q.Lat, 'f', -1, 64))
		v.Set("lon", strconv.FormatFloat(q.Lon, 'f', -1, 64))
		v.Set("radius", strconv.FormatFloat(q.RadiusKm, 'f', -1, 64))
	}
	return v
}

// SearchResult is a page of matching occurrences plus any requested
// facets.
type SearchResult struct {
	Total     int64            `json:"totalRecords"`
	Start     int              `json:"start"`
	PageSize  int              `json:"pageSize"`
	Query     string           `json:"query"`
	Display   string           `json:"queryTitle"`
	Documents []map[string]any `json:"occurrences"`
	Facets    []FacetResult    `json:"facetResults,omitempty"`
}

// FacetValue is one bucket of a facet.
type FacetValue struct {
	Value string `json:"i18nCode,omitempty"`
	Label string `json:"label"`
	Count int64  `json:"count"`
	Fq    string `json:"fq"`
}

// FacetResult holds the buckets of one faceted field.
type FacetResult struct {
	Field  string       `json:"fieldName"`
	Values []FacetValue `json:"fieldResult"`
}

// FacetGroup is one group of a grouped facet, optionally carrying
// sample documents.
type FacetGroup struct {
	Value     string           `json:"value"`
	Total     int64            `json:"count"`
	Documents []map[string]any `json:"occurrences,omitempty"`
}

// GroupedFacetResult holds grouped facet output for one field.
type GroupedFacetResult struct {
	Field  string       `json:"fieldName"`
	Count  int64        `json:"count"`
	Groups []FacetGroup `json:"groups"`
}

// PivotResult is a node of a hierarchical facet tree.
type PivotResult struct {
	Field    string        `json:"field"`
	Value    string        `json:"value"`
	Count    int64         `json:"count"`
	Children []PivotResult `json:"pivot,omitempty"`
}

// FieldStats carries numeric statistics over one indexed field.
type FieldStats struct {
	Field   string  `json:"field"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Sum     float64 `json:"sum"`
	Mean    float64 `json:"mean"`
	Count   int64   `json:"count"`
	Missing int64   `json:"missing"`
}

// LegendItem is one entry of a map legend.
type LegendItem struct {
	Name  string `json:"name"`
	Fq    string `json:"fq"`
	Count int64  `json:"count"`
}

// IndexField describes one field of the occurrence index schema.
type IndexField struct {
	Name         string `json:"name"`
	DataType     string `json:"dataType"`
	Indexed      bool   `json:"indexed"`
	Stored       bool   `json:"stored"`
	DownloadName string `json:"downloadName,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Search runs an occurrence search and returns one page of results.
func (c *Client) Search(ctx context.Context, q Query) (res *SearchResult, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search", start, err) }()

	res = &SearchResult{}
	if err = c.postJSON(ctx, "/occurrences/search", q, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Facets returns facet buckets for the fields named in q.Facets,
// without fetching documents.
func (c *Client) Facets(ctx context.Context, q Query) (out []FacetResult, err error) {
	start := time.Now()
	defer func() { c.obs.observe("facets", start, err) }()

	if err = c.getJSON(ctx, "/occurrences/facets", q.params(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decades returns record counts per decade for the matching occurrences.
func (c *Client) Decades(ctx context.Context, q Query) (out *FacetResult, err error) {
	start := time.Now()
	defer func() { c.obs.observe("decades", start, err) }()

	out = &FacetResult{}
	if err = c.getJSON(ctx, "/occurrences/decades", q.params(), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Legend returns map legend entries for a field. With cutpoints the
// buckets are numeric ranges, otherwise one entry per distinct value.
func (c *Client) Legend(ctx context.Context, q Query, field string, cutpoints []float64) (out []LegendItem, err error) {
	start := time.Now()
	defer func() { c.obs.observe("legend", start, err) }()

	params := q.params()
	params.Set("field", field)
	if len(cutpoints) > 0 {
		pts := make([]string, len(cutpoints))
		for i, p := range cutpoints {
			pts[i] = strconv.FormatFloat(p, 'f', -1, 64)
		}
		params.Set("cutpoints", strings.Join(pts, ","))
	}

	if err = c.getJSON(ctx, "/occurrences/legend", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Groups returns grouped facet results for a field, with up to
// docsPerGroup sample documents per group.
func (c *Client) Groups(ctx context.Context, q Query, field string, docsPerGroup int) (out *GroupedFacetResult, err error) {
	start := time.Now()
	defer func() { c.obs.observe("groups", start, err) }()

	params := q.params()
	params.Set("field", field)
	if docsPerGroup > 0 {
		params.Set("docsPerGroup", strconv.Itoa(docsPerGroup))
	}

	out = &GroupedFacetResult{}
	if err = c.getJSON(ctx, "/occurrences/groups", params, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Pivot returns a hierarchical facet over the given fields, outermost
// first.
func (c *Client) Pivot(ctx context.Context, q Query, fields []string) (out []PivotResult, err error) {
	start := time.Now()
	defer func() { c.obs.observe("pivot", start, err) }()

	params := q.params()
	params.Set("pivot", strings.Join(fields, ","))

	if err = c.getJSON(ctx, "/occurrences/pivot", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns numeric statistics for one field over the matching
// occurrences.
func (c *Client) Stats(ctx context.Context, q Query, field string) (out *FieldStats, err error) {
	start := time.Now()
	defer func() { c.obs.observe("stats", start, err) }()

	params := q.params()
	params.Set("field", field)

	out = &FieldStats{}
	if err = c.getJSON(ctx, "/occurrences/stats", params, out); err != nil {
		return nil, err
	}
	return out, nil
}

// IndexFields returns the occurrence index schema.
func (c *Client) IndexFields(ctx context.Context) (out []IndexField, err error) {
	start := time.Now()
	defer func() { c.obs.observe("index_fields", start, err) }()

	if err = c.getJSON(ctx, "/occurrences/index/fields", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
