// Package search runs faceted occurrence queries: paged document
// search, multi-field facets, range and decade histograms, grouped
// facets, pivots, numeric stats and map legends.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/livingatlas/occsearch/internal/domain"
	"github.com/livingatlas/occsearch/internal/index"
	"github.com/livingatlas/occsearch/internal/rewrite"
)

// Rewriter is the slice of the query rewriter the executor needs.
type Rewriter interface {
	Rewrite(ctx context.Context, spec *domain.SearchSpec) (domain.RewrittenQuery, error)
}

// Options tunes the executor.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Executor runs rewritten queries against the index.
type Executor struct {
	idx    index.Client
	rw     Rewriter
	labels rewrite.LabelResolver
	log    *zap.Logger

	defaultPageSize int
	maxPageSize     int
}

// NewExecutor creates an executor. labels may be nil.
func NewExecutor(idx index.Client, rw Rewriter, labels rewrite.LabelResolver, opts Options, log *zap.Logger) *Executor {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 10
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 1000
	}
	return &Executor{
		idx:             idx,
		rw:              rw,
		labels:          labels,
		log:             log,
		defaultPageSize: opts.DefaultPageSize,
		maxPageSize:     opts.MaxPageSize,
	}
}

// Search returns one page of documents, with facets when the spec
// requests them.
func (e *Executor) Search(ctx context.Context, spec *domain.SearchSpec) (*domain.SearchResult, error) {
	rq, err := e.rw.Rewrite(ctx, spec)
	if err != nil {
		return nil, err
	}

	q := &index.Query{
		Q:       rq.Query,
		Filters: rq.Filters,
		Fields:  spec.Fields,
		Start:   spec.Start,
		Rows:    e.pageSize(spec.PageSize),
		Sort:    sortClause(spec),
	}
	if len(spec.Facets) > 0 {
		q.FacetFields = spec.Facets
		q.FacetMinCount = 1
		q.FacetLimit = -1
		q.FacetMissing = true
	}

	resp, err := e.idx.Execute(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	result := &domain.SearchResult{
		Total:     resp.Total,
		Start:     spec.Start,
		PageSize:  q.Rows,
		Query:     rq.Query,
		Display:   rq.Display,
		Documents: resp.Docs,
	}
	for _, ff := range resp.Facets {
		result.Facets = append(result.Facets, e.facetResult(ff))
	}
	return result, nil
}

// Count returns the total match count without fetching documents.
func (e *Executor) Count(ctx context.Context, spec *domain.SearchSpec) (int64, error) {
	rq, err := e.rw.Rewrite(ctx, spec)
	if err != nil {
		return 0, err
	}
	resp, err := e.idx.Execute(ctx, &index.Query{Q: rq.Query, Filters: rq.Filters, Rows: 0})
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return resp.Total, nil
}

// Facets returns all buckets for the spec's facet fields, including the
// missing-value bucket.
func (e *Executor) Facets(ctx context.Context, spec *domain.SearchSpec) ([]domain.FacetResult, error) {
	if len(spec.Facets) == 0 {
		return nil, nil
	}
	rq, err := e.rw.Rewrite(ctx, spec)
	if err != nil {
		return nil, err
	}

	resp, err := e.idx.Execute(ctx, &index.Query{
		Q:             rq.Query,
		Filters:       rq.Filters,
		Rows:          0,
		FacetFields:   spec.Facets,
		FacetMinCount: 1,
		FacetLimit:    -1,
		FacetMissing:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("facets: %w", err)
	}

	out := make([]domain.FacetResult, 0, len(resp.Facets))
	for _, ff := range resp.Facets {
		out = append(out, e.facetResult(ff))
	}
	return out, nil
}

// RangeFacet returns counts for fixed-width numeric buckets of a field.
func (e *Executor) RangeFacet(ctx context.Context, spec *domain.SearchSpec, field string, start, end, gap float64) (domain.FacetResult, error) {
	rq, err := e.rw.Rewrite(ctx, spec)
	if err != nil {
		return domain.FacetResult{}, err
	}

	resp, err := e.idx.Execute(ctx, &index.Query{
		Q:          rq.Query,
		Filters:    rq.Filters,
		Rows:       0,
		RangeField: field,
		RangeStart: start,
		RangeEnd:   end,
		RangeGap:   gap,
	})
	if err != nil {
		return domain.FacetResult{}, fmt.Errorf("range facet: %w", err)
	}

	result := domain.FacetResult{Field: field}
	for _, c := range resp.RangeCounts {
		lo := c.Value
		result.Values = append(result.Values, domain.FacetValue{
			Value: lo,
			Label: lo,
			Count: c.Count,
			Fq:    fmt.Sprintf("%s:[%s TO %s}", field, lo, addGap(lo, gap)),
		})
	}
	return result, nil
}

// DecadeFacet returns a per-decade histogram of record years.
func (e *Executor) DecadeFacet(ctx context.Context, spec *domain.SearchSpec) (domain.FacetResult, error) {
	endDecade := float64((time.Now().Year()/10)*10 + 10)
	result, err := e.RangeFacet(ctx, spec, "year", 1850, endDecade, 10)
	if err != nil {
		return domain.FacetResult{}, err
	}
	for i := range result.Values {
		lo := result.Values[i].Value
		result.Values[i].Label = lo + "-" + addGap(lo, 9)
	}
	result.Field = "decade"
	return result, nil
}

// GroupedFacets returns the distinct group count for a field plus one
// page of documents per group.
func (e *Executor) GroupedFacets(ctx context.Context, spec *domain.SearchSpec, field string, docsPerGroup int) (*domain.GroupedFacetResult, error) {
	rq, err := e.rw.Rewrite(ctx, spec)
	if err != nil {
		return nil, err
	}
	if docsPerGroup <= 0 {
		docsPerGroup = 1
	}

	resp, err := e.idx.Execute(ctx, &index.Query{
		Q:            rq.Query,
		Filters:      rq.Filters,
		Rows:         e.pageSize(spec.PageSize),
		Fields:       spec.Fields,
		GroupField:   field,
		GroupLimit:   docsPerGroup,
		GroupNGroups: true,
	})
	if err != nil {
		return nil, fmt.Errorf("grouped facets: %w", err)
	}
	if resp.Groups == nil {
		return &domain.GroupedFacetResult{Field: field}, nil
	}

	out := &domain.GroupedFacetResult{Field: field, Count: resp.Groups.NGroups}
	for _, g := range resp.Groups.Groups {
		out.Groups = append(out.Groups, domain.FacetGroup{
			Value:     g.Value,
			Total:     g.Total,
			Documents: g.Docs,
		})
	}
	return out, nil
}

// Pivot returns the nested facet tree for an ordered list of fields.
func (e *Executor) Pivot(ctx context.Context, spec *domain.SearchSpec, fields []string) ([]domain.PivotResult, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	rq, err := e.rw.Rewrite(ctx, spec)
	if err != nil {
		return nil, err
	}

	resp, err := e.idx.Execute(ctx, &index.Query{
		Q:             rq.Query,
		Filters:       rq.Filters,
		Rows:          0,
		PivotFields:   []string{strings.Join(fields, ",")},
		FacetMinCount: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("pivot: %w", err)
	}
	return pivotResults(resp.Pivots), nil
}

// FieldStats returns numeric aggregates for one field.
func (e *Executor) FieldStats(ctx context.Context, spec *domain.SearchSpec, field string) (domain.FieldStats, error) {
	rq, err := e.rw.Rewrite(ctx, spec)
	if err != nil {
		return domain.FieldStats{}, err
	}

	resp, err := e.idx.Execute(ctx, &index.Query{
		Q:           rq.Query,
		Filters:     rq.Filters,
		Rows:        0,
		StatsFields: []string{field},
	})
	if err != nil {
		return domain.FieldStats{}, fmt.Errorf("field stats: %w", err)
	}

	s, ok := resp.Stats[field]
	if !ok {
		return domain.FieldStats{Field: field}, nil
	}
	return domain.FieldStats{
		Field: field,
		Min:   s.Min, Max: s.Max, Sum: s.Sum, Mean: s.Mean,
		Count: s.Count, Missing: s.Missing,
	}, nil
}

// Fields returns the index schema as domain field descriptors.
func (e *Executor) Fields(ctx context.Context) ([]domain.IndexField, error) {
	infos, err := e.idx.Fields(ctx)
	if err != nil {
		return nil, fmt.Errorf("index fields: %w", err)
	}
	out := make([]domain.IndexField, 0, len(infos))
	for _, fi := range infos {
		out = append(out, domain.IndexField{
			Name:     fi.Name,
			DataType: fi.Type,
			Indexed:  fi.Indexed,
			Stored:   fi.Stored,
		})
	}
	return out, nil
}

func (e *Executor) pageSize(requested int) int {
	if requested <= 0 {
		return e.defaultPageSize
	}
	if requested > e.maxPageSize {
		return e.maxPageSize
	}
	return requested
}

// facetResult maps an index facet field to the domain form, attaching
// selection filters and labels. The missing-value bucket selects with a
// negated existence filter.
func (e *Executor) facetResult(ff index.FacetField) domain.FacetResult {
	result := domain.FacetResult{Field: ff.Name}
	for _, c := range ff.Counts {
		fv := domain.FacetValue{Value: c.Value, Count: c.Count}
		if c.Value == "" {
			fv.Label = ""
			fv.Fq = "-" + ff.Name + ":[* TO *]"
		} else {
			fv.Label = c.Value
			if e.labels != nil {
				fv.Label = e.labels.ValueLabel(ff.Name, c.Value)
			}
			fv.Fq = ff.Name + ":\"" + c.Value + "\""
		}
		result.Values = append(result.Values, fv)
	}
	return result
}

func pivotResults(in []index.Pivot) []domain.PivotResult {
	out := make([]domain.PivotResult, 0, len(in))
	for _, p := range in {
		out = append(out, domain.PivotResult{
			Field:    p.Field,
			Value:    p.Value,
			Count:    p.Count,
			Children: pivotResults(p.Pivots),
		})
	}
	return out
}

func sortClause(spec *domain.SearchSpec) string {
	if spec.Sort == "" {
		return ""
	}
	dir := spec.Dir
	if dir != "asc" && dir != "desc" {
		dir = "asc"
	}
	return spec.Sort + " " + dir
}

// addGap adds a numeric gap to a bucket's lower bound, keeping integer
// formatting for whole numbers.
func addGap(lo string, gap float64) string {
	var f float64
	fmt.Sscanf(lo, "%f", &f)
	f += gap
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
