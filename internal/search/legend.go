package search

import (
	"context"
	"fmt"

	"github.com/livingatlas/occsearch/internal/domain"
	"github.com/livingatlas/occsearch/internal/index"
)

// defaultCutpoints holds preset legend ranges for numeric fields that
// are unreadable as raw values.
var defaultCutpoints = map[string][]float64{
	"coordinate_uncertainty": {0, 0.5, 1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	"uncertainty":            {0, 0.5, 1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
}

// DefaultCutpoints returns the preset legend ranges for a field, or nil
// when the field legends on its natural values.
func DefaultCutpoints(field string) []float64 {
	return defaultCutpoints[field]
}

// Legend returns map legend entries for a field. With cutpoints the
// legend is a set of half-open ranges plus a missing-value bucket;
// without, each natural facet value becomes one entry.
func (e *Executor) Legend(ctx context.Context, spec *domain.SearchSpec, field string, cutpoints []float64) ([]domain.LegendItem, error) {
	if cutpoints == nil {
		cutpoints = DefaultCutpoints(field)
	}
	if len(cutpoints) >= 2 {
		return e.rangeLegend(ctx, spec, field, cutpoints)
	}
	return e.valueLegend(ctx, spec, field)
}

func (e *Executor) rangeLegend(ctx context.Context, spec *domain.SearchSpec, field string, cutpoints []float64) ([]domain.LegendItem, error) {
	rq, err := e.rw.Rewrite(ctx, spec)
	if err != nil {
		return nil, err
	}

	queries := make([]string, 0, len(cutpoints))
	names := make([]string, 0, len(cutpoints))
	for i := 0; i+1 < len(cutpoints); i++ {
		lo, hi := cutpoints[i], cutpoints[i+1]
		op := "}"
		if i+2 == len(cutpoints) {
			op = "]" // last bucket includes its upper bound
		}
		queries = append(queries, fmt.Sprintf("%s:[%s TO %s%s", field, trimNum(lo), trimNum(hi), op))
		names = append(names, fmt.Sprintf("%s - %s", trimNum(lo), trimNum(hi)))
	}
	queries = append(queries, "-"+field+":[* TO *]")
	names = append(names, "unknown")

	resp, err := e.idx.Execute(ctx, &index.Query{
		Q:            rq.Query,
		Filters:      rq.Filters,
		Rows:         0,
		FacetQueries: queries,
	})
	if err != nil {
		return nil, fmt.Errorf("legend: %w", err)
	}

	items := make([]domain.LegendItem, 0, len(queries))
	for i, fq := range queries {
		items = append(items, domain.LegendItem{
			Name:  names[i],
			Fq:    fq,
			Count: resp.FacetQueries[fq],
		})
	}
	return items, nil
}

func (e *Executor) valueLegend(ctx context.Context, spec *domain.SearchSpec, field string) ([]domain.LegendItem, error) {
	rq, err := e.rw.Rewrite(ctx, spec)
	if err != nil {
		return nil, err
	}

	resp, err := e.idx.Execute(ctx, &index.Query{
		Q:             rq.Query,
		Filters:       rq.Filters,
		Rows:          0,
		FacetFields:   []string{field},
		FacetMinCount: 1,
		FacetLimit:    -1,
		FacetMissing:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("legend: %w", err)
	}

	var items []domain.LegendItem
	for _, ff := range resp.Facets {
		if ff.Name != field {
			continue
		}
		for _, c := range ff.Counts {
			item := domain.LegendItem{Count: c.Count}
			if c.Value == "" {
				item.Name = "unknown"
				item.Fq = "-" + field + ":[* TO *]"
			} else {
				item.Name = c.Value
				if e.labels != nil {
					item.Name = e.labels.ValueLabel(field, c.Value)
				}
				item.Fq = field + ":\"" + c.Value + "\""
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func trimNum(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
