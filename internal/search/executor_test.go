package search

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/livingatlas/occsearch/internal/domain"
	"github.com/livingatlas/occsearch/internal/index"
)

// captureIndex records the last query and replies with a canned response.
type captureIndex struct {
	last   *index.Query
	resp   *index.Response
	fields []index.FieldInfo
}

func (c *captureIndex) Execute(_ context.Context, q *index.Query) (*index.Response, error) {
	c.last = q
	if c.resp != nil {
		return c.resp, nil
	}
	return &index.Response{}, nil
}

func (c *captureIndex) Fields(context.Context) ([]index.FieldInfo, error) {
	return c.fields, nil
}

type passRewriter struct{}

func (passRewriter) Rewrite(_ context.Context, spec *domain.SearchSpec) (domain.RewrittenQuery, error) {
	q := spec.Q
	if q == "" {
		q = "*:*"
	}
	return domain.RewrittenQuery{Query: q, Filters: spec.Fq, Display: q}, nil
}

func newTestExecutor(idx index.Client) *Executor {
	return NewExecutor(idx, passRewriter{}, nil, Options{DefaultPageSize: 10, MaxPageSize: 100}, zap.NewNop())
}

func TestSearchBuildsFacetedQuery(t *testing.T) {
	idx := &captureIndex{resp: &index.Response{Total: 5, Docs: []map[string]any{{"id": "a"}}}}
	e := newTestExecutor(idx)

	result, err := e.Search(context.Background(), &domain.SearchSpec{
		Q:      "genus:Acacia",
		Facets: []string{"month", "state"},
		Sort:   "score",
		Dir:    "desc",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	q := idx.last
	if q.Q != "genus:Acacia" {
		t.Errorf("q = %q", q.Q)
	}
	if q.Rows != 10 {
		t.Errorf("default page size not applied, rows = %d", q.Rows)
	}
	if q.Sort != "score desc" {
		t.Errorf("sort = %q", q.Sort)
	}
	if len(q.FacetFields) != 2 || !q.FacetMissing || q.FacetLimit != -1 || q.FacetMinCount != 1 {
		t.Errorf("facet params = %+v", q)
	}
	if result.Total != 5 || len(result.Documents) != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestSearchCapsPageSize(t *testing.T) {
	idx := &captureIndex{}
	e := newTestExecutor(idx)

	_, err := e.Search(context.Background(), &domain.SearchSpec{PageSize: 5000})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if idx.last.Rows != 100 {
		t.Errorf("rows = %d, want the 100 cap", idx.last.Rows)
	}
}

func TestFacetsMissingBucket(t *testing.T) {
	idx := &captureIndex{resp: &index.Response{
		Facets: []index.FacetField{{
			Name: "month",
			Counts: []index.FacetCount{
				{Value: "11", Count: 30},
				{Value: "", Count: 2},
			},
		}},
	}}
	e := newTestExecutor(idx)

	out, err := e.Facets(context.Background(), &domain.SearchSpec{Facets: []string{"month"}})
	if err != nil {
		t.Fatalf("Facets: %v", err)
	}
	if len(out) != 1 || len(out[0].Values) != 2 {
		t.Fatalf("out = %+v", out)
	}

	v := out[0].Values[0]
	if v.Fq != `month:"11"` {
		t.Errorf("value fq = %q", v.Fq)
	}
	missing := out[0].Values[1]
	if missing.Fq != "-month:[* TO *]" {
		t.Errorf("missing bucket fq = %q", missing.Fq)
	}
}

func TestFacetsWithoutFields(t *testing.T) {
	e := newTestExecutor(&captureIndex{})
	out, err := e.Facets(context.Background(), &domain.SearchSpec{})
	if err != nil {
		t.Fatalf("Facets: %v", err)
	}
	if out != nil {
		t.Errorf("expected nil, got %+v", out)
	}
}

func TestRangeFacetBuildsSelectionFilters(t *testing.T) {
	idx := &captureIndex{resp: &index.Response{
		RangeCounts: []index.FacetCount{
			{Value: "0", Count: 3},
			{Value: "100", Count: 7},
		},
	}}
	e := newTestExecutor(idx)

	out, err := e.RangeFacet(context.Background(), &domain.SearchSpec{}, "coordinate_uncertainty", 0, 200, 100)
	if err != nil {
		t.Fatalf("RangeFacet: %v", err)
	}

	if idx.last.RangeField != "coordinate_uncertainty" || idx.last.RangeGap != 100 {
		t.Errorf("range query = %+v", idx.last)
	}
	if out.Values[0].Fq != "coordinate_uncertainty:[0 TO 100}" {
		t.Errorf("bucket fq = %q", out.Values[0].Fq)
	}
	if out.Values[1].Fq != "coordinate_uncertainty:[100 TO 200}" {
		t.Errorf("bucket fq = %q", out.Values[1].Fq)
	}
}

func TestDecadeFacetLabels(t *testing.T) {
	idx := &captureIndex{resp: &index.Response{
		RangeCounts: []index.FacetCount{
			{Value: "1850", Count: 1},
			{Value: "1990", Count: 250},
		},
	}}
	e := newTestExecutor(idx)

	out, err := e.DecadeFacet(context.Background(), &domain.SearchSpec{})
	if err != nil {
		t.Fatalf("DecadeFacet: %v", err)
	}
	if out.Field != "decade" {
		t.Errorf("field = %q", out.Field)
	}
	if idx.last.RangeField != "year" || idx.last.RangeStart != 1850 || idx.last.RangeGap != 10 {
		t.Errorf("range query = %+v", idx.last)
	}
	if out.Values[0].Label != "1850-1859" {
		t.Errorf("label = %q", out.Values[0].Label)
	}
	if out.Values[1].Label != "1990-1999" {
		t.Errorf("label = %q", out.Values[1].Label)
	}
}

func TestGroupedFacets(t *testing.T) {
	idx := &captureIndex{resp: &index.Response{
		Groups: &index.GroupResult{
			Field:   "data_resource_uid",
			NGroups: 2,
			Groups: []index.Group{
				{Value: "dr1", Total: 60, Docs: []map[string]any{{"id": "a"}}},
				{Value: "dr2", Total: 40},
			},
		},
	}}
	e := newTestExecutor(idx)

	out, err := e.GroupedFacets(context.Background(), &domain.SearchSpec{}, "data_resource_uid", 1)
	if err != nil {
		t.Fatalf("GroupedFacets: %v", err)
	}
	if !idx.last.GroupNGroups || idx.last.GroupField != "data_resource_uid" {
		t.Errorf("group query = %+v", idx.last)
	}
	if out.Count != 2 || len(out.Groups) != 2 {
		t.Fatalf("out = %+v", out)
	}
	if out.Groups[0].Value != "dr1" || out.Groups[0].Total != 60 {
		t.Errorf("group[0] = %+v", out.Groups[0])
	}
}

func TestPivotJoinsFields(t *testing.T) {
	idx := &captureIndex{resp: &index.Response{
		Pivots: []index.Pivot{{
			Field: "kingdom", Value: "Animalia", Count: 10,
			Pivots: []index.Pivot{{Field: "phylum", Value: "Chordata", Count: 6}},
		}},
	}}
	e := newTestExecutor(idx)

	out, err := e.Pivot(context.Background(), &domain.SearchSpec{}, []string{"kingdom", "phylum"})
	if err != nil {
		t.Fatalf("Pivot: %v", err)
	}
	if len(idx.last.PivotFields) != 1 || idx.last.PivotFields[0] != "kingdom,phylum" {
		t.Errorf("pivot query = %+v", idx.last.PivotFields)
	}
	if len(out) != 1 || out[0].Value != "Animalia" {
		t.Fatalf("out = %+v", out)
	}
	if len(out[0].Children) != 1 || out[0].Children[0].Value != "Chordata" {
		t.Errorf("children = %+v", out[0].Children)
	}
}

func TestFieldStats(t *testing.T) {
	idx := &captureIndex{resp: &index.Response{
		Stats: map[string]index.StatsResult{
			"year": {Min: 1850, Max: 2026, Count: 50, Missing: 3},
		},
	}}
	e := newTestExecutor(idx)

	out, err := e.FieldStats(context.Background(), &domain.SearchSpec{}, "year")
	if err != nil {
		t.Fatalf("FieldStats: %v", err)
	}
	if out.Field != "year" || out.Min != 1850 || out.Count != 50 || out.Missing != 3 {
		t.Errorf("out = %+v", out)
	}
}

func TestLegendWithCutpoints(t *testing.T) {
	idx := &captureIndex{resp: &index.Response{
		FacetQueries: map[string]int64{
			"coordinate_uncertainty:[0 TO 100}":    12,
			"coordinate_uncertainty:[100 TO 1000]": 3,
			"-coordinate_uncertainty:[* TO *]":     5,
		},
	}}
	e := newTestExecutor(idx)

	items, err := e.Legend(context.Background(), &domain.SearchSpec{}, "coordinate_uncertainty", []float64{0, 100, 1000})
	if err != nil {
		t.Fatalf("Legend: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Name != "0 - 100" || items[0].Count != 12 {
		t.Errorf("item[0] = %+v", items[0])
	}
	// the last range bucket is closed on its upper bound
	if items[1].Fq != "coordinate_uncertainty:[100 TO 1000]" || items[1].Count != 3 {
		t.Errorf("item[1] = %+v", items[1])
	}
	if items[2].Name != "unknown" || items[2].Count != 5 {
		t.Errorf("item[2] = %+v", items[2])
	}
}

func TestLegendFromValues(t *testing.T) {
	idx := &captureIndex{resp: &index.Response{
		Facets: []index.FacetField{{
			Name: "basis_of_record",
			Counts: []index.FacetCount{
				{Value: "PreservedSpecimen", Count: 9},
				{Value: "", Count: 1},
			},
		}},
	}}
	e := newTestExecutor(idx)

	items, err := e.Legend(context.Background(), &domain.SearchSpec{}, "basis_of_record", nil)
	if err != nil {
		t.Fatalf("Legend: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Fq != `basis_of_record:"PreservedSpecimen"` {
		t.Errorf("item[0] = %+v", items[0])
	}
	if items[1].Name != "unknown" || items[1].Fq != "-basis_of_record:[* TO *]" {
		t.Errorf("item[1] = %+v", items[1])
	}
}

func TestFieldsMapsSchema(t *testing.T) {
	idx := &captureIndex{fields: []index.FieldInfo{
		{Name: "id", Type: "string", Indexed: true, Stored: true},
	}}
	e := newTestExecutor(idx)

	out, err := e.Fields(context.Background())
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	if len(out) != 1 || out[0].Name != "id" || out[0].DataType != "string" || !out[0].Indexed {
		t.Errorf("out = %+v", out)
	}
}
