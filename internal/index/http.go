package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Compile-time check: HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// HTTPConfig holds connection settings for the index.
type HTTPConfig struct {
	BaseURL    string
	Collection string
	Timeout    time.Duration
}

// HTTPClient speaks the index's JSON select API.
type HTTPClient struct {
	base       string
	collection string
	httpc      *http.Client
	log        *zap.Logger
}

// NewHTTPClient creates an index client.
func NewHTTPClient(cfg HTTPConfig, log *zap.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPClient{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		collection: cfg.Collection,
		httpc:      &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Execute runs one select request.
func (c *HTTPClient) Execute(ctx context.Context, q *Query) (*Response, error) {
	params := c.encode(q)
	endpoint := c.endpoint("select")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("index returned %d: %s", resp.StatusCode, truncate(body, 200))
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return nil, &TransientError{Err: err}
		}
		return nil, err
	}

	return decodeResponse(body)
}

// Fields fetches the index schema field list.
func (c *HTTPClient) Fields(ctx context.Context) ([]FieldInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("schema/fields"), nil)
	if err != nil {
		return nil, fmt.Errorf("build schema request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("schema request returned %d", resp.StatusCode)
	}

	var out struct {
		Fields []FieldInfo `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode schema response: %w", err)
	}
	return out.Fields, nil
}

func (c *HTTPClient) endpoint(path string) string {
	if c.collection != "" {
		return c.base + "/" + c.collection + "/" + path
	}
	return c.base + "/" + path
}

func (c *HTTPClient) encode(q *Query) url.Values {
	p := url.Values{}
	p.Set("wt", "json")
	p.Set("q", q.Q)
	for _, fq := range q.Filters {
		p.Add("fq", fq)
	}
	if len(q.Fields) > 0 {
		p.Set("fl", strings.Join(q.Fields, ","))
	}
	p.Set("start", strconv.Itoa(q.Start))
	p.Set("rows", strconv.Itoa(q.Rows))
	if q.Sort != "" {
		p.Set("sort", q.Sort)
	}
	if q.Cursor != "" {
		p.Set("cursorMark", q.Cursor)
		p.Del("start")
	}

	if len(q.FacetFields) > 0 || len(q.FacetQueries) > 0 || q.RangeField != "" || len(q.PivotFields) > 0 {
		p.Set("facet", "true")
	}
	for _, f := range q.FacetFields {
		p.Add("facet.field", f)
	}
	for _, fq := range q.FacetQueries {
		p.Add("facet.query", fq)
	}
	if q.FacetLimit != 0 {
		p.Set("facet.limit", strconv.Itoa(q.FacetLimit))
	}
	if q.FacetMinCount > 0 {
		p.Set("facet.mincount", strconv.Itoa(q.FacetMinCount))
	}
	if q.FacetMissing {
		p.Set("facet.missing", "true")
	}
	if q.FacetSort != "" {
		p.Set("facet.sort", q.FacetSort)
	}
	if q.FacetOffset > 0 {
		p.Set("facet.offset", strconv.Itoa(q.FacetOffset))
	}
	if q.FacetPrefix != "" {
		p.Set("facet.prefix", q.FacetPrefix)
	}
	for _, pf := range q.PivotFields {
		p.Add("facet.pivot", pf)
	}

	if q.GroupField != "" {
		p.Set("group", "true")
		p.Set("group.field", q.GroupField)
		p.Set("group.limit", strconv.Itoa(q.GroupLimit))
		if q.GroupNGroups {
			p.Set("group.ngroups", "true")
		}
	}

	if len(q.StatsFields) > 0 {
		p.Set("stats", "true")
		for _, f := range q.StatsFields {
			p.Add("stats.field", f)
		}
	}

	if q.RangeField != "" {
		p.Add("facet.range", q.RangeField)
		p.Set(fmt.Sprintf("f.%s.facet.range.start", q.RangeField), formatFloat(q.RangeStart))
		p.Set(fmt.Sprintf("f.%s.facet.range.end", q.RangeField), formatFloat(q.RangeEnd))
		p.Set(fmt.Sprintf("f.%s.facet.range.gap", q.RangeField), formatFloat(q.RangeGap))
	}

	return p
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// wire DTOs for the index JSON reply

type selectReply struct {
	Response struct {
		NumFound int64            `json:"numFound"`
		Start    int              `json:"start"`
		Docs     []map[string]any `json:"docs"`
	} `json:"response"`
	NextCursorMark string `json:"nextCursorMark"`
	FacetCounts    *struct {
		FacetQueries map[string]int64        `json:"facet_queries"`
		FacetFields  map[string][]any        `json:"facet_fields"`
		FacetRanges  map[string]rangeReply   `json:"facet_ranges"`
		FacetPivot   map[string][]pivotReply `json:"facet_pivot"`
	} `json:"facet_counts"`
	Grouped map[string]groupReply `json:"grouped"`
	Stats   *struct {
		StatsFields map[string]statsReply `json:"stats_fields"`
	} `json:"stats"`
}

type rangeReply struct {
	Counts []any `json:"counts"`
}

type pivotReply struct {
	Field string       `json:"field"`
	Value any          `json:"value"`
	Count int64        `json:"count"`
	Pivot []pivotReply `json:"pivot"`
}

type groupReply struct {
	Matches int64 `json:"matches"`
	NGroups int64 `json:"ngroups"`
	Groups  []struct {
		GroupValue *string `json:"groupValue"`
		DocList    struct {
			NumFound int64            `json:"numFound"`
			Docs     []map[string]any `json:"docs"`
		} `json:"doclist"`
	} `json:"groups"`
}

type statsReply struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Sum     float64 `json:"sum"`
	Mean    float64 `json:"mean"`
	Count   int64   `json:"count"`
	Missing int64   `json:"missing"`
}

func decodeResponse(body []byte) (*Response, error) {
	var reply selectReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("decode index response: %w", err)
	}

	out := &Response{
		Total:      reply.Response.NumFound,
		Start:      reply.Response.Start,
		Docs:       reply.Response.Docs,
		NextCursor: reply.NextCursorMark,
	}

	if fc := reply.FacetCounts; fc != nil {
		out.FacetQueries = fc.FacetQueries
		for name, flat := range fc.FacetFields {
			out.Facets = append(out.Facets, FacetField{
				Name:   name,
				Counts: decodeFlatCounts(flat),
			})
		}
		for _, rr := range fc.FacetRanges {
			out.RangeCounts = decodeFlatCounts(rr.Counts)
		}
		for _, pivots := range fc.FacetPivot {
			out.Pivots = decodePivots(pivots)
		}
	}

	for field, g := range reply.Grouped {
		gr := &GroupResult{Field: field, Matches: g.Matches, NGroups: g.NGroups}
		for _, grp := range g.Groups {
			value := ""
			if grp.GroupValue != nil {
				value = *grp.GroupValue
			}
			gr.Groups = append(gr.Groups, Group{
				Value: value,
				Total: grp.DocList.NumFound,
				Docs:  grp.DocList.Docs,
			})
		}
		out.Groups = gr
	}

	if reply.Stats != nil {
		out.Stats = make(map[string]StatsResult, len(reply.Stats.StatsFields))
		for field, s := range reply.Stats.StatsFields {
			out.Stats[field] = StatsResult{
				Min: s.Min, Max: s.Max, Sum: s.Sum, Mean: s.Mean,
				Count: s.Count, Missing: s.Missing,
			}
		}
	}

	return out, nil
}

// decodeFlatCounts parses the alternating value/count facet array.
// A null value marks the missing-value bucket and maps to "".
func decodeFlatCounts(flat []any) []FacetCount {
	counts := make([]FacetCount, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		value := ""
		if s, ok := flat[i].(string); ok {
			value = s
		}
		counts = append(counts, FacetCount{Value: value, Count: toInt64(flat[i+1])})
	}
	return counts
}

func decodePivots(in []pivotReply) []Pivot {
	out := make([]Pivot, 0, len(in))
	for _, p := range in {
		value := ""
		if p.Value != nil {
			value = fmt.Sprintf("%v", p.Value)
		}
		out = append(out, Pivot{
			Field:  p.Field,
			Value:  value,
			Count:  p.Count,
			Pivots: decodePivots(p.Pivot),
		})
	}
	return out
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}
