// Package export streams bulk occurrence exports: the query is split
// into partitions by a low-cardinality facet, partitions are drained
// concurrently with cursor paging, and rows funnel into a single sink.
package export

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/livingatlas/occsearch/internal/domain"
	"github.com/livingatlas/occsearch/internal/index"
	"github.com/livingatlas/occsearch/internal/metrics"
)

// Rewriter is the slice of the query rewriter the pipeline needs.
type Rewriter interface {
	Rewrite(ctx context.Context, spec *domain.SearchSpec) (domain.RewrittenQuery, error)
}

// QuotaProvider supplies remaining per-source download quotas. A source
// absent from the map is unlimited.
type QuotaProvider interface {
	Quotas(ctx context.Context) (map[string]int64, error)
}

// Options tunes the pipeline.
type Options struct {
	BatchSize   int
	Workers     int
	MaxRows     int64
	Throttle    time.Duration
	SplitField  string // low-cardinality partition facet
	SourceField string // field carrying the record's source id
	IDField     string // unique key, cursor sort tiebreaker
}

// Pipeline runs bulk exports.
type Pipeline struct {
	idx    index.Client
	rw     Rewriter
	quotas QuotaProvider
	log    *zap.Logger
	opts   Options
}

// NewPipeline creates a pipeline. quotas may be nil to disable
// per-source limits.
func NewPipeline(idx index.Client, rw Rewriter, quotas QuotaProvider, opts Options, log *zap.Logger) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = 500000
	}
	if opts.Throttle <= 0 {
		opts.Throttle = 50 * time.Millisecond
	}
	if opts.SplitField == "" {
		opts.SplitField = "month"
	}
	if opts.SourceField == "" {
		opts.SourceField = "data_resource_uid"
	}
	if opts.IDField == "" {
		opts.IDField = "id"
	}
	return &Pipeline{idx: idx, rw: rw, quotas: quotas, opts: opts, log: log}
}

// shared is the cross-partition state: the sink lock also guards the
// quota and stats maps so quota checks and writes stay atomic together.
type shared struct {
	mu        sync.Mutex
	sink      Sink
	remaining map[string]int64 // nil when quotas are off
	stats     map[string]int64
	written   atomic.Int64
	capRows   int64
}

// reserve claims one row slot against the global cap. It reports false
// once the cap is exhausted.
func (s *shared) reserve() bool {
	n := s.written.Add(1)
	if n > s.capRows {
		s.written.Add(-1)
		return false
	}
	return true
}

// Run executes the job, writing rows to sink and returning per-source
// row counts plus two synthetic entries keyed by the requested field
// list and the header list.
func (p *Pipeline) Run(ctx context.Context, job *domain.ExportJob, sink Sink) (map[string]int64, error) {
	started := time.Now()

	rq, err := p.rw.Rewrite(ctx, &job.Spec)
	if err != nil {
		return nil, fmt.Errorf("rewrite export query: %w", err)
	}

	fields, headers, err := p.resolveFields(ctx, job)
	if err != nil {
		return nil, err
	}

	st := &shared{sink: sink, stats: make(map[string]int64), capRows: p.capFor(job)}
	if p.quotas != nil {
		st.remaining, err = p.quotas.Quotas(ctx)
		if err != nil {
			return nil, fmt.Errorf("load quotas: %w", err)
		}
	}

	countResp, err := p.idx.Execute(ctx, &index.Query{Q: rq.Query, Filters: rq.Filters, Rows: 0})
	if err != nil {
		return nil, fmt.Errorf("count export: %w", err)
	}
	job.TotalRecords = countResp.Total

	if err := sink.Write(headers); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	partitions := p.partition(ctx, rq)

	var wg sync.WaitGroup
	work := make(chan string)
	errs := make([]error, len(partitions))
	failures := atomic.Int64{}

	partIdx := make(map[string]int, len(partitions))
	for i, f := range partitions {
		partIdx[f] = i
	}

	for w := 0; w < p.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for part := range work {
				if err := p.drain(ctx, rq, part, fields, job, st); err != nil {
					errs[partIdx[part]] = err
					failures.Add(1)
					p.log.Error("export partition failed",
						zap.String("partition", part), zap.Error(err))
				}
			}
		}()
	}

	for _, part := range partitions {
		work <- part
	}
	close(work)
	wg.Wait()

	if int(failures.Load()) == len(partitions) && len(partitions) > 0 {
		for _, err := range errs {
			if err != nil {
				return nil, fmt.Errorf("export failed: %w", err)
			}
		}
	}

	if err := sink.Finalize(); err != nil {
		return nil, fmt.Errorf("finalize export: %w", err)
	}

	st.stats[strings.Join(fields, ",")] = -1
	st.stats[strings.Join(headers, ",")] = -2

	metrics.ExportRows.Add(float64(st.written.Load()))
	metrics.ExportJobDuration.Observe(time.Since(started).Seconds())
	p.log.Info("export complete",
		zap.Int64("rows", st.written.Load()),
		zap.Int64("total_matched", job.TotalRecords),
		zap.Duration("elapsed", time.Since(started)))

	return st.stats, nil
}

// partition splits the query by the facet values of the split field,
// plus one remainder partition for records missing the field. When the
// facet cannot be computed the whole query becomes a single partition.
func (p *Pipeline) partition(ctx context.Context, rq domain.RewrittenQuery) []string {
	resp, err := p.idx.Execute(ctx, &index.Query{
		Q:             rq.Query,
		Filters:       rq.Filters,
		Rows:          0,
		FacetFields:   []string{p.opts.SplitField},
		FacetMinCount: 1,
		FacetLimit:    -1,
	})
	if err != nil {
		p.log.Warn("partition facet failed, exporting unpartitioned", zap.Error(err))
		return []string{""}
	}

	var parts []string
	for _, ff := range resp.Facets {
		if ff.Name != p.opts.SplitField {
			continue
		}
		for _, c := range ff.Counts {
			if c.Value != "" && c.Count > 0 {
				parts = append(parts, fmt.Sprintf("%s:\"%s\"", p.opts.SplitField, c.Value))
			}
		}
	}
	if len(parts) == 0 {
		return []string{""}
	}
	parts = append(parts, fmt.Sprintf("-%s:[* TO *]", p.opts.SplitField))
	return parts
}

// drain pages through one partition with a cursor and writes its rows.
func (p *Pipeline) drain(ctx context.Context, rq domain.RewrittenQuery, part string, fields []string, job *domain.ExportJob, st *shared) error {
	filters := rq.Filters
	if part != "" {
		filters = append(append([]string(nil), rq.Filters...), part)
	}

	cursor := "*"
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := p.idx.Execute(ctx, &index.Query{
			Q:       rq.Query,
			Filters: filters,
			Fields:  fields,
			Rows:    p.opts.BatchSize,
			Sort:    p.opts.IDField + " asc",
			Cursor:  cursor,
		})
		if err != nil {
			return err
		}

		for _, doc := range resp.Docs {
			if !st.reserve() {
				return nil
			}
			if !p.writeRow(doc, fields, job, st) {
				st.written.Add(-1)
			}
		}

		if len(resp.Docs) == 0 || resp.NextCursor == "" || resp.NextCursor == cursor {
			return nil
		}
		cursor = resp.NextCursor

		if !job.EnforceRowLimit {
			// spread load on the index for unbounded jobs
			time.Sleep(p.opts.Throttle + time.Duration(rand.Int63n(int64(p.opts.Throttle))))
		}
	}
}

// writeRow emits one document under the sink lock, enforcing per-source
// quotas. Reports whether the row was written.
func (p *Pipeline) writeRow(doc map[string]any, fields []string, job *domain.ExportJob, st *shared) bool {
	source, _ := doc[p.opts.SourceField].(string)

	row := make([]string, len(fields))
	for i, f := range fields {
		row[i] = stringify(doc[f])
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.remaining != nil && source != "" {
		left, limited := st.remaining[source]
		if limited {
			if left <= 0 {
				return false
			}
			st.remaining[source] = left - 1
		}
	}

	if err := st.sink.Write(row); err != nil {
		p.log.Error("sink write failed", zap.Error(err))
		return false
	}
	if source != "" {
		st.stats[source]++
	}
	job.RecordWritten(1)
	return true
}

// resolveFields validates the job's field list against the live index
// schema and derives the header row, including assertion columns.
func (p *Pipeline) resolveFields(ctx context.Context, job *domain.ExportJob) (fields, headers []string, err error) {
	known, err := p.idx.Fields(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve export fields: %w", err)
	}
	byName := make(map[string]index.FieldInfo, len(known))
	for _, fi := range known {
		byName[fi.Name] = fi
	}

	requested := job.Fields
	if len(requested) == 0 {
		requested = job.Spec.Fields
	}
	if len(requested) == 0 {
		requested = []string{p.opts.IDField, "scientific_name", "latitude", "longitude", "event_date", p.opts.SourceField}
	}

	for _, f := range requested {
		if _, ok := byName[f]; ok || len(known) == 0 {
			fields = append(fields, f)
		} else {
			p.log.Warn("dropping unknown export field", zap.String("field", f))
		}
	}
	if len(fields) == 0 {
		return nil, nil, fmt.Errorf("%w: no exportable fields", domain.ErrInvalidQuery)
	}

	for _, f := range fields {
		headers = append(headers, headerFor(f))
	}

	switch job.Assertions {
	case domain.AssertionsAll, domain.AssertionsIncludeAll:
		fields = append(fields, "assertions")
		headers = append(headers, "Assertions")
	default:
		for _, a := range job.AssertionList {
			fields = append(fields, a)
			headers = append(headers, headerFor(a))
		}
	}
	return fields, headers, nil
}

// headerFor derives the column header from an index field name:
// "scientific_name" becomes "Scientific Name".
func headerFor(field string) string {
	parts := strings.Split(field, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}

// capFor returns the job's row budget. Jobs without limit enforcement
// are throttled but never truncated.
func (p *Pipeline) capFor(job *domain.ExportJob) int64 {
	if !job.EnforceRowLimit {
		return math.MaxInt64
	}
	limit := p.opts.MaxRows
	if job.RequestedRows > 0 && job.RequestedRows < limit {
		limit = job.RequestedRows
	}
	return limit
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = stringify(e)
		}
		return strings.Join(parts, "|")
	default:
		return fmt.Sprintf("%v", t)
	}
}
