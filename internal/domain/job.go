package domain

import "sync/atomic"

// JobType classifies offline export jobs so worker pools can specialize.
type JobType string

const (
	JobTypeIndex JobType = "index" // export straight from the index
	JobTypeStore JobType = "store" // export joined against the permanent store
)

// AssertionMode controls which quality-assertion columns an export carries.
type AssertionMode string

const (
	AssertionsNone       AssertionMode = "none"
	AssertionsAll        AssertionMode = "all"
	AssertionsIncludeAll AssertionMode = "includeall"
)

// ExportJob describes one offline bulk export. The struct is mirrored to
// disk as JSON by the persistent queue, so exported fields only.
type ExportJob struct {
	// ID is the enqueue time in unix milliseconds and orders the queue.
	ID       int64   `json:"startTime"`
	Email    string  `json:"email"`
	FileName string  `json:"fileName"`
	Type     JobType `json:"type"`
	Format   string  `json:"format"` // csv, tsv
	Gzip     bool    `json:"gzip,omitempty"`

	Spec       SearchSpec    `json:"requestParams"`
	Fields     []string      `json:"fields,omitempty"`
	Assertions AssertionMode `json:"assertions,omitempty"`
	// AssertionList applies when Assertions is empty: explicit columns.
	AssertionList []string `json:"assertionList,omitempty"`

	IncludeSensitive bool  `json:"includeSensitive,omitempty"`
	EnforceRowLimit  bool  `json:"enforceRowLimit"`
	RequestedRows    int64 `json:"requestedRows,omitempty"`

	// FileLocation is the claim marker: empty while queued, set to the
	// destination path once a worker picks the job up. Never persisted.
	FileLocation string `json:"-"`

	// TotalRecords is the index count for the job's query, filled in
	// when the export starts.
	TotalRecords int64 `json:"totalRecords,omitempty"`

	rowsWritten atomic.Int64
}

// RecordWritten adds n to the live progress counter.
func (j *ExportJob) RecordWritten(n int64) { j.rowsWritten.Add(n) }

// RowsWritten returns the live progress counter.
func (j *ExportJob) RowsWritten() int64 { return j.rowsWritten.Load() }

// Claimed reports whether a worker has picked the job up.
func (j *ExportJob) Claimed() bool { return j.FileLocation != "" }
