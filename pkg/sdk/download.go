package occsearch

import (
	"context"
	"time"
)

// DownloadRequest submits a bulk export of the occurrences matching
// Query. The export runs asynchronously on the server.
type DownloadRequest struct {
	Query
	Email      string   `json:"email"`
	FileName   string   `json:"fileName,omitempty"`
	Format     string   `json:"format,omitempty"` // csv (default) or tsv
	Gzip       bool     `json:"gzip,omitempty"`
	Fields     []string `json:"fields,omitempty"`
	Assertions string   `json:"assertions,omitempty"`
	MaxRows    int64    `json:"maxRows,omitempty"`
	Type       string   `json:"type,omitempty"`
}

// DownloadTicket acknowledges a queued export.
type DownloadTicket struct {
	JobID       int64 `json:"jobId"`
	QueueLength int   `json:"queueLength"`
}

// DownloadStatus summarizes one queued or running export job.
type DownloadStatus struct {
	JobID       int64  `json:"jobId"`
	Email       string `json:"email"`
	Type        string `json:"type"`
	Started     bool   `json:"started"`
	RowsWritten int64  `json:"rowsWritten"`
	Total       int64  `json:"totalRecords,omitempty"`
}

// SubmitDownload queues a bulk export and returns its ticket.
func (c *Client) SubmitDownload(ctx context.Context, req DownloadRequest) (out *DownloadTicket, err error) {
	start := time.Now()
	defer func() { c.obs.observe("submit_download", start, err) }()

	out = &DownloadTicket{}
	if err = c.postJSON(ctx, "/occurrences/download", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DownloadStatuses lists all queued and running export jobs.
func (c *Client) DownloadStatuses(ctx context.Context) (out []DownloadStatus, err error) {
	start := time.Now()
	defer func() { c.obs.observe("download_statuses", start, err) }()

	if err = c.getJSON(ctx, "/occurrences/download/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
