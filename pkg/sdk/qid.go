package occsearch

import (
	"context"
	"time"
)

// QidRequest is a query context to store server-side.
type QidRequest struct {
	Q        string   `json:"q"`
	DisplayQ string   `json:"displayQ,omitempty"`
	WKT      string   `json:"wkt,omitempty"`
	Fqs      []string `json:"fqs,omitempty"`
	MaxAgeMs int64    `json:"maxAge,omitempty"`
	Source   string   `json:"source,omitempty"`
}

// Qid is a stored query context.
type Qid struct {
	Key      string    `json:"rowKey"`
	Q        string    `json:"q"`
	DisplayQ string    `json:"displayString"`
	WKT      string    `json:"wkt,omitempty"`
	BBox     []float64 `json:"bbox,omitempty"`
	Fqs      []string  `json:"fqs,omitempty"`
	MaxAgeMs int64     `json:"maxAge"`
	Source   string    `json:"source,omitempty"`
	LastUse  int64     `json:"lastUse"`
}

// CreateQid stores a query context and returns its key. Reference it
// from later searches as "qid:<key>".
func (c *Client) CreateQid(ctx context.Context, req QidRequest) (key string, err error) {
	start := time.Now()
	defer func() { c.obs.observe("create_qid", start, err) }()

	return c.postText(ctx, "/qid", req)
}

// GetQid fetches a stored query context by key.
func (c *Client) GetQid(ctx context.Context, key string) (out *Qid, err error) {
	start := time.Now()
	defer func() { c.obs.observe("get_qid", start, err) }()

	out = &Qid{}
	if err = c.getJSON(ctx, "/qid/"+key, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}
