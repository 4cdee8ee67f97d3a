// Package names is an HTTP client for the taxonomic name-matching
// service. All lookups are best-effort: a miss is an empty result, only
// transport failures surface as errors.
package names

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config holds the name service settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements the rewriter's NameResolver against the
// name-matching webservice.
type Client struct {
	base   string
	httpc  *http.Client
	logger *zap.Logger
}

// NewClient creates a name-matching client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		httpc:  &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type matchReply struct {
	Success bool   `json:"success"`
	GUID    string `json:"taxonConceptID"`
	Name    string `json:"scientificName"`
	Left    int64  `json:"lft"`
	Right   int64  `json:"rgt"`
	Rank    string `json:"rank"`
}

// GuidForName returns the taxon identifier for a scientific name, or ""
// on a miss.
func (c *Client) GuidForName(ctx context.Context, name string) (string, error) {
	var reply matchReply
	err := c.get(ctx, "/api/search?q="+url.QueryEscape(name), &reply)
	if err != nil {
		return "", err
	}
	if !reply.Success {
		return "", nil
	}
	return reply.GUID, nil
}

// GuidsForTaxa returns one identifier per name; unmatched names yield
// "".
func (c *Client) GuidsForTaxa(ctx context.Context, names []string) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		guid, err := c.GuidForName(ctx, n)
		if err != nil {
			return nil, err
		}
		out[i] = guid
	}
	return out, nil
}

// TaxonRange returns the hierarchy-range query covering the taxon and
// its descendants plus a display label. Unknown identifiers yield empty
// results.
func (c *Client) TaxonRange(ctx context.Context, id string) (query, label string, err error) {
	var reply matchReply
	if err := c.get(ctx, "/api/byid?id="+url.QueryEscape(id), &reply); err != nil {
		return "", "", err
	}
	if !reply.Success || reply.Left <= 0 || reply.Right < reply.Left {
		return "", "", nil
	}
	query = fmt.Sprintf("lft:[%d TO %d]", reply.Left, reply.Right)
	label = "<span class='" + reply.Rank + "'>" + reply.Name + "</span>"
	return query, label, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build name request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("name service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("name service returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode name response: %w", err)
	}
	return nil
}
