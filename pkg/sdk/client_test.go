package occsearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected an error for an empty base URL")
	}
}

func TestSearchRoundTrip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/occurrences/search" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var q Query
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if q.Q != "taxa:Acacia" || len(q.Facets) != 1 {
			t.Errorf("request body = %+v", q)
		}
		_ = json.NewEncoder(w).Encode(SearchResult{
			Total:     42,
			Display:   "genus Acacia",
			Documents: []map[string]any{{"id": "occ-1"}},
			Facets: []FacetResult{{
				Field:  "month",
				Values: []FacetValue{{Value: "11", Label: "November", Count: 42, Fq: `month:"11"`}},
			}},
		})
	})

	res, err := c.Search(context.Background(), Query{Q: "taxa:Acacia", Facets: []string{"month"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Total != 42 || res.Display != "genus Acacia" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Documents) != 1 || res.Documents[0]["id"] != "occ-1" {
		t.Errorf("documents = %+v", res.Documents)
	}
	if len(res.Facets) != 1 || res.Facets[0].Values[0].Fq != `month:"11"` {
		t.Errorf("facets = %+v", res.Facets)
	}
}

func TestQueryParams(t *testing.T) {
	q := Query{
		Q:        "genus:Acacia",
		Filters:  []string{"month:11", "state:Queensland"},
		Fields:   []string{"id", "scientific_name"},
		Start:    20,
		PageSize: 10,
		Sort:     "score",
		Dir:      "desc",
		Lat:      -35.28,
		Lon:      149.13,
		RadiusKm: 10,
	}
	v := q.params()

	if v.Get("q") != "genus:Acacia" {
		t.Errorf("q = %q", v.Get("q"))
	}
	if got := v["fq"]; len(got) != 2 || got[1] != "state:Queensland" {
		t.Errorf("fq = %v", got)
	}
	if v.Get("fl") != "id,scientific_name" {
		t.Errorf("fl = %q", v.Get("fl"))
	}
	if v.Get("start") != "20" || v.Get("pageSize") != "10" {
		t.Errorf("paging = %q/%q", v.Get("start"), v.Get("pageSize"))
	}
	if v.Get("lat") != "-35.28" || v.Get("radius") != "10" {
		t.Errorf("circle = %q/%q", v.Get("lat"), v.Get("radius"))
	}
}

func TestQueryParamsWKTWinsOverCircle(t *testing.T) {
	v := Query{WKT: "POLYGON((0 0,1 0,1 1,0 0))", Lat: 1, Lon: 2, RadiusKm: 3}.params()
	if v.Get("wkt") == "" {
		t.Error("wkt missing")
	}
	if v.Get("lat") != "" || v.Get("radius") != "" {
		t.Error("circle parameters should be dropped when a wkt is set")
	}
}

func TestFacetsBuildsQueryString(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/occurrences/facets" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("facets") != "month,state" {
			t.Errorf("facets = %q", r.URL.Query().Get("facets"))
		}
		_ = json.NewEncoder(w).Encode([]FacetResult{{Field: "month"}, {Field: "state"}})
	})

	out, err := c.Facets(context.Background(), Query{Facets: []string{"month", "state"}})
	if err != nil {
		t.Fatalf("Facets: %v", err)
	}
	if len(out) != 2 || out[0].Field != "month" {
		t.Errorf("out = %+v", out)
	}
}

func TestLegendParams(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("field") != "coordinate_uncertainty" {
			t.Errorf("field = %q", q.Get("field"))
		}
		if q.Get("cutpoints") != "0,100,1000" {
			t.Errorf("cutpoints = %q", q.Get("cutpoints"))
		}
		_ = json.NewEncoder(w).Encode([]LegendItem{{Name: "0 - 100", Count: 12}})
	})

	items, err := c.Legend(context.Background(), Query{}, "coordinate_uncertainty", []float64{0, 100, 1000})
	if err != nil {
		t.Fatalf("Legend: %v", err)
	}
	if len(items) != 1 || items[0].Count != 12 {
		t.Errorf("items = %+v", items)
	}
}

func TestCreateQidReturnsKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/qid" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req QidRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Q != "genus:Acacia" {
			t.Errorf("q = %q", req.Q)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("1756400000000\n"))
	})

	key, err := c.CreateQid(context.Background(), QidRequest{Q: "genus:Acacia"})
	if err != nil {
		t.Fatalf("CreateQid: %v", err)
	}
	if key != "1756400000000" {
		t.Errorf("key = %q", key)
	}
}

func TestGetQidNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code": "qid_not_found", "message": "query context not found",
		})
	})

	_, err := c.GetQid(context.Background(), "12345")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "qid_not_found" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		code   string
		status int
		want   error
	}{
		{"qid_not_found", 404, ErrNotFound},
		{"job_not_found", 404, ErrNotFound},
		{"qid_too_large", 413, ErrTooLarge},
		{"invalid_query", 400, ErrInvalidQuery},
		{"bad_request", 400, ErrInvalidQuery},
		{"export_too_big", 400, ErrExportTooBig},
		{"quota_exceeded", 429, ErrQuotaExceeded},
	}
	for _, tc := range cases {
		err := (&APIError{Status: tc.status, Code: tc.code, Message: "x"})
		if !errors.Is(err, tc.want) {
			t.Errorf("%s does not map to %v", tc.code, tc.want)
		}
	}
	if errors.Is(&APIError{Status: 500, Code: "internal_error"}, ErrInvalidQuery) {
		t.Error("internal_error must not map to a sentinel")
	}
}

func TestErrorWithoutBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := c.IndexFields(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Status != http.StatusBadGateway {
		t.Errorf("status = %d", apiErr.Status)
	}
}

func TestSubmitDownload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Q       string `json:"q"`
			Email   string `json:"email"`
			MaxRows int64  `json:"maxRows"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		// the embedded query flattens into the request body
		if req.Q != "data_resource_uid:dr376" || req.Email != "user@example.org" || req.MaxRows != 1000 {
			t.Errorf("request = %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(DownloadTicket{JobID: 7, QueueLength: 2})
	})

	ticket, err := c.SubmitDownload(context.Background(), DownloadRequest{
		Query:   Query{Q: "data_resource_uid:dr376"},
		Email:   "user@example.org",
		MaxRows: 1000,
	})
	if err != nil {
		t.Fatalf("SubmitDownload: %v", err)
	}
	if ticket.JobID != 7 || ticket.QueueLength != 2 {
		t.Errorf("ticket = %+v", ticket)
	}
}

func TestDownloadStatuses(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]DownloadStatus{
			{JobID: 7, Email: "user@example.org", Started: true, RowsWritten: 500},
		})
	})

	out, err := c.DownloadStatuses(context.Background())
	if err != nil {
		t.Fatalf("DownloadStatuses: %v", err)
	}
	if len(out) != 1 || !out[0].Started || out[0].RowsWritten != 500 {
		t.Errorf("out = %+v", out)
	}
}

func TestPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
