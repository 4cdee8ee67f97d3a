package names

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL}, zap.NewNop())
}

func TestGuidForName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/search" || r.URL.Query().Get("q") != "Acacia dealbata" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_ = json.NewEncoder(w).Encode(matchReply{Success: true, GUID: "urn:lsid:afd:123"})
	})

	guid, err := c.GuidForName(context.Background(), "Acacia dealbata")
	if err != nil {
		t.Fatalf("GuidForName: %v", err)
	}
	if guid != "urn:lsid:afd:123" {
		t.Errorf("guid = %q", guid)
	}
}

func TestGuidForNameMiss(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(matchReply{Success: false})
	})

	guid, err := c.GuidForName(context.Background(), "Nonexistus species")
	if err != nil {
		t.Fatalf("GuidForName: %v", err)
	}
	if guid != "" {
		t.Errorf("expected a miss, got %q", guid)
	}
}

func TestGuidsForTaxa(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		reply := matchReply{}
		if r.URL.Query().Get("q") == "Acacia" {
			reply = matchReply{Success: true, GUID: "g1"}
		}
		_ = json.NewEncoder(w).Encode(reply)
	})

	guids, err := c.GuidsForTaxa(context.Background(), []string{"Acacia", "Unknownia"})
	if err != nil {
		t.Fatalf("GuidsForTaxa: %v", err)
	}
	if len(guids) != 2 || guids[0] != "g1" || guids[1] != "" {
		t.Errorf("guids = %v", guids)
	}
}

func TestTaxonRange(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/byid" || r.URL.Query().Get("id") != "g1" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_ = json.NewEncoder(w).Encode(matchReply{
			Success: true, Name: "Acacia", Rank: "genus", Left: 100, Right: 200,
		})
	})

	query, label, err := c.TaxonRange(context.Background(), "g1")
	if err != nil {
		t.Fatalf("TaxonRange: %v", err)
	}
	if query != "lft:[100 TO 200]" {
		t.Errorf("query = %q", query)
	}
	if label != "<span class='genus'>Acacia</span>" {
		t.Errorf("label = %q", label)
	}
}

func TestTaxonRangeUnknownID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	query, label, err := c.TaxonRange(context.Background(), "bogus")
	if err != nil {
		t.Fatalf("TaxonRange: %v", err)
	}
	if query != "" || label != "" {
		t.Errorf("expected empty results, got %q %q", query, label)
	}
}

func TestServerErrorSurfaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if _, err := c.GuidForName(context.Background(), "Acacia"); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
