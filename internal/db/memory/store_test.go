package memory

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/livingatlas/occsearch/internal/db"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.Put(ctx, db.TypeQid, "1", []byte("a")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, db.TypeQid, "1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "a" {
		t.Errorf("got %q", got)
	}

	// values are copied, not aliased
	got[0] = 'z'
	again, _ := s.Get(ctx, db.TypeQid, "1")
	if string(again) != "a" {
		t.Errorf("stored value was mutated: %q", again)
	}
}

func TestStoreMiss(t *testing.T) {
	s := NewStore()
	_, err := s.Get(context.Background(), db.TypeQid, "missing")
	if !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestStoreTypesAreNamespaced(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_ = s.Put(ctx, db.TypeQid, "k", []byte("qid"))
	_ = s.Put(ctx, db.TypeQuota, "k", []byte("quota"))

	got, err := s.Get(ctx, db.TypeQuota, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "quota" {
		t.Errorf("got %q", got)
	}
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_ = s.Put(ctx, db.TypeJob, "1", []byte("x"))

	existed, err := s.Delete(ctx, db.TypeJob, "1")
	if err != nil || !existed {
		t.Fatalf("Delete = %v, %v", existed, err)
	}
	existed, err = s.Delete(ctx, db.TypeJob, "1")
	if err != nil || existed {
		t.Fatalf("second Delete = %v, %v", existed, err)
	}
}

func TestStoreKeys(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_ = s.Put(ctx, db.TypeQuota, "dr1", []byte("1"))
	_ = s.Put(ctx, db.TypeQuota, "dr2", []byte("2"))
	_ = s.Put(ctx, db.TypeQid, "other", []byte("3"))

	keys, err := s.Keys(ctx, db.TypeQuota)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "dr1" || keys[1] != "dr2" {
		t.Errorf("keys = %v", keys)
	}
}
