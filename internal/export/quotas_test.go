package export

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/livingatlas/occsearch/internal/db"
	"github.com/livingatlas/occsearch/internal/db/memory"
)

func TestStoreQuotas(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_ = store.Put(ctx, db.TypeQuota, "dr1", []byte("1000"))
	_ = store.Put(ctx, db.TypeQuota, "dr2", []byte(" 50\n"))
	_ = store.Put(ctx, db.TypeQuota, "dr3", []byte("not-a-number"))

	q := NewStoreQuotas(store, zap.NewNop())
	got, err := q.Quotas(ctx)
	if err != nil {
		t.Fatalf("Quotas: %v", err)
	}

	if got["dr1"] != 1000 {
		t.Errorf("dr1 = %d", got["dr1"])
	}
	if got["dr2"] != 50 {
		t.Errorf("dr2 = %d", got["dr2"])
	}
	if _, ok := got["dr3"]; ok {
		t.Error("malformed quota should be skipped")
	}
}
