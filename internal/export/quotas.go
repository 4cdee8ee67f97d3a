package export

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/livingatlas/occsearch/internal/db"
)

// QuotaStore is the slice of the permanent store the quota provider
// needs.
type QuotaStore interface {
	Get(ctx context.Context, typ, key string) ([]byte, error)
	Keys(ctx context.Context, typ string) ([]string, error)
}

// StoreQuotas reads per-source download quotas from the permanent
// store. Each quota key is a source id, the value its remaining row
// allowance.
type StoreQuotas struct {
	store QuotaStore
	log   *zap.Logger
}

// NewStoreQuotas creates a quota provider.
func NewStoreQuotas(store QuotaStore, log *zap.Logger) *StoreQuotas {
	return &StoreQuotas{store: store, log: log}
}

// Quotas returns the current quota map. Unparseable entries are skipped.
func (q *StoreQuotas) Quotas(ctx context.Context) (map[string]int64, error) {
	keys, err := q.store.Keys(ctx, db.TypeQuota)
	if err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}

	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		data, err := q.store.Get(ctx, db.TypeQuota, k)
		if err != nil {
			return nil, fmt.Errorf("load quota %s: %w", k, err)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			q.log.Warn("skipping malformed quota", zap.String("source", k), zap.Error(err))
			continue
		}
		out[k] = n
	}
	return out, nil
}
