package db

import (
	"context"
	"time"
)

// Value types stored in the permanent store. Keys are namespaced as
// <prefix><type>:<key>.
const (
	TypeQid   = "qid"   // cached query contexts
	TypeJob   = "job"   // offline export job metadata
	TypeQuota = "quota" // per-source download quotas
)

// Store is the permanent store facade. Consumers depend on the narrow
// sub-interfaces, not on Store itself.
type Store interface {
	Pinger
	KVStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides typed key-value operations.
type KVStore interface {
	Get(ctx context.Context, typ, key string) ([]byte, error)
	Put(ctx context.Context, typ, key string, value []byte) error
	Delete(ctx context.Context, typ, key string) (bool, error)
	Keys(ctx context.Context, typ string) ([]string, error)
}
