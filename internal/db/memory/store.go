// Package memory implements the permanent store in process memory,
// for tests and local development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/livingatlas/occsearch/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

// Store implements db.Store on a map.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) key(typ, key string) string {
	return typ + ":" + key
}

// Get retrieves a value by type and key.
func (s *Store) Get(_ context.Context, typ, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[s.key(typ, key)]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

// Put stores a value at the given type and key.
func (s *Store) Put(_ context.Context, typ, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[s.key(typ, key)] = cp
	return nil
}

// Delete removes a key. Returns whether the key existed.
func (s *Store) Delete(_ context.Context, typ, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.key(typ, key)
	_, ok := s.data[k]
	delete(s.data, k)
	return ok, nil
}

// Keys lists all keys of the given type.
func (s *Store) Keys(_ context.Context, typ string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := typ + ":"
	var keys []string
	for k := range s.data {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k[len(prefix):])
		}
	}
	return keys, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// WaitForReady always succeeds.
func (s *Store) WaitForReady(context.Context, time.Duration) error { return nil }
