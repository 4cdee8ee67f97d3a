// Package qid caches query contexts: large or repeated search queries
// stored once, referred to by a short numeric key, and kept both in
// memory (bounded, evicted by recency) and in the permanent store.
package qid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"

	"github.com/livingatlas/occsearch/internal/db"
	"github.com/livingatlas/occsearch/internal/domain"
	"github.com/livingatlas/occsearch/internal/metrics"
)

// Store is the slice of the permanent store the cache needs.
type Store interface {
	Get(ctx context.Context, typ, key string) ([]byte, error)
	Put(ctx context.Context, typ, key string, value []byte) error
}

// refPattern matches a qid reference inside query text.
var refPattern = regexp.MustCompile(`qid:"?(\d+)"?`)

// Options holds cache sizing.
type Options struct {
	MaxBytes         int64
	MinBytes         int64
	LargestCacheable int64
}

// Cache is the query-context cache. Create with NewCache, then call
// Start to launch the eviction worker and Stop to shut it down.
type Cache struct {
	store Store
	log   *zap.Logger

	mu      sync.Mutex
	entries map[string]*domain.Qid
	size    int64
	max     int64
	min     int64
	trigger int64
	largest int64

	idMu   sync.Mutex
	lastID int64

	evictMu sync.Mutex
	signal  chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewCache creates a cache. The eviction worker is not running until
// Start is called.
func NewCache(store Store, opts Options, log *zap.Logger) *Cache {
	c := &Cache{
		store:   store,
		log:     log,
		entries: make(map[string]*domain.Qid),
		max:     opts.MaxBytes,
		min:     opts.MinBytes,
		largest: opts.LargestCacheable,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	c.trigger = triggerSize(c.min, c.max)
	return c
}

// Start launches the background eviction worker.
func (c *Cache) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.done:
				return
			case <-c.signal:
				c.evict()
			}
		}
	}()
}

// Stop shuts the eviction worker down and waits for it to exit.
func (c *Cache) Stop() {
	close(c.done)
	c.wg.Wait()
}

// Put persists the entry and admits it into the in-memory cache,
// returning the assigned key. Entries larger than the cacheable bound
// are rejected.
func (c *Cache) Put(ctx context.Context, entry *domain.Qid) (string, error) {
	if entry.Size() > c.largestCacheable() {
		return "", domain.ErrQidTooLarge
	}

	if entry.WKT != "" && len(entry.BBox) == 0 {
		entry.BBox = bboxOf(entry.WKT)
	}

	entry.Key = c.nextKey()
	entry.LastUse = time.Now().UnixMilli()

	// Persist before exposing the key, so a restart can always resolve it.
	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal query context: %w", err)
	}
	if err := c.store.Put(ctx, db.TypeQid, entry.Key, data); err != nil {
		return "", fmt.Errorf("persist query context: %w", err)
	}

	for !c.insert(entry) {
	}
	return entry.Key, nil
}

// Get returns the entry for key, loading it from the permanent store on
// a memory miss. Returns domain.ErrQidNotFound for unknown or expired
// keys.
func (c *Cache) Get(ctx context.Context, key string) (*domain.Qid, error) {
	now := time.Now().UnixMilli()

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		if entry.Expired(now) {
			c.size -= entry.Size()
			delete(c.entries, key)
			metrics.QidCacheBytes.Set(float64(c.size))
			metrics.QidCacheEntries.Set(float64(len(c.entries)))
			c.mu.Unlock()
			return nil, domain.ErrQidNotFound
		}
		entry.LastUse = now
		c.mu.Unlock()
		return entry, nil
	}
	c.mu.Unlock()

	data, err := c.store.Get(ctx, db.TypeQid, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, domain.ErrQidNotFound
		}
		return nil, fmt.Errorf("load query context %s: %w", key, err)
	}

	var entry domain.Qid
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode query context %s: %w", key, err)
	}
	entry.Key = key
	stripLegacyEscaping(&entry)
	if entry.Expired(now) {
		return nil, domain.ErrQidNotFound
	}
	entry.LastUse = now

	if entry.Size() <= c.largestCacheable() {
		for !c.insert(&entry) {
		}
	}
	return &entry, nil
}

// GetFromQueryText resolves a qid reference embedded in raw query text.
// Returns (nil, nil) when the text carries no reference.
func (c *Cache) GetFromQueryText(ctx context.Context, text string) (*domain.Qid, error) {
	m := refPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, nil
	}
	return c.Get(ctx, m[1])
}

// Size returns the aggregate in-memory size in bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Entries returns the number of in-memory entries.
func (c *Cache) Entries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SetMaxSize adjusts the hard size bound and recomputes the eviction
// trigger.
func (c *Cache) SetMaxSize(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.max = n
	c.trigger = triggerSize(c.min, c.max)
}

// SetMinSize adjusts the post-eviction target and recomputes the
// eviction trigger.
func (c *Cache) SetMinSize(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.min = n
	c.trigger = triggerSize(c.min, c.max)
}

// SetLargestCacheable adjusts the per-entry admission bound.
func (c *Cache) SetLargestCacheable(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.largest = n
}

func (c *Cache) largestCacheable() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.largest
}

// insert admits the entry under the accounting lock. When admission
// would exceed the hard bound it runs a synchronous eviction instead and
// reports false so the caller retries.
func (c *Cache) insert(entry *domain.Qid) bool {
	sz := entry.Size()

	c.mu.Lock()
	if c.size+sz > c.max {
		c.mu.Unlock()
		c.evictMu.Lock()
		c.shrink()
		c.evictMu.Unlock()
		return false
	}
	if old, ok := c.entries[entry.Key]; ok {
		c.size -= old.Size()
	}
	c.entries[entry.Key] = entry
	c.size += sz
	if c.size > c.trigger {
		select {
		case c.signal <- struct{}{}:
		default:
		}
	}
	metrics.QidCacheBytes.Set(float64(c.size))
	metrics.QidCacheEntries.Set(float64(len(c.entries)))
	c.mu.Unlock()
	return true
}

// evict is the background pass: it shrinks the cache only once the
// aggregate size has crossed the trigger. Concurrent requests coalesce.
func (c *Cache) evict() {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	c.mu.Lock()
	over := c.size > c.trigger
	c.mu.Unlock()
	if over {
		c.shrink()
	}
}

// shrink drops entries in ascending last-use order until the aggregate
// size is at or below the minimum. The candidate snapshot is sorted
// outside the accounting lock so reads stay responsive; callers hold
// evictMu.
func (c *Cache) shrink() {
	type candidate struct {
		key     string
		lastUse int64
	}

	c.mu.Lock()
	candidates := make([]candidate, 0, len(c.entries))
	for k, e := range c.entries {
		candidates = append(candidates, candidate{key: k, lastUse: e.LastUse})
	}
	c.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].lastUse < candidates[j].lastUse
	})

	c.mu.Lock()
	evicted := 0
	for _, cand := range candidates {
		if c.size <= c.min {
			break
		}
		if e, ok := c.entries[cand.key]; ok {
			c.size -= e.Size()
			delete(c.entries, cand.key)
			evicted++
		}
	}
	metrics.QidCacheBytes.Set(float64(c.size))
	metrics.QidCacheEntries.Set(float64(len(c.entries)))
	metrics.QidEvictions.Add(float64(evicted))
	size := c.size
	c.mu.Unlock()

	c.log.Debug("evicted query contexts",
		zap.Int("evicted", evicted),
		zap.Int64("size_bytes", size))
}

// nextKey returns a strictly increasing millisecond timestamp key.
func (c *Cache) nextKey() string {
	c.idMu.Lock()
	defer c.idMu.Unlock()
	id := time.Now().UnixMilli()
	if id <= c.lastID {
		id = c.lastID + 1
	}
	c.lastID = id
	return strconv.FormatInt(id, 10)
}

func triggerSize(min, max int64) int64 {
	return min + (max-min)/2
}

// stripLegacyEscaping removes index-reserved-character escaping that
// older service versions stored inside persisted query contexts.
func stripLegacyEscaping(q *domain.Qid) {
	q.Q = strings.ReplaceAll(q.Q, `\`, "")
	for i := range q.Fqs {
		q.Fqs[i] = strings.ReplaceAll(q.Fqs[i], `\`, "")
	}
}

// bboxOf computes minX, minY, maxX, maxY for a WKT geometry. Malformed
// geometries yield no bbox; the rewriter validates WKT separately.
func bboxOf(text string) []float64 {
	g, err := wkt.Unmarshal(text)
	if err != nil {
		return nil
	}
	b := g.Bounds()
	return []float64{b.Min(0), b.Min(1), b.Max(0), b.Max(1)}
}
