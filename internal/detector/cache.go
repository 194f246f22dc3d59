// Package detector — cache.go
//
// ResponseCache is the cross-request analyzer-response cache. It stores
// cacheKey -> []pii.Entity so that identical spans (same text, language,
// requested categories, and threshold) across different requests don't
// re-hit the analyzer.
//
// This is adapted from the teacher proxy's persistent Ollama-value cache
// (internal/anonymizer/cache.go): same bbolt-backed, pluggable-interface
// shape, but keyed by detector call parameters and valued by detected
// entities rather than by a single anonymization token. Crucially it does
// NOT cache PlaceholderContext state — caching detector entities, not
// allocated tokens, keeps spec §3's "no mapping state persists across
// requests" invariant intact: every request still builds its own fresh
// pii.Context and allocates its own placeholders from these entities.
//
// Two implementations are provided:
//   - memoryCache — in-memory only, used in tests and when no path is configured.
//   - bboltCache  — embedded key-value store (bbolt), used in production.
package detector

import (
	"encoding/json"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"ai-anonymizing-proxy/internal/pii"
)

// ResponseCache is the analyzer-response cache interface. All
// implementations must be safe for concurrent use.
type ResponseCache interface {
	// Get returns the cached entities for the given cache key, if present.
	Get(key string) (entities []pii.Entity, ok bool)

	// Set stores key -> entities, overwriting any existing entry.
	Set(key string, entities []pii.Entity)

	// Delete removes key from the cache, if present.
	Delete(key string)

	// Close releases any resources held by the cache (e.g. file handles).
	Close() error
}

// --- memoryCache ---------------------------------------------------------

type memoryCache struct {
	mu    sync.RWMutex
	store map[string][]pii.Entity
}

// NewMemoryCache returns an unbounded in-memory ResponseCache.
func NewMemoryCache() ResponseCache {
	return &memoryCache{store: make(map[string][]pii.Entity)}
}

func (c *memoryCache) Get(key string) ([]pii.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.store[key]
	return v, ok
}

func (c *memoryCache) Set(key string, entities []pii.Entity) {
	c.mu.Lock()
	c.store[key] = entities
	c.mu.Unlock()
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.mu.Unlock()
}

func (c *memoryCache) Close() error { return nil }

// --- bboltCache ----------------------------------------------------------

const bboltBucket = "detector_cache"

// bboltCache is a ResponseCache backed by an embedded bbolt database.
// Entries survive process restarts.
type bboltCache struct {
	db *bolt.DB
}

// NewBboltCache opens (or creates) the bbolt database at path and ensures
// the bucket exists.
func NewBboltCache(path string) (ResponseCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt detector cache %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}

	return &bboltCache{db: db}, nil
}

func (c *bboltCache) Get(key string) ([]pii.Entity, bool) {
	var entities []pii.Entity
	var found bool
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &entities); err != nil {
			return nil // corrupt entry: treat as miss
		}
		found = true
		return nil
	})
	return entities, found
}

func (c *bboltCache) Set(key string, entities []pii.Entity) {
	data, err := json.Marshal(entities)
	if err != nil {
		return
	}
	_ = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bboltBucket)
		}
		return b.Put([]byte(key), data)
	})
}

func (c *bboltCache) Delete(key string) {
	_ = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (c *bboltCache) Close() error {
	return c.db.Close()
}
