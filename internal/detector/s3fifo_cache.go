// Package detector — s3fifo_cache.go
//
// s3fifoCache wraps a ResponseCache (bbolt) with an in-memory S3-FIFO
// eviction layer, bounding both the hot in-memory footprint and the
// on-disk store size. Ported from the teacher proxy's Ollama-value S3-FIFO
// cache, repointed at detector entities instead of anonymization tokens.
//
// # Algorithm
//
// S3-FIFO ("Simple, Scalable, FIFO-based cache eviction", Yang et al.,
// 2023) uses two FIFO queues and a bounded ghost set:
//
//   - S (small, ~10% of capacity): probationary queue. New keys land here.
//   - M (main, ~90% of capacity): protected queue. Keys promoted from S
//     after at least one access (freq > 0) land here.
//   - G (ghost): a circular-buffer set of keys recently evicted from S,
//     bounded to 2x sTarget (at least 4). A key found in G on insert bypasses S and
//     goes directly to M.
//
// Per-entry state: saturating frequency counter (uint8, max 3). Incremented
// on every Get hit; reset to 0 on M promotion.
//
// Items evicted from either queue are deleted from the bbolt backing store
// so on-disk size stays bounded.
package detector

import (
	"container/list"
	"sync"

	"ai-anonymizing-proxy/internal/pii"
)

type s3fifoEntry struct {
	value []pii.Entity
	freq  uint8
	elem  *list.Element
	inM   bool
}

type s3fifoCache struct {
	mu sync.Mutex

	capacity int
	sTarget  int
	ghostCap int

	entries map[string]*s3fifoEntry

	sQueue *list.List
	mQueue *list.List

	ghostBuf   []string
	ghostSet   map[string]struct{}
	ghostHead  int
	ghostCount int

	backing ResponseCache
}

// NewS3FIFOCache returns a ResponseCache that applies S3-FIFO eviction in
// front of the given backing store. capacity is the maximum number of
// entries kept in memory (and on disk); values < 2 are clamped to 2.
func NewS3FIFOCache(backing ResponseCache, capacity int) ResponseCache {
	if capacity < 2 {
		capacity = 2
	}
	sTarget := capacity / 10
	if sTarget < 1 {
		sTarget = 1
	}
	ghostCap := 2 * sTarget
	if ghostCap < 4 {
		ghostCap = 4
	}
	return &s3fifoCache{
		capacity: capacity,
		sTarget:  sTarget,
		ghostCap: ghostCap,
		entries:  make(map[string]*s3fifoEntry, capacity),
		sQueue:   list.New(),
		mQueue:   list.New(),
		ghostBuf: make([]string, ghostCap),
		ghostSet: make(map[string]struct{}, ghostCap),
		backing:  backing,
	}
}

func (c *s3fifoCache) Get(key string) ([]pii.Entity, bool) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		if e.freq < 3 {
			e.freq++
		}
		v := e.value
		c.mu.Unlock()
		return v, true
	}
	c.mu.Unlock()

	entities, ok := c.backing.Get(key)
	if !ok {
		return nil, false
	}
	c.insertLocked(key, entities)
	return entities, true
}

func (c *s3fifoCache) Set(key string, entities []pii.Entity) {
	c.insertLocked(key, entities)
	c.backing.Set(key, entities)
}

func (c *s3fifoCache) Delete(key string) {
	c.mu.Lock()
	c.removeFromMemory(key)
	c.mu.Unlock()
	c.backing.Delete(key)
}

func (c *s3fifoCache) Close() error {
	return c.backing.Close()
}

func (c *s3fifoCache) insertLocked(key string, value []pii.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		return
	}

	inM := c.ghostContains(key)
	var elem *list.Element
	if inM {
		elem = c.mQueue.PushBack(key)
	} else {
		elem = c.sQueue.PushBack(key)
	}
	c.entries[key] = &s3fifoEntry{value: value, freq: 0, elem: elem, inM: inM}

	for c.sQueue.Len()+c.mQueue.Len() > c.capacity {
		c.evictOne()
	}
}

func (c *s3fifoCache) evictOne() {
	if c.sQueue.Len() > 0 {
		c.evictFromS()
		return
	}
	c.evictFromM()
}

func (c *s3fifoCache) evictFromS() {
	front := c.sQueue.Front()
	if front == nil {
		return
	}
	key, ok := front.Value.(string)
	if !ok {
		c.sQueue.Remove(front)
		return
	}
	c.sQueue.Remove(front)

	e, ok := c.entries[key]
	if !ok {
		return
	}

	if e.freq > 0 {
		e.freq = 0
		e.inM = true
		e.elem = c.mQueue.PushBack(key)
		mTarget := c.capacity - c.sTarget
		if c.mQueue.Len() > mTarget {
			c.evictFromM()
		}
	} else {
		delete(c.entries, key)
		c.ghostAdd(key)
		go c.backing.Delete(key) // async: avoid blocking the hot path
	}
}

func (c *s3fifoCache) evictFromM() {
	front := c.mQueue.Front()
	if front == nil {
		return
	}
	key, ok := front.Value.(string)
	if !ok {
		c.mQueue.Remove(front)
		return
	}
	c.mQueue.Remove(front)
	delete(c.entries, key)
	go c.backing.Delete(key) // async: avoid blocking the hot path
}

func (c *s3fifoCache) removeFromMemory(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.inM {
		c.mQueue.Remove(e.elem)
	} else {
		c.sQueue.Remove(e.elem)
	}
	delete(c.entries, key)
}

func (c *s3fifoCache) ghostContains(key string) bool {
	_, ok := c.ghostSet[key]
	return ok
}

func (c *s3fifoCache) ghostAdd(key string) {
	if _, exists := c.ghostSet[key]; exists {
		return
	}

	if c.ghostCount == c.ghostCap {
		oldest := c.ghostBuf[c.ghostHead]
		delete(c.ghostSet, oldest)
		c.ghostHead = (c.ghostHead + 1) % c.ghostCap
		c.ghostCount--
	}

	writeIdx := (c.ghostHead + c.ghostCount) % c.ghostCap
	c.ghostBuf[writeIdx] = key
	c.ghostSet[key] = struct{}{}
	c.ghostCount++
}
