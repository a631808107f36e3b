package cache

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/gogpu/pagepipe/internal/image"
)

// PageCache is a bounded LRU of decoded pages keyed by page index.
//
// PageCache is safe for concurrent use.
// PageCache must not be copied after creation (has mutex).
type PageCache struct {
	mu      sync.Mutex
	entries map[int]*lruNode[int, *image.Page]
	lru     lruList[int, *image.Page]
	bytes   int64

	maxEntries int
	maxBytes   int64

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewPageCache creates a cache holding at most maxEntries pages and
// maxBytes pixel bytes. A non-positive bound is treated as unlimited.
func NewPageCache(maxEntries int, maxBytes int64) *PageCache {
	return &PageCache{
		entries:    make(map[int]*lruNode[int, *image.Page]),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
	}
}

// Get returns page i and marks it most recently used.
func (c *PageCache) Get(i int) (*image.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.entries[i]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.lru.MoveToFront(node)
	return node.value, true
}

// Peek returns page i without touching recency or hit counters.
func (c *PageCache) Peek(i int) (*image.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.entries[i]
	if !ok {
		return nil, false
	}
	return node.value, true
}

// Contains reports whether page i is cached.
func (c *PageCache) Contains(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[i]
	return ok
}

// Insert stores page p under index i and evicts least recently used pages
// until both bounds hold. Page i itself is never evicted. An existing entry
// for i is removed first.
//
// Insert returns the evicted indices.
func (c *PageCache) Insert(i int, p *image.Page) []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[i]; ok {
		c.removeLocked(old)
	}

	size := p.SizeBytes()
	c.entries[i] = c.lru.PushFront(i, p, size)
	c.bytes += size

	var evicted []int
	for c.overLocked() {
		oldest := c.lru.Oldest()
		if oldest == nil || oldest.key == i {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
		evicted = append(evicted, oldest.key)
	}

	if len(evicted) > 0 {
		slogger().Debug("cache: evicted pages",
			"inserted", i,
			"evicted", evicted,
			"bytes", c.bytes)
	}
	return evicted
}

// Remove drops page i. It reports whether the page was cached.
func (c *PageCache) Remove(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.entries[i]
	if !ok {
		return false
	}
	c.removeLocked(node)
	return true
}

// Clear drops every page and resets the counters.
func (c *PageCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[int]*lruNode[int, *image.Page])
	c.lru.Clear()
	c.bytes = 0
	c.hits, c.misses, c.evictions = 0, 0, 0
}

// Len returns the number of cached pages.
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Bytes returns the resident pixel bytes.
func (c *PageCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.bytes
}

// Keys returns the cached indices from most to least recently used.
func (c *PageCache) Keys() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Keys()
}

// Stats returns cache statistics.
func (c *PageCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Len:       len(c.entries),
		Capacity:  c.maxEntries,
		Bytes:     c.bytes,
		MaxBytes:  c.maxBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *PageCache) overLocked() bool {
	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		return true
	}
	return c.maxBytes > 0 && c.bytes > c.maxBytes
}

// removeLocked unlinks a node. Caller must hold c.mu.
func (c *PageCache) removeLocked(node *lruNode[int, *image.Page]) {
	c.lru.Remove(node)
	delete(c.entries, node.key)
	c.bytes -= node.size
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Capacity is the entry bound; 0 means unlimited.
	Capacity int
	// Bytes is the resident pixel size.
	Bytes int64
	// MaxBytes is the byte bound; 0 means unlimited.
	MaxBytes int64
	// Hits and Misses count Get calls.
	Hits   uint64
	Misses uint64
	// Evictions counts entries dropped to satisfy a bound.
	Evictions uint64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// String returns a short human-readable summary.
func (s Stats) String() string {
	if s.MaxBytes <= 0 {
		return fmt.Sprintf("%d/%d entries, %s, hit rate %.1f%%",
			s.Len, s.Capacity, humanize.IBytes(uint64(max(s.Bytes, 0))), s.HitRate()*100)
	}
	return fmt.Sprintf("%d/%d entries, %s/%s, hit rate %.1f%%",
		s.Len, s.Capacity,
		humanize.IBytes(uint64(max(s.Bytes, 0))),
		humanize.IBytes(uint64(s.MaxBytes)),
		s.HitRate()*100)
}
