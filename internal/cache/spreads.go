package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gogpu/pagepipe/internal/image"
)

// NoPage marks the empty right slot of a spread key.
const NoPage = -1

// SpreadKey identifies a composed spread by its pages in placement order:
// Left is drawn on the left half. Right is NoPage for a lone page.
type SpreadKey struct {
	Left  int
	Right int
}

// Has reports whether page i is part of the spread.
func (k SpreadKey) Has(i int) bool {
	return k.Left == i || (k.Right != NoPage && k.Right == i)
}

// String implements fmt.Stringer.
func (k SpreadKey) String() string {
	if k.Right == NoPage {
		return fmt.Sprintf("(%d)", k.Left)
	}
	return fmt.Sprintf("(%d,%d)", k.Left, k.Right)
}

// SpreadCache is a small LRU of composed spreads. It is safe for
// concurrent use.
type SpreadCache struct {
	entries *lru.Cache[SpreadKey, *image.Page]
	size    int
}

// NewSpreadCache creates a cache holding up to size spreads.
func NewSpreadCache(size int) (*SpreadCache, error) {
	entries, err := lru.New[SpreadKey, *image.Page](size)
	if err != nil {
		return nil, fmt.Errorf("cache: spread cache: %w", err)
	}
	return &SpreadCache{entries: entries, size: size}, nil
}

// Get returns the spread for k and marks it most recently used.
func (c *SpreadCache) Get(k SpreadKey) (*image.Page, bool) {
	return c.entries.Get(k)
}

// Add stores a composed spread.
func (c *SpreadCache) Add(k SpreadKey, p *image.Page) {
	c.entries.Add(k, p)
}

// RemovePages drops every spread containing one of pages and returns how
// many were removed.
func (c *SpreadCache) RemovePages(pages ...int) int {
	n := 0
	for _, k := range c.entries.Keys() {
		for _, p := range pages {
			if k.Has(p) {
				if c.entries.Remove(k) {
					n++
				}
				break
			}
		}
	}
	return n
}

// Purge drops every spread.
func (c *SpreadCache) Purge() {
	c.entries.Purge()
}

// Len returns the number of cached spreads.
func (c *SpreadCache) Len() int {
	return c.entries.Len()
}

// Bytes returns the resident pixel bytes of all spreads.
func (c *SpreadCache) Bytes() int64 {
	var n int64
	for _, p := range c.entries.Values() {
		n += p.SizeBytes()
	}
	return n
}

// Stats returns cache statistics. Hit counters are not tracked.
func (c *SpreadCache) Stats() Stats {
	return Stats{
		Len:      c.entries.Len(),
		Capacity: c.size,
		Bytes:    c.Bytes(),
	}
}
