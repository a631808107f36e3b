// Package texture keeps GPU textures for pages and spreads, keyed by a
// quantized zoom level.
//
// The cache is owned by the render goroutine and is not safe for concurrent
// use. Textures are created through gpucontext.TextureCreator, updated in
// place through gpucontext.TextureUpdater when an animated page advances,
// and released through Destroy when the texture implements it.
package texture

import (
	"container/list"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/pagepipe/internal/cache"
	"github.com/gogpu/pagepipe/internal/image"
)

// Texture cache errors.
var (
	// ErrUpload is returned when the texture creator fails.
	ErrUpload = errors.New("texture: upload failed")

	// ErrNoCreator is returned when GetOrCreate misses without a creator.
	ErrNoCreator = errors.New("texture: no texture creator")

	// ErrNoPixels is returned when GetOrCreate misses without a page.
	ErrNoPixels = errors.New("texture: no page pixels")
)

// Default texture cache settings.
const (
	// DefaultMaxTextures is the default number of resident textures.
	DefaultMaxTextures = 16

	// DefaultMaxTextureSize is the default limit on the longest texture side.
	DefaultMaxTextureSize = 8192
)

// Format is the pixel format of every texture the cache uploads.
const Format = gputypes.TextureFormatRGBA8Unorm

// Kind tells single-page textures from spread textures.
type Kind uint8

// Texture kinds.
const (
	Single Kind = iota
	Dual
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Single:
		return "single"
	case Dual:
		return "dual"
	default:
		return "unknown"
	}
}

// Key identifies a texture. Single keys use Left only and Right is
// cache.NoPage.
type Key struct {
	Kind   Kind
	Left   int
	Right  int
	Bucket int
}

// SingleKey returns the key of page at bucket.
func SingleKey(page, bucket int) Key {
	return Key{Kind: Single, Left: page, Right: cache.NoPage, Bucket: bucket}
}

// DualKey returns the key of spread s at bucket.
func DualKey(s cache.SpreadKey, bucket int) Key {
	return Key{Kind: Dual, Left: s.Left, Right: s.Right, Bucket: bucket}
}

// Spread returns the pages of the key in placement order.
func (k Key) Spread() cache.SpreadKey {
	return cache.SpreadKey{Left: k.Left, Right: k.Right}
}

// Has reports whether page i contributes to the texture.
func (k Key) Has(i int) bool {
	return k.Spread().Has(i)
}

// String returns a compact representation such as "dual(3,2)@4".
func (k Key) String() string {
	if k.Kind == Single {
		return fmt.Sprintf("single(%d)@%d", k.Left, k.Bucket)
	}
	return fmt.Sprintf("dual(%d,%d)@%d", k.Left, k.Right, k.Bucket)
}

// textureDestroyer is implemented by textures that hold GPU memory.
type textureDestroyer interface {
	Destroy()
}

// Handle is a resident texture. A handle stays valid until the cache evicts
// or invalidates it; the caller must not destroy the texture.
type Handle struct {
	key     Key
	tex     gpucontext.Texture
	width   int
	height  int
	srcW    int
	srcH    int
	frame   int
	bytes   int64
	element *list.Element
}

// Key returns the key the handle is stored under.
func (h *Handle) Key() Key { return h.key }

// Texture returns the GPU texture.
func (h *Handle) Texture() gpucontext.Texture { return h.tex }

// Width returns the texture width in pixels.
func (h *Handle) Width() int { return h.width }

// Height returns the texture height in pixels.
func (h *Handle) Height() int { return h.height }

// SourceSize returns the native pixel size of the page or spread the
// texture was scaled from.
func (h *Handle) SourceSize() (int, int) { return h.srcW, h.srcH }

// Frame returns the animation frame currently uploaded.
func (h *Handle) Frame() int { return h.frame }

// SizeBytes returns the texture size in bytes.
func (h *Handle) SizeBytes() int64 { return h.bytes }

func (h *Handle) destroy() {
	if d, ok := h.tex.(textureDestroyer); ok {
		d.Destroy()
	}
}

// Config configures a Cache.
type Config struct {
	// MaxTextures bounds the number of resident textures. Zero means
	// DefaultMaxTextures.
	MaxTextures int

	// MaxTextureSize clamps the longest side of a texture. Zero means
	// DefaultMaxTextureSize.
	MaxTextureSize int

	// Ladder quantizes zoom factors.
	Ladder ZoomLadder
}

// Cache maps keys to textures with LRU eviction by count.
type Cache struct {
	textures map[Key]*Handle
	lruList  *list.List // front is most recently used
	failures map[Key]int
	bytes    int64

	maxTextures int
	maxSize     int
	ladder      ZoomLadder

	hits      uint64
	misses    uint64
	uploads   uint64
	updates   uint64
	evictions uint64
}

// New creates an empty texture cache.
func New(cfg Config) *Cache {
	if cfg.MaxTextures <= 0 {
		cfg.MaxTextures = DefaultMaxTextures
	}
	if cfg.MaxTextureSize <= 0 {
		cfg.MaxTextureSize = DefaultMaxTextureSize
	}
	return &Cache{
		textures:    make(map[Key]*Handle),
		lruList:     list.New(),
		failures:    make(map[Key]int),
		maxTextures: cfg.MaxTextures,
		maxSize:     cfg.MaxTextureSize,
		ladder:      cfg.Ladder.withDefaults(),
	}
}

// Ladder returns the zoom ladder the cache sizes textures with.
func (c *Cache) Ladder() ZoomLadder { return c.ladder }

// Lookup returns the texture for key and marks it recently used.
func (c *Cache) Lookup(key Key) (*Handle, bool) {
	h, ok := c.textures[key]
	if !ok {
		return nil, false
	}
	c.lruList.MoveToFront(h.element)
	return h, true
}

// Contains reports whether key is resident without touching recency.
func (c *Cache) Contains(key Key) bool {
	_, ok := c.textures[key]
	return ok
}

// GetOrCreate returns the texture for key, uploading frame of page on a
// miss. The page is scaled to the bucket zoom, clamped to the maximum
// texture size.
//
// On a hit the texture is updated in place when an animated page moves to a
// different frame. Textures that cannot be updated are recreated.
func (c *Cache) GetOrCreate(key Key, page *image.Page, frame int, creator gpucontext.TextureCreator) (*Handle, error) {
	if h, ok := c.Lookup(key); ok {
		c.hits++
		if page == nil || !page.Animated() || frame == h.frame {
			return h, nil
		}
		if c.update(h, page, frame) {
			return h, nil
		}
		c.removeHandle(h)
	} else {
		c.misses++
	}

	if page == nil {
		return nil, ErrNoPixels
	}
	if creator == nil {
		return nil, ErrNoCreator
	}

	w, ht := image.FitSize(page.Width, page.Height, c.ladder.Zoom(key.Bucket), c.maxSize)
	pix := image.Scale(page, frame, w, ht)
	tex, err := creator.NewTextureFromRGBA(w, ht, pix)
	if err == nil && tex == nil {
		err = errors.New("nil texture")
	}
	if err != nil {
		c.failures[key]++
		slogger().Warn("texture: upload failed",
			"key", key.String(), "attempt", c.failures[key], "err", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrUpload, key, err)
	}
	delete(c.failures, key)

	h := &Handle{
		key:    key,
		tex:    tex,
		width:  w,
		height: ht,
		srcW:   page.Width,
		srcH:   page.Height,
		frame:  frame,
		bytes:  int64(w) * int64(ht) * image.BytesPerPixel,
	}
	h.element = c.lruList.PushFront(h)
	c.textures[key] = h
	c.bytes += h.bytes
	c.uploads++

	slogger().Debug("texture: uploaded", "key", key.String(), "width", w, "height", ht)

	c.evictIfNeeded()
	return h, nil
}

// update uploads a new animation frame into h. It reports false when the
// texture cannot be updated in place.
func (c *Cache) update(h *Handle, page *image.Page, frame int) bool {
	updater, ok := h.tex.(gpucontext.TextureUpdater)
	if !ok {
		return false
	}
	if err := updater.UpdateData(image.Scale(page, frame, h.width, h.height)); err != nil {
		slogger().Warn("texture: frame update failed", "key", h.key.String(), "frame", frame, "err", err)
		return false
	}
	h.frame = frame
	c.updates++
	return true
}

// Failures returns the number of consecutive failed uploads for key.
func (c *Cache) Failures(key Key) int {
	return c.failures[key]
}

// ResetFailures forgets the failed uploads for key.
func (c *Cache) ResetFailures(key Key) {
	delete(c.failures, key)
}

// Invalidate destroys every texture whose key matches pred and forgets the
// matching upload failures. It returns the number of textures destroyed.
func (c *Cache) Invalidate(pred func(Key) bool) int {
	n := 0
	for e := c.lruList.Front(); e != nil; {
		next := e.Next()
		h := e.Value.(*Handle)
		if pred(h.key) {
			c.removeHandle(h)
			n++
		}
		e = next
	}
	for k := range c.failures {
		if pred(k) {
			delete(c.failures, k)
		}
	}
	if n > 0 {
		slogger().Debug("texture: invalidated", "count", n)
	}
	return n
}

// Clear destroys every texture. Call it when the render context is lost or
// the archive changes.
func (c *Cache) Clear() {
	for e := c.lruList.Front(); e != nil; e = e.Next() {
		e.Value.(*Handle).destroy()
	}
	c.textures = make(map[Key]*Handle)
	c.lruList.Init()
	c.failures = make(map[Key]int)
	c.bytes = 0
}

// Len returns the number of resident textures.
func (c *Cache) Len() int { return len(c.textures) }

// Bytes returns the total size of resident textures.
func (c *Cache) Bytes() int64 { return c.bytes }

// Keys returns resident keys, most recently used first.
func (c *Cache) Keys() []Key {
	keys := make([]Key, 0, c.lruList.Len())
	for e := c.lruList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*Handle).key)
	}
	return keys
}

// removeHandle unlinks and destroys h.
func (c *Cache) removeHandle(h *Handle) {
	c.lruList.Remove(h.element)
	delete(c.textures, h.key)
	c.bytes -= h.bytes
	h.destroy()
}

// evictIfNeeded destroys least recently used textures until the count
// bound holds.
func (c *Cache) evictIfNeeded() {
	for c.lruList.Len() > c.maxTextures {
		h := c.lruList.Back().Value.(*Handle)
		c.removeHandle(h)
		c.evictions++
		slogger().Debug("texture: evicted", "key", h.key.String())
	}
}

// Stats describes texture cache usage.
type Stats struct {
	Len       int
	Capacity  int
	Bytes     int64
	Format    gputypes.TextureFormat
	Hits      uint64
	Misses    uint64
	Uploads   uint64
	Updates   uint64
	Evictions uint64
	Failing   int
}

// String returns a short human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("%d/%d textures, %s %s, %d uploads, %d updates, %d evictions",
		s.Len, s.Capacity, humanize.IBytes(uint64(max(s.Bytes, 0))), s.Format,
		s.Uploads, s.Updates, s.Evictions)
}

// Stats returns a snapshot of cache usage.
func (c *Cache) Stats() Stats {
	return Stats{
		Len:       len(c.textures),
		Capacity:  c.maxTextures,
		Bytes:     c.bytes,
		Format:    Format,
		Hits:      c.hits,
		Misses:    c.misses,
		Uploads:   c.uploads,
		Updates:   c.updates,
		Evictions: c.evictions,
		Failing:   len(c.failures),
	}
}
