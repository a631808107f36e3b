package texture

import (
	"errors"
	"fmt"
	stdimage "image"
	"sync"

	"github.com/gogpu/gpucontext"
)

// ErrDestroyed is returned when a destroyed memory texture is updated.
var ErrDestroyed = errors.New("texture: texture destroyed")

// MemoryCreator is a gpucontext.TextureCreator that keeps textures in host
// memory. It backs headless rendering and tests.
//
// MemoryCreator is safe for concurrent use.
type MemoryCreator struct {
	mu      sync.Mutex
	live    int
	created int
	failN   int
	failErr error
}

var _ gpucontext.TextureCreator = (*MemoryCreator)(nil)

// NewMemoryCreator returns an empty creator.
func NewMemoryCreator() *MemoryCreator {
	return &MemoryCreator{}
}

// NewTextureFromRGBA copies data into a new MemoryTexture.
func (m *MemoryCreator) NewTextureFromRGBA(width, height int, data []byte) (gpucontext.Texture, error) {
	if width <= 0 || height <= 0 || len(data) != width*height*4 {
		return nil, fmt.Errorf("texture: invalid size %dx%d for %d bytes", width, height, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failN > 0 {
		m.failN--
		return nil, m.failErr
	}
	m.live++
	m.created++

	pix := make([]byte, len(data))
	copy(pix, data)
	return &MemoryTexture{owner: m, width: width, height: height, pix: pix}, nil
}

// FailNext makes the next n uploads fail with err.
func (m *MemoryCreator) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failN = n
	m.failErr = err
}

// Live returns the number of textures not yet destroyed.
func (m *MemoryCreator) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Created returns the number of textures created so far.
func (m *MemoryCreator) Created() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

func (m *MemoryCreator) release() {
	m.mu.Lock()
	m.live--
	m.mu.Unlock()
}

// MemoryTexture is a texture held in host memory.
type MemoryTexture struct {
	owner     *MemoryCreator
	width     int
	height    int
	pix       []byte
	updates   int
	destroyed bool
}

// Width returns the texture width in pixels.
func (t *MemoryTexture) Width() int { return t.width }

// Height returns the texture height in pixels.
func (t *MemoryTexture) Height() int { return t.height }

// UpdateData replaces the texture pixels.
func (t *MemoryTexture) UpdateData(data []byte) error {
	if t.destroyed {
		return ErrDestroyed
	}
	if len(data) != len(t.pix) {
		return fmt.Errorf("texture: update with %d bytes, want %d", len(data), len(t.pix))
	}
	copy(t.pix, data)
	t.updates++
	return nil
}

// Updates returns the number of successful UpdateData calls.
func (t *MemoryTexture) Updates() int { return t.updates }

// Destroyed reports whether Destroy was called.
func (t *MemoryTexture) Destroyed() bool { return t.destroyed }

// Destroy releases the pixels. Further calls are no-ops.
func (t *MemoryTexture) Destroy() {
	if t.destroyed {
		return
	}
	t.destroyed = true
	t.pix = nil
	if t.owner != nil {
		t.owner.release()
	}
}

// NRGBA returns the texture contents as an image sharing the texture memory.
func (t *MemoryTexture) NRGBA() *stdimage.NRGBA {
	return &stdimage.NRGBA{
		Pix:    t.pix,
		Stride: t.width * 4,
		Rect:   stdimage.Rect(0, 0, t.width, t.height),
	}
}
