// Package image decodes comic pages into immutable NRGBA pixel buffers and
// provides the pixel operations the pipeline needs: spread composition and
// high-quality scaling for texture upload.
package image

import (
	"image"
	"time"
)

// BytesPerPixel is the size of one NRGBA8 pixel.
const BytesPerPixel = 4

// DefaultFrameDelay replaces zero GIF delays, matching browser behavior.
const DefaultFrameDelay = 100 * time.Millisecond

// Frame is one fully composited animation frame.
type Frame struct {
	Pix   []byte
	Delay time.Duration
}

// Page is a decoded page. Pix holds non-premultiplied RGBA8 rows with a
// stride of 4*Width. For animated pages Frames holds every frame and Pix
// aliases Frames[0].Pix.
//
// A Page is immutable once constructed; readers may share it freely.
type Page struct {
	Width  int
	Height int
	Pix    []byte
	Frames []Frame
}

// NewPage wraps pix as a static page. pix must hold 4*width*height bytes.
func NewPage(width, height int, pix []byte) *Page {
	return &Page{Width: width, Height: height, Pix: pix}
}

// Animated reports whether the page has more than one frame.
func (p *Page) Animated() bool {
	return len(p.Frames) > 1
}

// FrameCount returns the number of frames, at least 1.
func (p *Page) FrameCount() int {
	if len(p.Frames) == 0 {
		return 1
	}
	return len(p.Frames)
}

// SizeBytes returns the resident size of all pixel buffers.
func (p *Page) SizeBytes() int64 {
	if len(p.Frames) == 0 {
		return int64(len(p.Pix))
	}
	var n int64
	for _, f := range p.Frames {
		n += int64(len(f.Pix))
	}
	return n
}

// Duration returns the length of one animation loop, or 0 when static.
func (p *Page) Duration() time.Duration {
	var d time.Duration
	for _, f := range p.Frames {
		d += f.Delay
	}
	return d
}

// FrameAt returns the frame index shown after elapsed time, looping.
func (p *Page) FrameAt(elapsed time.Duration) int {
	if !p.Animated() {
		return 0
	}
	total := p.Duration()
	if total <= 0 {
		return 0
	}
	t := elapsed % total
	if t < 0 {
		t += total
	}
	for i, f := range p.Frames {
		if t < f.Delay {
			return i
		}
		t -= f.Delay
	}
	return len(p.Frames) - 1
}

// FramePix returns the pixels of frame i, clamped to the valid range.
func (p *Page) FramePix(i int) []byte {
	if len(p.Frames) == 0 {
		return p.Pix
	}
	i = max(0, min(i, len(p.Frames)-1))
	return p.Frames[i].Pix
}

// NRGBA exposes frame i as an *image.NRGBA sharing the page memory.
// The result must not be modified.
func (p *Page) NRGBA(i int) *image.NRGBA {
	return &image.NRGBA{
		Pix:    p.FramePix(i),
		Stride: p.Width * BytesPerPixel,
		Rect:   image.Rect(0, 0, p.Width, p.Height),
	}
}
