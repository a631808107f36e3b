package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"time"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Decode errors.
var (
	// ErrFormat is returned when data is not a supported or well-formed image.
	ErrFormat = errors.New("image: format error")

	// ErrOutOfMemory is returned when a decoded page would exceed the
	// configured pixel budget.
	ErrOutOfMemory = errors.New("image: out of memory")

	// ErrEmptyData is returned when image data is empty. It wraps ErrFormat.
	ErrEmptyData = fmt.Errorf("%w: empty data", ErrFormat)
)

// Default decode limits.
const (
	DefaultMaxBytes     = 1 << 30
	DefaultMaxAnimation = 60 * time.Second
)

// Options bound a single decode.
type Options struct {
	// MaxBytes caps the decoded size of a page, all frames included.
	MaxBytes int64

	// MaxAnimation caps the total duration of an animation. Frames past the
	// cap are dropped.
	MaxAnimation time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.MaxAnimation <= 0 {
		o.MaxAnimation = DefaultMaxAnimation
	}
	return o
}

// Format names returned by Sniff.
const (
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
	FormatGIF  = "gif"
	FormatWebP = "webp"
	FormatBMP  = "bmp"
	FormatTIFF = "tiff"
)

// Sniff identifies the image format from its magic bytes. It returns ""
// for unknown data.
func Sniff(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case bytes.HasPrefix(data, []byte{0xff, 0xd8, 0xff}):
		return FormatJPEG
	case bytes.HasPrefix(data, []byte("GIF87a")), bytes.HasPrefix(data, []byte("GIF89a")):
		return FormatGIF
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return FormatWebP
	case bytes.HasPrefix(data, []byte("BM")):
		return FormatBMP
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return FormatTIFF
	}
	return ""
}

// Decode decodes page bytes. GIFs with more than one frame become animated
// pages; every other format yields a single frame.
//
// ctx is checked between stages, so a cancelled decode stops at the next
// check and returns ctx.Err().
func Decode(ctx context.Context, data []byte, opts Options) (page *Page, err error) {
	if len(data) == 0 {
		return nil, ErrEmptyData
	}
	opts = opts.withDefaults()

	format := Sniff(data)
	if format == "" {
		return nil, fmt.Errorf("%w: unrecognized data", ErrFormat)
	}

	defer func() {
		if r := recover(); r != nil {
			page, err = nil, fmt.Errorf("%w: %s decoder panic: %v", ErrFormat, format, r)
		}
	}()

	if format == FormatGIF {
		return decodeGIF(ctx, data, opts)
	}
	return decodeStatic(ctx, data, format, opts)
}

func decodeStatic(ctx context.Context, data []byte, format string, opts Options) (*Page, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s config: %w", ErrFormat, format, err)
	}
	if err := checkSize(cfg.Width, cfg.Height, 1, opts.MaxBytes); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFormat, format, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nrgba := toNRGBA(img)
	return NewPage(nrgba.Rect.Dx(), nrgba.Rect.Dy(), nrgba.Pix), nil
}

// checkSize rejects empty images and images over the byte budget.
func checkSize(width, height, frames int, maxBytes int64) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: empty image %dx%d", ErrFormat, width, height)
	}
	need := int64(width) * int64(height) * BytesPerPixel * int64(frames)
	if need > maxBytes {
		return fmt.Errorf("%w: %dx%d needs %d bytes, limit %d", ErrOutOfMemory, width, height, need, maxBytes)
	}
	return nil
}

// toNRGBA converts a decoded image to a tightly packed NRGBA image with its
// origin at (0, 0).
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())

	switch src := img.(type) {
	case *image.NRGBA:
		if src.Rect.Min == (image.Point{}) && src.Stride == rect.Dx()*BytesPerPixel {
			return src
		}
	case *image.YCbCr, *image.Gray:
		// Opaque sources: premultiplied and straight alpha are identical, so
		// take the RGBA fast path and relabel the buffer.
		rgba := image.NewRGBA(rect)
		draw.Draw(rgba, rect, img, b.Min, draw.Src)
		return &image.NRGBA{Pix: rgba.Pix, Stride: rgba.Stride, Rect: rect}
	}

	dst := image.NewNRGBA(rect)
	draw.Draw(dst, rect, img, b.Min, draw.Src)
	return dst
}

// =============================================================================
// GIF
// =============================================================================

func decodeGIF(ctx context.Context, data []byte, opts Options) (*Page, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: gif: %w", ErrFormat, err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("%w: gif has no frames", ErrFormat)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	width, height := g.Config.Width, g.Config.Height
	if width <= 0 || height <= 0 {
		b := g.Image[0].Bounds()
		width, height = b.Max.X, b.Max.Y
	}

	if len(g.Image) == 1 {
		if err := checkSize(width, height, 1, opts.MaxBytes); err != nil {
			return nil, err
		}
		canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
		draw.Draw(canvas, g.Image[0].Bounds(), g.Image[0], g.Image[0].Bounds().Min, draw.Over)
		return NewPage(width, height, canvas.Pix), nil
	}

	if err := checkSize(width, height, 1, opts.MaxBytes); err != nil {
		return nil, err
	}
	frameBytes := int64(width) * int64(height) * BytesPerPixel

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	frames := make([]Frame, 0, len(g.Image))
	var total time.Duration
	for i, src := range g.Image {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		delay := DefaultFrameDelay
		if i < len(g.Delay) && g.Delay[i] > 0 {
			delay = time.Duration(g.Delay[i]) * 10 * time.Millisecond
		}
		if len(frames) > 0 && total+delay > opts.MaxAnimation {
			slogger().Warn("image: animation exceeds duration cap, dropping frames",
				"frames", len(g.Image),
				"kept", len(frames),
				"cap", opts.MaxAnimation)
			break
		}
		if int64(len(frames)+1)*frameBytes > opts.MaxBytes {
			return nil, fmt.Errorf("%w: animation frame %d exceeds %d bytes", ErrOutOfMemory, i, opts.MaxBytes)
		}

		var disposal byte
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		var saved []byte
		if disposal == gif.DisposalPrevious {
			saved = bytes.Clone(canvas.Pix)
		}

		bounds := src.Bounds()
		draw.Draw(canvas, bounds, src, bounds.Min, draw.Over)
		frames = append(frames, Frame{Pix: bytes.Clone(canvas.Pix), Delay: delay})
		total += delay

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, bounds, image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			copy(canvas.Pix, saved)
		}
	}

	if len(frames) == 1 {
		return NewPage(width, height, frames[0].Pix), nil
	}
	return &Page{Width: width, Height: height, Pix: frames[0].Pix, Frames: frames}, nil
}
