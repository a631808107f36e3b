package pagepipe

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/pagepipe/internal/image"
	"github.com/gogpu/pagepipe/internal/texture"
)

// Default pipeline settings.
const (
	DefaultMaxDecodedPages = 32
	DefaultMaxDecodedBytes = 512 << 20
	DefaultMaxSpreads      = 4
	DefaultPrefetchAhead   = 4
	DefaultPrefetchWindow  = 16
	DefaultUploadRetries   = 3
)

// Config holds the pipeline budgets. The zero value is not valid; start
// from DefaultConfig.
type Config struct {
	// MaxDecodedPages bounds the number of decoded pages kept in memory.
	MaxDecodedPages int `mapstructure:"max_decoded_pages"`

	// MaxDecodedBytes bounds the pixel bytes of decoded pages.
	MaxDecodedBytes int64 `mapstructure:"max_decoded_bytes"`

	// MaxSpreads bounds the composed dual-page spreads kept in memory.
	MaxSpreads int `mapstructure:"max_spreads"`

	// MaxTextures bounds the resident GPU textures.
	MaxTextures int `mapstructure:"max_textures"`

	// MaxTextureSize clamps the longest side of an uploaded texture.
	MaxTextureSize int `mapstructure:"max_texture_size"`

	// Workers is the decode pool size; zero means GOMAXPROCS-1, at least 1.
	Workers int `mapstructure:"workers"`

	// PrefetchAhead is the number of pages prefetched after the current
	// view. Half as many are prefetched before it.
	PrefetchAhead int `mapstructure:"prefetch_ahead"`

	// PrefetchWindow is the distance from the current view beyond which
	// outstanding decodes are cancelled.
	PrefetchWindow int `mapstructure:"prefetch_window"`

	// UploadRetries is the number of consecutive failed uploads after which
	// a drawable is reported as failed.
	UploadRetries int `mapstructure:"upload_retries"`

	// Zoom quantizes zoom factors into texture buckets.
	Zoom texture.ZoomLadder `mapstructure:"zoom"`

	// MaxImageBytes bounds the decoded size of one page, all frames included.
	MaxImageBytes int64 `mapstructure:"max_image_bytes"`

	// MaxAnimation caps the length of an animation loop; later frames are
	// dropped.
	MaxAnimation time.Duration `mapstructure:"max_animation"`
}

// DefaultConfig returns the default budgets.
func DefaultConfig() Config {
	return Config{
		MaxDecodedPages: DefaultMaxDecodedPages,
		MaxDecodedBytes: DefaultMaxDecodedBytes,
		MaxSpreads:      DefaultMaxSpreads,
		MaxTextures:     texture.DefaultMaxTextures,
		MaxTextureSize:  texture.DefaultMaxTextureSize,
		PrefetchAhead:   DefaultPrefetchAhead,
		PrefetchWindow:  DefaultPrefetchWindow,
		UploadRetries:   DefaultUploadRetries,
		Zoom:            texture.DefaultZoomLadder(),
		MaxImageBytes:   image.DefaultMaxBytes,
		MaxAnimation:    image.DefaultMaxAnimation,
	}
}

// Validate reports every out-of-range field.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
		}
	}

	check(c.MaxDecodedPages > 0, "max_decoded_pages must be positive, got %d", c.MaxDecodedPages)
	check(c.MaxDecodedBytes > 0, "max_decoded_bytes must be positive, got %d", c.MaxDecodedBytes)
	check(c.MaxSpreads > 0, "max_spreads must be positive, got %d", c.MaxSpreads)
	check(c.MaxTextures > 0, "max_textures must be positive, got %d", c.MaxTextures)
	check(c.MaxTextureSize > 0, "max_texture_size must be positive, got %d", c.MaxTextureSize)
	check(c.Workers >= 0, "workers must not be negative, got %d", c.Workers)
	check(c.PrefetchAhead >= 0, "prefetch_ahead must not be negative, got %d", c.PrefetchAhead)
	check(c.PrefetchWindow >= c.PrefetchAhead,
		"prefetch_window (%d) must be at least prefetch_ahead (%d)", c.PrefetchWindow, c.PrefetchAhead)
	check(c.UploadRetries > 0, "upload_retries must be positive, got %d", c.UploadRetries)
	check(c.Zoom.Step > 0, "zoom.step must be positive, got %g", c.Zoom.Step)
	check(c.Zoom.Min > 0 && c.Zoom.Max >= c.Zoom.Min,
		"zoom range [%g, %g] is empty", c.Zoom.Min, c.Zoom.Max)
	check(c.MaxImageBytes > 0, "max_image_bytes must be positive, got %d", c.MaxImageBytes)
	check(c.MaxAnimation > 0, "max_animation must be positive, got %s", c.MaxAnimation)

	return errors.Join(errs...)
}
