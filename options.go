package pagepipe

import (
	"log/slog"
	"time"

	"github.com/gogpu/pagepipe/internal/sched"
)

// Option configures a Pipeline during creation.
//
// Example:
//
//	p, err := pagepipe.New(pagepipe.DefaultConfig(), creator,
//	    pagepipe.WithReadyHook(func(int) { window.RequestRedraw() }))
type Option func(*options)

// options holds optional configuration for Pipeline creation.
type options struct {
	logger  *slog.Logger
	onReady func(page int)
	now     func() time.Time
	decode  sched.DecodeFunc
}

// WithLogger installs l as the logger of the pipeline and its sub-packages.
// It is equivalent to calling SetLogger before New.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithReadyHook sets a function called after each page finishes decoding.
// It runs on a decode worker goroutine and must not block; typically it asks
// the UI for a repaint.
func WithReadyHook(fn func(page int)) Option {
	return func(o *options) {
		o.onReady = fn
	}
}

// WithClock makes the animation clock follow now. Each DrawablesFor call
// advances the clock by the time elapsed since the previous call, in
// addition to explicit Tick calls.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithDecoder replaces the page decoder. The default decodes with the
// limits from Config.
func WithDecoder(fn sched.DecodeFunc) Option {
	return func(o *options) {
		o.decode = fn
	}
}
