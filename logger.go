package pagepipe

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/pagepipe/archive"
	"github.com/gogpu/pagepipe/internal/cache"
	"github.com/gogpu/pagepipe/internal/image"
	"github.com/gogpu/pagepipe/internal/sched"
	"github.com/gogpu/pagepipe/internal/texture"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for pagepipe and all its sub-packages.
// By default, pagepipe produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore silence.
//
// Log levels used by pagepipe:
//   - [slog.LevelDebug]: cache evictions, texture uploads, scheduler resets
//   - [slog.LevelInfo]: archive open and close
//   - [slog.LevelWarn]: failed decodes and uploads, dropped animation
//     frames, ignored manifests
//
// Example:
//
//	pagepipe.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)

	archive.SetLogger(l)
	cache.SetLogger(l)
	image.SetLogger(l)
	sched.SetLogger(l)
	texture.SetLogger(l)
}

// Logger returns the current logger used by pagepipe.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
