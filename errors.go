package pagepipe

import (
	"errors"

	"github.com/gogpu/pagepipe/archive"
	"github.com/gogpu/pagepipe/internal/image"
	"github.com/gogpu/pagepipe/internal/sched"
	"github.com/gogpu/pagepipe/internal/texture"
)

// Pipeline errors.
var (
	// ErrNoArchive is reported when no archive is attached.
	ErrNoArchive = errors.New("pagepipe: no archive")

	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("pagepipe: pipeline shut down")

	// ErrInvalidConfig is wrapped by Config.Validate failures.
	ErrInvalidConfig = errors.New("pagepipe: invalid config")
)

// ErrorKind classifies why a drawable failed.
type ErrorKind int

// Error kinds.
const (
	KindNone ErrorKind = iota
	KindIO
	KindCorrupt
	KindOutOfRange
	KindFormat
	KindOutOfMemory
	KindTextureUpload
	KindNoArchive
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindIO:
		return "io"
	case KindCorrupt:
		return "corrupt"
	case KindOutOfRange:
		return "out of range"
	case KindFormat:
		return "format"
	case KindOutOfMemory:
		return "out of memory"
	case KindTextureUpload:
		return "texture upload"
	case KindNoArchive:
		return "no archive"
	default:
		return "unknown"
	}
}

// KindOf classifies err. Errors the pipeline does not recognize are
// reported as KindIO.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, texture.ErrUpload):
		return KindTextureUpload
	case errors.Is(err, image.ErrOutOfMemory):
		return KindOutOfMemory
	case errors.Is(err, image.ErrFormat), errors.Is(err, archive.ErrUnsupported):
		return KindFormat
	case errors.Is(err, archive.ErrOutOfRange):
		return KindOutOfRange
	case errors.Is(err, archive.ErrCorrupt):
		return KindCorrupt
	case errors.Is(err, ErrNoArchive), errors.Is(err, ErrClosed),
		errors.Is(err, archive.ErrClosed), errors.Is(err, sched.ErrNoSource):
		return KindNoArchive
	default:
		return KindIO
	}
}
