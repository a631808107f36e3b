package archive

import (
	"errors"
	"fmt"
)

// Archive errors. Open failures wrap ErrNotFound, ErrUnsupported, ErrCorrupt
// or ErrIO inside an *OpenError; per-page failures wrap ErrOutOfRange, ErrIO,
// ErrCorrupt or ErrClosed inside a *PageError.
var (
	// ErrNotFound is returned when the archive path does not exist.
	ErrNotFound = errors.New("archive: not found")

	// ErrUnsupported is returned for containers this package cannot read.
	ErrUnsupported = errors.New("archive: unsupported format")

	// ErrCorrupt is returned when the container or an entry is damaged.
	ErrCorrupt = errors.New("archive: corrupt")

	// ErrOutOfRange is returned for a page index outside [0, PageCount()).
	ErrOutOfRange = errors.New("archive: page index out of range")

	// ErrIO is returned when reading the archive file or entry bytes fails.
	ErrIO = errors.New("archive: i/o error")

	// ErrClosed is returned by reads after Close.
	ErrClosed = errors.New("archive: closed")
)

// OpenError describes a failure to open an archive.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("archive: open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// PageError describes a failure to read one page.
type PageError struct {
	Index int
	Name  string
	Err   error
}

func (e *PageError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("archive: page %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("archive: page %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

func openError(path string, kind, cause error) error {
	if cause == nil {
		return &OpenError{Path: path, Err: kind}
	}
	return &OpenError{Path: path, Err: fmt.Errorf("%w: %w", kind, cause)}
}
