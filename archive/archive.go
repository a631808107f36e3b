// Package archive opens comic archives and reads their page images.
//
// An Archive enumerates the image members of a container in reading order
// and returns their raw bytes by page index. The order comes from the
// bundled manifest.toml when present, otherwise from a natural sort of the
// member names, so "page2.png" comes before "page10.png".
//
// Supported containers are ZIP (.cbz, .zip, .cbw), tar (.cbt, .tar), gzip
// and xz compressed tar, and plain directories. ReadPage is safe for
// concurrent use.
package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"sync"

	"github.com/gogpu/pagepipe/manifest"
)

// Archive is an open, read-only comic archive.
type Archive struct {
	path string
	kind Kind
	be   backend

	// entries holds page members in natural order. Immutable after Open.
	entries []entry

	mu       sync.RWMutex
	order    []int // page index -> entries index
	manifest *manifest.Manifest
	closed   bool
}

// Open opens the archive at path.
//
// Errors are *OpenError values wrapping ErrNotFound, ErrUnsupported,
// ErrCorrupt, or ErrIO with the cause when the file exists but cannot be
// read. A manifest that fails to parse is ignored with a warning.
func Open(path string) (*Archive, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, openError(path, ErrNotFound, nil)
		}
		return nil, openError(path, ErrIO, err)
	}

	var (
		kind Kind
		be   backend
	)
	if info.IsDir() {
		kind, be = KindDir, openDir(path)
	} else {
		kind, err = detectKind(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, openError(path, ErrNotFound, nil)
			}
			return nil, openError(path, ErrIO, err)
		}
		be, err = openBackend(path, kind)
		if err != nil {
			if errors.Is(err, ErrUnsupported) {
				return nil, openError(path, ErrUnsupported, nil)
			}
			return nil, openError(path, ErrCorrupt, err)
		}
	}

	members, err := be.list()
	if err != nil {
		_ = be.close()
		return nil, openError(path, ErrCorrupt, err)
	}

	a := &Archive{path: path, kind: kind, be: be}
	var manifestKey string
	for _, e := range members {
		switch {
		case isManifestEntry(e.key):
			if manifestKey == "" {
				manifestKey = e.key
			}
		case isPageEntry(e.key):
			a.entries = append(a.entries, e)
		}
	}
	sortEntries(a.entries)

	if manifestKey != "" {
		a.manifest = a.loadManifest(manifestKey)
	}
	a.order = pageOrder(a.entries, a.manifest)

	slogger().Info("archive: opened",
		"path", path,
		"kind", kind.String(),
		"pages", len(a.order),
		"manifest", a.manifest != nil)
	return a, nil
}

func openBackend(path string, kind Kind) (backend, error) {
	switch kind {
	case KindZip:
		return openZip(path)
	case KindTar:
		return openTar(path)
	case KindTarGzip:
		return openStreamTar(path, gzipStream)
	case KindTarXz:
		return openStreamTar(path, xzStream)
	default:
		return nil, ErrUnsupported
	}
}

func (a *Archive) loadManifest(key string) *manifest.Manifest {
	data, err := a.be.read(key)
	if err != nil {
		slogger().Warn("archive: manifest unreadable, ignoring", "path", a.path, "err", err)
		return nil
	}
	m, err := manifest.Parse(data)
	if err != nil {
		slogger().Warn("archive: manifest invalid, ignoring", "path", a.path, "err", err)
		return nil
	}
	return m
}

// Path returns the path the archive was opened from.
func (a *Archive) Path() string { return a.path }

// Kind returns the container format.
func (a *Archive) Kind() Kind { return a.kind }

// PageCount returns the number of pages.
func (a *Archive) PageCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}

// PageName returns the member name of page i, or "" if i is out of range.
func (a *Archive) PageName(i int) string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if i < 0 || i >= len(a.order) {
		return ""
	}
	return a.entries[a.order[i]].name
}

// PageNames returns all page names in reading order.
func (a *Archive) PageNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, len(a.order))
	for i, idx := range a.order {
		names[i] = a.entries[idx].name
	}
	return names
}

// ReadPage returns the raw bytes of page i.
//
// Errors are *PageError values wrapping ErrOutOfRange, ErrIO or ErrCorrupt,
// or ErrClosed after Close.
func (a *Archive) ReadPage(i int) ([]byte, error) {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		return nil, &PageError{Index: i, Err: ErrClosed}
	}
	if i < 0 || i >= len(a.order) {
		n := len(a.order)
		a.mu.RUnlock()
		return nil, &PageError{Index: i, Err: fmt.Errorf("%w: %d not in [0, %d)", ErrOutOfRange, i, n)}
	}
	e := a.entries[a.order[i]]
	a.mu.RUnlock()

	data, err := a.be.read(e.key)
	if err != nil {
		if !errors.Is(err, ErrCorrupt) && !errors.Is(err, ErrIO) {
			err = fmt.Errorf("%w: %w", ErrIO, err)
		}
		return nil, &PageError{Index: i, Name: e.name, Err: err}
	}
	return data, nil
}

// Manifest returns a copy of the archive manifest, or nil when the archive
// has none.
func (a *Archive) Manifest() *manifest.Manifest {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.manifest.Clone()
}

// ApplyManifest replaces the manifest and recomputes the page order. It
// returns the page indices whose member changed, in ascending order.
// Passing nil restores natural order.
func (a *Archive) ApplyManifest(m *manifest.Manifest) []int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.manifest = m.Clone()
	next := pageOrder(a.entries, a.manifest)

	var changed []int
	for i := range next {
		if i >= len(a.order) || a.order[i] != next[i] {
			changed = append(changed, i)
		}
	}
	a.order = next

	slogger().Debug("archive: manifest applied", "path", a.path, "changed", len(changed))
	return slices.Clip(changed)
}

// Close releases the container. Reads after Close fail with ErrClosed.
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	slogger().Info("archive: closed", "path", a.path)
	return a.be.close()
}
