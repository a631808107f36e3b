package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz"
)

// tarMember locates the data of a regular tar member in the file.
type tarMember struct {
	offset int64
	size   int64
}

// countingReader tracks how many bytes the tar reader has consumed so the
// data offset of each member is known after Next returns.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// tarBackend reads an uncompressed tar. Member data is located once at open
// and read later through io.SectionReader, which is safe for concurrent use.
type tarBackend struct {
	f       *os.File
	entries []entry
	members map[string]tarMember
}

func openTar(path string) (*tarBackend, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	b := &tarBackend{f: f, members: make(map[string]tarMember)}
	cr := &countingReader{r: f}
	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if _, dup := b.members[hdr.Name]; dup {
			continue
		}
		b.members[hdr.Name] = tarMember{offset: cr.n, size: hdr.Size}
		b.entries = append(b.entries, entry{key: hdr.Name, name: hdr.Name, size: hdr.Size})
	}
	return b, nil
}

func (b *tarBackend) list() ([]entry, error) {
	return b.entries, nil
}

func (b *tarBackend) read(key string) ([]byte, error) {
	m, ok := b.members[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing member %q", ErrCorrupt, key)
	}
	if m.size > maxEntrySize {
		return nil, fmt.Errorf("%w: member %q declares %d bytes", ErrCorrupt, key, m.size)
	}
	buf := make([]byte, m.size)
	n, err := b.f.ReadAt(buf, m.offset)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == m.size) {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: member %q truncated", ErrCorrupt, key)
		}
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return buf, nil
}

func (b *tarBackend) close() error {
	return b.f.Close()
}

// =============================================================================
// Compressed tar
// =============================================================================

// decompressor wraps a raw file stream.
type decompressor func(io.Reader) (io.Reader, error)

func gzipStream(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

func xzStream(r io.Reader) (io.Reader, error) {
	return xz.NewReader(r)
}

// streamTarBackend reads a gzip or xz compressed tar. Compressed streams
// cannot seek, so each read opens the file and scans to the member.
type streamTarBackend struct {
	path    string
	open    decompressor
	entries []entry
	names   map[string]bool
}

func openStreamTar(path string, open decompressor) (*streamTarBackend, error) {
	b := &streamTarBackend{
		path:  filepath.Clean(path),
		open:  open,
		names: make(map[string]bool),
	}
	err := b.walk(func(hdr *tar.Header, _ io.Reader) (bool, error) {
		if !b.names[hdr.Name] {
			b.names[hdr.Name] = true
			b.entries = append(b.entries, entry{key: hdr.Name, name: hdr.Name, size: hdr.Size})
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// walk visits regular members in stream order until visit returns true.
func (b *streamTarBackend) walk(visit func(*tar.Header, io.Reader) (bool, error)) error {
	f, err := os.Open(b.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	zr, err := b.open(f)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if c, ok := zr.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		done, err := visit(hdr, tr)
		if err != nil || done {
			return err
		}
	}
}

func (b *streamTarBackend) list() ([]entry, error) {
	return b.entries, nil
}

func (b *streamTarBackend) read(key string) ([]byte, error) {
	if !b.names[key] {
		return nil, fmt.Errorf("%w: missing member %q", ErrCorrupt, key)
	}
	var data []byte
	found := false
	err := b.walk(func(hdr *tar.Header, r io.Reader) (bool, error) {
		if hdr.Name != key {
			return false, nil
		}
		found = true
		var err error
		data, err = readAllLimited(r)
		if err != nil && !errors.Is(err, ErrCorrupt) {
			err = fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		return true, err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: member %q vanished", ErrIO, key)
	}
	return data, nil
}

func (b *streamTarBackend) close() error { return nil }
