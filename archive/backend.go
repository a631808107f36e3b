package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// maxEntrySize bounds the bytes read for a single member.
const maxEntrySize = 1 << 30

// entry is one member of a container.
type entry struct {
	key  string // member name as stored, used for reads
	name string // display name, UTF-8
	size int64
}

// backend reads members of one container kind. read must be safe for
// concurrent use.
type backend interface {
	list() ([]entry, error)
	read(key string) ([]byte, error)
	close() error
}

// readAllLimited reads r fully, failing with ErrCorrupt beyond maxEntrySize.
func readAllLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxEntrySize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxEntrySize {
		return nil, fmt.Errorf("%w: entry exceeds %d bytes", ErrCorrupt, maxEntrySize)
	}
	return data, nil
}

// =============================================================================
// ZIP
// =============================================================================

type zipBackend struct {
	rc    *zip.ReadCloser
	files map[string]*zip.File
}

func openZip(path string) (*zipBackend, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	b := &zipBackend{
		rc:    rc,
		files: make(map[string]*zip.File, len(rc.File)),
	}
	for _, f := range rc.File {
		if _, dup := b.files[f.Name]; !dup {
			b.files[f.Name] = f
		}
	}
	return b, nil
}

func (b *zipBackend) list() ([]entry, error) {
	out := make([]entry, 0, len(b.rc.File))
	for _, f := range b.rc.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := f.Name
		if f.NonUTF8 {
			name = decodeCP437(name)
		}
		out = append(out, entry{
			key:  f.Name,
			name: name,
			size: int64(f.UncompressedSize64), //nolint:gosec // bounded by maxEntrySize on read
		})
	}
	return out, nil
}

func (b *zipBackend) read(key string) ([]byte, error) {
	f, ok := b.files[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing member %q", ErrCorrupt, key)
	}
	if f.UncompressedSize64 > maxEntrySize {
		return nil, fmt.Errorf("%w: member %q declares %d bytes", ErrCorrupt, key, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, classifyZipErr(err)
	}
	defer func() { _ = rc.Close() }()

	data, err := readAllLimited(rc)
	if err != nil {
		return nil, classifyZipErr(err)
	}
	return data, nil
}

func (b *zipBackend) close() error {
	return b.rc.Close()
}

func classifyZipErr(err error) error {
	switch {
	case errors.Is(err, ErrCorrupt):
		return err
	case errors.Is(err, zip.ErrChecksum), errors.Is(err, zip.ErrFormat),
		errors.Is(err, zip.ErrAlgorithm), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	default:
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
}

// decodeCP437 converts a legacy ZIP member name to UTF-8. ZIP writers that
// do not set the UTF-8 flag store names in IBM code page 437.
func decodeCP437(name string) string {
	s, err := charmap.CodePage437.NewDecoder().String(name)
	if err != nil {
		return name
	}
	return s
}

// =============================================================================
// Directory
// =============================================================================

type dirBackend struct {
	root string
	fsys fs.FS
}

func openDir(root string) *dirBackend {
	return &dirBackend{root: root, fsys: os.DirFS(root)}
}

func (b *dirBackend) list() ([]entry, error) {
	var out []entry
	err := fs.WalkDir(b.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, entry{key: p, name: p, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *dirBackend) read(key string) ([]byte, error) {
	f, err := b.fsys.Open(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	data, err := readAllLimited(f)
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return data, nil
}

func (b *dirBackend) close() error { return nil }

// =============================================================================
// Format detection
// =============================================================================

// Kind identifies the container format of an archive.
type Kind uint8

// Container kinds.
const (
	KindUnknown Kind = iota
	KindZip
	KindTar
	KindTarGzip
	KindTarXz
	KindDir
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindZip:
		return "zip"
	case KindTar:
		return "tar"
	case KindTarGzip:
		return "tar.gz"
	case KindTarXz:
		return "tar.xz"
	case KindDir:
		return "dir"
	default:
		return "unknown"
	}
}

// kindSuffixes maps lower-cased file name suffixes to container kinds.
// Longer suffixes are listed first.
var kindSuffixes = []struct {
	suffix string
	kind   Kind
}{
	{".cbt.xz", KindTarXz},
	{".tar.xz", KindTarXz},
	{".cbt.gz", KindTarGzip},
	{".tar.gz", KindTarGzip},
	{".txz", KindTarXz},
	{".tgz", KindTarGzip},
	{".cbz", KindZip},
	{".cbw", KindZip},
	{".zip", KindZip},
	{".cbt", KindTar},
	{".tar", KindTar},
}

var (
	magicZip  = []byte("PK\x03\x04")
	magicGzip = []byte{0x1f, 0x8b}
	magicXz   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicTar  = []byte("ustar")
)

// detectKind picks a container kind from the file name, falling back to
// content sniffing for unknown extensions.
func detectKind(path string) (Kind, error) {
	lower := strings.ToLower(filepath.Base(path))
	for _, s := range kindSuffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.kind, nil
		}
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return KindUnknown, err
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return KindUnknown, err
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, magicZip):
		return KindZip, nil
	case bytes.HasPrefix(head, magicXz):
		return KindTarXz, nil
	case bytes.HasPrefix(head, magicGzip):
		return KindTarGzip, nil
	case len(head) >= 262 && bytes.Equal(head[257:262], magicTar):
		return KindTar, nil
	}
	return KindUnknown, nil
}
