// Package manifest reads and writes the optional manifest.toml bundled in
// comic archives.
//
// The document layout is:
//
//	[meta]
//	title = "Example"
//	author = "Someone"
//	reading_direction = "rtl"
//
//	[pages]
//	order = ["001.png", "002.png"]
//	standalone = [0]
//
// Only the fields above are interpreted. Every other key or table, at any
// level, is kept verbatim and written back by Encode, so tools that add
// their own sections (for example pages.urls) survive a round trip.
// Fields whose type is wrong fall back to their defaults and the original
// value is left untouched in the output.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pelletier/go-toml/v2"
)

// FileName is the archive member holding the manifest.
const FileName = "manifest.toml"

// Manifest errors.
var (
	// ErrInvalid is returned when the document is not valid TOML.
	ErrInvalid = errors.New("manifest: invalid document")
)

// Direction is the reading direction declared by a manifest.
type Direction string

// Reading directions.
const (
	LeftToRight Direction = "ltr"
	RightToLeft Direction = "rtl"
)

// Keys of the interpreted fields.
const (
	tableMeta   = "meta"
	tablePages  = "pages"
	keyTitle    = "title"
	keyAuthor   = "author"
	keyDir      = "reading_direction"
	keyOrder    = "order"
	keyStandalo = "standalone"
)

// Manifest is the decoded manifest document.
//
// A Manifest is not safe for concurrent mutation. Archives hand out clones.
type Manifest struct {
	// Title and Author are passed through to the UI.
	Title  string
	Author string

	// Direction is LeftToRight unless the document says otherwise.
	Direction Direction

	// Pages lists entry names in reading order. Empty means natural order.
	Pages []string

	// standalone holds page indices that never pair in dual layout.
	standalone mapset.Set[int]

	// raw is the full document, including keys unknown to this package.
	raw map[string]any

	// pagesArray records that the document used the short form
	// `pages = [...]` instead of a [pages] table.
	pagesArray bool
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{
		Direction:  LeftToRight,
		standalone: mapset.NewThreadUnsafeSet[int](),
		raw:        make(map[string]any),
	}
}

// Parse decodes a manifest document.
// Invalid TOML returns an error wrapping ErrInvalid. Fields with unexpected
// types are ignored, never reported.
func Parse(data []byte) (*Manifest, error) {
	raw := make(map[string]any)
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	m := New()
	m.raw = raw

	if meta, ok := raw[tableMeta].(map[string]any); ok {
		if s, ok := meta[keyTitle].(string); ok {
			m.Title = s
		}
		if s, ok := meta[keyAuthor].(string); ok {
			m.Author = s
		}
		if s, ok := meta[keyDir].(string); ok && validDirection(s) {
			m.Direction = Direction(s)
		}
	}

	switch pages := raw[tablePages].(type) {
	case []any:
		if names, ok := stringList(pages); ok {
			m.Pages = names
			m.pagesArray = true
		}
	case map[string]any:
		if list, ok := pages[keyOrder].([]any); ok {
			if names, ok := stringList(list); ok {
				m.Pages = names
			}
		}
		if list, ok := pages[keyStandalo].([]any); ok {
			if idx, ok := intList(list); ok {
				m.standalone.Append(idx...)
			}
		}
	}

	return m, nil
}

// Encode serializes the manifest. Output is deterministic: keys are sorted,
// so encoding a parsed Encode result reproduces the same bytes.
func (m *Manifest) Encode() ([]byte, error) {
	doc := deepCopyMap(m.raw)

	meta, _ := doc[tableMeta].(map[string]any)
	if meta == nil {
		meta = make(map[string]any)
	}
	putString(meta, keyTitle, m.Title)
	putString(meta, keyAuthor, m.Author)
	if m.Direction == RightToLeft {
		meta[keyDir] = string(RightToLeft)
	} else if s, ok := meta[keyDir].(string); ok && s == string(RightToLeft) {
		meta[keyDir] = string(LeftToRight)
	}
	if len(meta) > 0 {
		doc[tableMeta] = meta
	} else {
		delete(doc, tableMeta)
	}

	standalone := m.Standalone()
	if m.pagesArray && standalone == nil {
		if len(m.Pages) > 0 {
			doc[tablePages] = anyList(m.Pages)
		} else {
			delete(doc, tablePages)
		}
	} else {
		pages, _ := doc[tablePages].(map[string]any)
		if pages == nil {
			pages = make(map[string]any)
		}
		if len(m.Pages) > 0 {
			pages[keyOrder] = anyList(m.Pages)
		} else if list, ok := pages[keyOrder].([]any); ok {
			if _, valid := stringList(list); valid {
				delete(pages, keyOrder)
			}
		}
		if len(standalone) > 0 {
			pages[keyStandalo] = anyList(standalone)
		} else if list, ok := pages[keyStandalo].([]any); ok {
			if _, valid := intList(list); valid {
				delete(pages, keyStandalo)
			}
		}
		if len(pages) > 0 {
			doc[tablePages] = pages
		} else {
			delete(doc, tablePages)
		}
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Clone returns a deep copy.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	return &Manifest{
		Title:      m.Title,
		Author:     m.Author,
		Direction:  m.Direction,
		Pages:      slices.Clone(m.Pages),
		standalone: m.set().Clone(),
		raw:        deepCopyMap(m.raw),
		pagesArray: m.pagesArray,
	}
}

// IsStandalone reports whether page i must not be paired in dual layout.
func (m *Manifest) IsStandalone(i int) bool {
	if m == nil {
		return false
	}
	return m.set().Contains(i)
}

// Standalone returns the standalone page indices in ascending order.
func (m *Manifest) Standalone() []int {
	if m == nil || m.set().Cardinality() == 0 {
		return nil
	}
	idx := m.standalone.ToSlice()
	slices.Sort(idx)
	return idx
}

// SetStandalone replaces the standalone set.
func (m *Manifest) SetStandalone(pages ...int) {
	set := m.set()
	set.Clear()
	for _, p := range pages {
		if p >= 0 {
			set.Add(p)
		}
	}
}

func (m *Manifest) set() mapset.Set[int] {
	if m.standalone == nil {
		m.standalone = mapset.NewThreadUnsafeSet[int]()
	}
	return m.standalone
}

// Meta returns an uninterpreted [meta] field, such as "tags".
func (m *Manifest) Meta(key string) (any, bool) {
	meta, ok := m.raw[tableMeta].(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := meta[key]
	return v, ok
}

// Extra returns a copy of the top-level keys this package does not
// interpret.
func (m *Manifest) Extra() map[string]any {
	out := make(map[string]any)
	for k, v := range m.raw {
		if k == tableMeta || k == tablePages {
			continue
		}
		out[k] = deepCopy(v)
	}
	return out
}

// RightToLeft reports whether the manifest asks for right-to-left reading.
func (m *Manifest) RightToLeft() bool {
	return m != nil && m.Direction == RightToLeft
}

func validDirection(s string) bool {
	return s == string(LeftToRight) || s == string(RightToLeft)
}

// putString writes a known string field. A cleared field is removed only when
// the existing value was a valid string, so foreign values are preserved.
func putString(t map[string]any, key, value string) {
	if value != "" {
		t[key] = value
		return
	}
	if _, ok := t[key].(string); ok {
		delete(t, key)
	}
}

func stringList(list []any) ([]string, bool) {
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func intList(list []any) ([]int, bool) {
	out := make([]int, 0, len(list))
	for _, v := range list {
		n, ok := v.(int64)
		if !ok {
			return nil, false
		}
		if n >= 0 {
			out = append(out, int(n))
		}
	}
	return out, true
}

func anyList[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
