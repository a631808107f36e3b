package archive

import (
	"path"
	"slices"
	"strings"

	"github.com/facette/natsort"

	"github.com/gogpu/pagepipe/manifest"
)

// imageExts lists the entry extensions treated as pages.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// isPageEntry reports whether an entry name looks like a page image.
// Directory entries, macOS resource forks and dot-files are skipped.
func isPageEntry(name string) bool {
	if name == "" || strings.HasSuffix(name, "/") {
		return false
	}
	if strings.HasPrefix(name, "__MACOSX/") || strings.Contains(name, "/__MACOSX/") {
		return false
	}
	base := path.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return imageExts[strings.ToLower(path.Ext(base))]
}

// isManifestEntry reports whether name is the root manifest.
func isManifestEntry(name string) bool {
	return strings.EqualFold(strings.TrimPrefix(name, "./"), manifest.FileName)
}

// naturalLess orders names so that embedded numbers compare by value:
// "page2.png" < "page10.png". Case is ignored; ties fall back to byte order.
func naturalLess(a, b string) bool {
	if c := naturalCompare(a, b); c != 0 {
		return c < 0
	}
	return a < b
}

// naturalCompare reports the case-insensitive natural order of a and b, or
// 0 when they only differ in case or leading zeros.
func naturalCompare(a, b string) int {
	a, b = strings.ToLower(a), strings.ToLower(b)
	less, greater := natsort.Compare(a, b), natsort.Compare(b, a)
	switch {
	case less && !greater:
		return -1
	case greater && !less:
		return 1
	default:
		return 0
	}
}

// sortEntries sorts entries by display name in natural order.
func sortEntries(entries []entry) {
	slices.SortStableFunc(entries, func(x, y entry) int {
		if c := naturalCompare(x.name, y.name); c != 0 {
			return c
		}
		return strings.Compare(x.name, y.name)
	})
}

// pageOrder maps page indices to positions in the naturally sorted entries.
// Names listed by the manifest come first, in manifest order; names that do
// not exist or repeat are skipped. Unlisted entries follow in natural order.
func pageOrder(entries []entry, m *manifest.Manifest) []int {
	order := make([]int, 0, len(entries))
	if m == nil || len(m.Pages) == 0 {
		for i := range entries {
			order = append(order, i)
		}
		return order
	}

	byName := make(map[string]int, len(entries))
	for i, e := range entries {
		byName[e.name] = i
		if _, dup := byName[e.key]; !dup {
			byName[e.key] = i
		}
	}

	used := make([]bool, len(entries))
	for _, name := range m.Pages {
		i, ok := byName[name]
		if !ok || used[i] {
			continue
		}
		used[i] = true
		order = append(order, i)
	}
	for i := range entries {
		if !used[i] {
			order = append(order, i)
		}
	}
	return order
}
