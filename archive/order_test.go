package archive

import (
	"slices"
	"testing"

	"github.com/gogpu/pagepipe/manifest"
)

func TestNaturalLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"page2.png", "page10.png", true},
		{"page10.png", "page2.png", false},
		{"a.png", "B.png", true},
		{"007.png", "7.png", true}, // numeric tie, byte order decides
		{"7.png", "007.png", false},
		{"ch1/p9.png", "ch1/p10.png", true},
		{"ch2/p1.png", "ch10/p1.png", true},
		{"x", "x", false},
		{"img", "img1", true},
		{"1999.png", "20000.png", true},
		{"Chapter 2 - 010.png", "chapter 2 - 9.png", false},
		{"IMG.png", "img.png", true}, // case tie, byte order decides
	}
	for _, tt := range tests {
		if got := naturalLess(tt.a, tt.b); got != tt.want {
			t.Errorf("naturalLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestIsPageEntry(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"001.png", true},
		{"dir/002.JPEG", true},
		{"anim.gif", true},
		{"scan.tiff", true},
		{"dir/", false},
		{"notes.txt", false},
		{"__MACOSX/001.png", false},
		{"vol/__MACOSX/001.png", false},
		{"._001.png", false},
		{"manifest.toml", false},
	}
	for _, tt := range tests {
		if got := isPageEntry(tt.name); got != tt.want {
			t.Errorf("isPageEntry(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPageOrder(t *testing.T) {
	entries := []entry{
		{key: "a.png", name: "a.png"},
		{key: "b.png", name: "b.png"},
		{key: "caf\x82.png", name: "café.png"},
	}

	if got := pageOrder(entries, nil); !slices.Equal(got, []int{0, 1, 2}) {
		t.Errorf("pageOrder(nil) = %v", got)
	}

	m := manifest.New()
	m.Pages = []string{"café.png", "nope.png", "b.png", "b.png"}
	if got := pageOrder(entries, m); !slices.Equal(got, []int{2, 1, 0}) {
		t.Errorf("pageOrder(display names) = %v, want [2 1 0]", got)
	}

	m.Pages = []string{"caf\x82.png"}
	if got := pageOrder(entries, m); !slices.Equal(got, []int{2, 0, 1}) {
		t.Errorf("pageOrder(raw names) = %v, want [2 0 1]", got)
	}
}
