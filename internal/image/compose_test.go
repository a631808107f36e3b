package image

import (
	"bytes"
	"image/color"
	"testing"
)

func solidPage(w, h int, c color.NRGBA) *Page {
	return NewPage(w, h, solidNRGBA(w, h, c).Pix)
}

func TestCompose(t *testing.T) {
	left := solidPage(2, 4, red)
	right := solidPage(3, 2, blue)

	p := Compose(left, right)
	if p.Width != 5 || p.Height != 4 {
		t.Fatalf("size = %dx%d, want 5x4", p.Width, p.Height)
	}
	if len(p.Pix) != 5*4*BytesPerPixel {
		t.Fatalf("len(Pix) = %d", len(p.Pix))
	}

	tests := []struct {
		x, y int
		want color.NRGBA
	}{
		{0, 0, red},
		{1, 3, red},
		{2, 0, transparent}, // right page is centered: rows 1..2
		{2, 1, blue},
		{4, 2, blue},
		{4, 3, transparent},
	}
	for _, tt := range tests {
		if got := pixAt(p, 0, tt.x, tt.y); got != tt.want {
			t.Errorf("pixel (%d,%d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestComposeIsPure(t *testing.T) {
	left := solidPage(7, 5, red)
	right := solidPage(4, 9, blue)
	leftCopy := bytes.Clone(left.Pix)

	a := Compose(left, right)
	b := Compose(left, right)
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("Compose output differs across calls")
	}
	if &a.Pix[0] == &b.Pix[0] {
		t.Error("Compose should allocate a new buffer")
	}
	if !bytes.Equal(left.Pix, leftCopy) {
		t.Error("Compose mutated its input")
	}
}

func TestComposeUsesFirstFrame(t *testing.T) {
	anim := &Page{Width: 1, Height: 1, Frames: []Frame{
		{Pix: []byte{255, 0, 0, 255}},
		{Pix: []byte{0, 0, 255, 255}},
	}}
	anim.Pix = anim.Frames[0].Pix

	p := Compose(anim, solidPage(1, 1, blue))
	if got := pixAt(p, 0, 0, 0); got != red {
		t.Errorf("pixel (0,0) = %v, want first frame red", got)
	}
	if p.Animated() {
		t.Error("composed spread should be static")
	}
}

func TestScale(t *testing.T) {
	p := solidPage(8, 6, red)

	same := Scale(p, 0, 8, 6)
	if &same[0] != &p.Pix[0] {
		t.Error("Scale to native size should return page memory")
	}

	half := Scale(p, 0, 4, 3)
	if len(half) != 4*3*BytesPerPixel {
		t.Fatalf("len = %d, want %d", len(half), 4*3*BytesPerPixel)
	}
	for i := 0; i < len(half); i += 4 {
		if half[i] < 254 || half[i+1] > 1 || half[i+2] > 1 || half[i+3] < 254 {
			t.Fatalf("pixel %d = %v, want solid red", i/4, half[i:i+4])
		}
	}

	double := Scale(p, 0, 16, 12)
	if len(double) != 16*12*BytesPerPixel {
		t.Errorf("len = %d, want %d", len(double), 16*12*BytesPerPixel)
	}
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		w, h    int
		factor  float64
		maxSide int
		wantW   int
		wantH   int
	}{
		{1000, 1500, 1, 16384, 1000, 1500},
		{1000, 1500, 0.5, 16384, 500, 750},
		{1000, 1500, 2, 1500, 1000, 1500},
		{2000, 1500, 10, 4000, 4000, 3000},
		{10, 10, 0.01, 0, 1, 1},
	}
	for _, tt := range tests {
		w, h := FitSize(tt.w, tt.h, tt.factor, tt.maxSide)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("FitSize(%d, %d, %v, %d) = %dx%d, want %dx%d",
				tt.w, tt.h, tt.factor, tt.maxSide, w, h, tt.wantW, tt.wantH)
		}
	}
}
