package image

import (
	"image"

	"golang.org/x/image/draw"
)

// Compose places left and right side by side into a new page of width
// left.Width+right.Width and height max(left.Height, right.Height). Each
// source is centered vertically; uncovered pixels stay transparent.
// Animated sources contribute their first frame.
//
// Compose is pure: equal inputs give byte-identical output.
func Compose(left, right *Page) *Page {
	w := left.Width + right.Width
	h := max(left.Height, right.Height)
	stride := w * BytesPerPixel
	pix := make([]byte, stride*h)

	blit(pix, stride, 0, (h-left.Height)/2, left)
	blit(pix, stride, left.Width, (h-right.Height)/2, right)

	return NewPage(w, h, pix)
}

// blit copies the first frame of src into dst at (x, y).
func blit(dst []byte, stride, x, y int, src *Page) {
	row := src.Width * BytesPerPixel
	off := x * BytesPerPixel
	for sy := range src.Height {
		d := (y+sy)*stride + off
		copy(dst[d:d+row], src.Pix[sy*row:(sy+1)*row])
	}
}

// Scale resamples frame i of p to width x height with a Catmull-Rom filter.
// When the size is unchanged the page memory is returned as is; callers
// must not modify it.
func Scale(p *Page, frame, width, height int) []byte {
	src := p.NRGBA(frame)
	if width == p.Width && height == p.Height {
		return src.Pix
	}
	// Filter in premultiplied space, then convert back to straight alpha.
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Rect, src, src.Rect, draw.Src, nil)
	unpremultiply(dst.Pix)
	return dst.Pix
}

func unpremultiply(pix []byte) {
	for i := 0; i+3 < len(pix); i += 4 {
		a := uint32(pix[i+3])
		if a == 0 || a == 0xff {
			continue
		}
		pix[i] = uint8(min(uint32(pix[i])*0xff/a, 0xff))
		pix[i+1] = uint8(min(uint32(pix[i+1])*0xff/a, 0xff))
		pix[i+2] = uint8(min(uint32(pix[i+2])*0xff/a, 0xff))
	}
}

// FitSize scales (w, h) by factor and clamps the longest side to maxSide,
// preserving the aspect ratio. Results are at least 1x1.
func FitSize(w, h int, factor float64, maxSide int) (int, int) {
	sw := float64(w) * factor
	sh := float64(h) * factor
	if maxSide > 0 {
		if longest := max(sw, sh); longest > float64(maxSide) {
			k := float64(maxSide) / longest
			sw *= k
			sh *= k
		}
	}
	return max(1, int(sw+0.5)), max(1, int(sh+0.5))
}
