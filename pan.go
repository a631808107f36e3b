package pagepipe

// Point is a pan offset or position in screen pixels.
type Point struct {
	X, Y float64
}

// Pt is a convenience function to create a Point.
func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

// Add returns the sum of two points (vector addition).
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Sub returns the difference of two points (vector subtraction).
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Mul returns the point scaled by a scalar.
func (p Point) Mul(s float64) Point {
	return Point{X: p.X * s, Y: p.Y * s}
}

// Size is a width and height in screen pixels.
type Size struct {
	W, H float64
}

// Scaled returns the on-screen size of a drawable of native size w x h at
// zoom.
func Scaled(w, h int, zoom float64) Size {
	return Size{W: float64(w) * zoom, H: float64(h) * zoom}
}

// ClampPan limits pan, the offset of the content center from the viewport
// center, so that content never leaves a gap at a viewport edge it could
// cover. Along an axis where the content is smaller than the viewport the
// content is centered.
//
// A spread is clamped as one rectangle, so panning moves across both pages.
func ClampPan(pan Point, content, viewport Size) Point {
	return Point{
		X: clampAxis(pan.X, content.W, viewport.W),
		Y: clampAxis(pan.Y, content.H, viewport.H),
	}
}

func clampAxis(v, content, viewport float64) float64 {
	slack := (content - viewport) / 2
	if slack <= 0 {
		return 0
	}
	return min(max(v, -slack), slack)
}
