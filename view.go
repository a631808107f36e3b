package pagepipe

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/pagepipe/internal/cache"
)

// NoPage marks the missing second page of a spread.
const NoPage = cache.NoPage

// Layout is the page layout of a view.
type Layout uint8

// Layouts.
const (
	Single Layout = iota
	Dual
)

// String returns the layout name.
func (l Layout) String() string {
	switch l {
	case Single:
		return "single"
	case Dual:
		return "dual"
	default:
		return "unknown"
	}
}

// Direction is the reading direction of a view.
type Direction uint8

// Reading directions. DirectionAuto follows the archive manifest and falls
// back to left-to-right.
const (
	DirectionAuto Direction = iota
	LeftToRight
	RightToLeft
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionAuto:
		return "auto"
	case LeftToRight:
		return "ltr"
	case RightToLeft:
		return "rtl"
	default:
		return "unknown"
	}
}

// View is what the UI is showing. A non-positive Zoom means 1.
type View struct {
	Page      int
	Layout    Layout
	Zoom      float64
	Direction Direction
}

// State is the readiness of a drawable.
type State uint8

// Drawable states.
const (
	Pending State = iota
	Ready
	Failed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Spread is the pair of pages shown together, in screen order from left to
// right. Right is NoPage for a page shown alone.
type Spread = cache.SpreadKey

// Drawable is the result of DrawablesFor.
//
// When State is Ready, Texture holds pixels scaled to the zoom bucket and
// Width and Height give the native pixel size of the page or spread; the
// renderer scales the texture to the exact zoom. When State is Failed, Err
// holds the cause and Kind its classification.
type Drawable struct {
	State   State
	Texture gpucontext.Texture
	Width   int
	Height  int
	Pages   Spread
	Err     error
	Kind    ErrorKind
}

// PrefetchHints lists the pages queued for prefetch around the view.
type PrefetchHints struct {
	Ahead  []int
	Behind []int
}

// Frame is everything the UI needs for one paint.
type Frame struct {
	Primary Drawable
	Hints   PrefetchHints
}
