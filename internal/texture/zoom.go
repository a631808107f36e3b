package texture

import "math"

// Default zoom ladder.
const (
	DefaultZoomStep = 0.25
	DefaultZoomMin  = 0.1
	DefaultZoomMax  = 10.0
)

// ZoomLadder snaps zoom factors to a fixed set of buckets so that small zoom
// changes reuse the same texture. Bucket n stands for zoom n*Step.
type ZoomLadder struct {
	Step float64 `mapstructure:"step"`
	Min  float64 `mapstructure:"min"`
	Max  float64 `mapstructure:"max"`
}

// DefaultZoomLadder returns the ladder with step 0.25 over [0.1, 10].
func DefaultZoomLadder() ZoomLadder {
	return ZoomLadder{Step: DefaultZoomStep, Min: DefaultZoomMin, Max: DefaultZoomMax}
}

func (l ZoomLadder) withDefaults() ZoomLadder {
	if l.Step <= 0 {
		l.Step = DefaultZoomStep
	}
	if l.Min <= 0 {
		l.Min = DefaultZoomMin
	}
	if l.Max < l.Min {
		l.Max = max(DefaultZoomMax, l.Min)
	}
	return l
}

// Bucket clamps zoom to [Min, Max] and rounds it to the nearest step.
// The result is never below one step. NaN and non-positive zoom map to the
// lowest bucket.
func (l ZoomLadder) Bucket(zoom float64) int {
	l = l.withDefaults()
	if math.IsNaN(zoom) {
		zoom = l.Min
	}
	zoom = min(max(zoom, l.Min), l.Max)
	return max(1, int(math.Round(zoom/l.Step)))
}

// Zoom returns the zoom factor a bucket stands for.
func (l ZoomLadder) Zoom(bucket int) float64 {
	l = l.withDefaults()
	return float64(max(1, bucket)) * l.Step
}
