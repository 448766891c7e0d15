package grid

import (
	"time"
)

const (
	// SmoothingFactor is the exponential smoothing gain per update.
	// Reaches within 1% of a fixed target in ~74 updates.
	SmoothingFactor = 0.06

	// BoundsBlendWindow is how long replacement price bounds are
	// interpolated before taking full effect. Snapping the scale on a
	// config change would visibly jump the whole grid.
	BoundsBlendWindow = 500 * time.Millisecond
)

// Viewport owns the smoothed vertical scroll offset that keeps the live
// price centered, and the blend state for in-flight price-bound changes.
// Not safe for concurrent use; the owning engine serializes access.
type Viewport struct {
	offset      float64
	initialized bool

	oldHigh, oldLow float64
	newHigh, newLow float64
	blendStart      time.Time
	blending        bool
	boundsSet       bool
}

// NewViewport returns an uninitialized viewport; the first Update snaps
// straight to its target.
func NewViewport() *Viewport {
	return &Viewport{}
}

// Offset returns the current smoothed offset.
func (v *Viewport) Offset() float64 { return v.offset }

// Initialized reports whether the offset has ever been set.
func (v *Viewport) Initialized() bool { return v.initialized }

// SetBounds installs replacement price bounds. The effective bounds
// interpolate linearly from the current blended values to the new ones
// over BoundsBlendWindow.
func (v *Viewport) SetBounds(high, low float64, now time.Time) {
	if !v.boundsSet {
		// First bounds ever: no blend source exists yet.
		v.oldHigh, v.oldLow = high, low
		v.newHigh, v.newLow = high, low
		v.boundsSet = true
		return
	}
	if high == v.newHigh && low == v.newLow {
		return
	}
	curHigh, curLow := v.Bounds(now)
	v.oldHigh, v.oldLow = curHigh, curLow
	v.newHigh, v.newLow = high, low
	v.blendStart = now
	v.blending = true
}

// Bounds returns the effective (possibly mid-blend) price bounds.
func (v *Viewport) Bounds(now time.Time) (high, low float64) {
	if !v.blending {
		return v.newHigh, v.newLow
	}
	elapsed := now.Sub(v.blendStart)
	t := float64(elapsed) / float64(BoundsBlendWindow)
	if t >= 1 {
		v.blending = false
		return v.newHigh, v.newLow
	}
	if t < 0 {
		t = 0
	}
	high = v.oldHigh + (v.newHigh-v.oldHigh)*t
	low = v.oldLow + (v.newLow-v.oldLow)*t
	return high, low
}

// Update advances the offset toward centering currentPrice. Snaps when
// uninitialized, otherwise applies exponential smoothing, and always
// clamps to [-gridHeight/2, maxWorldHeight-gridHeight/2].
func (v *Viewport) Update(currentPrice, rowHeight float64, geo Geometry, now time.Time) float64 {
	high, _ := v.Bounds(now)
	worldY := (high - currentPrice) / rowHeight * geo.CellHeight
	target := worldY - geo.GridHeight/2
	target = v.clamp(target, geo)

	if !v.initialized {
		v.offset = target
		v.initialized = true
		return v.offset
	}
	v.offset += (target - v.offset) * SmoothingFactor
	v.offset = v.clamp(v.offset, geo)
	return v.offset
}

// Reset clears all state for a symbol switch.
func (v *Viewport) Reset() {
	*v = Viewport{}
}

func (v *Viewport) clamp(offset float64, geo Geometry) float64 {
	min := -geo.GridHeight * 0.5
	max := geo.MaxWorldHeight() - geo.GridHeight*0.5
	if max < min {
		max = min
	}
	if offset < min {
		return min
	}
	if offset > max {
		return max
	}
	return offset
}
