package grid

import (
	"math"
	"time"
)

// Mapper provides the bidirectional price/time <-> screen-pixel
// transforms for one frame. It is a value snapshot: geometry, the
// blended price high, the smoothed viewport offset, and the session
// epoch are all fixed at construction, so a frame's draws and any hit
// tests within it agree exactly.
type Mapper struct {
	Geo        Geometry
	RowHeight  float64 // price units per row
	PriceHigh  float64 // blended top-of-grid price
	Offset     float64 // smoothed viewport offset
	Epoch      time.Time
	IntervalMS int64
}

// PriceToWorldY maps a price to world-space Y (0 at PriceHigh, growing
// downward).
func (m Mapper) PriceToWorldY(price float64) float64 {
	return (m.PriceHigh - price) / m.RowHeight * m.Geo.CellHeight
}

// PriceToScreenY maps a price to screen Y within the grid area.
func (m Mapper) PriceToScreenY(price float64) float64 {
	return m.PriceToWorldY(price) - m.Offset
}

// RowScreenY returns the screen Y of a row's top edge.
func (m Mapper) RowScreenY(row int) float64 {
	return float64(row)*m.Geo.CellHeight - m.Offset
}

// Elapsed returns time since the session epoch; negative values clamp
// to zero.
func (m Mapper) Elapsed(now time.Time) time.Duration {
	d := now.Sub(m.Epoch)
	if d < 0 {
		return 0
	}
	return d
}

// WholeColumns returns how many full columns have scrolled past since
// the epoch.
func (m Mapper) WholeColumns(now time.Time) int64 {
	return m.Elapsed(now).Milliseconds() / m.IntervalMS
}

// ScrollOffsetX is the continuous leftward scroll within the current
// column, in pixels.
func (m Mapper) ScrollOffsetX(now time.Time) float64 {
	frac := float64(m.Elapsed(now).Milliseconds()%m.IntervalMS) / float64(m.IntervalMS)
	return frac * m.Geo.CellWidth
}

// ColX returns the screen X of a visual column's left edge.
func (m Mapper) ColX(col int, now time.Time) float64 {
	return m.Geo.BoundaryX + float64(col)*m.Geo.CellWidth - m.ScrollOffsetX(now)
}

// ColTimeWindow returns the absolute time window of a visual column,
// aligned to interval boundaries from the session epoch.
func (m Mapper) ColTimeWindow(col int, now time.Time) (start, end time.Time) {
	interval := time.Duration(m.IntervalMS) * time.Millisecond
	start = m.Epoch.Add(time.Duration(m.WholeColumns(now)+int64(col)) * interval)
	return start, start.Add(interval)
}

// ScreenToCell inverts both mappings. ok is false — never clamped —
// when the point lies outside the grid rectangle or the resolved
// indices fall outside [0,RowCount) x [0,ColCount).
func (m Mapper) ScreenToCell(x, y float64, now time.Time) (row, col int, ok bool) {
	if x < m.Geo.BoundaryX || x >= m.Geo.BoundaryX+m.Geo.GridWidth {
		return 0, 0, false
	}
	if y < 0 || y >= m.Geo.GridHeight {
		return 0, 0, false
	}
	col = int(math.Floor((x - m.Geo.BoundaryX + m.ScrollOffsetX(now)) / m.Geo.CellWidth))
	row = int(math.Floor((y + m.Offset) / m.Geo.CellHeight))
	if row < 0 || row >= m.Geo.RowCount {
		return 0, 0, false
	}
	if col < 0 || col >= m.Geo.ColCount {
		return 0, 0, false
	}
	return row, col, true
}
