// Package grid implements the pure geometry of the scrolling price/time
// grid: cell dimensions, viewport smoothing, coordinate transforms, and
// tap hit-testing. Everything here is deterministic math over an input
// snapshot — no I/O, no clocks, no shared state.
package grid

import (
	"math"

	"github.com/InfamousVague/wraith-grid/internal/model"
)

// Bubble-zone column counts, shared by tap rejection and render dimming
// so the two can never drift apart.
const (
	// HardLockedCols are the columns nearest live price, fully blacked
	// out and locked against new trades.
	HardLockedCols = 2

	// BubbleZoneCols extends the lockout one more column; the third is
	// rendered with a decayed display but remains untappable.
	BubbleZoneCols = 3
)

// MinVisible floors how far zoom may shrink the visible row/column counts.
const MinVisible = 4

const (
	priceLabelMargin = 64.0 // right-edge price axis, px
	timeLabelMargin  = 24.0 // bottom time axis, px

	boundaryFraction        = 0.30
	boundaryFractionCompact = 0.42
)

// Geometry is the derived layout record for one canvas configuration.
type Geometry struct {
	CanvasWidth  float64
	CanvasHeight float64
	DPR          float64

	// BoundaryX separates the price-trace zone (left) from the grid
	// zone (right).
	BoundaryX float64

	GridWidth  float64
	GridHeight float64

	CellWidth  float64
	CellHeight float64

	VisibleRows int
	VisibleCols int

	RowCount int // configured totals
	ColCount int
}

// MaxWorldHeight is the world-space height of the full configured grid.
func (g Geometry) MaxWorldHeight() float64 {
	return float64(g.RowCount) * g.CellHeight
}

// Compute derives the grid geometry from canvas size, device pixel
// ratio, config, and zoom. ok is false while either canvas dimension is
// zero; callers render a loading state until it turns true.
func Compute(canvasW, canvasH, dpr float64, cfg model.GridConfig, zoom float64, compact bool) (Geometry, bool) {
	if canvasW <= 0 || canvasH <= 0 {
		return Geometry{}, false
	}
	if dpr <= 0 {
		dpr = 1
	}
	if zoom <= 0 {
		zoom = 1
	}

	fraction := boundaryFraction
	if compact {
		fraction = boundaryFractionCompact
	}
	boundaryX := canvasW * fraction

	gridW := canvasW - boundaryX - priceLabelMargin
	gridH := canvasH - timeLabelMargin
	if gridW <= 0 || gridH <= 0 {
		return Geometry{}, false
	}

	// Zooming in shrinks the visible counts, enlarging each cell.
	visRows := visibleCount(cfg.RowCount, zoom)
	visCols := visibleCount(cfg.ColCount, zoom)

	return Geometry{
		CanvasWidth:  canvasW,
		CanvasHeight: canvasH,
		DPR:          dpr,
		BoundaryX:    boundaryX,
		GridWidth:    gridW,
		GridHeight:   gridH,
		CellWidth:    gridW / float64(visCols),
		CellHeight:   gridH / float64(visRows),
		VisibleRows:  visRows,
		VisibleCols:  visCols,
		RowCount:     cfg.RowCount,
		ColCount:     cfg.ColCount,
	}, true
}

func visibleCount(total int, zoom float64) int {
	n := int(math.Round(float64(total) / zoom))
	if n < MinVisible {
		n = MinVisible
	}
	if n > total && total >= MinVisible {
		n = total
	}
	return n
}
