package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/InfamousVague/wraith-grid/internal/grid"
	"github.com/InfamousVague/wraith-grid/internal/metrics"
	"github.com/InfamousVague/wraith-grid/internal/model"
)

// Ripple timing: linear radius growth over the window, fading as it
// grows.
const rippleWindow = 1400 * time.Millisecond

// Fraction of the trace zone at which the price trace reaches full
// grid-scale alignment.
const traceAlignFraction = 0.85

// Draw palette.
const (
	colorBackground = "#0b0f17"
	colorGridZone   = "#0e1420"
	colorGridLine   = "#1f2937"
	colorMultiplier = "#9ca3af"
	colorBlackout   = "#05070c"
	colorRipple     = "#38bdf8"
	colorTrace      = "#38bdf8"
	colorLabel      = "#6b7280"
	colorBadge      = "#38bdf8"
	colorBadgeText  = "#0b0f17"
	colorPending    = "#64748b"
	colorActive     = "#2563eb"
	colorWon        = "#16a34a"
	colorLost       = "#dc2626"
)

type ripple struct {
	row   int
	col   int
	start time.Time
}

// frameContext is the explicit value threaded through every draw
// routine: the geometry, mapper, and state snapshots one frame renders
// from. Nothing in a draw routine touches engine fields directly, so a
// mid-frame mutation can never produce a torn picture.
type frameContext struct {
	now       time.Time
	geo       grid.Geometry
	mapper    grid.Mapper
	cfg       model.GridConfig
	matrix    model.MultiplierMatrix
	samples   []model.PriceSample
	price     float64
	positions []model.Position
	ripples   []ripple
}

// Frame renders one complete frame. Geometry is recomputed from the
// current zoom first and the viewport clamped against that fresh
// geometry second, so zoom changes land within a single frame.
func (e *Engine) Frame() {
	start := time.Now()

	e.mu.Lock()
	now := e.clock()

	geo, ready := grid.Geometry{}, false
	if e.haveConfig {
		geo, ready = grid.Compute(e.opts.CanvasWidth, e.opts.CanvasHeight, e.opts.DPR,
			e.cfg, e.opts.Zoom, e.opts.Compact)
	}
	if !ready {
		w, h := e.opts.CanvasWidth, e.opts.CanvasHeight
		e.mu.Unlock()
		e.renderer.BeginFrame(w, h)
		e.renderer.DrawText(w/2, h/2, "Loading grid…", Style{Color: colorLabel, Size: 14, Align: "center"})
		e.renderer.EndFrame()
		return
	}

	e.viewport.Update(e.price, e.cfg.RowHeight, geo, now)

	// Cull finished ripples while the lock is held.
	live := e.ripples[:0]
	for _, rp := range e.ripples {
		if now.Sub(rp.start) <= rippleWindow {
			live = append(live, rp)
		}
	}
	e.ripples = live

	fc := frameContext{
		now:       now,
		geo:       geo,
		mapper:    e.mapper(geo, now),
		cfg:       e.cfg,
		matrix:    e.matrix,
		samples:   e.history.Samples(),
		price:     e.price,
		positions: e.rec.Snapshot(),
		ripples:   append([]ripple(nil), e.ripples...),
	}
	e.mu.Unlock()

	e.draw(fc)

	metrics.FramesTotal.Inc()
	metrics.FrameDuration.Observe(time.Since(start).Seconds())
}

// draw issues the back-to-front draw sequence.
func (e *Engine) draw(fc frameContext) {
	r := e.renderer
	r.BeginFrame(fc.geo.CanvasWidth, fc.geo.CanvasHeight)

	drawBackground(r, fc)
	drawGridLines(r, fc)
	drawRipples(r, fc)
	drawMultipliers(r, fc)
	drawBubbleOverlay(r, fc)
	drawPriceTrace(r, fc)
	drawAxisLabels(r, fc)
	drawTiles(r, fc)

	r.EndFrame()
}

func drawBackground(r Renderer, fc frameContext) {
	r.FillRect(0, 0, fc.geo.CanvasWidth, fc.geo.CanvasHeight, Style{Color: colorBackground})
	r.FillRect(fc.geo.BoundaryX, 0, fc.geo.GridWidth, fc.geo.GridHeight, Style{Color: colorGridZone})
}

// drawGridLines strokes the visible row/column lines, fading near the
// grid edges.
func drawGridLines(r Renderer, fc frameContext) {
	geo := fc.geo
	right := geo.BoundaryX + geo.GridWidth

	for c := 0; c <= geo.VisibleCols+1; c++ {
		x := fc.mapper.ColX(c, fc.now)
		if x < geo.BoundaryX || x > right {
			continue
		}
		r.StrokeLine(x, 0, x, geo.GridHeight, Style{Color: colorGridLine, Alpha: edgeFade(x, geo.BoundaryX, right), Width: 1})
	}

	firstRow := int(math.Floor(fc.mapper.Offset / geo.CellHeight))
	for i := 0; i <= geo.VisibleRows+1; i++ {
		row := firstRow + i
		y := fc.mapper.RowScreenY(row)
		if y < 0 || y > geo.GridHeight {
			continue
		}
		r.StrokeLine(geo.BoundaryX, y, right, y, Style{Color: colorGridLine, Alpha: edgeFade(y, 0, geo.GridHeight), Width: 1})
	}
}

// edgeFade ramps alpha down within 40px of either edge.
func edgeFade(v, lo, hi float64) float64 {
	const fade = 40.0
	a := clamp01((v - lo) / fade)
	b := clamp01((hi - v) / fade)
	return 0.25 + 0.75*math.Min(a, b)
}

// drawRipples tints recently-placed cells with a radius growing
// linearly over the ripple window.
func drawRipples(r Renderer, fc frameContext) {
	for _, rp := range fc.ripples {
		progress := float64(fc.now.Sub(rp.start)) / float64(rippleWindow)
		if progress < 0 || progress > 1 {
			continue
		}
		cx := fc.mapper.ColX(rp.col, fc.now) + fc.geo.CellWidth/2
		cy := fc.mapper.RowScreenY(rp.row) + fc.geo.CellHeight/2
		radius := progress * fc.geo.CellWidth * 1.5
		r.FillCircle(cx, cy, radius, Style{Color: colorRipple, Alpha: 0.35 * (1 - progress)})
	}
}

// drawMultipliers renders the payout text per visible cell, skipping
// cells covered by a trade tile and the blacked-out columns.
func drawMultipliers(r Renderer, fc frameContext) {
	occupied := make(map[[2]int]bool, len(fc.positions))
	for i := range fc.positions {
		p := &fc.positions[i]
		occupied[[2]int{p.RowIndex, visualCol(p, fc)}] = true
	}

	firstRow := int(math.Floor(fc.mapper.Offset / fc.geo.CellHeight))
	for i := 0; i <= fc.geo.VisibleRows; i++ {
		row := firstRow + i
		if row < 0 || row >= fc.geo.RowCount {
			continue
		}
		y := fc.mapper.RowScreenY(row) + fc.geo.CellHeight/2
		for col := grid.HardLockedCols; col <= fc.geo.VisibleCols+model.PaddingCols; col++ {
			mult := fc.matrix.At(row, col)
			if mult <= 0 || occupied[[2]int{row, col}] {
				continue
			}
			x := fc.mapper.ColX(col, fc.now) + fc.geo.CellWidth/2
			if x < fc.geo.BoundaryX || x > fc.geo.BoundaryX+fc.geo.GridWidth {
				continue
			}
			alpha := 1.0
			if col < grid.BubbleZoneCols {
				alpha = 0.35 // decayed display in the third column
			}
			r.DrawText(x, y, fmt.Sprintf("%.2fx", mult),
				Style{Color: colorMultiplier, Alpha: alpha, Size: 12, Align: "center"})
		}
	}
}

// drawBubbleOverlay blacks out the expired sliver and the hard-locked
// columns, and dims the decayed third column. The same column constants
// drive tap rejection in grid.HitTest.
func drawBubbleOverlay(r Renderer, fc frameContext) {
	geo := fc.geo
	hardRight := fc.mapper.ColX(grid.HardLockedCols, fc.now)
	bubbleRight := fc.mapper.ColX(grid.BubbleZoneCols, fc.now)

	if hardRight > geo.BoundaryX {
		r.FillRect(geo.BoundaryX, 0, hardRight-geo.BoundaryX, geo.GridHeight,
			Style{Color: colorBlackout, Alpha: 0.65})
	}
	if bubbleRight > hardRight {
		r.FillRect(hardRight, 0, bubbleRight-hardRight, geo.GridHeight,
			Style{Color: colorBlackout, Alpha: 0.30})
	}
}

// drawPriceTrace renders the live trace through the left zone. The
// vertical scale blends, via smoothstep, from an exaggerated legible
// scale to the exact grid scale, fully aligned at 85% of the zone; the
// final sample is forced onto the grid-aligned Y so the trace meets the
// price badge without a kink.
func drawPriceTrace(r Renderer, fc frameContext) {
	n := len(fc.samples)
	if n < 2 {
		return
	}
	geo := fc.geo

	minP, maxP := fc.samples[0].Price, fc.samples[0].Price
	for _, s := range fc.samples[1:] {
		minP = math.Min(minP, s.Price)
		maxP = math.Max(maxP, s.Price)
	}
	if maxP == minP {
		maxP = minP + 1e-9
	}
	pad := (maxP - minP) * 0.15
	minP, maxP = minP-pad, maxP+pad

	oldest := fc.samples[0].Time
	span := fc.samples[n-1].Time.Sub(oldest)
	if span <= 0 {
		span = time.Second
	}

	pts := make([]Point, 0, n)
	for i, s := range fc.samples {
		x := float64(s.Time.Sub(oldest)) / float64(span) * geo.BoundaryX
		legibleY := (maxP - s.Price) / (maxP - minP) * geo.GridHeight
		gridY := fc.mapper.PriceToScreenY(s.Price)
		blend := smoothstep(clamp01(x / (geo.BoundaryX * traceAlignFraction)))
		y := legibleY + (gridY-legibleY)*blend
		if i == n-1 {
			y = fc.mapper.PriceToScreenY(s.Price)
		}
		pts = append(pts, Point{X: x, Y: y})
	}
	r.StrokePath(pts, Style{Color: colorTrace, Width: 1.5})
}

// drawAxisLabels renders the price axis, the time axis, and the
// floating current-price badge.
func drawAxisLabels(r Renderer, fc frameContext) {
	geo := fc.geo
	right := geo.BoundaryX + geo.GridWidth

	firstRow := int(math.Floor(fc.mapper.Offset / geo.CellHeight))
	for i := 0; i <= geo.VisibleRows; i++ {
		row := firstRow + i
		if row < 0 || row > geo.RowCount {
			continue
		}
		y := fc.mapper.RowScreenY(row)
		if y < 0 || y > geo.GridHeight {
			continue
		}
		price := fc.mapper.PriceHigh - float64(row)*fc.cfg.RowHeight
		r.DrawText(right+6, y, formatPrice(price), Style{Color: colorLabel, Size: 10, Align: "left"})
	}

	for col := 0; col <= geo.VisibleCols; col++ {
		x := fc.mapper.ColX(col, fc.now)
		if x < geo.BoundaryX || x > right {
			continue
		}
		start, _ := fc.mapper.ColTimeWindow(col, fc.now)
		secs := int(math.Round(start.Sub(fc.now).Seconds()))
		r.DrawText(x, geo.GridHeight+14, fmt.Sprintf("%+ds", secs),
			Style{Color: colorLabel, Size: 10, Align: "center"})
	}

	// Floating current-price badge at the grid scale.
	by := fc.mapper.PriceToScreenY(fc.price)
	r.FillRect(right, by-9, 58, 18, Style{Color: colorBadge})
	r.DrawText(right+4, by, formatPrice(fc.price), Style{Color: colorBadgeText, Size: 10, Align: "left"})
}

// drawTiles renders trade tiles on top, colored and labeled by status.
func drawTiles(r Renderer, fc frameContext) {
	for i := range fc.positions {
		p := &fc.positions[i]
		col := visualCol(p, fc)
		x := fc.mapper.ColX(col, fc.now)
		y := fc.mapper.RowScreenY(p.RowIndex)

		style := Style{Alpha: 0.9}
		label := fmt.Sprintf("%.2fx %s", p.Multiplier, p.Amount.StringFixed(0))
		switch p.Status {
		case model.StatusPending:
			style.Color = colorPending
			style.Alpha = 0.6
		case model.StatusActive:
			style.Color = colorActive
		case model.StatusWon:
			style.Color = colorWon
			label = "+" + p.Payout.StringFixed(2)
			style.Alpha = fadeAlpha(p, fc.now, 3000*time.Millisecond)
		case model.StatusLost:
			style.Color = colorLost
			label = p.ResultPnL.StringFixed(2)
			style.Alpha = fadeAlpha(p, fc.now, 2000*time.Millisecond)
		}

		r.FillRect(x+1, y+1, fc.geo.CellWidth-2, fc.geo.CellHeight-2, style)
		r.DrawText(x+fc.geo.CellWidth/2, y+fc.geo.CellHeight/2, label,
			Style{Color: colorBackground, Alpha: style.Alpha, Size: 11, Align: "center"})
	}
}

// visualCol maps a position's absolute time window back onto the
// scrolling column axis.
func visualCol(p *model.Position, fc frameContext) int {
	interval := fc.cfg.Interval()
	if interval <= 0 {
		return p.ColIndex
	}
	colsFromEpoch := int64(p.TimeStart.Sub(fc.mapper.Epoch) / interval)
	return int(colsFromEpoch - fc.mapper.WholeColumns(fc.now))
}

// fadeAlpha decays a resolved tile toward transparent across its fade
// window.
func fadeAlpha(p *model.Position, now time.Time, window time.Duration) float64 {
	if p.ResolvedAt == nil {
		return 0.9
	}
	t := float64(now.Sub(*p.ResolvedAt)) / float64(window)
	return 0.9 * (1 - clamp01(t))
}

func formatPrice(p float64) string {
	if math.Abs(p) >= 1000 {
		return fmt.Sprintf("%.0f", p)
	}
	return fmt.Sprintf("%.2f", p)
}

func smoothstep(t float64) float64 {
	return t * t * (3 - 2*t)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
