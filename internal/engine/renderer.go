package engine

// Point is a screen-space coordinate.
type Point struct {
	X float64
	Y float64
}

// Style carries the drawing attributes a draw call needs. Zero values
// mean "renderer default".
type Style struct {
	Color string  // CSS color string
	Alpha float64 // 0 (treated as 1) .. 1
	Width float64 // stroke width, px
	Size  float64 // font size, px
	Align string  // "left" | "center" | "right"
}

// Renderer receives the engine's per-frame draw calls, back to front.
// Implementations range from a real canvas binding to the recording
// renderer used in tests and the headless runner.
type Renderer interface {
	// BeginFrame opens a frame at the given canvas size. Every frame
	// redraws fully; the grid scrolls continuously.
	BeginFrame(width, height float64)

	FillRect(x, y, w, h float64, style Style)
	StrokeLine(x1, y1, x2, y2 float64, style Style)
	StrokePath(points []Point, style Style)
	FillCircle(x, y, r float64, style Style)
	DrawText(x, y float64, text string, style Style)

	EndFrame()
}
