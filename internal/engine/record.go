package engine

import "sync"

// DrawOp is one recorded draw call.
type DrawOp struct {
	Op     string // "begin" | "rect" | "line" | "path" | "circle" | "text" | "end"
	X, Y   float64
	W, H   float64
	Points []Point
	Text   string
	Style  Style
}

// RecordingRenderer captures draw calls instead of rasterizing them.
// It backs the engine tests and the headless watcher.
type RecordingRenderer struct {
	mu     sync.Mutex
	frames int
	last   []DrawOp
	cur    []DrawOp
}

// NewRecordingRenderer returns an empty recorder.
func NewRecordingRenderer() *RecordingRenderer {
	return &RecordingRenderer{}
}

func (r *RecordingRenderer) BeginFrame(w, h float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur = r.cur[:0]
	r.cur = append(r.cur, DrawOp{Op: "begin", W: w, H: h})
}

func (r *RecordingRenderer) FillRect(x, y, w, h float64, style Style) {
	r.record(DrawOp{Op: "rect", X: x, Y: y, W: w, H: h, Style: style})
}

func (r *RecordingRenderer) StrokeLine(x1, y1, x2, y2 float64, style Style) {
	r.record(DrawOp{Op: "line", X: x1, Y: y1, W: x2, H: y2, Style: style})
}

func (r *RecordingRenderer) StrokePath(points []Point, style Style) {
	pts := append([]Point(nil), points...)
	r.record(DrawOp{Op: "path", Points: pts, Style: style})
}

func (r *RecordingRenderer) FillCircle(x, y, radius float64, style Style) {
	r.record(DrawOp{Op: "circle", X: x, Y: y, W: radius, Style: style})
}

func (r *RecordingRenderer) DrawText(x, y float64, text string, style Style) {
	r.record(DrawOp{Op: "text", X: x, Y: y, Text: text, Style: style})
}

func (r *RecordingRenderer) EndFrame() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur = append(r.cur, DrawOp{Op: "end"})
	r.last = append(r.last[:0], r.cur...)
	r.frames++
}

func (r *RecordingRenderer) record(op DrawOp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cur = append(r.cur, op)
}

// Frames returns the number of completed frames.
func (r *RecordingRenderer) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// LastFrame returns a copy of the most recently completed frame.
func (r *RecordingRenderer) LastFrame() []DrawOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DrawOp(nil), r.last...)
}

// ContainsText reports whether the last frame drew the given string.
func (r *RecordingRenderer) ContainsText(text string) bool {
	for _, op := range r.LastFrame() {
		if op.Op == "text" && op.Text == text {
			return true
		}
	}
	return false
}
