package model

// PaddingCols is the number of duplicate trailing columns appended to
// each matrix row so the leading edge renders without a gap while the
// grid scrolls.
const PaddingCols = 2

// MultiplierMatrix is the row-major payout surface for one grid. Each
// cell's multiplier is server-computed; the engine only displays it.
type MultiplierMatrix struct {
	Rows [][]float64
	Cols int // logical column count, excluding padding
}

// NewMultiplierMatrix wraps raw server rows, duplicating the last two
// columns of each row for render continuity.
func NewMultiplierMatrix(rows [][]float64) MultiplierMatrix {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	padded := make([][]float64, len(rows))
	for i, row := range rows {
		p := make([]float64, 0, len(row)+PaddingCols)
		p = append(p, row...)
		for j := 0; j < PaddingCols && len(row) > 0; j++ {
			p = append(p, row[len(row)-1])
		}
		padded[i] = p
	}
	return MultiplierMatrix{Rows: padded, Cols: cols}
}

// At returns the multiplier for a cell, or 0 when out of range. Columns
// may index into the padding region.
func (m MultiplierMatrix) At(row, col int) float64 {
	if row < 0 || row >= len(m.Rows) {
		return 0
	}
	r := m.Rows[row]
	if col < 0 || col >= len(r) {
		return 0
	}
	return r[col]
}

// Empty reports whether the matrix holds no cells.
func (m MultiplierMatrix) Empty() bool { return len(m.Rows) == 0 }
