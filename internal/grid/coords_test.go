package grid

import (
	"math"
	"testing"
	"time"

	"github.com/InfamousVague/wraith-grid/internal/model"
)

func testMapper(t *testing.T, epoch, now time.Time, offset float64) Mapper {
	t.Helper()
	cfg := testConfig()
	geo, ok := Compute(800, 600, 1, cfg, 1, false)
	if !ok {
		t.Fatal("geometry not ready")
	}
	return Mapper{
		Geo:        geo,
		RowHeight:  cfg.RowHeight,
		PriceHigh:  cfg.PriceHigh,
		Offset:     offset,
		Epoch:      epoch,
		IntervalMS: cfg.IntervalMS,
	}
}

func TestMapper_PriceToScreenY(t *testing.T) {
	epoch := time.Now()
	m := testMapper(t, epoch, epoch, 0)

	// PriceHigh maps to world Y 0.
	if y := m.PriceToScreenY(100); y != 0 {
		t.Errorf("expected y=0 for price_high, got %f", y)
	}
	// One row down per RowHeight of price.
	if y := m.PriceToScreenY(100 - 1.25); math.Abs(y-m.Geo.CellHeight) > 1e-9 {
		t.Errorf("expected y=cellHeight, got %f", y)
	}
}

func TestMapper_ScrollIsContinuous(t *testing.T) {
	epoch := time.Now()
	m := testMapper(t, epoch, epoch, 0)

	// Mid-interval the columns have shifted left by the elapsed fraction.
	now := epoch.Add(2500 * time.Millisecond) // 25% of a 10s column
	wantShift := 0.25 * m.Geo.CellWidth
	x0 := m.ColX(0, epoch)
	x1 := m.ColX(0, now)
	if math.Abs((x0-x1)-wantShift) > 1e-9 {
		t.Errorf("expected shift %f, got %f", wantShift, x0-x1)
	}
}

func TestMapper_ScreenToCellRoundTrip(t *testing.T) {
	epoch := time.Now()
	configs := []model.GridConfig{
		{Symbol: "BTC-USD", RowCount: 8, ColCount: 6, IntervalMS: 10000, PriceHigh: 100, PriceLow: 90, RowHeight: 1.25},
		{Symbol: "ETH-USD", RowCount: 20, ColCount: 10, IntervalMS: 5000, PriceHigh: 2100, PriceLow: 2000, RowHeight: 5},
		{Symbol: "SOL-USD", RowCount: 12, ColCount: 8, IntervalMS: 2000, PriceHigh: 160, PriceLow: 150, RowHeight: 0.83333},
	}
	offsets := []float64{0, 37.5, -12.25}
	nows := []time.Time{epoch, epoch.Add(1500 * time.Millisecond), epoch.Add(7300 * time.Millisecond)}

	for _, cfg := range configs {
		cfg.ApplyDefaults()
		geo, ok := Compute(1024, 768, 1, cfg, 1, false)
		if !ok {
			t.Fatal("geometry not ready")
		}
		for _, offset := range offsets {
			for _, now := range nows {
				m := Mapper{
					Geo:        geo,
					RowHeight:  cfg.RowHeight,
					PriceHigh:  cfg.PriceHigh,
					Offset:     offset,
					Epoch:      epoch,
					IntervalMS: cfg.IntervalMS,
				}
				for r := 0; r < cfg.RowCount; r++ {
					for c := 0; c < cfg.ColCount; c++ {
						x := m.ColX(c, now)
						y := float64(r)*geo.CellHeight - offset
						// Sample just inside the cell's top-left corner.
						gr, gc, ok := m.ScreenToCell(x+1e-6, y+1e-6, now)
						if !ok {
							// Cells scrolled off screen are legitimately unresolvable.
							if x >= geo.BoundaryX && x < geo.BoundaryX+geo.GridWidth &&
								y >= 0 && y < geo.GridHeight {
								t.Fatalf("%s: cell (%d,%d) on screen but not resolved", cfg.Symbol, r, c)
							}
							continue
						}
						if gr != r || gc != c {
							t.Fatalf("%s: round trip (%d,%d) -> (%d,%d)", cfg.Symbol, r, c, gr, gc)
						}
					}
				}
			}
		}
	}
}

func TestMapper_ScreenToCellOutsideGrid(t *testing.T) {
	epoch := time.Now()
	m := testMapper(t, epoch, epoch, 0)

	cases := []struct{ x, y float64 }{
		{m.Geo.BoundaryX - 10, 100},             // in trace zone
		{m.Geo.BoundaryX + m.Geo.GridWidth, 10}, // past right edge
		{m.Geo.BoundaryX + 10, -5},              // above grid
		{m.Geo.BoundaryX + 10, m.Geo.GridHeight + 1},
	}
	for _, c := range cases {
		if _, _, ok := m.ScreenToCell(c.x, c.y, epoch); ok {
			t.Errorf("point (%f,%f) should not resolve to a cell", c.x, c.y)
		}
	}
}

func TestMapper_RowPriceBoundsScenario(t *testing.T) {
	// GridConfig{row_count=8, price_high=100, price_low=90, row_height=1.25}:
	// row 4 covers 93.75..95.
	cfg := testConfig()
	low, high := cfg.RowPriceBounds(4)
	if low != 93.75 || high != 95 {
		t.Errorf("expected row 4 bounds 93.75/95, got %f/%f", low, high)
	}
}
