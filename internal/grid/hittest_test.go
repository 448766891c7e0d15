package grid

import (
	"errors"
	"testing"
	"time"
)

func TestHitTest_BubbleZoneLocked(t *testing.T) {
	epoch := time.Now()
	m := testMapper(t, epoch, epoch, 0)

	for col := 0; col < BubbleZoneCols; col++ {
		if _, err := HitTest(col, m, 2*time.Second, epoch); !errors.Is(err, ErrColumnLocked) {
			t.Errorf("col %d: expected ErrColumnLocked, got %v", col, err)
		}
	}
}

func TestHitTest_MinTimeBuffer(t *testing.T) {
	epoch := time.Now()
	m := testMapper(t, epoch, epoch, 0)

	// Column 3 ends 40s after each 10s scroll step; with a buffer larger
	// than the remaining time the tap must be rejected.
	now := epoch.Add(500 * time.Millisecond)
	_, err := HitTest(3, m, 100*time.Hour, now)
	if !errors.Is(err, ErrColumnClosing) {
		t.Errorf("expected ErrColumnClosing, got %v", err)
	}
}

func TestHitTest_ScenarioWindow(t *testing.T) {
	// 8x6 grid, 10s interval. 1.5s into the session (8.5s left in the
	// current column), tapping col 4 must yield a 10000ms window aligned
	// to interval boundaries from the epoch.
	epoch := time.Now()
	m := testMapper(t, epoch, epoch, 0)
	now := epoch.Add(1500 * time.Millisecond)

	win, err := HitTest(4, m, 2*time.Second, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := win.TimeEnd.Sub(win.TimeStart); got != 10000*time.Millisecond {
		t.Errorf("expected 10000ms window, got %v", got)
	}
	if want := epoch.Add(40 * time.Second); !win.TimeStart.Equal(want) {
		t.Errorf("expected start at epoch+40s, got %v", win.TimeStart.Sub(epoch))
	}
	// Alignment: offset from epoch is a whole number of intervals.
	if win.TimeStart.Sub(epoch)%(10000*time.Millisecond) != 0 {
		t.Error("time_start not aligned to interval boundary")
	}
}

func TestHitTest_AdvancesWithScroll(t *testing.T) {
	epoch := time.Now()
	m := testMapper(t, epoch, epoch, 0)

	// After 2 whole columns have scrolled past, visual col 4 is two
	// intervals later in absolute time.
	now := epoch.Add(21 * time.Second)
	win, err := HitTest(4, m, 2*time.Second, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := epoch.Add(60 * time.Second); !win.TimeStart.Equal(want) {
		t.Errorf("expected start at epoch+60s, got epoch+%v", win.TimeStart.Sub(epoch))
	}
}
