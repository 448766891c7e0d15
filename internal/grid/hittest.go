package grid

import (
	"errors"
	"time"
)

var (
	// ErrColumnLocked is returned for taps inside the bubble zone —
	// columns structurally too close to resolution for a meaningful bet.
	ErrColumnLocked = errors.New("grid: column is locked near live price")

	// ErrColumnClosing is returned when the remaining time in the
	// column is below the configured minimum buffer.
	ErrColumnClosing = errors.New("grid: column closes too soon to place a trade")
)

// TapWindow is the absolute time window a validated tap resolves to.
type TapWindow struct {
	TimeStart time.Time
	TimeEnd   time.Time
}

// HitTest applies the lockout rules to an already cell-resolved tap and
// computes its absolute time window. The server independently
// re-validates; rejecting obviously dead cells here just saves the
// round trip.
func HitTest(col int, m Mapper, minTimeBuffer time.Duration, now time.Time) (TapWindow, error) {
	if col < BubbleZoneCols {
		return TapWindow{}, ErrColumnLocked
	}

	start, end := m.ColTimeWindow(col, now)
	if end.Sub(now) < minTimeBuffer {
		return TapWindow{}, ErrColumnClosing
	}

	return TapWindow{TimeStart: start, TimeEnd: end}, nil
}
