// Package position implements the reconciliation state machine that
// merges optimistic local trades with the two independent asynchronous
// confirmation channels (place-trade responses and streamed events).
//
// The merge is an idempotent keyed reducer: dedup first by id, then by
// (row, col, non-terminal status); terminal statuses always take
// precedence over non-terminal ones for the same id, so a locally
// optimistic value can never overwrite a later-arriving authoritative
// outcome.
//
// A Reconciler is not safe for concurrent use; the owning engine
// serializes access behind its own lock.
package position

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/InfamousVague/wraith-grid/internal/model"
)

const (
	// SweepInterval is the cadence of the background timeout/eviction
	// sweep.
	SweepInterval = time.Second

	// WonFadeDelay and LostFadeDelay are how long a resolved position
	// stays visible before eviction.
	WonFadeDelay  = 3000 * time.Millisecond
	LostFadeDelay = 2000 * time.Millisecond
)

// pendingPrefix marks locally-generated ids awaiting confirmation.
const pendingPrefix = "pending-"

// ErrCellOccupied is returned when a cell already holds a non-terminal
// position for the same portfolio.
var ErrCellOccupied = errors.New("position: cell already holds an open trade")

// Reconciler holds the merged set of positions for one grid.
type Reconciler struct {
	entries []*model.Position
	byID    map[string]*model.Position
}

// NewReconciler creates an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{byID: make(map[string]*model.Position)}
}

// Seed installs server-known open positions from the initial state
// fetch, replacing anything held locally.
func (r *Reconciler) Seed(positions []model.Position) {
	r.Reset()
	for i := range positions {
		p := positions[i]
		if p.Status == "" {
			p.Status = model.StatusActive
		}
		r.insert(&p)
	}
}

// Reset drops all entries, for symbol switches.
func (r *Reconciler) Reset() {
	r.entries = nil
	r.byID = make(map[string]*model.Position)
}

// CreateOptimistic appends a pending entry for an accepted tap. The
// multiplier is the last-known display value for that cell; the server
// replaces it on confirmation. Fails if the cell already holds a
// non-terminal position for the portfolio.
func (r *Reconciler) CreateOptimistic(req model.PlaceTradeRequest, now time.Time) (*model.Position, error) {
	if r.openAt(req.RowIndex, req.ColIndex, req.PortfolioID) != nil {
		return nil, ErrCellOccupied
	}
	p := &model.Position{
		ID:          pendingPrefix + uuid.New().String(),
		PortfolioID: req.PortfolioID,
		Symbol:      req.Symbol,
		RowIndex:    req.RowIndex,
		ColIndex:    req.ColIndex,
		Amount:      req.Amount,
		Leverage:    req.Leverage,
		Multiplier:  req.Multiplier,
		PriceLow:    req.PriceLow,
		PriceHigh:   req.PriceHigh,
		TimeStart:   req.TimeStart,
		TimeEnd:     req.TimeEnd,
		Status:      model.StatusPending,
		CreatedAt:   now,
	}
	r.insert(p)
	return p, nil
}

// Remove drops an entry by id, used when a placement request fails.
func (r *Reconciler) Remove(id string) {
	e, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	for i := range r.entries {
		if r.entries[i] == e {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
}

// Confirm merges an authoritative position from either confirmation
// channel. localID is the optimistic id a place-trade response should
// match; streamed confirmations pass "".
//
// Match order: the server id first (a streamed confirmation may already
// have replaced the local id), then localID, then any non-terminal
// entry at the same (row, col) for the portfolio. Only when all three
// miss is a new active entry appended.
func (r *Reconciler) Confirm(auth model.Position, localID string) {
	auth.Status = model.StatusActive

	if e, ok := r.byID[auth.ID]; ok {
		if e.Terminal() {
			return // outcome already known; active never demotes terminal
		}
		r.overwrite(e, auth)
		return
	}
	if localID != "" {
		if e, ok := r.byID[localID]; ok {
			if e.Terminal() {
				return
			}
			r.rekey(e, auth)
			return
		}
	}
	if e := r.openAt(auth.RowIndex, auth.ColIndex, auth.PortfolioID); e != nil {
		// The independent streamed confirmation raced ahead of the
		// response under a different local id; fold into it instead of
		// duplicating the cell.
		r.rekey(e, auth)
		return
	}
	p := auth
	r.insert(&p)
}

// Resolve applies a streamed outcome by id. Unknown ids and already
// terminal entries are no-ops, never errors.
func (r *Reconciler) Resolve(id string, won bool, payout, pnl decimal.Decimal, at time.Time) {
	e, ok := r.byID[id]
	if !ok {
		slog.Debug("resolution for unknown position ignored", "id", id)
		return
	}
	if e.Terminal() {
		return
	}
	if won {
		e.Status = model.StatusWon
	} else {
		e.Status = model.StatusLost
	}
	e.Payout = payout
	e.ResultPnL = pnl
	resolved := at
	e.ResolvedAt = &resolved
}

// ApplyExpiry applies a column-expired batch: per-id resolution for
// every matching entry; unknown ids are ignored.
func (r *Reconciler) ApplyExpiry(results []model.ExpiryResult, at time.Time) {
	for _, res := range results {
		r.Resolve(res.PositionID, res.Won, res.Payout, res.PnL, at)
	}
}

// Sweep forces timed-out entries to lost and evicts faded terminal
// entries. Called at the fixed SweepInterval cadence; the timeout path
// is a fallback only, for positions whose resolution event never
// arrived. Returns the ids forced lost.
func (r *Reconciler) Sweep(now time.Time) []string {
	var timedOut []string
	kept := r.entries[:0]
	for _, e := range r.entries {
		switch e.Status {
		case model.StatusPending, model.StatusActive:
			if e.Expired(now) {
				e.Status = model.StatusLost
				e.ResultPnL = e.Amount.Neg()
				resolved := now
				e.ResolvedAt = &resolved
				timedOut = append(timedOut, e.ID)
			}
			kept = append(kept, e)
		case model.StatusWon:
			if e.ResolvedAt != nil && now.Sub(*e.ResolvedAt) > WonFadeDelay {
				delete(r.byID, e.ID)
				continue
			}
			kept = append(kept, e)
		case model.StatusLost:
			if e.ResolvedAt != nil && now.Sub(*e.ResolvedAt) > LostFadeDelay {
				delete(r.byID, e.ID)
				continue
			}
			kept = append(kept, e)
		default:
			kept = append(kept, e)
		}
	}
	r.entries = kept
	return timedOut
}

// Occupied reports whether a cell holds a non-terminal position for the
// portfolio.
func (r *Reconciler) Occupied(row, col int, portfolioID string) bool {
	return r.openAt(row, col, portfolioID) != nil
}

// OpenCount returns the number of non-terminal entries for the
// portfolio, for the max-active-trades check.
func (r *Reconciler) OpenCount(portfolioID string) int {
	n := 0
	for _, e := range r.entries {
		if e.PortfolioID == portfolioID && !e.Terminal() {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of all entries in insertion order, for the
// render loop.
func (r *Reconciler) Snapshot() []model.Position {
	out := make([]model.Position, len(r.entries))
	for i, e := range r.entries {
		out[i] = *e
	}
	return out
}

// Get returns a copy of the entry with the given id.
func (r *Reconciler) Get(id string) (model.Position, bool) {
	e, ok := r.byID[id]
	if !ok {
		return model.Position{}, false
	}
	return *e, true
}

func (r *Reconciler) insert(p *model.Position) {
	r.entries = append(r.entries, p)
	r.byID[p.ID] = p
}

func (r *Reconciler) openAt(row, col int, portfolioID string) *model.Position {
	for _, e := range r.entries {
		if e.RowIndex == row && e.ColIndex == col &&
			e.PortfolioID == portfolioID && !e.Terminal() {
			return e
		}
	}
	return nil
}

// overwrite replaces an entry's fields with authoritative ones in place,
// keeping its identity in the entries slice.
func (r *Reconciler) overwrite(e *model.Position, auth model.Position) {
	*e = auth
	r.byID[e.ID] = e
}

// rekey overwrites an entry whose id changes (local -> server id).
func (r *Reconciler) rekey(e *model.Position, auth model.Position) {
	delete(r.byID, e.ID)
	*e = auth
	r.byID[e.ID] = e
}
