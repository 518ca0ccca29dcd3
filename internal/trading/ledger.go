// Package trading implements the position lifecycle: the ledger of open
// positions, order execution with fill confirmation, reconciliation
// against remote holdings, and the control loop that drives them.
package trading

import (
	"sort"
	"sync"

	apperrors "kis-trader/internal/errors"
	"kis-trader/internal/models"
)

// Ledger is the in-memory record of open positions, keyed by stock code.
// It only ever holds confirmed or closing positions: a submitted order
// that has not been confirmed against remote holdings is tracked by the
// executor, not the ledger.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*models.Position
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{positions: make(map[string]*models.Position)}
}

// Put inserts or replaces the position for its code.
func (l *Ledger) Put(pos models.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := pos
	l.positions[pos.Code] = &p
}

// Get returns a copy of the position for the code.
func (l *Ledger) Get(code string) (models.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[code]
	if !ok {
		return models.Position{}, false
	}
	return *p, true
}

// Remove deletes the position for the code.
func (l *Ledger) Remove(code string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.positions, code)
}

// All returns copies of all positions, ordered by code for stable output.
func (l *Ledger) All() []models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Count returns the number of open positions.
func (l *Ledger) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// Has reports whether a position exists for the code.
func (l *Ledger) Has(code string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.positions[code]
	return ok
}

// InvestedIn returns the entry cost of the position for the code, zero
// if none is held.
func (l *Ledger) InvestedIn(code string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[code]
	if !ok {
		return 0
	}
	return p.Invested()
}

// UpdateHighest raises the position's high-water mark to price if it is
// higher. The mark never decreases.
func (l *Ledger) UpdateHighest(code string, price float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[code]
	if !ok {
		return
	}
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
}

// SetState transitions the position's lifecycle state.
func (l *Ledger) SetState(code string, state models.PositionState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[code]
	if !ok {
		return apperrors.Wrapf(apperrors.ErrPositionNotFound, "set state %s", code)
	}
	p.State = state
	return nil
}

// SetQuantity overwrites the position's quantity with the remote-reported
// value. Entry price is left alone: it reflects the original fill.
func (l *Ledger) SetQuantity(code string, qty int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[code]
	if !ok {
		return apperrors.Wrapf(apperrors.ErrPositionNotFound, "set quantity %s", code)
	}
	p.Quantity = qty
	return nil
}
