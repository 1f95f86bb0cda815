// Package undo keeps a short-lived ledger of reversible mutations and
// dispatches their inverses against the session store.
package undo

import (
	"context"
	"sync"
	"time"

	"github.com/Kxd395/DoseTap-sub000/internal/clock"
)

type Kind int

const (
	KindDose1 Kind = iota
	KindDose2
	KindSkip
	KindSnooze
)

func (k Kind) String() string {
	switch k {
	case KindDose1:
		return "dose1"
	case KindDose2:
		return "dose2"
	case KindSkip:
		return "skip"
	case KindSnooze:
		return "snooze"
	default:
		return "unknown"
	}
}

// Inverter is the set of inverse operations the ledger may dispatch. The
// session store implements it.
type Inverter interface {
	ClearDose1(ctx context.Context) error
	ClearDose2(ctx context.Context) error
	ClearSkip(ctx context.Context) error
	DecrementSnooze(ctx context.Context) error
}

// Action is one registered reversible mutation with the minimal payload
// needed to describe it, plus its wall-clock expiry.
type Action struct {
	Kind      Kind      `json:"kind"`
	TakenAt   time.Time `json:"taken_at,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Ledger holds at most one pending undoable action. Undo is safe to call at
// most once per registration; a second call is a no-op.
//
// Undoing a snooze decrements the counter but does not try to un-reschedule
// the platform alarms retroactively. That staleness is accepted: the next
// reschedule replaces the family wholesale anyway.
type Ledger struct {
	mu      sync.Mutex
	inv     Inverter
	clk     clock.Clock
	window  time.Duration
	pending *Action
}

func NewLedger(inv Inverter, clk clock.Clock, window time.Duration) *Ledger {
	return &Ledger{inv: inv, clk: clk, window: window}
}

// Register replaces any prior pending action with this one and stamps its
// expiry. The prior action is committed implicitly: its mutation stands.
func (l *Ledger) Register(kind Kind, takenAt time.Time, reason string) Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := Action{Kind: kind, TakenAt: takenAt, Reason: reason, ExpiresAt: l.clk.Now().Add(l.window)}
	l.pending = &a
	return a
}

// Pending returns the live undoable action, if any. Expiry is applied lazily.
func (l *Ledger) Pending() (Action, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil || !l.clk.Now().Before(l.pending.ExpiresAt) {
		l.pending = nil
		return Action{}, false
	}
	return *l.pending, true
}

// Commit drops the pending action; the mutation already happened, so this is
// otherwise a no-op.
func (l *Ledger) Commit() {
	l.mu.Lock()
	l.pending = nil
	l.mu.Unlock()
}

// Undo dispatches the inverse of the pending action. It reports whether an
// undo was performed; expired or already-undone registrations return
// (false, nil).
func (l *Ledger) Undo(ctx context.Context) (bool, error) {
	l.mu.Lock()
	a := l.pending
	if a == nil || !l.clk.Now().Before(a.ExpiresAt) {
		l.pending = nil
		l.mu.Unlock()
		return false, nil
	}
	// Clear before dispatch so a second call is a no-op even if the
	// inverse fails partway.
	l.pending = nil
	l.mu.Unlock()

	var err error
	switch a.Kind {
	case KindDose1:
		err = l.inv.ClearDose1(ctx)
	case KindDose2:
		err = l.inv.ClearDose2(ctx)
	case KindSkip:
		err = l.inv.ClearSkip(ctx)
	case KindSnooze:
		err = l.inv.DecrementSnooze(ctx)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
