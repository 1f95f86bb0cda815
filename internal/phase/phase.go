// Package phase derives the dosing-window state for a session from its
// recorded facts and the current instant. Derivation is pure: no hidden
// memory, so repeated calls with the same inputs always agree.
package phase

import (
	"time"

	"github.com/Kxd395/DoseTap-sub000/internal"
)

type Phase int

const (
	NoDose1 Phase = iota
	BeforeWindow
	Active
	NearClose
	Closed
	Completed
	Finalizing
)

func (p Phase) String() string {
	switch p {
	case NoDose1:
		return "no_dose1"
	case BeforeWindow:
		return "before_window"
	case Active:
		return "active"
	case NearClose:
		return "near_close"
	case Closed:
		return "closed"
	case Completed:
		return "completed"
	case Finalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Gate reports whether an operation is currently allowed and, when it is
// not, why.
type Gate struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason,omitempty"`
}

func open() Gate              { return Gate{Enabled: true} }
func shut(reason string) Gate { return Gate{Reason: reason} }

type Options struct {
	WindowOpenOffset  time.Duration
	WindowCloseOffset time.Duration
	NearCloseLead     time.Duration
	SnoozeStep        time.Duration
	MaxSnoozes        int
}

func DefaultOptions() Options {
	return Options{
		WindowOpenOffset:  150 * time.Minute,
		WindowCloseOffset: 240 * time.Minute,
		NearCloseLead:     15 * time.Minute,
		SnoozeStep:        10 * time.Minute,
		MaxSnoozes:        3,
	}
}

type Derivation struct {
	Phase       Phase     `json:"phase"`
	WindowOpen  time.Time `json:"window_open"`
	WindowClose time.Time `json:"window_close"`
	SnoozeGate  Gate      `json:"snooze_gate"`
	SkipGate    Gate      `json:"skip_gate"`
}

// Derive maps session facts plus "now" to the current phase and the snooze
// and skip gates. Absent new facts, advancing now only moves the phase
// forward through no_dose1 → before_window → active → near_close → closed.
func Derive(f *internal.SessionFacts, now time.Time, opts Options) Derivation {
	if f == nil || f.Dose1At == nil {
		return Derivation{
			Phase:      NoDose1,
			SnoozeGate: shut("no first dose recorded"),
			SkipGate:   shut("no first dose recorded"),
		}
	}

	d := Derivation{
		WindowOpen:  f.Dose1At.Add(opts.WindowOpenOffset),
		WindowClose: f.Dose1At.Add(opts.WindowCloseOffset),
	}
	nearCloseAt := d.WindowClose.Add(-opts.NearCloseLead)

	switch {
	case f.WakeFinalAt != nil && !f.CheckInCompleted:
		d.Phase = Finalizing
	case f.Dose2Resolved():
		d.Phase = Completed
	case now.Before(d.WindowOpen):
		d.Phase = BeforeWindow
	case now.Before(nearCloseAt):
		d.Phase = Active
	case now.Before(d.WindowClose):
		d.Phase = NearClose
	default:
		d.Phase = Closed
	}

	d.SnoozeGate = snoozeGate(f, d.Phase, now, nearCloseAt, opts)
	d.SkipGate = skipGate(d.Phase)
	return d
}

func snoozeGate(f *internal.SessionFacts, p Phase, now, nearCloseAt time.Time, opts Options) Gate {
	switch p {
	case Active, NearClose:
	case BeforeWindow:
		return shut("window not open yet")
	case Closed:
		return shut("window closed")
	default:
		return shut("dose 2 already resolved")
	}
	if f.SnoozeCount >= opts.MaxSnoozes {
		return shut("snooze limit reached")
	}
	// A snooze must never push the user into the final stretch of the window.
	if !now.Add(opts.SnoozeStep).Before(nearCloseAt) {
		return shut("would exceed near-close threshold")
	}
	return open()
}

func skipGate(p Phase) Gate {
	switch p {
	case Active, NearClose, Closed:
		return open()
	case NoDose1:
		return shut("no first dose recorded")
	case BeforeWindow:
		return shut("window not open yet")
	default:
		return shut("dose 2 already resolved")
	}
}
