// Package session owns the canonical in-memory projection of tonight's
// facts and keeps it in lockstep with the persisted record. All mutations
// are serialized behind one mutex: a persistence failure aborts the whole
// operation and leaves the projection untouched.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Kxd395/DoseTap-sub000/internal"
	"github.com/Kxd395/DoseTap-sub000/internal/clock"
	"github.com/Kxd395/DoseTap-sub000/internal/notify"
	"github.com/Kxd395/DoseTap-sub000/internal/phase"
	"github.com/Kxd395/DoseTap-sub000/internal/storage"
)

var (
	ErrNoSession           = errors.New("session: no active session")
	ErrDose1AlreadyTaken   = errors.New("session: first dose already recorded")
	ErrDose2AlreadySkipped = errors.New("session: second dose already skipped")
	ErrNoDose1             = errors.New("session: no first dose recorded")
)

// ErrExtraDose marks a dose-2 attempt after dose 2 was already recorded. The
// attempt is kept as an audit entry and never overwrites the original.
var ErrExtraDose = errors.New("session: dose 2 already recorded, attempt logged as extra dose")

// GateError is an invalid-transition rejection: not fatal, simply a no-op
// reported back with a reason.
type GateError struct {
	Op     string
	Reason string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("session: %s rejected: %s", e.Op, e.Reason)
}

// Event is a change notification emitted after a mutation commits.
type Event struct {
	Kind       string
	SessionKey string
	Facts      internal.SessionFacts
}

const (
	EventDose1Recorded    = "dose1_recorded"
	EventDose2Recorded    = "dose2_recorded"
	EventExtraDose        = "extra_dose"
	EventDose2Skipped     = "dose2_skipped"
	EventSnoozed          = "snoozed"
	EventWakeFinal        = "wake_final"
	EventCheckInCompleted = "check_in_completed"
	EventPreSleepLogged   = "pre_sleep_logged"
	EventSessionCleared   = "session_cleared"
	EventSessionDeleted   = "session_deleted"
	EventSessionRolled    = "session_rolled_over"
	EventSessionExpired   = "session_expired"
	EventUndo             = "undo"
)

type Options struct {
	RolloverHour int
	Phase        phase.Options
	Grace        time.Duration
}

func DefaultOptions() Options {
	return Options{
		RolloverHour: 18,
		Phase:        phase.DefaultOptions(),
		Grace:        time.Minute,
	}
}

// Store is the mutation façade over one live session plus its archived
// history. Single-writer: every public operation takes the store mutex, so
// no two mutations can interleave and the projection can never disagree with
// the persisted record.
type Store struct {
	repo   storage.SessionRepository
	clk    clock.Clock
	coord  *notify.Coordinator
	logger internal.Logger
	opts   Options

	mu         sync.Mutex
	facts      internal.SessionFacts
	currentKey string
	observers  []func(Event)

	rolloverTimer *time.Timer
	closed        bool
}

// NewStore computes tonight's session key, loads any persisted facts for it
// and arms the rollover timer. When monitor is non-nil, time and timezone
// change signals are funneled through the same serialized entry point as
// user mutations.
func NewStore(repo storage.SessionRepository, clk clock.Clock, coord *notify.Coordinator,
	monitor *clock.Monitor, logger internal.Logger, opts Options) (*Store, error) {

	s := &Store{repo: repo, clk: clk, coord: coord, logger: logger, opts: opts}

	now := clk.Now()
	key := clock.SessionKey(now, clk.Location(), opts.RolloverHour)
	facts, err := repo.LoadSession(context.Background(), key)
	if err != nil {
		return nil, fmt.Errorf("session: loading %s: %w", key, err)
	}
	if facts == nil {
		facts = &internal.SessionFacts{SessionKey: key, CreatedAt: now}
	}
	s.facts = *facts
	s.currentKey = key

	s.mu.Lock()
	s.armRolloverLocked()
	s.mu.Unlock()

	if monitor != nil {
		monitor.Subscribe(func(sig clock.Signal) {
			if err := s.HandleTimeChange(context.Background()); err != nil {
				logger.Errorf("session: time-change re-evaluation failed: %v", err)
			}
		})
	}
	return s, nil
}

// Subscribe registers a change observer. Observers are invoked after the
// mutation has committed, outside the store mutex.
func (s *Store) Subscribe(fn func(Event)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// CurrentKey returns the live session key.
func (s *Store) CurrentKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentKey
}

// Facts returns a copy of the live projection.
func (s *Store) Facts() internal.SessionFacts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facts
}

// Derive runs the phase derivation against the live projection and the
// injected clock.
func (s *Store) Derive() phase.Derivation {
	s.mu.Lock()
	f := s.facts
	s.mu.Unlock()
	return phase.Derive(&f, s.clk.Now(), s.opts.Phase)
}

// WakeTarget is the current wake-alarm target: window open shifted by the
// snoozes taken so far. Derived, never stored, so it survives restarts.
func (s *Store) WakeTarget() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakeTargetLocked()
}

func (s *Store) wakeTargetLocked() (time.Time, bool) {
	if s.facts.Dose1At == nil {
		return time.Time{}, false
	}
	t := s.facts.Dose1At.Add(s.opts.Phase.WindowOpenOffset).
		Add(time.Duration(s.facts.SnoozeCount) * s.opts.Phase.SnoozeStep)
	return t, true
}

// Close stops the rollover timer.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	if s.rolloverTimer != nil {
		s.rolloverTimer.Stop()
	}
	s.mu.Unlock()
}

// RecordDose1 opens tonight's session. The session key is recomputed from
// the dose's own timestamp; any pre-sleep artifact already persisted under
// that key is preserved.
func (s *Store) RecordDose1(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	key := clock.SessionKey(at, s.clk.Location(), s.opts.RolloverHour)

	cp := s.facts
	if key != s.currentKey {
		loaded, err := s.repo.LoadSession(ctx, key)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		if loaded != nil {
			cp = *loaded
		} else {
			cp = internal.SessionFacts{SessionKey: key, CreatedAt: s.clk.Now()}
		}
	}
	if cp.Dose1At != nil {
		s.mu.Unlock()
		return ErrDose1AlreadyTaken
	}

	offset := clock.OffsetMinutes(at, s.clk.Location())
	cp.SessionKey = key
	cp.Dose1At = &at
	cp.Dose1TZOffsetMinutes = &offset
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.clk.Now()
	}

	s.coord.CancelDoseFamily(ctx)
	ev, err := s.commitLocked(ctx, key, cp, EventDose1Recorded)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	target, _ := s.wakeTargetLocked()
	s.mu.Unlock()

	s.coord.ScheduleDoseReminders(ctx, at)
	s.coord.ScheduleWakeAlarms(ctx, target, at)
	s.notifyObservers(ev)
	return nil
}

// RecordDose2 resolves the window. A second recording never overwrites the
// first: the attempt is appended to the extra-dose audit trail and
// ErrExtraDose is returned. A recording at or past window close is tracked
// with the late flag; isEarly marks an explicit early override.
func (s *Store) RecordDose2(ctx context.Context, at time.Time, isEarly bool) error {
	s.mu.Lock()
	cp := s.facts
	if cp.Dose1At == nil {
		s.mu.Unlock()
		return ErrNoDose1
	}
	if cp.Dose2At != nil {
		cp.ExtraDoses = append(cp.ExtraDoses, at)
		ev, err := s.commitLocked(ctx, s.currentKey, cp, EventExtraDose)
		s.mu.Unlock()
		if err != nil {
			return err
		}
		s.notifyObservers(ev)
		return ErrExtraDose
	}
	if cp.Dose2Skipped {
		s.mu.Unlock()
		return ErrDose2AlreadySkipped
	}

	windowClose := cp.Dose1At.Add(s.opts.Phase.WindowCloseOffset)
	windowOpen := cp.Dose1At.Add(s.opts.Phase.WindowOpenOffset)
	cp.Dose2At = &at
	cp.Dose2Late = !at.Before(windowClose)
	cp.Dose2Early = isEarly || at.Before(windowOpen)

	s.coord.CancelAll(ctx)
	ev, err := s.commitLocked(ctx, s.currentKey, cp, EventDose2Recorded)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notifyObservers(ev)
	return nil
}

// Snooze is the single gated snooze decision: guard check, cancel, persist,
// reschedule, in that order. When the hard-stop guard rejects, nothing
// changes — the counter and the platform set both stay as they were.
func (s *Store) Snooze(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	cp := s.facts
	d := phase.Derive(&cp, s.clk.Now(), s.opts.Phase)
	if !d.SnoozeGate.Enabled {
		s.mu.Unlock()
		return time.Time{}, &GateError{Op: "snooze", Reason: d.SnoozeGate.Reason}
	}

	target, ok := s.wakeTargetLocked()
	if !ok {
		s.mu.Unlock()
		return time.Time{}, ErrNoDose1
	}
	newTarget, err := s.coord.PlanSnooze(target, *cp.Dose1At)
	if err != nil {
		s.mu.Unlock()
		return time.Time{}, err
	}

	cp.SnoozeCount++
	s.coord.CancelWakeFamily(ctx)
	ev, err := s.commitLocked(ctx, s.currentKey, cp, EventSnoozed)
	if err != nil {
		s.mu.Unlock()
		return time.Time{}, err
	}
	dose1 := *cp.Dose1At
	s.mu.Unlock()

	s.coord.ScheduleWakeAlarms(ctx, newTarget, dose1)
	s.notifyObservers(ev)
	return newTarget, nil
}

// SkipDose2 marks the second dose as skipped for the given reason.
func (s *Store) SkipDose2(ctx context.Context, reason string) error {
	s.mu.Lock()
	cp := s.facts
	d := phase.Derive(&cp, s.clk.Now(), s.opts.Phase)
	if !d.SkipGate.Enabled {
		s.mu.Unlock()
		return &GateError{Op: "skip", Reason: d.SkipGate.Reason}
	}

	cp.Dose2Skipped = true
	cp.SkipReason = reason

	s.coord.CancelAll(ctx)
	ev, err := s.commitLocked(ctx, s.currentKey, cp, EventDose2Skipped)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notifyObservers(ev)
	return nil
}

// RecordWakeFinal marks the end of the session and moves it to finalizing.
func (s *Store) RecordWakeFinal(ctx context.Context, at time.Time) error {
	return s.mutate(ctx, EventWakeFinal, func(cp *internal.SessionFacts) error {
		if cp.Dose1At == nil {
			return ErrNoDose1
		}
		cp.WakeFinalAt = &at
		return nil
	})
}

// CompleteCheckIn records the morning check-in; the session becomes terminal
// and is archived at the next rollover.
func (s *Store) CompleteCheckIn(ctx context.Context) error {
	return s.mutate(ctx, EventCheckInCompleted, func(cp *internal.SessionFacts) error {
		if cp.WakeFinalAt == nil {
			return &GateError{Op: "check-in", Reason: "session not finalizing"}
		}
		cp.CheckInCompleted = true
		return nil
	})
}

// RecordPreSleep logs a pre-sleep artifact against the upcoming session key:
// the key this instant would map to if a dose were taken right now. When that
// key is not the live one, only the persisted record for it is touched.
func (s *Store) RecordPreSleep(ctx context.Context, notes string) error {
	s.mu.Lock()
	now := s.clk.Now()
	key := clock.SessionKey(now, s.clk.Location(), s.opts.RolloverHour)

	if key == s.currentKey {
		cp := s.facts
		cp.PreSleepAt = &now
		cp.PreSleepNotes = notes
		ev, err := s.commitLocked(ctx, key, cp, EventPreSleepLogged)
		s.mu.Unlock()
		if err != nil {
			return err
		}
		s.notifyObservers(ev)
		return nil
	}

	facts, err := s.repo.LoadSession(ctx, key)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if facts == nil {
		facts = &internal.SessionFacts{SessionKey: key, CreatedAt: now}
	}
	facts.PreSleepAt = &now
	facts.PreSleepNotes = notes
	facts.UpdatedAt = now
	err = s.repo.SaveSession(ctx, facts)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notifyObservers(Event{Kind: EventPreSleepLogged, SessionKey: key, Facts: *facts})
	return nil
}

// DeleteSession removes a session record. Deleting the live session also
// clears the projection and cancels the full notification universe, so a
// deleted session can never fire a stale reminder. Deleting a historical key
// leaves the live projection untouched.
func (s *Store) DeleteSession(ctx context.Context, key string) error {
	s.mu.Lock()
	if key != s.currentKey {
		err := s.repo.DeleteSession(ctx, key)
		s.mu.Unlock()
		if err != nil {
			return err
		}
		s.notifyObservers(Event{Kind: EventSessionDeleted, SessionKey: key})
		return nil
	}

	s.coord.CancelAll(ctx)
	if err := s.repo.DeleteSession(ctx, key); err != nil {
		s.mu.Unlock()
		return err
	}
	s.facts = internal.SessionFacts{SessionKey: key, CreatedAt: s.clk.Now()}
	ev := Event{Kind: EventSessionDeleted, SessionKey: key, Facts: s.facts}
	s.armRolloverLocked()
	s.mu.Unlock()
	s.notifyObservers(ev)
	return nil
}

// ClearTonight resets the live session to empty.
func (s *Store) ClearTonight(ctx context.Context) error {
	s.mu.Lock()
	key := s.currentKey
	s.mu.Unlock()
	return s.DeleteSession(ctx, key)
}

// CheckAndHandleExpiredSession is invoked on app-foreground-equivalent
// signals. If the window has closed, the grace period has elapsed and dose 2
// is neither recorded nor skipped, it synthesizes a slept-through skip,
// resets the finalize and check-in flags and cancels every notification.
// Returns true when it fired.
func (s *Store) CheckAndHandleExpiredSession(ctx context.Context) (bool, error) {
	s.mu.Lock()
	cp := s.facts
	if cp.Dose1At == nil || cp.Dose2Resolved() {
		s.mu.Unlock()
		return false, nil
	}
	deadline := cp.Dose1At.Add(s.opts.Phase.WindowCloseOffset).Add(s.opts.Grace)
	if s.clk.Now().Before(deadline) {
		s.mu.Unlock()
		return false, nil
	}

	cp.Dose2Skipped = true
	cp.SkipReason = internal.SkipReasonSleptThrough
	cp.WakeFinalAt = nil
	cp.CheckInCompleted = false

	s.coord.CancelAll(ctx)
	ev, err := s.commitLocked(ctx, s.currentKey, cp, EventSessionExpired)
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	s.notifyObservers(ev)
	return true, nil
}

// HandleTimeChange re-derives the session key against the current zone and
// clock. When the key changes, the projection is reloaded from the record
// store for the new key — never fabricated — so a backward zone shift cannot
// resurrect an archived session.
func (s *Store) HandleTimeChange(ctx context.Context) error {
	s.mu.Lock()
	now := s.clk.Now()
	key := clock.SessionKey(now, s.clk.Location(), s.opts.RolloverHour)
	if key == s.currentKey {
		s.armRolloverLocked()
		s.mu.Unlock()
		return nil
	}

	facts, err := s.repo.LoadSession(ctx, key)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if facts == nil {
		facts = &internal.SessionFacts{SessionKey: key, CreatedAt: now}
	}
	s.facts = *facts
	s.currentKey = key
	ev := Event{Kind: EventSessionRolled, SessionKey: key, Facts: s.facts}
	s.armRolloverLocked()
	s.mu.Unlock()
	s.notifyObservers(ev)
	return nil
}

// --- Inverse operations, used exclusively by the undo ledger ---

// ClearDose1 reverts a dose-1 recording and clears every pending reminder.
func (s *Store) ClearDose1(ctx context.Context) error {
	s.mu.Lock()
	cp := s.facts
	if cp.Dose1At == nil {
		s.mu.Unlock()
		return ErrNoDose1
	}
	cp.Dose1At = nil
	cp.Dose1TZOffsetMinutes = nil

	s.coord.CancelAll(ctx)
	ev, err := s.commitLocked(ctx, s.currentKey, cp, EventUndo)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notifyObservers(ev)
	return nil
}

// ClearDose2 reverts a dose-2 recording and re-arms the dose reminders.
func (s *Store) ClearDose2(ctx context.Context) error {
	s.mu.Lock()
	cp := s.facts
	if cp.Dose2At == nil {
		s.mu.Unlock()
		return &GateError{Op: "undo dose 2", Reason: "no second dose recorded"}
	}
	cp.Dose2At = nil
	cp.Dose2Late = false
	cp.Dose2Early = false

	s.coord.CancelDoseFamily(ctx)
	ev, err := s.commitLocked(ctx, s.currentKey, cp, EventUndo)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	dose1 := cp.Dose1At
	s.mu.Unlock()
	if dose1 != nil {
		s.coord.ScheduleDoseReminders(ctx, *dose1)
	}
	s.notifyObservers(ev)
	return nil
}

// ClearSkip reverts a skip and re-arms the dose reminders.
func (s *Store) ClearSkip(ctx context.Context) error {
	s.mu.Lock()
	cp := s.facts
	if !cp.Dose2Skipped {
		s.mu.Unlock()
		return &GateError{Op: "undo skip", Reason: "second dose not skipped"}
	}
	cp.Dose2Skipped = false
	cp.SkipReason = ""

	s.coord.CancelDoseFamily(ctx)
	ev, err := s.commitLocked(ctx, s.currentKey, cp, EventUndo)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	dose1 := cp.Dose1At
	s.mu.Unlock()
	if dose1 != nil {
		s.coord.ScheduleDoseReminders(ctx, *dose1)
	}
	s.notifyObservers(ev)
	return nil
}

// DecrementSnooze reverts one snooze. The already-rescheduled wake alarms are
// left alone: acceptable staleness, the counter is what matters.
func (s *Store) DecrementSnooze(ctx context.Context) error {
	return s.mutate(ctx, EventUndo, func(cp *internal.SessionFacts) error {
		if cp.SnoozeCount == 0 {
			return &GateError{Op: "undo snooze", Reason: "snooze count already zero"}
		}
		cp.SnoozeCount--
		return nil
	})
}

// ClearWakeFinal reverts the end-of-session marker.
func (s *Store) ClearWakeFinal(ctx context.Context) error {
	return s.mutate(ctx, EventUndo, func(cp *internal.SessionFacts) error {
		if cp.WakeFinalAt == nil {
			return &GateError{Op: "undo wake", Reason: "session not ended"}
		}
		cp.WakeFinalAt = nil
		return nil
	})
}

// IncrementSnooze bumps the snooze counter without touching the platform.
// Snooze is the gated operation; this exists for the projection alone.
func (s *Store) IncrementSnooze(ctx context.Context) error {
	return s.mutate(ctx, EventSnoozed, func(cp *internal.SessionFacts) error {
		cp.SnoozeCount++
		return nil
	})
}

// --- internals ---

// mutate applies fn to a copy of the projection, persists it, and only then
// swaps the projection. Persist-then-commit keeps the UI and the record in
// agreement even on failure.
func (s *Store) mutate(ctx context.Context, kind string, fn func(cp *internal.SessionFacts) error) error {
	s.mu.Lock()
	cp := s.facts
	if err := fn(&cp); err != nil {
		s.mu.Unlock()
		return err
	}
	ev, err := s.commitLocked(ctx, s.currentKey, cp, kind)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notifyObservers(ev)
	return nil
}

func (s *Store) commitLocked(ctx context.Context, key string, cp internal.SessionFacts, kind string) (Event, error) {
	cp.UpdatedAt = s.clk.Now()
	if err := s.repo.SaveSession(ctx, &cp); err != nil {
		return Event{}, fmt.Errorf("session: persisting %s: %w", key, err)
	}
	s.facts = cp
	s.currentKey = key
	s.armRolloverLocked()
	return Event{Kind: kind, SessionKey: key, Facts: cp}, nil
}

func (s *Store) notifyObservers(ev Event) {
	s.mu.Lock()
	obs := make([]func(Event), len(s.observers))
	copy(obs, s.observers)
	s.mu.Unlock()
	for _, fn := range obs {
		fn(ev)
	}
}

// armRolloverLocked re-arms the deferred re-evaluation at the next rollover
// instant, so the session transitions out of scope exactly at the boundary
// even with zero user activity.
func (s *Store) armRolloverLocked() {
	if s.closed {
		return
	}
	if s.rolloverTimer != nil {
		s.rolloverTimer.Stop()
	}
	now := s.clk.Now()
	next := clock.NextRollover(now, s.clk.Location(), s.opts.RolloverHour)
	s.rolloverTimer = time.AfterFunc(next.Sub(now), func() {
		if err := s.HandleTimeChange(context.Background()); err != nil {
			s.logger.Errorf("session: rollover re-evaluation failed: %v", err)
		}
	})
}
