package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/Kxd395/DoseTap-sub000/internal"
	"github.com/Kxd395/DoseTap-sub000/internal/clock"
)

// SnoozeRejectedError reports a snooze that would land at or past the
// near-close threshold. The caller must not treat the snooze as having
// occurred.
type SnoozeRejectedError struct {
	Target time.Time
	Limit  time.Time
}

func (e *SnoozeRejectedError) Error() string {
	return fmt.Sprintf("snooze rejected: target %s would exceed near-close threshold %s",
		e.Target.Format(time.RFC3339), e.Limit.Format(time.RFC3339))
}

type Config struct {
	WindowOpenOffset  time.Duration
	WindowCloseOffset time.Duration
	NearCloseLead     time.Duration
	SnoozeStep        time.Duration
	PreAlarmLead      time.Duration
	FollowUpCount     int
	FollowUpSpacing   time.Duration

	AlertWindowOpen bool
	Alert15Min      bool
	Alert5Min       bool
}

func DefaultConfig() Config {
	return Config{
		WindowOpenOffset:  150 * time.Minute,
		WindowCloseOffset: 240 * time.Minute,
		NearCloseLead:     15 * time.Minute,
		SnoozeStep:        10 * time.Minute,
		PreAlarmLead:      5 * time.Minute,
		FollowUpCount:     3,
		FollowUpSpacing:   2 * time.Minute,
		AlertWindowOpen:   true,
		Alert15Min:        true,
		Alert5Min:         true,
	}
}

// Coordinator owns the full notification identifier universe. Every schedule
// operation cancels its family first, so reschedule and cancel-then-schedule
// are equivalent and idempotent. Platform failures are logged and best-effort:
// the session facts stay authoritative even if the pending set diverges.
type Coordinator struct {
	sched  Scheduler
	clk    clock.Clock
	cfg    Config
	logger internal.Logger
}

func NewCoordinator(sched Scheduler, clk clock.Clock, cfg Config, logger internal.Logger) *Coordinator {
	return &Coordinator{sched: sched, clk: clk, cfg: cfg, logger: logger}
}

// ScheduleDoseReminders arms the dose-2 family (window-open, 15-minute and
// 5-minute warnings) for the window anchored at dose1At. Each reminder is
// scheduled only if its fire time is still in the future and its preference
// is enabled.
func (c *Coordinator) ScheduleDoseReminders(ctx context.Context, dose1At time.Time) {
	c.CancelDoseFamily(ctx)

	windowOpen := dose1At.Add(c.cfg.WindowOpenOffset)
	windowClose := dose1At.Add(c.cfg.WindowCloseOffset)
	now := c.clk.Now()

	type reminder struct {
		id      string
		fireAt  time.Time
		enabled bool
		body    string
	}
	reminders := []reminder{
		{IDWindowOpen, windowOpen, c.cfg.AlertWindowOpen, "Your second dose window is open."},
		{IDWarn15Min, windowClose.Add(-15 * time.Minute), c.cfg.Alert15Min, "15 minutes left to take your second dose."},
		{IDWarn5Min, windowClose.Add(-5 * time.Minute), c.cfg.Alert5Min, "5 minutes left to take your second dose."},
	}
	for _, r := range reminders {
		if !r.enabled || !r.fireAt.After(now) {
			continue
		}
		c.schedule(ctx, r.id, r.fireAt, map[string]string{"body": r.body})
	}
}

// ScheduleWakeAlarms arms the wake family at the given target: a pre-alarm
// ahead of it, the alarm itself, and follow-ups spaced behind it while they
// still land inside the window anchored at dose1At.
func (c *Coordinator) ScheduleWakeAlarms(ctx context.Context, target, dose1At time.Time) {
	c.CancelWakeFamily(ctx)

	windowClose := dose1At.Add(c.cfg.WindowCloseOffset)
	now := c.clk.Now()

	if pre := target.Add(-c.cfg.PreAlarmLead); pre.After(now) {
		c.schedule(ctx, IDPreAlarm, pre, map[string]string{"body": "Second dose coming up."})
	}
	if target.After(now) {
		c.schedule(ctx, IDWakeAlarm, target, map[string]string{"body": "Time for your second dose."})
	}
	followUps := []string{IDFollowUp1, IDFollowUp2, IDFollowUp3}
	for i := 0; i < c.cfg.FollowUpCount && i < len(followUps); i++ {
		fireAt := target.Add(time.Duration(i+1) * c.cfg.FollowUpSpacing)
		if !fireAt.Before(windowClose) || !fireAt.After(now) {
			continue
		}
		c.schedule(ctx, followUps[i], fireAt, map[string]string{"body": "Still time to take your second dose."})
	}
}

// PlanSnooze validates a snooze against the hard-stop guard and returns the
// new wake target. It never touches the platform: the caller cancels,
// persists, then reschedules, so a rejected plan has no side effects at all.
func (c *Coordinator) PlanSnooze(currentTarget, dose1At time.Time) (time.Time, error) {
	newTarget := currentTarget.Add(c.cfg.SnoozeStep)
	limit := dose1At.Add(c.cfg.WindowCloseOffset).Add(-c.cfg.NearCloseLead)
	if !newTarget.Before(limit) {
		return time.Time{}, &SnoozeRejectedError{Target: newTarget, Limit: limit}
	}
	return newTarget, nil
}

// CancelAll cancels the complete identifier universe.
func (c *Coordinator) CancelAll(ctx context.Context) {
	c.cancel(ctx, AllIdentifiers())
}

func (c *Coordinator) CancelDoseFamily(ctx context.Context) {
	c.cancel(ctx, doseFamily())
}

func (c *Coordinator) CancelWakeFamily(ctx context.Context) {
	c.cancel(ctx, wakeFamily())
}

func (c *Coordinator) schedule(ctx context.Context, id string, fireAt time.Time, payload map[string]string) {
	if err := c.sched.Schedule(ctx, id, fireAt, payload); err != nil {
		c.logger.Errorf("notify: failed to schedule %s: %v", id, err)
	}
}

func (c *Coordinator) cancel(ctx context.Context, ids []string) {
	if err := c.sched.Cancel(ctx, ids); err != nil {
		c.logger.Errorf("notify: failed to cancel %v: %v", ids, err)
	}
}
