package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Kxd395/DoseTap-sub000/internal"
	"github.com/Kxd395/DoseTap-sub000/internal/clock"
)

func newTestCoordinator(now time.Time) (*Coordinator, *MemoryScheduler) {
	sched := NewMemoryScheduler()
	clk := clock.NewFake(now, time.UTC)
	return NewCoordinator(sched, clk, DefaultConfig(), internal.NopLogger{}), sched
}

func pendingIDs(sched *MemoryScheduler) []string {
	var ids []string
	for _, p := range sched.Pending() {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestScheduleDoseReminders(t *testing.T) {
	dose1 := time.Date(2025, 6, 9, 21, 0, 0, 0, time.UTC)
	coord, sched := newTestCoordinator(dose1)

	coord.ScheduleDoseReminders(context.Background(), dose1)

	ids := pendingIDs(sched)
	assert.ElementsMatch(t, []string{IDWindowOpen, IDWarn15Min, IDWarn5Min}, ids)

	for _, p := range sched.Pending() {
		if p.ID == IDWindowOpen {
			assert.Equal(t, dose1.Add(150*time.Minute), p.FireAt)
		}
	}
}

func TestScheduleDoseRemindersSkipsPast(t *testing.T) {
	dose1 := time.Date(2025, 6, 9, 21, 0, 0, 0, time.UTC)
	// Now is already inside the window: window-open has passed.
	coord, sched := newTestCoordinator(dose1.Add(160 * time.Minute))

	coord.ScheduleDoseReminders(context.Background(), dose1)

	assert.ElementsMatch(t, []string{IDWarn15Min, IDWarn5Min}, pendingIDs(sched))
}

func TestScheduleDoseRemindersHonorsPreferences(t *testing.T) {
	dose1 := time.Date(2025, 6, 9, 21, 0, 0, 0, time.UTC)
	sched := NewMemoryScheduler()
	cfg := DefaultConfig()
	cfg.Alert15Min = false
	coord := NewCoordinator(sched, clock.NewFake(dose1, time.UTC), cfg, internal.NopLogger{})

	coord.ScheduleDoseReminders(context.Background(), dose1)

	assert.ElementsMatch(t, []string{IDWindowOpen, IDWarn5Min}, pendingIDs(sched))
}

func TestScheduleWakeAlarmsFamily(t *testing.T) {
	dose1 := time.Date(2025, 6, 9, 21, 0, 0, 0, time.UTC)
	coord, sched := newTestCoordinator(dose1)
	target := dose1.Add(150 * time.Minute)

	coord.ScheduleWakeAlarms(context.Background(), target, dose1)

	assert.ElementsMatch(t,
		[]string{IDPreAlarm, IDWakeAlarm, IDFollowUp1, IDFollowUp2, IDFollowUp3},
		pendingIDs(sched))
}

func TestScheduleWakeAlarmsFollowUpsStayInsideWindow(t *testing.T) {
	dose1 := time.Date(2025, 6, 9, 21, 0, 0, 0, time.UTC)
	coord, sched := newTestCoordinator(dose1)
	windowClose := dose1.Add(240 * time.Minute)
	// Follow-ups at +2/+4/+6 minutes: only the first stays inside the window.
	target := windowClose.Add(-3 * time.Minute)

	coord.ScheduleWakeAlarms(context.Background(), target, dose1)

	ids := pendingIDs(sched)
	assert.Contains(t, ids, IDFollowUp1)
	assert.NotContains(t, ids, IDFollowUp2)
	assert.NotContains(t, ids, IDFollowUp3)
}

// Rescheduling is never additive: the family is cancelled wholesale first.
func TestRescheduleIsIdempotent(t *testing.T) {
	dose1 := time.Date(2025, 6, 9, 21, 0, 0, 0, time.UTC)
	coord, sched := newTestCoordinator(dose1)
	target := dose1.Add(150 * time.Minute)

	coord.ScheduleWakeAlarms(context.Background(), target, dose1)
	first := sched.Pending()
	coord.ScheduleWakeAlarms(context.Background(), target, dose1)
	second := sched.Pending()

	assert.Equal(t, first, second)

	// Moving the target replaces, never accumulates.
	coord.ScheduleWakeAlarms(context.Background(), target.Add(10*time.Minute), dose1)
	assert.Len(t, sched.Pending(), len(first))
}

func TestPlanSnoozeGuard(t *testing.T) {
	dose1 := time.Date(2025, 6, 9, 21, 0, 0, 0, time.UTC)
	coord, _ := newTestCoordinator(dose1)
	windowClose := dose1.Add(240 * time.Minute)

	// Target 20 minutes before close: +10 lands inside the final 15.
	_, err := coord.PlanSnooze(windowClose.Add(-20*time.Minute), dose1)
	var rejected *SnoozeRejectedError
	assert.ErrorAs(t, err, &rejected)

	// Target 30 minutes before close: +10 is still clear.
	newTarget, err := coord.PlanSnooze(windowClose.Add(-30*time.Minute), dose1)
	assert.NoError(t, err)
	assert.Equal(t, windowClose.Add(-20*time.Minute), newTarget)
}

func TestCancelAllClearsUniverse(t *testing.T) {
	dose1 := time.Date(2025, 6, 9, 21, 0, 0, 0, time.UTC)
	coord, sched := newTestCoordinator(dose1)

	coord.ScheduleDoseReminders(context.Background(), dose1)
	coord.ScheduleWakeAlarms(context.Background(), dose1.Add(150*time.Minute), dose1)
	assert.NotEmpty(t, sched.Pending())

	coord.CancelAll(context.Background())
	assert.Empty(t, sched.Pending())

	// Cancelling again is not an error.
	coord.CancelAll(context.Background())
	assert.Empty(t, sched.Pending())
}
