package service

import (
	"time"

	"github.com/Kxd395/DoseTap-sub000/internal"
	"github.com/Kxd395/DoseTap-sub000/internal/clock"
	"github.com/Kxd395/DoseTap-sub000/internal/phase"
	"github.com/Kxd395/DoseTap-sub000/internal/session"
	"github.com/Kxd395/DoseTap-sub000/internal/undo"
)

type DoseRequest struct {
	At    time.Time `json:"at" validate:"required"`
	Early bool      `json:"early,omitempty"`
}

func ValidateDoseRequest(body *DoseRequest) error {
	return validate.Struct(body)
}

type SkipRequest struct {
	Reason string `json:"reason" validate:"required,oneof=user slept_through"`
}

func ValidateSkipRequest(body *SkipRequest) error {
	return validate.Struct(body)
}

type WakeRequest struct {
	At time.Time `json:"at" validate:"required"`
}

func ValidateWakeRequest(body *WakeRequest) error {
	return validate.Struct(body)
}

type PreSleepRequest struct {
	Notes string `json:"notes,omitempty"`
}

// Status is the read model the UI polls: live facts plus the derived window
// phase, gates, wake target and drift/interval diagnostics.
type Status struct {
	SessionKey  string                `json:"session_key"`
	Phase       string                `json:"phase"`
	Facts       internal.SessionFacts `json:"facts"`
	WindowOpen  *time.Time            `json:"window_open,omitempty"`
	WindowClose *time.Time            `json:"window_close,omitempty"`
	SnoozeGate  phase.Gate            `json:"snooze_gate"`
	SkipGate    phase.Gate            `json:"skip_gate"`
	WakeTarget  *time.Time            `json:"wake_target,omitempty"`
	PendingUndo *undo.Action          `json:"pending_undo,omitempty"`

	// Minutes since dose 1, flagged when the wall clock moved in a way a
	// single midnight rollover cannot explain.
	MinutesSinceDose1 *int `json:"minutes_since_dose1,omitempty"`
	ClockAnomaly      bool `json:"clock_anomaly,omitempty"`

	// Offset delta between the zone captured at dose 1 and the current
	// zone; non-zero means the device changed zones mid-session.
	TimezoneDriftMinutes *int `json:"timezone_drift_minutes,omitempty"`

	// Dose interval for a resolved night.
	DoseIntervalMinutes *int `json:"dose_interval_minutes,omitempty"`
}

// BuildStatus assembles the read model from the store, the undo ledger and
// the injected clock.
func BuildStatus(store *session.Store, ledger *undo.Ledger, clk clock.Clock) Status {
	facts := store.Facts()
	d := store.Derive()
	now := clk.Now()

	st := Status{
		SessionKey: facts.SessionKey,
		Phase:      d.Phase.String(),
		Facts:      facts,
		SnoozeGate: d.SnoozeGate,
		SkipGate:   d.SkipGate,
	}
	if facts.Dose1At != nil {
		st.WindowOpen = &d.WindowOpen
		st.WindowClose = &d.WindowClose

		elapsed, anomalous := clock.Elapsed(*facts.Dose1At, now)
		mins := int(elapsed.Minutes())
		st.MinutesSinceDose1 = &mins
		st.ClockAnomaly = anomalous

		if facts.Dose1TZOffsetMinutes != nil {
			drift := clock.OffsetMinutes(now, clk.Location()) - *facts.Dose1TZOffsetMinutes
			if drift != 0 {
				st.TimezoneDriftMinutes = &drift
			}
		}
		if facts.Dose2At != nil {
			interval, _ := clock.Elapsed(*facts.Dose1At, *facts.Dose2At)
			im := int(interval.Minutes())
			st.DoseIntervalMinutes = &im
		}
	}
	if target, ok := store.WakeTarget(); ok && !facts.Dose2Resolved() {
		st.WakeTarget = &target
	}
	if ledger != nil {
		if a, ok := ledger.Pending(); ok {
			st.PendingUndo = &a
		}
	}
	return st
}
