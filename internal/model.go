package internal

import "time"

// Skip reasons for an unresolved second dose.
const (
	SkipReasonUser         = "user"
	SkipReasonSleptThrough = "slept_through"
)

type User struct {
	ID    string `json:"id"`
	Token string `json:"token"`
	Name  string `json:"name"`
}

// SessionFacts is the persisted record of one night's two-dose regimen,
// keyed by a rollover-derived date string (see internal/clock).
type SessionFacts struct {
	SessionKey       string     `json:"session_key"`
	Dose1At          *time.Time `json:"dose1_at,omitempty"`
	Dose2At          *time.Time `json:"dose2_at,omitempty"`
	Dose2Early       bool       `json:"dose2_early,omitempty"`
	Dose2Late        bool       `json:"dose2_late,omitempty"`
	Dose2Skipped     bool       `json:"dose2_skipped,omitempty"`
	SkipReason       string     `json:"skip_reason,omitempty"` // "user" or "slept_through"
	SnoozeCount      int        `json:"snooze_count,omitempty"`
	WakeFinalAt      *time.Time `json:"wake_final_at,omitempty"`
	CheckInCompleted bool       `json:"check_in_completed,omitempty"`
	PreSleepAt       *time.Time `json:"pre_sleep_at,omitempty"`
	PreSleepNotes    string     `json:"pre_sleep_notes,omitempty"`

	// Zone offset captured when dose 1 was recorded, used to detect
	// timezone drift during the session.
	Dose1TZOffsetMinutes *int `json:"dose1_tz_offset_minutes,omitempty"`

	// Audit trail of dose-2 attempts made after dose 2 was already
	// resolved. Never overwrites Dose2At.
	ExtraDoses []time.Time `json:"extra_doses,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Dose2Resolved reports whether the second dose has been taken or skipped.
func (f *SessionFacts) Dose2Resolved() bool {
	return f.Dose2At != nil || f.Dose2Skipped
}

// MedicationEntry is a secondary-medication log line, independent of the
// dose-window session but grouped under the same rollover-based date.
type MedicationEntry struct {
	ID                 string    `json:"id"`
	SessionDate        string    `json:"session_date"`
	MedicationID       string    `json:"medication_id"`
	DoseMg             float64   `json:"dose_mg"`
	TakenAt            time.Time `json:"taken_at"`
	Notes              string    `json:"notes,omitempty"`
	ConfirmedDuplicate bool      `json:"confirmed_duplicate,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}
