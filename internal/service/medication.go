package service

import (
	"context"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Kxd395/DoseTap-sub000/internal"
	"github.com/Kxd395/DoseTap-sub000/internal/clock"
	"github.com/Kxd395/DoseTap-sub000/internal/storage"
)

var validate = validator.New()

type MedicationEntryRequest struct {
	MedicationID       string    `json:"medication_id" validate:"required"`
	DoseMg             float64   `json:"dose_mg" validate:"required,gt=0"`
	TakenAt            time.Time `json:"taken_at" validate:"required"`
	Notes              string    `json:"notes,omitempty"`
	ConfirmedDuplicate bool      `json:"confirmed_duplicate,omitempty"`
}

func ValidateMedicationEntryRequest(body *MedicationEntryRequest) error {
	return validate.Struct(body)
}

// DuplicateResult is the guard's verdict on a candidate entry.
type DuplicateResult struct {
	IsDuplicate  bool                      `json:"is_duplicate"`
	Matched      *internal.MedicationEntry `json:"matched,omitempty"`
	MinutesDelta int                       `json:"minutes_delta,omitempty"`
}

// CheckDuplicate flags a candidate when an entry for the same medication in
// the same session date sits within guardWindow of its timestamp, in either
// direction. Pure; the caller decides what to do with the verdict.
func CheckDuplicate(candidate *internal.MedicationEntry, recent []internal.MedicationEntry, guardWindow time.Duration) DuplicateResult {
	for i := range recent {
		e := &recent[i]
		if e.MedicationID != candidate.MedicationID || e.SessionDate != candidate.SessionDate {
			continue
		}
		delta := candidate.TakenAt.Sub(e.TakenAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= guardWindow {
			return DuplicateResult{
				IsDuplicate:  true,
				Matched:      e,
				MinutesDelta: int(math.Round(delta.Minutes())),
			}
		}
	}
	return DuplicateResult{}
}

// CreateMedicationEntry runs the duplicate guard and inserts the entry. A
// flagged candidate without confirmed_duplicate is not inserted and the
// verdict is returned instead; confirmation bypasses the guard exactly once,
// for that insertion.
func CreateMedicationEntry(ctx context.Context, repo storage.MedicationRepository, clk clock.Clock,
	body *MedicationEntryRequest, rolloverHour int, guardWindow time.Duration) (*internal.MedicationEntry, *DuplicateResult, error) {

	entry := &internal.MedicationEntry{
		ID:                 uuid.NewString(),
		SessionDate:        clock.SessionKey(body.TakenAt, clk.Location(), rolloverHour),
		MedicationID:       body.MedicationID,
		DoseMg:             body.DoseMg,
		TakenAt:            body.TakenAt,
		Notes:              body.Notes,
		ConfirmedDuplicate: body.ConfirmedDuplicate,
		CreatedAt:          clk.Now(),
	}

	recent, err := repo.ListEntries(ctx, entry.SessionDate)
	if err != nil {
		return nil, nil, err
	}
	verdict := CheckDuplicate(entry, recent, guardWindow)
	if verdict.IsDuplicate && !body.ConfirmedDuplicate {
		return nil, &verdict, nil
	}

	if err := repo.SaveEntry(ctx, entry); err != nil {
		return nil, nil, err
	}
	return entry, nil, nil
}
