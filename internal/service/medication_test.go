package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Kxd395/DoseTap-sub000/internal"
	"github.com/Kxd395/DoseTap-sub000/internal/clock"
)

type memMedRepo struct {
	entries []internal.MedicationEntry
}

func (r *memMedRepo) SaveEntry(ctx context.Context, entry *internal.MedicationEntry) error {
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memMedRepo) ListEntries(ctx context.Context, sessionDate string) ([]internal.MedicationEntry, error) {
	var out []internal.MedicationEntry
	for _, e := range r.entries {
		if e.SessionDate == sessionDate {
			out = append(out, e)
		}
	}
	return out, nil
}

var medNow = time.Date(2025, 6, 9, 22, 0, 0, 0, time.UTC)

func TestCheckDuplicateWithinWindow(t *testing.T) {
	existing := []internal.MedicationEntry{{
		ID: "a", SessionDate: "2025-06-09", MedicationID: "ibuprofen",
		DoseMg: 200, TakenAt: medNow,
	}}
	candidate := &internal.MedicationEntry{
		SessionDate: "2025-06-09", MedicationID: "ibuprofen",
		DoseMg: 200, TakenAt: medNow.Add(3 * time.Minute),
	}

	verdict := CheckDuplicate(candidate, existing, 10*time.Minute)
	assert.True(t, verdict.IsDuplicate)
	assert.Equal(t, 3, verdict.MinutesDelta)
	assert.Equal(t, "a", verdict.Matched.ID)

	// A tighter guard window lets the same pair through.
	verdict = CheckDuplicate(candidate, existing, 2*time.Minute)
	assert.False(t, verdict.IsDuplicate)
}

func TestCheckDuplicateScopedToMedicationAndSession(t *testing.T) {
	existing := []internal.MedicationEntry{
		{ID: "a", SessionDate: "2025-06-09", MedicationID: "ibuprofen", TakenAt: medNow},
		{ID: "b", SessionDate: "2025-06-08", MedicationID: "melatonin", TakenAt: medNow.Add(-time.Minute)},
	}

	// Different medication, same instant: not a duplicate.
	verdict := CheckDuplicate(&internal.MedicationEntry{
		SessionDate: "2025-06-09", MedicationID: "melatonin", TakenAt: medNow,
	}, existing, 10*time.Minute)
	assert.False(t, verdict.IsDuplicate)

	// Same medication, different session date: not a duplicate either.
	verdict = CheckDuplicate(&internal.MedicationEntry{
		SessionDate: "2025-06-08", MedicationID: "ibuprofen", TakenAt: medNow,
	}, existing, 10*time.Minute)
	assert.False(t, verdict.IsDuplicate)
}

func TestCheckDuplicateEitherDirection(t *testing.T) {
	existing := []internal.MedicationEntry{{
		ID: "a", SessionDate: "2025-06-09", MedicationID: "ibuprofen", TakenAt: medNow,
	}}
	candidate := &internal.MedicationEntry{
		SessionDate: "2025-06-09", MedicationID: "ibuprofen",
		TakenAt: medNow.Add(-4 * time.Minute),
	}

	verdict := CheckDuplicate(candidate, existing, 10*time.Minute)
	assert.True(t, verdict.IsDuplicate)
	assert.Equal(t, 4, verdict.MinutesDelta)
}

func TestCreateMedicationEntry(t *testing.T) {
	repo := &memMedRepo{}
	clk := clock.NewFake(medNow, time.UTC)
	ctx := context.Background()

	body := &MedicationEntryRequest{MedicationID: "ibuprofen", DoseMg: 200, TakenAt: medNow}
	assert.NoError(t, ValidateMedicationEntryRequest(body))

	entry, verdict, err := CreateMedicationEntry(ctx, repo, clk, body, 18, 10*time.Minute)
	assert.NoError(t, err)
	assert.Nil(t, verdict)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "2025-06-09", entry.SessionDate, "22:00 maps to tonight's key")
	assert.Len(t, repo.entries, 1)
}

func TestCreateMedicationEntryGuardBlocksUnconfirmed(t *testing.T) {
	repo := &memMedRepo{}
	clk := clock.NewFake(medNow, time.UTC)
	ctx := context.Background()

	first := &MedicationEntryRequest{MedicationID: "ibuprofen", DoseMg: 200, TakenAt: medNow}
	_, _, err := CreateMedicationEntry(ctx, repo, clk, first, 18, 10*time.Minute)
	assert.NoError(t, err)

	second := &MedicationEntryRequest{MedicationID: "ibuprofen", DoseMg: 200, TakenAt: medNow.Add(3 * time.Minute)}
	entry, verdict, err := CreateMedicationEntry(ctx, repo, clk, second, 18, 10*time.Minute)
	assert.NoError(t, err)
	assert.Nil(t, entry, "flagged entry is not inserted")
	assert.NotNil(t, verdict)
	assert.Equal(t, 3, verdict.MinutesDelta)
	assert.Len(t, repo.entries, 1)

	// Confirmation bypasses the guard for that one insertion.
	second.ConfirmedDuplicate = true
	entry, verdict, err = CreateMedicationEntry(ctx, repo, clk, second, 18, 10*time.Minute)
	assert.NoError(t, err)
	assert.Nil(t, verdict)
	assert.NotNil(t, entry)
	assert.Len(t, repo.entries, 2)
}

func TestValidateMedicationEntryRequest(t *testing.T) {
	assert.Error(t, ValidateMedicationEntryRequest(&MedicationEntryRequest{DoseMg: 200, TakenAt: medNow}))
	assert.Error(t, ValidateMedicationEntryRequest(&MedicationEntryRequest{MedicationID: "x", DoseMg: -1, TakenAt: medNow}))
}

func TestValidateSkipRequest(t *testing.T) {
	assert.NoError(t, ValidateSkipRequest(&SkipRequest{Reason: "user"}))
	assert.NoError(t, ValidateSkipRequest(&SkipRequest{Reason: "slept_through"}))
	assert.Error(t, ValidateSkipRequest(&SkipRequest{Reason: "felt_like_it"}))
	assert.Error(t, ValidateSkipRequest(&SkipRequest{}))
}
