package storage

import (
	"context"

	"github.com/Kxd395/DoseTap-sub000/internal"
)

// SessionRepository is the durable record store for session facts, keyed by
// the rollover-derived session key. LoadSession returns (nil, nil) when no
// record exists for the key.
type SessionRepository interface {
	SaveSession(ctx context.Context, facts *internal.SessionFacts) error
	LoadSession(ctx context.Context, sessionKey string) (*internal.SessionFacts, error)
	DeleteSession(ctx context.Context, sessionKey string) error
	ListRecentKeys(ctx context.Context, n int) ([]string, error)
}

// MedicationRepository stores secondary-medication entries grouped by the
// same rollover-based session date.
type MedicationRepository interface {
	SaveEntry(ctx context.Context, entry *internal.MedicationEntry) error
	ListEntries(ctx context.Context, sessionDate string) ([]internal.MedicationEntry, error)
}
