package api

import (
	"github.com/Kxd395/DoseTap-sub000/internal"
	"github.com/Kxd395/DoseTap-sub000/internal/clock"
	"github.com/Kxd395/DoseTap-sub000/internal/config"
	"github.com/Kxd395/DoseTap-sub000/internal/notify"
	"github.com/Kxd395/DoseTap-sub000/internal/session"
	"github.com/Kxd395/DoseTap-sub000/internal/storage"
	"github.com/Kxd395/DoseTap-sub000/internal/undo"
)

// App is the dependency surface the handlers draw from.
type App interface {
	Logger() internal.Logger
	Config() *config.Config
	Clock() clock.Clock
	Store() *session.Store
	Ledger() *undo.Ledger
	SessionRepo() storage.SessionRepository
	MedicationRepo() storage.MedicationRepository

	// Pending returns the in-process scheduler when that backend is in
	// use; nil when the platform owns delivery.
	Pending() *notify.MemoryScheduler
}
