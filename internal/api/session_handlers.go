package api

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Kxd395/DoseTap-sub000/internal"
	"github.com/Kxd395/DoseTap-sub000/internal/service"
	"github.com/Kxd395/DoseTap-sub000/internal/session"
	"github.com/Kxd395/DoseTap-sub000/internal/undo"
)

// GetTonight returns the live status: facts, derived phase, gates, wake
// target and the pending undo, if any.
func GetTonight(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := service.BuildStatus(app.Store(), app.Ledger(), app.Clock())
		HandleSuccess(c, app.Logger(), st, nil)
	}
}

func PostDose1(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body service.DoseRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Invalid JSON")
			return
		}
		if err := service.ValidateDoseRequest(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Validation failed")
			return
		}
		if err := app.Store().RecordDose1(c.Request.Context(), body.At); err != nil {
			HandleDomainError(c, app.Logger(), err, "Failed to record first dose")
			return
		}
		app.Ledger().Register(undo.KindDose1, body.At, "")
		HandleSuccess(c, app.Logger(), service.BuildStatus(app.Store(), app.Ledger(), app.Clock()), nil)
	}
}

func PostDose2(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body service.DoseRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Invalid JSON")
			return
		}
		if err := service.ValidateDoseRequest(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Validation failed")
			return
		}
		err := app.Store().RecordDose2(c.Request.Context(), body.At, body.Early)
		if errors.Is(err, session.ErrExtraDose) {
			// The attempt is in the audit trail; the original stands.
			HandleDomainError(c, app.Logger(), err, "Second dose already recorded")
			return
		}
		if err != nil {
			HandleDomainError(c, app.Logger(), err, "Failed to record second dose")
			return
		}
		app.Ledger().Register(undo.KindDose2, body.At, "")
		HandleSuccess(c, app.Logger(), service.BuildStatus(app.Store(), app.Ledger(), app.Clock()), nil)
	}
}

func PostSnooze(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		newTarget, err := app.Store().Snooze(c.Request.Context())
		if err != nil {
			HandleDomainError(c, app.Logger(), err, "Snooze rejected")
			return
		}
		app.Ledger().Register(undo.KindSnooze, newTarget, "")
		HandleSuccess(c, app.Logger(), service.BuildStatus(app.Store(), app.Ledger(), app.Clock()),
			map[string]any{"new_target": newTarget})
	}
}

func PostSkip(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body service.SkipRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Invalid JSON")
			return
		}
		if err := service.ValidateSkipRequest(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Validation failed")
			return
		}
		if err := app.Store().SkipDose2(c.Request.Context(), body.Reason); err != nil {
			HandleDomainError(c, app.Logger(), err, "Failed to skip second dose")
			return
		}
		app.Ledger().Register(undo.KindSkip, app.Clock().Now(), body.Reason)
		HandleSuccess(c, app.Logger(), service.BuildStatus(app.Store(), app.Ledger(), app.Clock()), nil)
	}
}

func PostWake(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body service.WakeRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Invalid JSON")
			return
		}
		if err := service.ValidateWakeRequest(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Validation failed")
			return
		}
		if err := app.Store().RecordWakeFinal(c.Request.Context(), body.At); err != nil {
			HandleDomainError(c, app.Logger(), err, "Failed to record wake")
			return
		}
		HandleSuccess(c, app.Logger(), service.BuildStatus(app.Store(), app.Ledger(), app.Clock()), nil)
	}
}

func PostCheckIn(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := app.Store().CompleteCheckIn(c.Request.Context()); err != nil {
			HandleDomainError(c, app.Logger(), err, "Failed to complete check-in")
			return
		}
		HandleSuccess(c, app.Logger(), service.BuildStatus(app.Store(), app.Ledger(), app.Clock()), nil)
	}
}

func PostPreSleep(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body service.PreSleepRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Invalid JSON")
			return
		}
		if err := app.Store().RecordPreSleep(c.Request.Context(), body.Notes); err != nil {
			HandleDomainError(c, app.Logger(), err, "Failed to record pre-sleep log")
			return
		}
		HandleSuccess(c, app.Logger(), service.BuildStatus(app.Store(), app.Ledger(), app.Clock()), nil)
	}
}

// PostForeground is the app-foreground-equivalent signal: it runs the
// auto-expiry check and reports whether a slept-through skip was synthesized.
func PostForeground(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		expired, err := app.Store().CheckAndHandleExpiredSession(c.Request.Context())
		if err != nil {
			HandleError(c, app.Logger(), err, 500, "Expiry check failed")
			return
		}
		HandleSuccess(c, app.Logger(), service.BuildStatus(app.Store(), app.Ledger(), app.Clock()),
			map[string]any{"expired": expired})
	}
}

// PostTimeChange is the significant-time-change / timezone-change signal
// entry point, funneled through the same serialized store as user mutations.
func PostTimeChange(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := app.Store().HandleTimeChange(c.Request.Context()); err != nil {
			HandleError(c, app.Logger(), err, 500, "Time-change re-evaluation failed")
			return
		}
		HandleSuccess(c, app.Logger(), service.BuildStatus(app.Store(), app.Ledger(), app.Clock()), nil)
	}
}

func PostUndo(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		undone, err := app.Ledger().Undo(c.Request.Context())
		if err != nil {
			HandleDomainError(c, app.Logger(), err, "Undo failed")
			return
		}
		HandleSuccess(c, app.Logger(), service.BuildStatus(app.Store(), app.Ledger(), app.Clock()),
			map[string]any{"undone": undone})
	}
}

func DeleteTonight(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := app.Store().ClearTonight(c.Request.Context()); err != nil {
			HandleError(c, app.Logger(), err, 500, "Failed to clear tonight")
			return
		}
		HandleSuccess(c, app.Logger(), service.BuildStatus(app.Store(), app.Ledger(), app.Clock()), nil)
	}
}

func DeleteSessionByKey(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		if err := app.Store().DeleteSession(c.Request.Context(), key); err != nil {
			HandleError(c, app.Logger(), err, 500, "Failed to delete session")
			return
		}
		HandleSuccess(c, app.Logger(), nil, map[string]any{"deleted": key})
	}
}

func GetSessionByKey(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		facts, err := app.SessionRepo().LoadSession(c.Request.Context(), key)
		if err != nil {
			HandleError(c, app.Logger(), err, 500, "Failed to load session")
			return
		}
		if facts == nil {
			HandleError(c, app.Logger(), errors.New(key), 404, "Session not found")
			return
		}
		HandleSuccess(c, app.Logger(), facts, nil)
	}
}

// GetHistory lists recent session keys with their archived facts.
func GetHistory(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		n := 30
		if raw := c.Query("n"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				HandleError(c, app.Logger(), errors.New("n must be a positive integer"), 400, "Invalid query")
				return
			}
			n = parsed
		}
		keys, err := app.SessionRepo().ListRecentKeys(c.Request.Context(), n)
		if err != nil {
			HandleError(c, app.Logger(), err, 500, "Failed to list sessions")
			return
		}
		sessions := make([]internal.SessionFacts, 0, len(keys))
		for _, key := range keys {
			facts, err := app.SessionRepo().LoadSession(c.Request.Context(), key)
			if err != nil {
				HandleError(c, app.Logger(), err, 500, "Failed to load session")
				return
			}
			if facts != nil {
				sessions = append(sessions, *facts)
			}
		}
		HandleSuccess(c, app.Logger(), sessions, map[string]any{"keys": keys})
	}
}

// GetPendingNotifications exposes the in-process scheduler's pending set.
func GetPendingNotifications(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		sched := app.Pending()
		if sched == nil {
			HandleError(c, app.Logger(), errors.New("platform scheduler in use"), 404, "No pending set")
			return
		}
		HandleSuccess(c, app.Logger(), sched.Pending(), nil)
	}
}
