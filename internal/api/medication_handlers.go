package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Kxd395/DoseTap-sub000/internal/service"
)

func PostMedication(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body service.MedicationEntryRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Invalid JSON")
			return
		}
		if err := service.ValidateMedicationEntryRequest(&body); err != nil {
			HandleError(c, app.Logger(), err, 400, "Validation failed")
			return
		}

		cfg := app.Config()
		entry, verdict, err := service.CreateMedicationEntry(
			c.Request.Context(), app.MedicationRepo(), app.Clock(), &body,
			cfg.RolloverHour, time.Duration(cfg.DuplicateGuardMinutes)*time.Minute)
		if err != nil {
			HandleError(c, app.Logger(), err, 500, "Failed to save entry")
			return
		}
		if verdict != nil {
			// Flagged and unconfirmed: nothing was inserted. The client may
			// resubmit with confirmed_duplicate to force it through.
			c.JSON(409, gin.H{"error": "Possible duplicate entry", "code": 409, "duplicate": verdict})
			return
		}
		HandleSuccess(c, app.Logger(), entry, nil)
	}
}

func GetMedications(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		date := c.Query("date")
		if date == "" {
			date = app.Store().CurrentKey()
		}
		entries, err := app.MedicationRepo().ListEntries(c.Request.Context(), date)
		if err != nil {
			HandleError(c, app.Logger(), err, 500, "Failed to fetch entries")
			return
		}
		HandleSuccess(c, app.Logger(), entries, map[string]any{"session_date": date})
	}
}
