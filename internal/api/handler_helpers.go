package api

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/Kxd395/DoseTap-sub000/internal"
	"github.com/Kxd395/DoseTap-sub000/internal/notify"
	"github.com/Kxd395/DoseTap-sub000/internal/response"
	"github.com/Kxd395/DoseTap-sub000/internal/session"
)

func HandleError(c *gin.Context, logger internal.Logger, err error, status int, msg string) {
	requestID := c.GetString("request_id")
	logger.Errorf("[request_id=%s] %s: %v", requestID, msg, err)
	var resp response.APIResponse
	switch status {
	case 400:
		resp = response.BadRequest(msg + ": " + err.Error())
	case 404:
		resp = response.NotFound(msg + ": " + err.Error())
	case 409:
		resp = response.Conflict(msg + ": " + err.Error())
	case 500:
		resp = response.InternalError(msg + ": " + err.Error())
	default:
		resp = response.NewAppError(status, msg+": "+err.Error())
	}
	c.JSON(status, resp)
}

func HandleSuccess(c *gin.Context, logger internal.Logger, data interface{}, meta map[string]any) {
	requestID := c.GetString("request_id")
	logger.Infof("[request_id=%s] Success", requestID)
	c.JSON(200, response.Success(data, meta))
}

// HandleDomainError maps rejected transitions to 409 and everything else to
// 500. Gate rejections are no-ops by design, so they are logged at warn, not
// error.
func HandleDomainError(c *gin.Context, logger internal.Logger, err error, msg string) {
	var gateErr *session.GateError
	var snoozeErr *notify.SnoozeRejectedError
	switch {
	case errors.As(err, &gateErr),
		errors.As(err, &snoozeErr),
		errors.Is(err, session.ErrDose1AlreadyTaken),
		errors.Is(err, session.ErrDose2AlreadySkipped),
		errors.Is(err, session.ErrExtraDose),
		errors.Is(err, session.ErrNoDose1),
		errors.Is(err, session.ErrNoSession):
		requestID := c.GetString("request_id")
		logger.Warnf("[request_id=%s] %s: %v", requestID, msg, err)
		c.JSON(409, response.Conflict(msg+": "+err.Error()))
	default:
		HandleError(c, logger, err, 500, msg)
	}
}
