package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Kxd395/DoseTap-sub000/internal"
)

// RequestIDMiddleware ensures every request has a correlation/request ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set("request_id", reqID)
		c.Writer.Header().Set("X-Request-ID", reqID)
		c.Next()
	}
}

// RequestLogMiddleware logs method, path, status and latency per request.
func RequestLogMiddleware(logger internal.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("[request_id=%s] %s %s -> %d (%s)",
			c.GetString("request_id"), c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start))
	}
}
