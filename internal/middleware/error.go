package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/consult-api/pkg/httputil"
)

// ErrorHandler renders the last error a handler attached with c.Error,
// unless the handler already wrote a response. Server-side failures are
// logged with their full cause.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		last := c.Errors.Last()
		status, _ := httputil.StatusFor(last.Err)
		if status >= 500 {
			log.Error().
				Err(last.Err).
				Str("request_id", c.GetString(ContextRequestID)).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Msg("Request error")
		}

		if c.Writer.Written() {
			return
		}
		httputil.RespondWithError(c, last.Err)
	}
}
