package logger

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const headerRequestID = "X-Request-Id"

// Middleware tags every request with a request_id and writes one summary line
// when it finishes. The summary uses the logger found in the request context
// after the handlers ran, so identity fields added by auth are included.
//
// Routes listed in quiet are only summarized when they fail.
func Middleware(l *slog.Logger, quiet ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(quiet))
	for _, p := range quiet {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)
		c.Request = c.Request.WithContext(With(c.Request.Context(), l.With("request_id", rid)))

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if _, ok := skip[route]; ok && status < http.StatusInternalServerError {
			return
		}

		attrs := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"client_ip", c.ClientIP(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		log := FromGin(c)
		switch {
		case status >= http.StatusInternalServerError || len(c.Errors) > 0:
			log.Error("request", attrs...)
		case status >= http.StatusBadRequest:
			log.Warn("request", attrs...)
		default:
			log.Info("request", attrs...)
		}
	}
}

// FromGin returns the request-scoped logger, including fields added by later
// middlewares.
func FromGin(c *gin.Context) *slog.Logger {
	return From(c.Request.Context())
}
