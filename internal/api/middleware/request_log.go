package middleware

import (
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs HTTP request/response metadata.
// Health and metrics probes are logged at debug level to keep the
// output readable under frequent scraping.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if logger == nil {
			return
		}

		path := c.Request.URL.Path
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.String("client_ip", c.ClientIP()),
			slog.String("latency", time.Since(start).String()),
		}
		if path == "/healthz" || path == "/metrics" {
			logger.Debug("http request", attrs...)
			return
		}
		logger.Info("http request", attrs...)
	}
}
