package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouteUnmatched labels requests that matched no registered route.
const RouteUnmatched = "unmatched"

// route returns the registered route template of c, never the raw path.
func route(c *gin.Context) string {
	if r := c.FullPath(); r != "" {
		return r
	}
	return RouteUnmatched
}

// RequestLogger logs one entry per request after the handler chain has run.
// Server errors log at error level and client errors at warn.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := zap.InfoLevel
		switch {
		case status >= 500:
			level = zap.ErrorLevel
		case status >= 400:
			level = zap.WarnLevel
		}

		logger.Log(level, "http_request",
			zap.String("method", c.Request.Method),
			zap.String("route", route(c)),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("bytes", c.Writer.Size()),
		)
	}
}

// RequestMetricsMiddleware counts requests and observes their duration,
// labelled by route template so the series stay bounded.
func RequestMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		RecordHTTPRequest(c.Request.Method, route(c), c.Writer.Status(), time.Since(start))
	}
}
