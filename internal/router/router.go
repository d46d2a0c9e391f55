package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mail-archiver-go/internal/handler"
)

// SetupRouter configures the Gin router with routes and middleware
func SetupRouter(h *handler.Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(loggerMiddleware())
	r.Use(gin.CustomRecovery(h.Recover))
	h.SetupRoutes(r)
	return r
}

// loggerMiddleware writes one structured access log entry per request.
// Probe and scrape endpoints are logged at debug level.
func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"proto":      c.Request.Proto,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"user_agent": c.Request.UserAgent(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("error", c.Errors.String())
		}

		switch c.FullPath() {
		case "/healthz", "/live", "/ready", "/metrics":
			entry.Debug("HTTP request")
		default:
			entry.Info("HTTP request")
		}
	}
}
