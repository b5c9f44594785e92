package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// quietPaths are polled by probes and scrapers and logged at debug level.
var quietPaths = map[string]bool{"/ping": true, "/healthz": true, "/metrics": true}

func RequestLogger(l *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-Id", reqID)
		c.Set("request_id", reqID)

		c.Next()

		status := c.Writer.Status()
		subject := ""
		if p, ok := PrincipalFrom(c); ok {
			subject = p.Subject
		}

		entry := l.WithFields(logrus.Fields{
			"request_id":   reqID,
			"method":       c.Request.Method,
			"path":         c.FullPath(),
			"status":       status,
			"status_class": strconv.Itoa(status/100) + "xx",
			"latency_ms":   time.Since(start).Milliseconds(),
			"ip":           c.ClientIP(),
			"subject":      subject,
		})

		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		case quietPaths[c.FullPath()]:
			entry.Debug("request")
		default:
			entry.Info("request")
		}
	}
}
