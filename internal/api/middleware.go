package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/eduplatform/services/quizgen/internal/identity"
	"example.com/eduplatform/services/quizgen/internal/metrics"
)

// RequestLogger logs every request with latency and status
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("Request handled")
	}
}

// RequestMetrics tracks request counts and latency per route
func RequestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.IncrementCounter("http.requests")
		m.RecordTimer("http."+c.Request.Method+"."+route, time.Since(start))
		if c.Writer.Status() >= 500 {
			m.RecordError("http.requests")
		} else {
			m.RecordSuccess("http.requests")
		}
	}
}

// IdentityExtractor reads the authenticated user id from the X-User-ID
// header, set by the platform's API gateway, and stores it on the request
// context so event envelopes carry the acting user.
func IdentityExtractor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader("X-User-ID"); raw != "" {
			if userID, err := strconv.ParseInt(raw, 10, 64); err == nil {
				c.Request = c.Request.WithContext(identity.WithUserID(c.Request.Context(), userID))
			}
		}
		c.Next()
	}
}
