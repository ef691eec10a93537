package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Requests observes the introspection surface: one log line and one
// counter/histogram sample per request, sharing a single route label.
// The surface binds loopback only, so client identity carries no signal
// and is not logged; successful requests log at debug so metric scrapes
// stay out of the operator's view.
func Requests(agentID string, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := routeLabel(c)
		status := c.Writer.Status()
		elapsed := time.Since(start)
		RecordHTTPRequest(agentID, c.Request.Method, route, status, elapsed)

		evt := logger.Debug()
		switch {
		case status >= 500:
			evt = logger.Error()
		case status >= 400:
			evt = logger.Warn()
		}
		evt.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Msg("introspection request")
	}
}

// routeLabel returns the matched route pattern. All unmatched requests
// share one label, so path probing cannot grow metric cardinality.
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
