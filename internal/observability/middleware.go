package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	SurfaceAdmin   = "admin"
	SurfaceGateway = "gateway"

	// RouteUnmatched labels requests that hit no registered route, keeping raw
	// client paths out of metric labels.
	RouteUnmatched = "unmatched"
)

// HTTPObserver logs and counts every request on one relay HTTP surface.
// A WebSocket upgrade only returns here once its chat session ends, so it is
// reported as a finished session with the session lifetime as duration.
func HTTPObserver(surface string, logger zerolog.Logger) gin.HandlerFunc {
	logger = logger.With().Str("surface", surface).Logger()
	return func(c *gin.Context) {
		start := time.Now()
		upgrade := c.IsWebsocket()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = RouteUnmatched
		}
		status := c.Writer.Status()
		if upgrade && status < http.StatusBadRequest {
			status = http.StatusSwitchingProtocols
		}
		elapsed := time.Since(start)
		RecordHTTPRequest(surface, route, c.Request.Method, status, elapsed)

		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = logger.Error()
		case status >= http.StatusBadRequest:
			event = logger.Warn()
		case status == http.StatusSwitchingProtocols:
			event = logger.Info()
		default:
			event = logger.Debug()
		}
		event = event.
			Str("route", route).
			Str("method", c.Request.Method).
			Int("status", status).
			Dur("duration", elapsed).
			Str("remote", c.ClientIP())
		if status == http.StatusSwitchingProtocols {
			event.Msg("chat.http websocket session ended")
			return
		}
		event.Int("bytes", c.Writer.Size()).Msg("chat.http request")
	}
}
