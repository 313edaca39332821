package chat

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/danmuck/chatrelay/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

const Version = "0.1.0"

// AdminHandler serves health, readiness, metrics, and the handle listing.
func (s *Service) AdminHandler() http.Handler {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.HTTPObserver(observability.SurfaceAdmin, log.Logger))
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.cfg.AllowedOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":          "ok",
			"uptime":          time.Since(s.startedAt).String(),
			"node":            s.cfg.NodeID,
			"version":         Version,
			"active_sessions": s.ActiveSessions(),
			"handles":         s.registry.Len(),
			"goroutines":      runtime.NumGoroutine(),
		}
		if rss, ok := processRSS(); ok {
			body["rss_bytes"] = rss
		}
		c.JSON(http.StatusOK, body)
	})

	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"node":    s.cfg.NodeID,
			"version": Version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/handles", func(c *gin.Context) {
		handles := s.registry.Handles()
		c.JSON(http.StatusOK, gin.H{
			"count":   len(handles),
			"handles": handles,
		})
	})
	return r
}

func processRSS() (uint64, bool) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, false
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return 0, false
	}
	return mem.RSS, true
}
