package observability

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// StatusSource is the read-only server view exposed over HTTP.
type StatusSource interface {
	Running() bool
	SessionCount() int
	Uptime() time.Duration
	SessionsSnapshot() any
}

// NewRouter builds the admin/observability HTTP surface for node.
func NewRouter(node string, src StatusSource) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Logger))
	r.Use(RequestMetricsMiddleware(node))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		state := "ok"
		if !src.Running() {
			status = http.StatusServiceUnavailable
			state = "stopped"
		}
		c.JSON(status, gin.H{
			"status": state,
			"node":   node,
			"uptime": src.Uptime().String(),
		})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"running":        src.Running(),
			"sessions":       src.SessionCount(),
			"uptime_seconds": int64(src.Uptime().Seconds()),
		})
	})
	r.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sessions": src.SessionsSnapshot()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}
