// File: internal/interfaces/http/router.go
// Route table and middleware chain.

// Package http serves the host API: REST operations on the sync engine,
// health checks, metrics and the websocket endpoints.
package http

import (
	"github.com/gin-gonic/gin"

	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/mapsync/internal/interfaces/http/handlers"
	"github.com/turtacn/mapsync/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handler and middleware dependencies of the
// route tree.  Nil handlers leave their routes unmounted.
type RouterConfig struct {
	SyncHandler   *handlers.SyncHandler
	WSHandler     *handlers.WSHandler
	HealthHandler *handlers.HealthHandler

	Logger           logging.Logger
	Metrics          *prometheus.SyncMetrics
	MetricsCollector prometheus.MetricsCollector
	MetricsPath      string

	CORS        *middleware.CORSConfig
	RateLimiter middleware.RateLimiter
	Logging     middleware.LoggingConfig
}

// NewRouter builds the gin engine.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	log := cfg.Logger.Named("http")

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestLogging(log, cfg.Metrics, cfg.Logging))
	if cfg.CORS != nil {
		r.Use(middleware.CORS(*cfg.CORS))
	}
	if cfg.RateLimiter != nil {
		r.Use(middleware.RateLimit(cfg.RateLimiter, "/healthz", "/readyz", "/metrics"))
	}

	if h := cfg.HealthHandler; h != nil {
		r.GET("/healthz", h.Liveness)
		r.GET("/readyz", h.Readiness)
	}
	if cfg.MetricsCollector != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(cfg.MetricsCollector.Handler()))
	}

	api := r.Group("/api/v1")
	registerSyncRoutes(api, cfg.SyncHandler)

	if h := cfg.WSHandler; h != nil {
		r.GET("/ws/pane/:pane", h.Pane)
		r.GET("/ws/host", h.Host)
	}
	return r
}

func registerSyncRoutes(g *gin.RouterGroup, h *handlers.SyncHandler) {
	if h == nil {
		return
	}
	g.GET("/state", h.State)

	panes := g.Group("/panes/:pane")
	panes.PUT("", h.SetPane)
	panes.DELETE("", h.RemovePane)
	panes.PUT("/mode", h.EnterMode)
	panes.DELETE("/mode", h.ExitMode)

	g.PUT("/viewport", h.SetViewport)
	g.POST("/search/select", h.SelectSearchResult)
	g.DELETE("/search/marker", h.ClearSearchMarker)
	g.PUT("/fullscreen", h.SetFullscreen)
}
