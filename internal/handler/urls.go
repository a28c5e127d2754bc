package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"HibiscusSOS/internal/directory"
	"HibiscusSOS/pkg/cache"
	"HibiscusSOS/pkg/config"
	"HibiscusSOS/pkg/metrics"
	"HibiscusSOS/pkg/middleware"
	"HibiscusSOS/pkg/websocket"
)

type Handlers struct {
	db        *gorm.DB
	hub       *websocket.Hub
	wsHandler *websocket.Handler
	cache     cache.Cache
	metrics   *metrics.Metrics
	directory *directory.Directory
	cfg       *config.Config
}

func NewHandlers(db *gorm.DB, hub *websocket.Hub, c cache.Cache, m *metrics.Metrics, dir *directory.Directory, cfg *config.Config) *Handlers {
	return &Handlers{
		db:        db,
		hub:       hub,
		wsHandler: websocket.NewHandler(hub),
		cache:     c,
		metrics:   m,
		directory: dir,
		cfg:       cfg,
	}
}

func (h *Handlers) Register(engine *gin.Engine) {
	if h.cfg.MetricsEnabled {
		engine.Use(h.metrics.Middleware())
		engine.GET("/metrics", metrics.Handler())
	}

	r := engine.Group(h.cfg.APIPrefix)

	h.registerSystemRoutes(r)
	h.registerAlertRoutes(r)

	// 推送通道
	r.GET("/ws", middleware.AuthRequired, h.wsHandler.HandleWebSocket)
}

// Alert Module
func (h *Handlers) registerAlertRoutes(r *gin.RouterGroup) {
	alert := r.Group("/alert", middleware.AuthRequired)
	{
		alert.POST("",
			middleware.RateLimiter(middleware.RateLimiterConfig{Rate: h.cfg.CreateRateLimit}),
			middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{Store: h.cache, TTL: h.cfg.DedupWindow}),
			h.handleCreateAlert)

		alert.GET("/nearby", h.handleNearby)

		alert.POST("/:id/respond", h.handleRespond)

		// 旧版扁平路由，移动端灰度期间保留
		alert.POST("/respond", h.handleRespondLegacy)

		alert.PUT("/:id/radius", h.handleUpdateRadius)

		alert.PUT("/:id/close", h.handleCloseAlert)
	}

	poll := r.Group("/poll", middleware.AuthRequired)
	{
		poll.GET("/alerts", h.handlePollAlerts)

		poll.GET("/responses", h.handlePollResponses)
	}

	r.POST("/location", middleware.AuthRequired, h.handleReportLocation)
}
