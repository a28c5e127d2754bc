package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/pkg/response"
)

func (h *Handlers) registerSystemRoutes(r *gin.RouterGroup) {
	system := r.Group("/system")
	{
		system.GET("/health", h.HealthCheck)

		system.GET("/stats", h.SystemStats)
	}
}

// HealthCheck 健康检查接口
func (h *Handlers) HealthCheck(c *gin.Context) {
	// 检查数据库连接
	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database connection failed"})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "database ping failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Format(time.RFC3339)})
}

// SystemStats 运行统计：活跃告警数与推送连接数
func (h *Handlers) SystemStats(c *gin.Context) {
	var activeAlerts int64
	h.db.Model(&models.Alert{}).Where("status = ?", models.AlertActive).Count(&activeAlerts)

	response.Success(c, "ok", gin.H{
		"active_alerts":    activeAlerts,
		"push_connections": h.hub.GetConnectionCount(),
	})
}
