package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"HibiscusSOS/pkg/logger"
)

// RateLimiterConfig 限流配置
//
// Rate 形如 "10-M"（每分钟10次）、"100-H"；按客户端IP限流
type RateLimiterConfig struct {
	Rate        string `json:"rate"`
	DenyStatus  int    `json:"deny_status"` // 默认 429
	DenyMessage string `json:"deny_message"`
}

var (
	rateLimitAllowed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sos_rate_limit_allowed_total",
		Help: "Total requests allowed by the rate limiter",
	}, []string{"route"})
	rateLimitDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sos_rate_limit_denied_total",
		Help: "Total requests denied by the rate limiter",
	}, []string{"route"})
)

// RateLimiter 基于内存存储的IP限流中间件
func RateLimiter(cfg RateLimiterConfig) gin.HandlerFunc {
	rate, err := limiter.NewRateFromFormatted(cfg.Rate)
	if err != nil {
		logger.Warn("invalid rate limit format, rate limiting disabled")
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.DenyStatus == 0 {
		cfg.DenyStatus = http.StatusTooManyRequests
	}
	if cfg.DenyMessage == "" {
		cfg.DenyMessage = "too many requests"
	}

	instance := limiter.New(memory.NewStore(), rate)

	return func(c *gin.Context) {
		ctx, err := instance.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			c.Next()
			return
		}
		if ctx.Reached {
			rateLimitDenied.WithLabelValues(c.FullPath()).Inc()
			c.AbortWithStatusJSON(cfg.DenyStatus, gin.H{"error": cfg.DenyMessage})
			return
		}
		rateLimitAllowed.WithLabelValues(c.FullPath()).Inc()
		c.Next()
	}
}
