package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"HibiscusSOS/pkg/cache"
)

// IdempotencyConfig 幂等中间件配置
type IdempotencyConfig struct {
	HeaderName string        // Idempotency-Key 的请求头名
	TTL        time.Duration // 决定一段时间内重复请求的拒绝窗口
	Store      cache.Cache   // 去重键存储，本地或Redis
}

// IdempotencyMiddleware 拒绝去重窗口内携带相同幂等键的重复请求。
// 未携带幂等键的请求直接放行，由业务层指纹去重兜底
func IdempotencyMiddleware(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Idempotency-Key"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	store := cfg.Store
	if store == nil {
		store = cache.NewLocalCache(cache.LocalConfig{
			MaxSize:           10000,
			DefaultExpiration: cfg.TTL,
			CleanupInterval:   time.Minute,
		})
	}
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if key == "" {
			c.Next()
			return
		}
		ok, err := store.SetNX(c.Request.Context(), "idem:"+key, 1, cfg.TTL)
		if err != nil {
			// 存储不可用时放行，幂等性由业务层指纹去重兜底
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "duplicate request"})
			return
		}
		c.Next()
	}
}
