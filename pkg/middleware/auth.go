package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// 认证上下文中的用户字段，与推送层保持一致
const UserField = "user_id"

// AuthRequired 从请求头解析用户身份并写入上下文。
// 会话与认证体系是外部协作方，这里只做身份传递：
// X-User-ID 缺失即视为未认证
func AuthRequired(c *gin.Context) {
	userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if userID == "" {
		userID = strings.TrimSpace(c.Query("user_id"))
	}
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return
	}
	c.Set(UserField, userID)
	c.Next()
}
