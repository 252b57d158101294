package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"studyhub-server/internal/core/auth"
	resp "studyhub-server/internal/transport/http/response"
)

// AuthJWT 受保护路由唯一的认证方式：Bearer access token。
// 缺失、签名坏、过期一律 401，不区分原因。
func AuthJWT(ts *auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ah := c.GetHeader("Authorization")
		if !strings.HasPrefix(ah, "Bearer ") {
			resp.Fail(c, resp.CodeUnauthorized, "Access Denied")
			return
		}
		claims, err := ts.Verify(strings.TrimPrefix(ah, "Bearer "))
		if err != nil {
			resp.Fail(c, resp.CodeUnauthorized, "Access Denied")
			return
		}
		c.Set("userId", claims.UID)
		c.Set("claims", claims)
		c.Next()
	}
}
