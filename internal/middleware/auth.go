package middleware

import (
	"net/http"
	"strings"

	"toad-architect-go/pkg/log"
	"toad-architect-go/pkg/token"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminAuth 创建一个 Gin 中间件，要求请求携带角色为 ADMIN 的 JWT。
func AdminAuth(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			AbortWithError(c, http.StatusUnauthorized, "Unauthorized", "Missing Authorization header")
			return
		}

		// Token 通常以 "Bearer <token>" 的形式提供，我们需要提取出 token 本身
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			AbortWithError(c, http.StatusUnauthorized, "Unauthorized", "Invalid Authorization header format")
			return
		}

		claims, err := jwtManager.VerifyToken(strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			log.FromContext(c.Request.Context(), nil).Warn("管理员 token 校验失败", zap.Error(err))
			AbortWithError(c, http.StatusUnauthorized, "Unauthorized", "Invalid or expired token")
			return
		}

		// 检查角色是否为 "ADMIN"
		if claims.Role != token.RoleAdmin {
			AbortWithError(c, http.StatusForbidden, "Forbidden", "Admin role required")
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}
