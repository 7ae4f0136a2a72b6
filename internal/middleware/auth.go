// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"resumecast-search/internal/model"
	"resumecast-search/pkg/log"
	"resumecast-search/pkg/token"

	"github.com/gin-gonic/gin"
)

const callerKey = "caller"

// CallerFrom 返回认证中间件写入上下文的调用者，未认证时为匿名调用者。
func CallerFrom(c *gin.Context) model.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(model.Caller); ok {
			return caller
		}
	}
	return model.Caller{}
}

// extractToken 从 "Bearer <token>" 形式的授权头中提取 token。
func extractToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", true
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix)), true
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": msg, "data": nil})
}

func authenticate(c *gin.Context, jwtManager *token.JWTManager, required bool) {
	tokenString, present := extractToken(c)
	if !present {
		if required {
			abort(c, http.StatusUnauthorized, "请求未包含授权头")
			return
		}
		c.Next()
		return
	}
	if tokenString == "" {
		abort(c, http.StatusUnauthorized, "无效的授权头格式")
		return
	}

	claims, err := jwtManager.VerifyToken(tokenString)
	if err != nil {
		log.Warnf("token 验证失败: %v", err)
		abort(c, http.StatusUnauthorized, "无效或已过期的 token")
		return
	}

	c.Set(callerKey, model.Caller{UserID: claims.UserID, Role: claims.Role})
	c.Next()
}

// RequireAuth 要求请求携带有效的 JWT，并将调用者身份存入 Gin 的上下文中。
func RequireAuth(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, jwtManager, true)
	}
}

// OptionalAuth 允许匿名访问；携带了 token 时必须有效。
func OptionalAuth(jwtManager *token.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, jwtManager, false)
	}
}

// RequireAdmin 检查用户是否具有管理员权限。
// 此中间件必须在 RequireAuth 之后使用。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := CallerFrom(c)
		if !caller.Authenticated() {
			abort(c, http.StatusUnauthorized, "请求未认证")
			return
		}
		if !caller.IsAdmin() {
			abort(c, http.StatusForbidden, "权限不足，需要管理员权限")
			return
		}
		c.Next()
	}
}
