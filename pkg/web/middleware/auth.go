package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/xdooria-realtime/pkg/security"
)

// ClaimsKey Context 中存储 Claims 的 key
const ClaimsKey = "jwt_claims"

// TokenValidator 校验 Bearer Token
type TokenValidator interface {
	ValidateToken(token string) (*security.Claims, error)
}

// RequireRole 校验 Authorization: Bearer 并要求 Claims 拥有指定角色
func RequireRole(v TokenValidator, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			abort(c, http.StatusUnauthorized, 40002, security.ErrTokenMissing.Error())
			return
		}

		claims, err := v.ValidateToken(token)
		if err != nil {
			abort(c, http.StatusUnauthorized, 40002, err.Error())
			return
		}

		if role != "" && !claims.HasRole(role) {
			abort(c, http.StatusForbidden, 40003, "forbidden: insufficient roles")
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// GetClaims 从 Context 获取 Claims
func GetClaims(c *gin.Context) (*security.Claims, bool) {
	if v, ok := c.Get(ClaimsKey); ok {
		claims, ok := v.(*security.Claims)
		return claims, ok
	}
	return nil, false
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func abort(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":    code,
		"message": message,
		"data":    nil,
	})
}
