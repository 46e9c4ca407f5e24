package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lk2023060901/xdooria-realtime/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	m, err := security.NewJWTManager(&security.JWTConfig{SecretKey: "k"})
	require.NoError(t, err)

	admin, err := m.GenerateToken(&security.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops"},
		Roles:            []string{"admin"},
	})
	require.NoError(t, err)
	user, err := m.GenerateToken(&security.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/admin", RequireRole(m, "admin"), func(c *gin.Context) {
		claims, ok := GetClaims(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Subject)
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"no role", "Bearer " + user, http.StatusForbidden},
		{"admin", "bearer " + admin, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}
