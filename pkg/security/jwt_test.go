package security

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, secret string) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(&JWTConfig{SecretKey: secret, ExpiresIn: time.Hour})
	require.NoError(t, err)
	return m
}

func TestGenerateAndValidate(t *testing.T) {
	m := newTestManager(t, "s3cret")

	token, err := m.GenerateToken(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
		SessionID:        "sess-1",
		Username:         "alice",
		Roles:            []string{"admin"},
	})
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "alice", claims.Username)
	assert.NotEmpty(t, claims.ID)
	assert.True(t, claims.HasRole("admin"))
	assert.False(t, claims.HasRole("root"))
}

func TestValidateErrors(t *testing.T) {
	m := newTestManager(t, "s3cret")
	other := newTestManager(t, "other")

	expired, err := m.GenerateToken(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	require.NoError(t, err)
	_, err = m.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrTokenExpired)

	forged, err := other.GenerateToken(&Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"}})
	require.NoError(t, err)
	_, err = m.ValidateToken(forged)
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	_, err = m.ValidateToken("a.b.c")
	assert.ErrorIs(t, err, ErrTokenMalformed)

	_, err = m.ValidateToken("")
	assert.ErrorIs(t, err, ErrTokenMissing)
}

func TestNewJWTManagerRequiresSecret(t *testing.T) {
	_, err := NewJWTManager(&JWTConfig{})
	assert.ErrorIs(t, err, ErrSecretKeyEmpty)

	_, err = NewJWTManager(&JWTConfig{SecretKey: "x", Algorithm: "none"})
	assert.ErrorIs(t, err, ErrAlgorithmInvalid)
}
