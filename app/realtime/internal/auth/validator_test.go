package auth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/store"
	"github.com/lk2023060901/xdooria-realtime/pkg/idgen"
	"github.com/lk2023060901/xdooria-realtime/pkg/ratelimit"
	"github.com/lk2023060901/xdooria-realtime/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "realtime-test-secret"

type fixture struct {
	jwt       *security.JWTManager
	mem       *store.Memory
	validator *Validator
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()
	m, err := security.NewJWTManager(&security.JWTConfig{SecretKey: testSecret})
	require.NoError(t, err)

	ids, err := idgen.NewSonyflake(3)
	require.NoError(t, err)
	mem := store.NewMemory(nil, ids)

	v, err := NewValidator(cfg, m, Stores{Sessions: mem, Revocations: mem, Bans: mem})
	require.NoError(t, err)
	return &fixture{jwt: m, mem: mem, validator: v}
}

// login 创建会话并签发凭证
func (f *fixture) login(t *testing.T, userID, sessionID string) (string, *security.Claims) {
	t.Helper()
	now := time.Now()
	require.NoError(t, f.mem.CreateSession(context.Background(), &model.Session{
		SessionID: sessionID,
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}))
	claims := &security.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
		SessionID:        sessionID,
		Username:         "name-" + userID,
	}
	tok, err := f.jwt.GenerateToken(claims)
	require.NoError(t, err)
	return tok, claims
}

func TestValidateSuccess(t *testing.T) {
	f := newFixture(t, nil)
	tok, claims := f.login(t, "u1", "s1")

	res := f.validator.Validate(context.Background(), tok, "10.0.0.1")
	require.True(t, res.Valid, res.Reason)
	assert.Equal(t, ReasonNone, res.Reason)
	assert.Equal(t, "u1", res.Identity.UserID)
	assert.Equal(t, "s1", res.Identity.SessionID)
	assert.Equal(t, claims.ID, res.Identity.CredentialID)
	assert.Equal(t, "name-u1", res.Identity.Username)
	assert.False(t, res.Identity.ExpiresAt.IsZero())
}

func TestValidateShape(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	cases := map[string]Reason{
		"":            ReasonCredentialRequired,
		"abc":         ReasonMalformed,
		"a.b":         ReasonMalformed,
		"a..c":        ReasonMalformed,
		".b.c":        ReasonMalformed,
		"a.b.c.d":     ReasonMalformed,
		"aaa.bbb.ccc": ReasonInvalidPayload,
	}
	for cred, want := range cases {
		res := f.validator.Validate(ctx, cred, "")
		assert.False(t, res.Valid, cred)
		assert.Equal(t, want, res.Reason, cred)
	}
}

func TestValidateExpired(t *testing.T) {
	f := newFixture(t, nil)
	past := time.Now().Add(-time.Hour)
	tok, err := f.jwt.GenerateToken(&security.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(past),
		},
		SessionID: "s1",
	})
	require.NoError(t, err)

	res := f.validator.Validate(context.Background(), tok, "")
	assert.Equal(t, ReasonExpired, res.Reason)
}

func TestValidateBadSignatureAndMissingClaims(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	other, err := security.NewJWTManager(&security.JWTConfig{SecretKey: "other-secret"})
	require.NoError(t, err)
	forged, err := other.GenerateToken(&security.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
		SessionID:        "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidPayload, f.validator.Validate(ctx, forged, "").Reason)

	noSession, err := f.jwt.GenerateToken(&security.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidPayload, f.validator.Validate(ctx, noSession, "").Reason)

	noSubject, err := f.jwt.GenerateToken(&security.Claims{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidPayload, f.validator.Validate(ctx, noSubject, "").Reason)
}

func TestValidateRevokedCredential(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tok, claims := f.login(t, "u1", "s1")

	require.True(t, f.validator.Validate(ctx, tok, "").Valid)

	require.NoError(t, f.mem.Revoke(ctx, claims.ID, time.Hour))
	assert.Equal(t, ReasonRevoked, f.validator.Validate(ctx, tok, "").Reason)
}

func TestValidateRevokedAfterRateLimitExhausted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tok, claims := f.login(t, "u1", "s1")

	for i := 0; i < 100; i++ {
		require.True(t, f.validator.Validate(ctx, tok, "").Valid, i)
	}
	assert.Equal(t, ReasonRateLimited, f.validator.Validate(ctx, tok, "").Reason)

	require.NoError(t, f.mem.Revoke(ctx, claims.ID, time.Hour))
	res := f.validator.Validate(ctx, tok, "")
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonRevoked, res.Reason)
}

func TestValidateSessionState(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		tok, _ := f.login(t, "u1", "s-missing")
		require.NoError(t, f.mem.DeleteSession(ctx, "s-missing"))
		assert.Equal(t, ReasonRevoked, f.validator.Validate(ctx, tok, "").Reason)
	})

	t.Run("revoked", func(t *testing.T) {
		tok, _ := f.login(t, "u1", "s-revoked")
		require.NoError(t, f.mem.RevokeSession(ctx, "s-revoked"))
		assert.Equal(t, ReasonRevoked, f.validator.Validate(ctx, tok, "").Reason)
	})

	t.Run("other user", func(t *testing.T) {
		f.login(t, "u2", "s-u2")
		tok, err := f.jwt.GenerateToken(&security.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
			SessionID:        "s-u2",
		})
		require.NoError(t, err)
		assert.Equal(t, ReasonRevoked, f.validator.Validate(ctx, tok, "").Reason)
	})

	t.Run("expired session", func(t *testing.T) {
		tok, _ := f.login(t, "u1", "s-old")
		require.NoError(t, f.mem.CreateSession(ctx, &model.Session{
			SessionID: "s-old",
			UserID:    "u1",
			ExpiresAt: time.Now().Add(-time.Second),
		}))
		assert.Equal(t, ReasonRevoked, f.validator.Validate(ctx, tok, "").Reason)
	})
}

func TestValidateBanned(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tok, _ := f.login(t, "u1", "s1")

	require.NoError(t, f.mem.Ban(ctx, &model.Ban{UserID: "u1", Until: time.Now().Add(time.Hour)}))
	assert.Equal(t, ReasonBanned, f.validator.Validate(ctx, tok, "").Reason)

	require.NoError(t, f.mem.Unban(ctx, "u1"))
	assert.True(t, f.validator.Validate(ctx, tok, "").Valid)
}

func TestValidateRateLimit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tok, _ := f.login(t, "u1", "s1")

	valid, limited := 0, 0
	for i := 0; i < 120; i++ {
		res := f.validator.Validate(ctx, tok, "")
		switch {
		case res.Valid:
			valid++
		case res.Reason == ReasonRateLimited:
			limited++
		default:
			t.Fatalf("unexpected reason %q", res.Reason)
		}
	}
	assert.Equal(t, 100, valid)
	assert.Equal(t, 20, limited)

	// 其它凭证不受影响
	other, _ := f.login(t, "u2", "s2")
	assert.True(t, f.validator.Validate(ctx, other, "").Valid)
}

func TestValidateRateLimitBeforeDecode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CredentialLimit = ratelimit.Config{Limit: 1, Window: time.Minute}
	f := newFixture(t, cfg)
	ctx := context.Background()

	assert.Equal(t, ReasonInvalidPayload, f.validator.Validate(ctx, "aaa.bbb.ccc", "").Reason)
	assert.Equal(t, ReasonRateLimited, f.validator.Validate(ctx, "aaa.bbb.ccc", "").Reason)
}

func TestValidateSourceLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SourceLimit = ratelimit.Config{Limit: 3, Window: time.Minute}
	f := newFixture(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tok, _ := f.login(t, fmt.Sprintf("u%d", i), fmt.Sprintf("s%d", i))
		require.True(t, f.validator.Validate(ctx, tok, "1.2.3.4").Valid)
	}
	tok, _ := f.login(t, "u9", "s9")
	assert.Equal(t, ReasonRateLimited, f.validator.Validate(ctx, tok, "1.2.3.4").Reason)
	assert.True(t, f.validator.Validate(ctx, tok, "5.6.7.8").Valid)
}

func TestSetRateLimits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tok, _ := f.login(t, "u1", "s1")

	require.NoError(t, f.validator.SetRateLimits(
		ratelimit.Config{Limit: 2, Window: time.Minute},
		ratelimit.Config{},
	))
	assert.True(t, f.validator.Validate(ctx, tok, "").Valid)
	assert.True(t, f.validator.Validate(ctx, tok, "").Valid)
	assert.Equal(t, ReasonRateLimited, f.validator.Validate(ctx, tok, "").Reason)

	assert.Error(t, f.validator.SetRateLimits(ratelimit.Config{}, ratelimit.Config{}))
}

type failingStore struct{}

var errDown = errors.New("connection refused")

func (failingStore) GetSession(context.Context, string) (*model.Session, error) { return nil, errDown }
func (failingStore) CreateSession(context.Context, *model.Session) error     { return errDown }
func (failingStore) DeleteSession(context.Context, string) error             { return errDown }
func (failingStore) RevokeSession(context.Context, string) error             { return errDown }
func (failingStore) Revoke(context.Context, string, time.Duration) error      { return errDown }
func (failingStore) IsRevoked(context.Context, string) (bool, error)          { return false, errDown }
func (failingStore) Ban(context.Context, *model.Ban) error                    { return errDown }
func (failingStore) Unban(context.Context, string) error                      { return errDown }
func (failingStore) GetBan(context.Context, string) (*model.Ban, error)       { return nil, errDown }

func TestValidateStoreUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	tok, _ := f.login(t, "u1", "s1")

	// 每一步的存储故障都不能被当作吊销
	stages := map[string]Stores{
		"revocations": {Sessions: f.mem, Revocations: failingStore{}, Bans: f.mem},
		"sessions":    {Sessions: failingStore{}, Revocations: f.mem, Bans: f.mem},
		"bans":        {Sessions: f.mem, Revocations: f.mem, Bans: failingStore{}},
	}
	for name, stores := range stages {
		v, err := NewValidator(nil, f.jwt, stores)
		require.NoError(t, err)
		res := v.Validate(context.Background(), tok, "")
		assert.Equal(t, ReasonStoreUnavailable, res.Reason, name)
		assert.False(t, res.Reason.Terminal(), name)
	}
}

func TestRecheck(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	tok, claims := f.login(t, "u1", "s1")

	res := f.validator.Validate(ctx, tok, "")
	require.True(t, res.Valid)

	// 复核不计入限流
	require.NoError(t, f.validator.SetRateLimits(ratelimit.Config{Limit: 1, Window: time.Minute}, ratelimit.Config{}))
	for i := 0; i < 5; i++ {
		assert.True(t, f.validator.Recheck(ctx, res.Identity).Valid)
	}

	require.NoError(t, f.mem.Revoke(ctx, claims.ID, time.Hour))
	r := f.validator.Recheck(ctx, res.Identity)
	assert.Equal(t, ReasonRevoked, r.Reason)
	assert.True(t, r.Reason.Terminal())
}

type blockingSessions struct {
	store.SessionStore
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingSessions) GetSession(ctx context.Context, id string) (*model.Session, error) {
	b.calls.Add(1)
	b.entered <- struct{}{}
	<-b.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.SessionStore.GetSession(ctx, id)
}

func TestSharedSessionLookupSurvivesCallerCancel(t *testing.T) {
	f := newFixture(t, nil)
	f.login(t, "u1", "s1")
	sessions := &blockingSessions{
		SessionStore: f.mem,
		entered:      make(chan struct{}, 2),
		release:      make(chan struct{}),
	}
	v, err := NewValidator(nil, f.jwt, Stores{Sessions: sessions, Revocations: f.mem, Bans: f.mem})
	require.NoError(t, err)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := v.loadSession(first, "s1")
		firstErr <- err
	}()
	<-sessions.entered
	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	second := make(chan *model.Session, 1)
	go func() {
		s, err := v.loadSession(context.Background(), "s1")
		assert.NoError(t, err)
		second <- s
	}()
	time.Sleep(50 * time.Millisecond)
	close(sessions.release)

	s := <-second
	require.NotNil(t, s)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, int32(1), sessions.calls.Load())
}
