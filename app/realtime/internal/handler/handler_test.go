package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/aggregator"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/moderation"
	"github.com/lk2023060901/xdooria-realtime/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	op   string
	args []any
}

type fakeModerator struct {
	calls []call
	err   error
}

func (m *fakeModerator) Revoke(_ context.Context, credentialID string, ttl time.Duration) error {
	m.calls = append(m.calls, call{"revoke", []any{credentialID, ttl}})
	return m.err
}

func (m *fakeModerator) Logout(_ context.Context, sessionID, credentialID string, ttl time.Duration) error {
	m.calls = append(m.calls, call{"logout", []any{sessionID, credentialID, ttl}})
	return m.err
}

func (m *fakeModerator) Ban(_ context.Context, userID string, until time.Time, reason string) (*model.Ban, error) {
	m.calls = append(m.calls, call{"ban", []any{userID, until, reason}})
	if m.err != nil {
		return nil, m.err
	}
	if until.IsZero() {
		until = time.Now().Add(time.Hour)
	}
	return &model.Ban{UserID: userID, Until: until, Reason: reason}, nil
}

func (m *fakeModerator) Unban(_ context.Context, userID string) error {
	m.calls = append(m.calls, call{"unban", []any{userID}})
	return m.err
}

func (m *fakeModerator) Notify(_ context.Context, userID string, payload any) error {
	m.calls = append(m.calls, call{"notify", []any{userID, payload}})
	return m.err
}

type fakeMonitor struct{}

func (fakeMonitor) Health() aggregator.Health {
	return aggregator.Health{ProcessID: "p1", ActiveConnections: 3, BusConnected: true, SubscribedChannels: 7}
}

func (fakeMonitor) Cluster() []aggregator.Snapshot {
	return []aggregator.Snapshot{{ProcessID: "p1"}, {ProcessID: "p2"}}
}

type fixture struct {
	engine *gin.Engine
	mod    *fakeModerator
	admin  string
	user   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	jm, err := security.NewJWTManager(&security.JWTConfig{SecretKey: "handler-test"})
	require.NoError(t, err)

	token := func(sub string, roles ...string) string {
		tok, err := jm.GenerateToken(&security.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: sub},
			Roles:            roles,
		})
		require.NoError(t, err)
		return tok
	}

	mod := &fakeModerator{}
	h := New(Deps{
		Moderator: mod,
		Monitor:   fakeMonitor{},
		Tokens:    jm,
		WebSocket: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }),
		Metrics:   http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("metrics")) }),
	})
	engine := gin.New()
	h.Register(engine)
	return &fixture{engine: engine, mod: mod, admin: token("ops", AdminRole), user: token("u1")}
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 3.0, body["activeConnections"])
	assert.Equal(t, true, body["busConnected"])
	assert.Equal(t, 0.0, body["queuedMessages"])
	assert.Equal(t, 7.0, body["subscribedChannels"])
}

func TestMountedHandlers(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusTeapot, f.do(http.MethodGet, "/ws", "", nil).Code)
	assert.Equal(t, "metrics", f.do(http.MethodGet, "/metrics", "", nil).Body.String())
}

func TestAdminRequiresRole(t *testing.T) {
	f := newFixture(t)
	body := RevokeRequest{CredentialID: "j1"}

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/admin/sessions/revoke", "", body).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/admin/sessions/revoke", f.user, body).Code)
	assert.Empty(t, f.mod.calls)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/admin/sessions/revoke", f.admin, body).Code)
	require.Len(t, f.mod.calls, 1)
}

func TestRevokeAndLogout(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/admin/sessions/revoke", f.admin, RevokeRequest{CredentialID: "j1", TTLSeconds: 60})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, call{"revoke", []any{"j1", time.Minute}}, f.mod.calls[0])

	rec = f.do(http.MethodPost, "/admin/logout", f.admin, LogoutRequest{SessionID: "s1", CredentialID: "j1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, call{"logout", []any{"s1", "j1", time.Duration(0)}}, f.mod.calls[1])

	rec = f.do(http.MethodPost, "/admin/logout", f.admin, map[string]string{"credentialId": "j1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, f.mod.calls, 2)
}

func TestBanAndUnban(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/admin/bans", f.admin, BanRequest{UserID: "u9", Reason: "spam"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.mod.calls[0].args[1].(time.Time).IsZero())

	before := time.Now()
	rec = f.do(http.MethodPost, "/admin/bans", f.admin, BanRequest{UserID: "u9", DurationSeconds: 3600})
	require.Equal(t, http.StatusOK, rec.Code)
	until := f.mod.calls[1].args[1].(time.Time)
	assert.WithinDuration(t, before.Add(time.Hour), until, 5*time.Second)

	var resp struct {
		Code int       `json:"code"`
		Data model.Ban `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "u9", resp.Data.UserID)

	rec = f.do(http.MethodDelete, "/admin/bans/u9", f.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, call{"unban", []any{"u9"}}, f.mod.calls[2])
}

func TestDurationUpperBound(t *testing.T) {
	f := newFixture(t)
	const huge = int64(1) << 62

	rec := f.do(http.MethodPost, "/admin/bans", f.admin, BanRequest{UserID: "u9", DurationSeconds: huge})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodPost, "/admin/sessions/revoke", f.admin, RevokeRequest{CredentialID: "j1", TTLSeconds: huge})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodPost, "/admin/logout", f.admin, LogoutRequest{SessionID: "s1", TTLSeconds: huge})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.mod.calls)

	rec = f.do(http.MethodPost, "/admin/bans", f.admin, BanRequest{UserID: "u9", DurationSeconds: 365 * 24 * 3600})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotify(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/admin/notify", f.admin, map[string]any{
		"userId":  "u1",
		"payload": map[string]string{"kind": "mention"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.mod.calls, 1)
	payload := f.mod.calls[0].args[1].(json.RawMessage)
	assert.JSONEq(t, `{"kind":"mention"}`, string(payload))
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)

	f.mod.err = errors.Wrap(moderation.ErrInvalidArgument, "bad")
	rec := f.do(http.MethodDelete, "/admin/bans/u1", f.admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.mod.err = errors.New("redis down")
	rec = f.do(http.MethodDelete, "/admin/bans/u1", f.admin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCluster(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/admin/cluster", f.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"processId":"p2"`)
}
