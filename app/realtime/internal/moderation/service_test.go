package moderation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/bus"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/registry"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/store"
	"github.com/lk2023060901/xdooria-realtime/pkg/idgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type kickSink struct {
	mu     sync.Mutex
	kicked []string
}

func (s *kickSink) Deliver(*model.Event) error { return nil }

func (s *kickSink) Kick(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kicked = append(s.kicked, reason)
}

func (s *kickSink) reasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.kicked...)
}

type fixture struct {
	clk *clock.Mock
	mem *store.Memory
	reg *registry.Registry
	svc *Service
}

func newFixture(t *testing.T, b Publisher) *fixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ids, err := idgen.NewSonyflake(9)
	require.NoError(t, err)
	mem := store.NewMemory(clk, ids)
	reg := registry.New("p1", registry.WithClock(clk))
	svc := New(nil, Deps{
		Registry:    reg,
		Sessions:    mem,
		Revocations: mem,
		Bans:        mem,
		Bus:         b,
		Clock:       clk,
	})
	return &fixture{clk: clk, mem: mem, reg: reg, svc: svc}
}

func (f *fixture) conn(t *testing.T, connID, userID, sessionID, credentialID string) *kickSink {
	t.Helper()
	sink := &kickSink{}
	_, err := f.reg.Register(connID, &model.Identity{UserID: userID, SessionID: sessionID, CredentialID: credentialID}, sink)
	require.NoError(t, err)
	return sink
}

func TestRevokeKicksCredential(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.conn(t, "a", "u1", "s1", "j1")
	b := f.conn(t, "b", "u1", "s2", "j2")

	require.NoError(t, f.svc.Revoke(ctx, "j1", time.Hour))
	require.NoError(t, f.svc.Revoke(ctx, "j1", 0))

	revoked, err := f.mem.IsRevoked(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.Equal(t, []string{"revoked", "revoked"}, a.reasons())
	assert.Empty(t, b.reasons())

	assert.ErrorIs(t, f.svc.Revoke(ctx, "", time.Hour), ErrInvalidArgument)
}

func TestLogoutDeletesSessionAndRevokes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.mem.CreateSession(ctx, &model.Session{
		SessionID: "s1", UserID: "u1", ExpiresAt: f.clk.Now().Add(time.Hour),
	}))
	a := f.conn(t, "a", "u1", "s1", "j1")
	other := f.conn(t, "b", "u1", "s2", "j2")

	require.NoError(t, f.svc.Logout(ctx, "s1", "j1", time.Hour))

	sess, err := f.mem.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, sess)
	revoked, err := f.mem.IsRevoked(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, revoked)

	assert.Equal(t, []string{"revoked"}, a.reasons())
	assert.Empty(t, other.reasons())

	assert.ErrorIs(t, f.svc.Logout(ctx, "", "j1", 0), ErrInvalidArgument)
}

func TestBanKicksUser(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a1 := f.conn(t, "a1", "u1", "s1", "j1")
	a2 := f.conn(t, "a2", "u1", "s2", "j2")
	b := f.conn(t, "b", "u2", "s3", "j3")

	until := f.clk.Now().Add(time.Hour)
	ban, err := f.svc.Ban(ctx, "u1", until, "spam")
	require.NoError(t, err)
	assert.Equal(t, until, ban.Until)
	assert.Equal(t, "spam", ban.Reason)

	stored, err := f.mem.GetBan(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Active(f.clk.Now()))

	assert.Equal(t, []string{"banned"}, a1.reasons())
	assert.Equal(t, []string{"banned"}, a2.reasons())
	assert.Empty(t, b.reasons())

	require.NoError(t, f.svc.Unban(ctx, "u1"))
	stored, err = f.mem.GetBan(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestBanDuration(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	ban, err := f.svc.Ban(ctx, "u1", time.Time{}, "")
	require.NoError(t, err)
	assert.Equal(t, f.clk.Now().Add(DefaultConfig().DefaultBanDuration), ban.Until)

	_, err = f.svc.Ban(ctx, "u1", f.clk.Now().Add(-time.Minute), "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.svc.Ban(ctx, "", f.clk.Now().Add(time.Minute), "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBanReachesOtherProcess(t *testing.T) {
	hub := bus.NewMemoryHub()
	b1 := bus.New("p1", bus.NewMemoryBroker(hub), nil)
	b2 := bus.New("p2", bus.NewMemoryBroker(hub), nil)

	f := newFixture(t, b1)
	remote := newFixture(t, b2)
	remote.clk.Set(f.clk.Now())
	remote.svc.RegisterBusHandlers(b2)
	f.svc.RegisterBusHandlers(b1)

	for _, b := range []*bus.Bus{b1, b2} {
		require.NoError(t, b.Start(context.Background()))
		t.Cleanup(func() { _ = b.Stop() })
	}

	local := f.conn(t, "a", "u1", "s1", "j1")
	far := remote.conn(t, "b", "u1", "s2", "j2")

	_, err := f.svc.Ban(context.Background(), "u1", f.clk.Now().Add(time.Hour), "abuse")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(far.reasons()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"banned"}, far.reasons())
	assert.Equal(t, []string{"banned"}, local.reasons())
}

func TestRevokeReachesOtherProcess(t *testing.T) {
	hub := bus.NewMemoryHub()
	b1 := bus.New("p1", bus.NewMemoryBroker(hub), nil)
	b2 := bus.New("p2", bus.NewMemoryBroker(hub), nil)

	f := newFixture(t, b1)
	remote := newFixture(t, b2)
	remote.svc.RegisterBusHandlers(b2)
	for _, b := range []*bus.Bus{b1, b2} {
		require.NoError(t, b.Start(context.Background()))
		t.Cleanup(func() { _ = b.Stop() })
	}

	far := remote.conn(t, "b", "u1", "s1", "j1")
	untouched := remote.conn(t, "c", "u1", "s1", "j9")

	require.NoError(t, f.svc.Revoke(context.Background(), "j1", time.Hour))
	require.Eventually(t, func() bool { return len(far.reasons()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, untouched.reasons())
}

type recordingNotifier struct {
	userID  string
	payload any
}

func (n *recordingNotifier) Notify(userID string, payload any) error {
	n.userID, n.payload = userID, payload
	return nil
}

func TestNotify(t *testing.T) {
	f := newFixture(t, nil)
	assert.Error(t, f.svc.Notify(context.Background(), "u1", "x"))

	n := &recordingNotifier{}
	f.svc.notifier = n
	require.NoError(t, f.svc.Notify(context.Background(), "u1", map[string]string{"k": "v"}))
	assert.Equal(t, "u1", n.userID)
	assert.ErrorIs(t, f.svc.Notify(context.Background(), "", nil), ErrInvalidArgument)
}
