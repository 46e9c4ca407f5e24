package store

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/pkg/idgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T) (*Memory, *clock.Mock) {
	t.Helper()
	ids, err := idgen.NewSonyflake(1)
	require.NoError(t, err)
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewMemory(clk, ids), clk
}

func TestMemorySessions(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()

	got, err := m.GetSession(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	s := &model.Session{
		SessionID: "s1",
		UserID:    "u1",
		IssuedAt:  clk.Now(),
		ExpiresAt: clk.Now().Add(time.Hour),
	}
	require.NoError(t, m.CreateSession(ctx, s))

	got, err = m.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, got.Active(clk.Now()))

	// 返回的是副本
	got.UserID = "other"
	again, _ := m.GetSession(ctx, "s1")
	assert.Equal(t, "u1", again.UserID)

	require.NoError(t, m.RevokeSession(ctx, "s1"))
	got, _ = m.GetSession(ctx, "s1")
	assert.True(t, got.Revoked)
	assert.False(t, got.Active(clk.Now()))

	require.NoError(t, m.RevokeSession(ctx, "missing"))

	require.NoError(t, m.DeleteSession(ctx, "s1"))
	got, _ = m.GetSession(ctx, "s1")
	assert.Nil(t, got)
}

func TestMemoryRevocationExpires(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Revoke(ctx, "jti-1", time.Minute))
	revoked, err := m.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// 重复吊销是幂等的
	require.NoError(t, m.Revoke(ctx, "jti-1", time.Minute))

	clk.Add(time.Minute)
	revoked, _ = m.IsRevoked(ctx, "jti-1")
	assert.False(t, revoked)

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryBans(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.Ban(ctx, &model.Ban{UserID: "u1", Until: clk.Now().Add(time.Hour), Reason: "spam"}))

	b, err := m.GetBan(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "spam", b.Reason)
	assert.Equal(t, clk.Now(), b.CreatedAt)

	clk.Add(time.Hour)
	b, err = m.GetBan(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, b)

	require.NoError(t, m.Ban(ctx, &model.Ban{UserID: "u2", Until: clk.Now().Add(time.Hour)}))
	require.NoError(t, m.Unban(ctx, "u2"))
	b, _ = m.GetBan(ctx, "u2")
	assert.Nil(t, b)
}

func TestMemoryMessages(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	first, err := m.CreateMessage(ctx, "room-1", "u1", "hello", nil)
	require.NoError(t, err)
	second, err := m.CreateMessage(ctx, "room-1", "u2", "hi", json.RawMessage(`{"k":1}`))
	require.NoError(t, err)
	_, err = m.CreateMessage(ctx, "room-2", "u1", "elsewhere", nil)
	require.NoError(t, err)

	assert.NotZero(t, first.ID)
	assert.Greater(t, second.ID, first.ID)

	msgs := m.Messages("room-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.JSONEq(t, `{"k":1}`, string(msgs[1].Metadata))
}

func TestMemoryMessagesKeepMostRecent(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	total := MemoryMessageLimit + 10
	for i := 0; i < total; i++ {
		_, err := m.CreateMessage(ctx, "room-1", "u1", strconv.Itoa(i), nil)
		require.NoError(t, err)
	}

	msgs := m.Messages("room-1")
	require.Len(t, msgs, MemoryMessageLimit)
	assert.Equal(t, "10", msgs[0].Content)
	assert.Equal(t, strconv.Itoa(total-1), msgs[len(msgs)-1].Content)
}

func TestMemoryPresenceCounterFloorsAtZero(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	n, _ := m.Incr(ctx, "u1")
	assert.Equal(t, int64(1), n)
	n, _ = m.Incr(ctx, "u1")
	assert.Equal(t, int64(2), n)

	n, _ = m.Decr(ctx, "u1")
	assert.Equal(t, int64(1), n)
	n, _ = m.Decr(ctx, "u1")
	assert.Equal(t, int64(0), n)
	n, _ = m.Decr(ctx, "u1")
	assert.Equal(t, int64(0), n)

	n, _ = m.Incr(ctx, "u1")
	assert.Equal(t, int64(1), n)
}

func TestMemorySweepRemovesExpiredSessions(t *testing.T) {
	m, clk := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, m.CreateSession(ctx, &model.Session{SessionID: "short", UserID: "u", ExpiresAt: clk.Now().Add(time.Minute)}))
	require.NoError(t, m.CreateSession(ctx, &model.Session{SessionID: "long", UserID: "u", ExpiresAt: clk.Now().Add(time.Hour)}))

	clk.Add(2 * time.Minute)
	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, _ := m.GetSession(ctx, "short")
	assert.Nil(t, s)
	s, _ = m.GetSession(ctx, "long")
	assert.NotNil(t, s)
}
