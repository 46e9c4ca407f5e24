package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/xdooria-realtime/pkg/database/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	c, err := redis.NewClient(&redis.Config{
		Standalone: &redis.NodeConfig{Host: "127.0.0.1", Port: 16379},
		KeyPrefix:  "test:" + uuid.New().String() + ":",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		c.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRedisLimiter(t *testing.T) {
	client := newRedisClient(t)
	l, err := NewRedis(client, "cred", Config{Limit: 3, Window: time.Minute})
	require.NoError(t, err)

	now := int64(1_700_000_000_000)
	l.now = func() int64 { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	now += time.Minute.Milliseconds() + 1
	ok, err = l.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}
