package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiterWindow(t *testing.T) {
	mock := clock.NewMock()
	l, err := NewLocal(Config{Limit: 100, Window: time.Minute}, WithClock(mock))
	require.NoError(t, err)

	ctx := context.Background()
	allowed := 0
	for i := 0; i < 120; i++ {
		ok, err := l.Allow(ctx, "cred")
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	assert.Equal(t, 100, allowed)

	ok, _ := l.Allow(ctx, "other")
	assert.True(t, ok, "keys are independent")

	// 窗口滚动后恢复
	mock.Add(time.Minute + time.Millisecond)
	ok, _ = l.Allow(ctx, "cred")
	assert.True(t, ok)
}

func TestLocalLimiterRolling(t *testing.T) {
	mock := clock.NewMock()
	l, err := NewLocal(Config{Limit: 2, Window: 10 * time.Second}, WithClock(mock))
	require.NoError(t, err)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "k")
	require.True(t, ok)
	mock.Add(6 * time.Second)
	ok, _ = l.Allow(ctx, "k")
	require.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	require.False(t, ok)

	// 第一条在 t=10s 之后滑出窗口
	mock.Add(5 * time.Second)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	assert.False(t, ok)
}

func TestLocalLimiterSetConfig(t *testing.T) {
	mock := clock.NewMock()
	l, err := NewLocal(Config{Limit: 1, Window: time.Minute}, WithClock(mock))
	require.NoError(t, err)
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "k")
	require.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	require.False(t, ok)

	require.NoError(t, l.SetConfig(Config{Limit: 3, Window: time.Minute}))
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, 3, l.Config().Limit)

	assert.ErrorIs(t, l.SetConfig(Config{}), ErrInvalidConfig)
}

func TestLocalLimiterConcurrent(t *testing.T) {
	l, err := NewLocal(Config{Limit: 50, Window: time.Minute})
	require.NoError(t, err)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow(context.Background(), "k"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 50, allowed.Load())
}
