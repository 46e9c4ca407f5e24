package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) Sweep(ctx context.Context) (int, error) {
	c.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("sweep without deadline")
	}
	return 2, c.err
}

func TestSweeperRunsOnSchedule(t *testing.T) {
	target := &countingSweeper{}
	s, err := NewSweeper(target, "@every 1s", time.Second, logger.NewNoop())
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		return target.calls.Load() >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewSweeper(&countingSweeper{}, "not a schedule", time.Second, logger.NewNoop())
	assert.Error(t, err)
}

func TestSweeperRunToleratesErrors(t *testing.T) {
	target := &countingSweeper{err: errors.New("db down")}
	s, err := NewSweeper(target, "@every 1h", time.Second, logger.NewNoop())
	require.NoError(t, err)

	s.run()
	assert.Equal(t, int32(1), target.calls.Load())
}
