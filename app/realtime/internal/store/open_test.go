package store

import (
	"context"
	"testing"

	"github.com/lk2023060901/xdooria-realtime/pkg/idgen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMemory(t *testing.T) {
	ids, err := idgen.NewSonyflake(2)
	require.NoError(t, err)

	s, err := Open(context.Background(), DefaultConfig(), Deps{IDs: ids})
	require.NoError(t, err)
	defer s.Close()

	// 同一个内存实例承担全部角色，吊销与会话互相可见
	mem, ok := s.Sessions.(*Memory)
	require.True(t, ok)
	assert.Same(t, mem, s.Revocations)
	assert.Same(t, mem, s.Presence)
	assert.Len(t, s.closers, 1)
}

func TestOpenMissingClient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sessions = DriverRedis
	_, err := Open(context.Background(), cfg, Deps{})
	assert.ErrorIs(t, err, ErrMissingDependency)

	cfg = DefaultConfig()
	cfg.Messages = DriverPostgres
	_, err = Open(context.Background(), cfg, Deps{})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Presence = "etcd"
	_, err := Open(context.Background(), cfg, Deps{})
	assert.ErrorIs(t, err, ErrUnknownDriver)
}
