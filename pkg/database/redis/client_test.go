package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要本地 Redis（127.0.0.1:16379），不可用时跳过
func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(&Config{
		Standalone: &NodeConfig{Host: "127.0.0.1", Port: 16379},
		KeyPrefix:  "xdooria:test:",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestConfigValidate(t *testing.T) {
	assert.ErrorIs(t, (*Config)(nil).Validate(), ErrNilConfig)
	assert.ErrorIs(t, (&Config{}).Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, (&Config{
		Standalone: &NodeConfig{Host: "a"},
		Cluster:    &ClusterConfig{Addrs: []string{"b:1"}},
	}).Validate(), ErrInvalidConfig)
	assert.NoError(t, DefaultConfig().Validate())
}

func TestNewClientClusterDropsDefaultStandalone(t *testing.T) {
	c, err := NewClient(&Config{Cluster: &ClusterConfig{Addrs: []string{"127.0.0.1:17001"}}})
	require.NoError(t, err)
	defer c.Close()
	assert.Nil(t, c.cfg.Standalone)
}

func TestKey(t *testing.T) {
	c, err := NewClient(&Config{KeyPrefix: "p:"})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "p:session:s1", c.Key("session", "s1"))
}

func TestStringCommands(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	key := c.Key("cmd", time.Now().Format("150405.000000"))

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNil)

	require.NoError(t, c.SetEX(ctx, key, "v", time.Minute))
	v, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	ok, err := c.SetNX(ctx, key, "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Del(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestScriptRun(t *testing.T) {
	c := newTestClient(t)
	s := NewScript(`return redis.call("INCRBY", KEYS[1], ARGV[1])`)
	key := c.Key("script", time.Now().Format("150405.000000"))
	defer c.Del(context.Background(), key)

	res, err := c.Run(context.Background(), s, []string{key}, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res)
}

func TestPublishSubscribe(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	channel := c.Key("chan", time.Now().Format("150405.000000"))

	ps, err := c.Subscribe(ctx, channel)
	require.NoError(t, err)
	defer ps.Close()

	_, err = c.Publish(ctx, channel, []byte("hello"))
	require.NoError(t, err)

	select {
	case msg := <-ps.Channel():
		assert.Equal(t, channel, msg.Channel)
		assert.Equal(t, "hello", msg.Payload)
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
	}
}
