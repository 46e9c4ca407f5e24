package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/aggregator"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/pkg/mq/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu     sync.Mutex
	msgs   []*kafka.Message
	err    error
	closed bool
}

func (p *fakeProducer) PublishBatch(_ context.Context, msgs []*kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *fakeProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeProducer) events(t *testing.T) []Event {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, 0, len(p.msgs))
	for _, m := range p.msgs {
		var e Event
		require.NoError(t, json.Unmarshal(m.Value, &e))
		out = append(out, e)
	}
	return out
}

func (p *fakeProducer) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.FlushInterval = time.Hour
	return cfg
}

func TestBatchFlush(t *testing.T) {
	p := &fakeProducer{}
	e := New("p1", p, testConfig())
	require.NoError(t, e.Start())

	e.ConnectionOpened(model.Identity{UserID: "u1", SessionID: "s1"})
	e.MessageCreated(&model.Message{ID: 99, RoomID: "lobby", UserID: "u1"})
	require.Eventually(t, func() bool { return p.len() == 2 }, time.Second, time.Millisecond)

	e.ConnectionClosed(model.Identity{UserID: "u1"}, "client_closed", 1500*time.Millisecond)
	require.NoError(t, e.Stop())
	assert.True(t, p.closed)

	events := p.events(t)
	require.Len(t, events, 3)
	assert.Equal(t, TypeConnectionOpened, events[0].Type)
	assert.Equal(t, "p1", events[0].ProcessID)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, TypeMessageCreated, events[1].Type)
	assert.Equal(t, int64(99), events[1].MessageID)
	assert.Equal(t, "lobby", events[1].RoomID)
	assert.Equal(t, TypeConnectionClosed, events[2].Type)
	assert.Equal(t, int64(1500), events[2].LifetimeMs)
	assert.Equal(t, int64(3), e.Exported())

	assert.Equal(t, "u1", string(p.msgs[0].Key))
	assert.Equal(t, TypeConnectionOpened, p.msgs[0].Headers["event_type"])
}

func TestIntervalFlush(t *testing.T) {
	clk := clock.NewMock()
	p := &fakeProducer{}
	cfg := testConfig()
	cfg.BatchSize = 100
	cfg.FlushInterval = time.Second
	e := New("p1", p, cfg, WithClock(clk))
	require.NoError(t, e.Start())
	t.Cleanup(func() { _ = e.Stop() })

	e.ObserveSnapshot(aggregator.Snapshot{ProcessID: "p1", Connections: 4})
	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		return p.len() == 1
	}, time.Second, time.Millisecond)

	events := p.events(t)
	require.NotNil(t, events[0].Snapshot)
	assert.Equal(t, 4, events[0].Snapshot.Connections)
	assert.Equal(t, "p1", string(p.msgs[0].Key))
}

func TestDropWhenBufferFull(t *testing.T) {
	cfg := testConfig()
	cfg.BufferSize = 1
	e := New("p1", &fakeProducer{}, cfg)

	e.ConnectionRejected("expired")
	e.ConnectionRejected("expired")
	e.ConnectionRejected("expired")
	assert.Equal(t, int64(2), e.Dropped())
}

func TestFailedBatchIsCounted(t *testing.T) {
	p := &fakeProducer{err: errors.New("broker down")}
	e := New("p1", p, testConfig())
	require.NoError(t, e.Start())

	e.ConnectionRejected("banned")
	require.NoError(t, e.Stop())
	assert.Zero(t, e.Exported())
	assert.Equal(t, int64(1), e.failed.Load())
}
