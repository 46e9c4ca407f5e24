package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/bus"
	"github.com/lk2023060901/xdooria-realtime/pkg/metrics/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct{ conns, rooms int }

func (r fakeRegistry) Count() int { return r.conns }
func (r fakeRegistry) RoomCount() int { return r.rooms }
func (r fakeRegistry) OnlineUsers() []string { return []string{"u1", "u2"} }

type fakeBus struct{ health bus.Health }

func (b fakeBus) Health() bus.Health { return b.health }
func (b fakeBus) Stats() bus.Stats { return bus.Stats{Published: 7} }
func (b fakeBus) ClusterConnections() int { return 42 }
func (b fakeBus) SubscribedChannels() int { return len(bus.Channels) }

type fakeSampler struct{}

func (fakeSampler) Collect() system.Stats { return system.Stats{Goroutines: 12} }

type capture struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (c *capture) sink(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
}

func (c *capture) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*bus.Message
}

func (p *recordingPublisher) Publish(_ context.Context, ch bus.Channel, msg *bus.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch == bus.ChannelAnalytics {
		p.msgs = append(p.msgs, msg)
	}
	return nil
}

func TestSample(t *testing.T) {
	clk := clock.NewMock()
	c := &capture{}
	pub := &recordingPublisher{}
	health := bus.Health{Connected: true, QueuedTotal: 3, Dropped: 1}
	a := New("p1", fakeRegistry{conns: 5, rooms: 2}, fakeBus{health: health}, nil,
		WithClock(clk), WithSampler(fakeSampler{}), WithSink(c.sink), WithPublisher(pub))

	_, ok := a.Latest()
	assert.False(t, ok)

	snap := a.Sample(context.Background())
	assert.Equal(t, "p1", snap.ProcessID)
	assert.Equal(t, 5, snap.Connections)
	assert.Equal(t, 2, snap.Rooms)
	assert.Equal(t, 2, snap.OnlineUsers)
	assert.Equal(t, 42, snap.ClusterConnections)
	assert.Equal(t, 3, snap.Bus.QueuedTotal)
	assert.Equal(t, int64(7), snap.BusStats.Published)
	assert.Equal(t, 12, snap.System.Goroutines)
	assert.True(t, snap.Timestamp.Equal(clk.Now()))

	latest, ok := a.Latest()
	require.True(t, ok)
	assert.Equal(t, snap.ProcessID, latest.ProcessID)
	assert.Equal(t, 1, c.len())

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, MessageTypeSnapshot, pub.msgs[0].Type)
	assert.Equal(t, bus.PriorityLow, pub.msgs[0].Priority)
	assert.Equal(t, 30, pub.msgs[0].TTLSeconds)
}

func TestSampleWithoutBus(t *testing.T) {
	a := New("p1", fakeRegistry{conns: 3}, nil, &Config{Interval: time.Second})
	snap := a.Sample(context.Background())
	assert.Equal(t, 3, snap.ClusterConnections)

	h := a.Health()
	assert.Equal(t, 3, h.ActiveConnections)
	assert.False(t, h.BusConnected)
}

func TestHealth(t *testing.T) {
	health := bus.Health{
		Connected:   true,
		QueuedTotal: 4,
		Dropped:     2,
		Peers:       []bus.PeerStatus{{ProcessID: "p2", Connections: 10}},
	}
	a := New("p1", fakeRegistry{conns: 5, rooms: 1}, fakeBus{health: health}, nil)

	h := a.Health()
	assert.Equal(t, "p1", h.ProcessID)
	assert.Equal(t, 5, h.ActiveConnections)
	assert.True(t, h.BusConnected)
	assert.Equal(t, 4, h.QueuedMessages)
	assert.Equal(t, int64(2), h.DroppedMessages)
	assert.Equal(t, len(bus.Channels), h.SubscribedChannels)
	assert.Equal(t, 42, h.ClusterConnections)
	assert.Len(t, h.Peers, 1)
}

func TestPeriodicSampling(t *testing.T) {
	clk := clock.NewMock()
	c := &capture{}
	a := New("p1", fakeRegistry{}, nil, &Config{Interval: time.Second}, WithClock(clk), WithSink(c.sink))
	require.NoError(t, a.Start())
	t.Cleanup(func() { _ = a.Stop() })

	require.Eventually(t, func() bool { return c.len() >= 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		clk.Add(time.Second)
		return c.len() >= 3
	}, time.Second, time.Millisecond)

	require.NoError(t, a.Stop())
	n := c.len()
	clk.Add(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, c.len())
}

func TestClusterView(t *testing.T) {
	hub := bus.NewMemoryHub()
	b1 := bus.New("p1", bus.NewMemoryBroker(hub), nil)
	b2 := bus.New("p2", bus.NewMemoryBroker(hub), nil)

	a1 := New("p1", fakeRegistry{conns: 1}, b1, nil, WithPublisher(b1))
	a2 := New("p2", fakeRegistry{conns: 2}, b2, nil, WithPublisher(b2))
	a2.RegisterBusHandlers(b2)
	for _, b := range []*bus.Bus{b1, b2} {
		require.NoError(t, b.Start(context.Background()))
		t.Cleanup(func() { _ = b.Stop() })
	}

	a1.Sample(context.Background())
	a2.Sample(context.Background())

	require.Eventually(t, func() bool { return len(a2.Cluster()) == 2 }, 2*time.Second, 5*time.Millisecond)
	cluster := a2.Cluster()
	assert.Equal(t, "p1", cluster[0].ProcessID)
	assert.Equal(t, 1, cluster[0].Connections)
	assert.Equal(t, "p2", cluster[1].ProcessID)
}
