package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/aggregator"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/bus"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/pkg/metrics/system"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMetrics(t *testing.T) *RealtimeMetrics {
	t.Helper()
	m, err := New(&Config{Namespace: "rt"})
	require.NoError(t, err)
	return m
}

func TestObserverCounters(t *testing.T) {
	m := newMetrics(t)

	m.ConnectionOpened(model.Identity{UserID: "u1"})
	m.ConnectionRejected("expired")
	m.ConnectionRejected("expired")
	m.ConnectionClosed(model.Identity{UserID: "u1"}, "client_closed", 3*time.Second)
	m.MessageCreated(&model.Message{})
	m.EventHandled(model.EventMessageSend, "")
	m.EventHandled(model.EventMessageSend, "NOT_IN_ROOM")
	m.EventHandled("made:up", "UNKNOWN_EVENT")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsOpened))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionsRejected.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsClosed.WithLabelValues("client_closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("message:send", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("message:send", "NOT_IN_ROOM")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("unknown", "UNKNOWN_EVENT")))
}

func TestObserveSnapshot(t *testing.T) {
	m := newMetrics(t)
	m.ObserveSnapshot(aggregator.Snapshot{
		Connections:        4,
		ClusterConnections: 9,
		Rooms:              2,
		OnlineUsers:        3,
		Bus: bus.Health{
			Connected: true,
			Queued:    map[string]int{"messages": 5},
			Dropped:   1,
			Peers:     []bus.PeerStatus{{ProcessID: "p2"}},
		},
		System: system.Stats{MemoryBytes: 1024},
	})

	assert.Equal(t, 4.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.ClusterConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusConnected))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.BusQueued.WithLabelValues("messages")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BusPeers))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.ProcessMemory))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := newMetrics(t)
	m.ConnectionOpened(model.Identity{})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "rt_connections_opened_total 1"))
}
