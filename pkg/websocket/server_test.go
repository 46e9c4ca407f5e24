package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoHandler struct {
	mu           sync.Mutex
	tokens       []string
	disconnected chan string
	rejectWith   error
}

func (h *echoHandler) OnConnect(conn *Connection, r *http.Request) error {
	h.mu.Lock()
	h.tokens = append(h.tokens, r.URL.Query().Get("token"))
	h.mu.Unlock()
	return h.rejectWith
}

func (h *echoHandler) OnMessage(conn *Connection, msg *Message) error {
	if msg.String() == "bye" {
		conn.SendAsync(NewTextMessage([]byte("see you")))
		conn.CloseAfterFlush(websocket.ClosePolicyViolation, "bye requested")
		return nil
	}
	return conn.SendAsync(NewTextMessage(msg.Data))
}

func (h *echoHandler) OnDisconnect(conn *Connection, err error) {
	h.disconnected <- conn.ID()
}

func newTestServer(t *testing.T, h Handler, cfg *ServerConfig, opts ...ServerOption) (*Server, string) {
	t.Helper()
	srv, err := NewServer(cfg, h, opts...)
	require.NoError(t, err)

	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close(context.Background())
		hs.Close()
	})
	return srv, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func TestServerEcho(t *testing.T) {
	h := &echoHandler{disconnected: make(chan string, 1)}
	srv, url := newTestServer(t, h, nil)

	c, _, err := websocket.DefaultDialer.Dial(url+"?token=abc", nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("hello")))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	assert.Equal(t, 1, srv.Count())
	h.mu.Lock()
	assert.Equal(t, []string{"abc"}, h.tokens)
	h.mu.Unlock()
}

func TestServerCloseAfterFlush(t *testing.T) {
	h := &echoHandler{disconnected: make(chan string, 1)}
	srv, url := newTestServer(t, h, nil)

	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("bye")))

	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "see you", string(data))

	_, _, err = c.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.ClosePolicyViolation, ce.Code)
	assert.Equal(t, "bye requested", ce.Text)

	select {
	case <-h.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect not called")
	}
	assert.Eventually(t, func() bool { return srv.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServerRejectOnConnect(t *testing.T) {
	h := &echoHandler{disconnected: make(chan string, 1), rejectWith: assert.AnError}
	_, url := newTestServer(t, h, nil)

	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()

	_, _, err = c.ReadMessage()
	assert.Error(t, err)

	select {
	case <-h.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect not called")
	}
}

func TestServerMaxConnections(t *testing.T) {
	h := &echoHandler{disconnected: make(chan string, 4)}
	srv, url := newTestServer(t, h, &ServerConfig{MaxConnections: 1})

	c1, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c1.Close()
	require.Eventually(t, func() bool { return srv.Count() == 1 }, time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServerPerIPLimitAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := &echoHandler{disconnected: make(chan string, 4)}
	srv, url := newTestServer(t, h, &ServerConfig{MaxConnectionsPerIP: 1}, WithServerMetrics(reg))

	c1, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Count() == 1 }, time.Second, 10*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.rejected.WithLabelValues(rejectIPLimit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.open))
	assert.Equal(t, map[string]int{"127.0.0.1": 1}, srv.pool.Stats().ConnectionsPerIP)

	require.NoError(t, c1.Close())
	<-h.disconnected
	require.Eventually(t, func() bool { return testutil.ToFloat64(srv.metrics.open) == 0 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(srv.metrics.lifetime))
	assert.Empty(t, srv.pool.Stats().ConnectionsPerIP)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://APP.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))

	assert.True(t, originChecker([]string{"*"})(r))
	assert.True(t, originChecker(nil)(r))
}

func TestServerConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultServerConfig().Validate())

	cfg := DefaultServerConfig()
	cfg.PingInterval = cfg.ReadTimeout
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestTruncateReason(t *testing.T) {
	long := strings.Repeat("x", 200)
	assert.Len(t, truncateReason(long), maxCloseReasonLen)
	assert.Equal(t, "ok", truncateReason("ok"))
}
