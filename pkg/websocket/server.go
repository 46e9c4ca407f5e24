package websocket

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lk2023060901/xdooria-realtime/pkg/config"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/lk2023060901/xdooria-realtime/pkg/util/conc"
	"github.com/prometheus/client_golang/prometheus"
)

// Server WebSocket 服务端
type Server struct {
	config   *ServerConfig
	upgrader *websocket.Upgrader
	logger   logger.Logger
	handler  Handler

	pool *ConnectionPool

	// 写循环与 ping 循环运行在工作池中，读循环占用 HTTP handler goroutine
	workerPool *conc.Pool[struct{}]

	metrics           *ServerMetrics
	metricsRegisterer prometheus.Registerer

	mu      sync.RWMutex
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// ServerOption 服务端选项
type ServerOption func(*Server)

// WithServerLogger 设置日志
func WithServerLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// WithServerMetrics 注册 Prometheus 指标
func WithServerMetrics(registerer prometheus.Registerer) ServerOption {
	return func(s *Server) {
		s.metricsRegisterer = registerer
	}
}

// NewServer 创建服务端
func NewServer(cfg *ServerConfig, handler Handler, opts ...ServerOption) (*Server, error) {
	merged, err := config.MergeConfig(DefaultServerConfig(), cfg)
	if err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config:  merged,
		handler: handler,
		closeCh: make(chan struct{}),
		logger:  logger.NewNoop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = &websocket.Upgrader{
		ReadBufferSize:    merged.ReadBufferSize,
		WriteBufferSize:   merged.WriteBufferSize,
		HandshakeTimeout:  merged.HandshakeTimeout,
		EnableCompression: merged.EnableCompression,
		CheckOrigin:       originChecker(merged.AllowedOrigins),
	}

	s.pool = NewConnectionPool(merged.MaxConnections, merged.MaxConnectionsPerIP)

	poolSize := merged.MaxConnections * 2
	if poolSize < 64 {
		poolSize = 64
	}
	s.workerPool = conc.NewPool[struct{}](poolSize, conc.WithNonblocking(true))

	if s.metricsRegisterer != nil {
		s.metrics = NewServerMetrics(s.metricsRegisterer)
	}

	return s, nil
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(o)] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// ServeHTTP 实现 http.Handler 接口
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.Upgrade(w, r)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		if s.metrics != nil {
			s.metrics.OnUpgradeError(err)
		}
		return
	}

	s.handleConnection(conn, r)
}

// Upgrade 升级 HTTP 连接为 WebSocket
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, "server closing", http.StatusServiceUnavailable)
		return nil, ErrPoolClosed
	}

	if s.pool.IsFull() {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return nil, ErrPoolFull
	}

	remoteIP := extractIP(r.RemoteAddr)
	if s.pool.IsIPLimitReached(remoteIP) {
		http.Error(w, "too many connections from this IP", http.StatusTooManyRequests)
		return nil, ErrMaxConnectionsPerIP
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	conn := NewConnection(wsConn,
		WithConnectionLogger(s.logger),
		WithConnectionTimeouts(s.config.ReadTimeout, s.config.WriteTimeout),
		WithSendQueueSize(s.config.SendQueueSize),
	)

	if s.config.MaxMessageSize > 0 {
		conn.SetReadLimit(s.config.MaxMessageSize)
	}

	if err := s.pool.Add(conn); err != nil {
		conn.Close()
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.OnConnectionOpened()
	}

	return conn, nil
}

// handleConnection 处理连接，阻塞到读循环退出
func (s *Server) handleConnection(conn *Connection, r *http.Request) {
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.spawn(conn.WriteLoop); err != nil {
		s.abort(conn, err)
		return
	}

	if s.config.PingInterval > 0 {
		if err := s.spawn(func() { s.pingLoop(conn) }); err != nil {
			s.abort(conn, err)
			return
		}
	}

	if s.handler != nil {
		if err := s.handler.OnConnect(conn, r); err != nil {
			s.logger.Warn("websocket OnConnect error", "error", err, "conn_id", conn.ID())
			conn.CloseWithError(err)
			s.removeConnection(conn, err)
			return
		}
	}

	conn.ReadLoop(func(c *Connection, msg *Message) error {
		if s.metrics != nil {
			s.metrics.OnMessageReceived(msg.Type, int64(msg.Len()))
		}
		if s.handler == nil {
			return nil
		}
		return s.handler.OnMessage(c, msg)
	})

	s.removeConnection(conn, conn.CloseError())
}

// spawn 提交连接协程，worker 池满时立即返回错误
func (s *Server) spawn(fn func()) error {
	f := s.workerPool.Submit(func() (struct{}, error) {
		fn()
		return struct{}{}, nil
	})
	if f.Done() {
		return f.Err()
	}
	return nil
}

func (s *Server) abort(conn *Connection, err error) {
	s.logger.Warn("websocket worker pool exhausted", "error", err, "conn_id", conn.ID())
	conn.CloseWithError(err)
	s.removeConnection(conn, err)
}

// pingLoop Ping 循环
func (s *Server) pingLoop(conn *Connection) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				s.logger.Debug("websocket ping error", "error", err, "conn_id", conn.ID())
				conn.Close()
				return
			}
		case <-conn.Done():
			return
		case <-s.closeCh:
			return
		}
	}
}

// removeConnection 移除连接
func (s *Server) removeConnection(conn *Connection, err error) {
	s.pool.Remove(conn.ID())

	if s.handler != nil {
		s.handler.OnDisconnect(conn, err)
	}

	if s.metrics != nil {
		s.metrics.OnConnectionClosed(conn.ConnectedAt())
	}
}

// Count 获取连接数
func (s *Server) Count() int {
	return s.pool.Count()
}

// Stats 获取统计信息
func (s *Server) Stats() Stats {
	return s.pool.Stats()
}

// Close 关闭服务端：拒绝新连接，关闭现有连接并等待处理结束
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	s.mu.Unlock()

	s.pool.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.workerPool.Release()
	return nil
}

// extractIP 从地址中提取 IP
func extractIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
