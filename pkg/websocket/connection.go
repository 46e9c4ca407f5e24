package websocket

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
)

// Connection WebSocket 连接封装
//
// 写操作全部经过 sendChan 由 WriteLoop 串行完成。
type Connection struct {
	id   string
	conn *websocket.Conn

	readTimeout  time.Duration
	writeTimeout time.Duration

	sendChan chan *Message

	logger logger.Logger

	metadata sync.Map

	closing    atomic.Bool
	closed     atomic.Bool
	closeSent  atomic.Bool
	closeChan  chan struct{}
	closeOnce  sync.Once
	closeError error

	remoteAddr  string
	connectedAt time.Time
}

// ConnectionOption 连接选项
type ConnectionOption func(*Connection)

// WithConnectionLogger 设置日志
func WithConnectionLogger(l logger.Logger) ConnectionOption {
	return func(c *Connection) {
		c.logger = l
	}
}

// WithConnectionTimeouts 设置读写超时
func WithConnectionTimeouts(read, write time.Duration) ConnectionOption {
	return func(c *Connection) {
		c.readTimeout = read
		c.writeTimeout = write
	}
}

// WithSendQueueSize 设置发送队列长度
func WithSendQueueSize(size int) ConnectionOption {
	return func(c *Connection) {
		if size > 0 {
			c.sendChan = make(chan *Message, size)
		}
	}
}

// NewConnection 创建连接
func NewConnection(conn *websocket.Conn, opts ...ConnectionOption) *Connection {
	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		sendChan:     make(chan *Message, 256),
		closeChan:    make(chan struct{}),
		remoteAddr:   conn.RemoteAddr().String(),
		connectedAt:  time.Now(),
		logger:       logger.NewNoop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ID 返回连接 ID
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr 返回远程地址
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// ConnectedAt 返回连接时间
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// IsClosed 检查连接是否已关闭
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Done 连接关闭时关闭的 channel
func (c *Connection) Done() <-chan struct{} {
	return c.closeChan
}

// SetMetadata 设置元数据
func (c *Connection) SetMetadata(key string, value any) {
	c.metadata.Store(key, value)
}

// GetMetadata 获取元数据
func (c *Connection) GetMetadata(key string) (any, bool) {
	return c.metadata.Load(key)
}

// Info 返回连接信息
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:          c.id,
		RemoteAddr:  c.remoteAddr,
		ConnectedAt: c.connectedAt,
		Closed:      c.IsClosed(),
	}
}

// Send 发送消息，队列满时阻塞直到 ctx 结束
func (c *Connection) Send(ctx context.Context, msg *Message) error {
	if c.closing.Load() || c.IsClosed() {
		return ErrConnectionClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case c.sendChan <- msg:
		return nil
	case <-c.closeChan:
		return ErrConnectionClosed
	}
}

// SendAsync 发送消息（非阻塞）
func (c *Connection) SendAsync(msg *Message) error {
	if c.closing.Load() || c.IsClosed() {
		return ErrConnectionClosed
	}

	select {
	case c.sendChan <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// SendJSON 发送 JSON 消息（非阻塞）
func (c *Connection) SendJSON(v any) error {
	msg, err := NewJSONMessage(v)
	if err != nil {
		return err
	}
	return c.SendAsync(msg)
}

// ReadLoop 读取循环，返回时连接已关闭
func (c *Connection) ReadLoop(handler HandlerFunc) {
	defer c.Close()

	c.conn.SetPongHandler(func(string) error {
		if c.readTimeout > 0 {
			return c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		return nil
	})

	for {
		if c.IsClosed() {
			return
		}

		if c.readTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}

		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.IsClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, io.EOF) {
				return
			}
			c.logger.Debug("websocket read error", "error", err, "conn_id", c.id)
			c.CloseWithError(err)
			return
		}

		msg := &Message{
			Type:      MessageType(msgType),
			Data:      data,
			Timestamp: time.Now(),
		}

		if handler != nil {
			if err := handler(c, msg); err != nil {
				c.logger.Warn("websocket handler error", "error", err, "conn_id", c.id)
			}
		}
	}
}

// WriteLoop 写入循环，遇到关闭帧时写出后关闭连接
func (c *Connection) WriteLoop() {
	defer c.Close()

	for {
		select {
		case msg := <-c.sendChan:
			if c.writeTimeout > 0 {
				c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}

			if msg.Type == MessageTypeClose {
				c.writeClose(msg.Data)
				return
			}

			if err := c.conn.WriteMessage(int(msg.Type), msg.Data); err != nil {
				c.logger.Debug("websocket write error", "error", err, "conn_id", c.id)
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

// CloseAfterFlush 排空已入队的消息后发送关闭帧并关闭连接
func (c *Connection) CloseAfterFlush(code int, reason string) {
	if c.IsClosed() || c.closing.Swap(true) {
		return
	}

	select {
	case c.sendChan <- newCloseMessage(code, reason):
	case <-c.closeChan:
	default:
		// 队列已满，直接关闭
		c.writeClose(websocket.FormatCloseMessage(code, truncateReason(reason)))
		c.Close()
	}
}

func (c *Connection) writeClose(data []byte) {
	if c.closeSent.Swap(true) {
		return
	}
	c.conn.WriteControl(websocket.CloseMessage, data, time.Now().Add(time.Second))
}

// Close 关闭连接
func (c *Connection) Close() error {
	return c.CloseWithError(nil)
}

// CloseWithError 带错误关闭连接
func (c *Connection) CloseWithError(err error) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if err != nil {
			c.closeError = err
		}
		close(c.closeChan)

		c.writeClose(websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	})
	return nil
}

// CloseError 返回关闭错误
func (c *Connection) CloseError() error {
	return c.closeError
}

// Ping 发送 Ping
func (c *Connection) Ping() error {
	if c.IsClosed() {
		return ErrConnectionClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// SetReadLimit 设置读取限制
func (c *Connection) SetReadLimit(limit int64) {
	c.conn.SetReadLimit(limit)
}
