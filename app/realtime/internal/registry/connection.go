package registry

import (
	"sync/atomic"
	"time"

	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
)

// Sink 连接的下行出口，由传输层实现
type Sink interface {
	// Deliver 投递事件，不得阻塞
	Deliver(evt *model.Event) error
	// Kick 以指定原因关闭连接
	Kick(reason string)
}

// Connection 已通过认证的连接
//
// 只能由 Registry.Register 基于校验通过的身份创建。
type Connection struct {
	id          string
	identity    model.Identity
	processID   string
	connectedAt time.Time
	sink        Sink

	// rooms 由 Registry 的锁保护
	rooms map[string]struct{}

	lastActivity atomic.Int64
}

// ID 连接 ID
func (c *Connection) ID() string { return c.id }

// UserID 用户 ID
func (c *Connection) UserID() string { return c.identity.UserID }

// Identity 连接身份的副本
func (c *Connection) Identity() model.Identity { return c.identity }

// ProcessID 持有连接的进程
func (c *Connection) ProcessID() string { return c.processID }

// ConnectedAt 注册时间
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Touch 刷新最近活跃时间
func (c *Connection) Touch(now time.Time) {
	c.lastActivity.Store(now.UnixNano())
}

// LastActivityAt 最近活跃时间
func (c *Connection) LastActivityAt() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Send 向该连接投递事件
func (c *Connection) Send(evt *model.Event) error {
	return c.sink.Deliver(evt)
}

// Kick 关闭该连接
func (c *Connection) Kick(reason string) {
	c.sink.Kick(reason)
}
