// Package registry 维护本进程内已认证连接及其房间关系。
package registry

import (
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
)

var (
	// ErrDuplicateConnection 连接 ID 已注册
	ErrDuplicateConnection = errors.New("registry: duplicate connection id")

	// ErrConnectionNotFound 连接未注册
	ErrConnectionNotFound = errors.New("registry: connection not found")

	// ErrInvalidIdentity 身份缺少用户 ID
	ErrInvalidIdentity = errors.New("registry: identity without user id")
)

// Registry 连接注册表
type Registry struct {
	processID string
	clock     clock.Clock
	logger    logger.Logger

	mu    sync.RWMutex
	conns map[string]*Connection
	rooms map[string]map[string]*Connection // roomID -> connID -> conn
	users map[string]map[string]*Connection // userID -> connID -> conn
}

// Option 注册表选项
type Option func(*Registry)

// WithClock 注入时钟
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New 创建注册表
func New(processID string, opts ...Option) *Registry {
	r := &Registry{
		processID: processID,
		clock:     clock.New(),
		logger:    logger.NewNoop(),
		conns:     make(map[string]*Connection),
		rooms:     make(map[string]map[string]*Connection),
		users:     make(map[string]map[string]*Connection),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("realtime.registry")
	return r
}

// ProcessID 本进程标识
func (r *Registry) ProcessID() string {
	return r.processID
}

// Register 登记一个已认证连接，同一用户允许多个连接
func (r *Registry) Register(connID string, id *model.Identity, sink Sink) (*Connection, error) {
	if id == nil || id.UserID == "" {
		return nil, ErrInvalidIdentity
	}

	now := r.clock.Now()
	c := &Connection{
		id:          connID,
		identity:    *id,
		processID:   r.processID,
		connectedAt: now,
		sink:        sink,
		rooms:       make(map[string]struct{}),
	}
	c.Touch(now)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; ok {
		return nil, errors.Wrapf(ErrDuplicateConnection, "conn %s", connID)
	}
	r.conns[connID] = c

	byUser, ok := r.users[id.UserID]
	if !ok {
		byUser = make(map[string]*Connection)
		r.users[id.UserID] = byUser
	}
	byUser[connID] = c

	return c, nil
}

// Unregister 移除连接及其全部房间关系
//
// lastLocal 表示该用户在本进程已没有其它连接；跨进程的离线判断依赖在线计数。
func (r *Registry) Unregister(connID string) (conn *Connection, lastLocal bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	delete(r.conns, connID)

	for room := range c.rooms {
		r.removeMember(room, connID)
	}
	c.rooms = make(map[string]struct{})

	uid := c.identity.UserID
	if byUser, ok := r.users[uid]; ok {
		delete(byUser, connID)
		if len(byUser) == 0 {
			delete(r.users, uid)
			lastLocal = true
		}
	}
	return c, lastLocal
}

// Get 查找连接
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// Join 加入房间，已在房间内时 changed 为 false
func (r *Registry) Join(connID, roomID string) (changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return false, ErrConnectionNotFound
	}
	if _, in := c.rooms[roomID]; in {
		return false, nil
	}
	c.rooms[roomID] = struct{}{}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*Connection)
		r.rooms[roomID] = members
	}
	members[connID] = c
	return true, nil
}

// Leave 离开房间，不在房间内时 changed 为 false
func (r *Registry) Leave(connID, roomID string) (changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[connID]
	if !ok {
		return false, ErrConnectionNotFound
	}
	if _, in := c.rooms[roomID]; !in {
		return false, nil
	}
	delete(c.rooms, roomID)
	r.removeMember(roomID, connID)
	return true, nil
}

// removeMember 调用方持有写锁
func (r *Registry) removeMember(roomID, connID string) {
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}

// IsMember 连接是否在房间内
func (r *Registry) IsMember(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][connID]
	return ok
}

// LocalBroadcast 投递给房间内本进程的全部连接，excludeConnID 非空时跳过该连接
//
// 返回成功投递的连接数。
func (r *Registry) LocalBroadcast(roomID string, evt *model.Event, excludeConnID string) int {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.rooms[roomID]))
	for id, c := range r.rooms[roomID] {
		if id != excludeConnID {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	return r.deliver(targets, evt)
}

// LocalBroadcastExceptUser 投递给房间内本进程的连接，跳过 excludeUserID 的全部连接
func (r *Registry) LocalBroadcastExceptUser(roomID string, evt *model.Event, excludeUserID string) int {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.rooms[roomID]))
	for _, c := range r.rooms[roomID] {
		if excludeUserID == "" || c.identity.UserID != excludeUserID {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	return r.deliver(targets, evt)
}

// BroadcastAll 投递给本进程全部连接
func (r *Registry) BroadcastAll(evt *model.Event, excludeConnID string) int {
	r.mu.RLock()
	targets := make([]*Connection, 0, len(r.conns))
	for id, c := range r.conns {
		if id != excludeConnID {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	return r.deliver(targets, evt)
}

// DeliverToUser 投递给用户在本进程的全部连接
func (r *Registry) DeliverToUser(userID string, evt *model.Event) int {
	return r.deliver(r.ConnectionsByUser(userID), evt)
}

func (r *Registry) deliver(targets []*Connection, evt *model.Event) int {
	n := 0
	for _, c := range targets {
		if err := c.Send(evt); err != nil {
			r.logger.Debug("deliver failed", "conn_id", c.id, "event", evt.Name, "error", err)
			continue
		}
		n++
	}
	return n
}

// ConnectionsByUser 用户在本进程的连接
func (r *Registry) ConnectionsByUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byUser := r.users[userID]
	out := make([]*Connection, 0, len(byUser))
	for _, c := range byUser {
		out = append(out, c)
	}
	return out
}

// ConnectionsByCredential 使用指定凭证建立的连接
func (r *Registry) ConnectionsByCredential(credentialID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Connection
	for _, c := range r.conns {
		if c.identity.CredentialID == credentialID {
			out = append(out, c)
		}
	}
	return out
}

// ConnectionsBySession 属于指定会话的连接
func (r *Registry) ConnectionsBySession(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Connection
	for _, c := range r.conns {
		if c.identity.SessionID == sessionID {
			out = append(out, c)
		}
	}
	return out
}

// Connections 全部连接的快照
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Count 本进程连接数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RoomCount 非空房间数
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// OnlineUsers 本进程在线用户，按字典序
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users))
	for uid := range r.users {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}
