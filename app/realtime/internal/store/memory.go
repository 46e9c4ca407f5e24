package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/pkg/idgen"
)

// MemoryMessageLimit 内存存储保留的最近消息条数
const MemoryMessageLimit = 1000

// Memory 进程内存储，用于单节点开发与测试
type Memory struct {
	clock clock.Clock
	ids   idgen.Generator

	mu          sync.RWMutex
	sessions    map[string]*model.Session
	revocations map[string]time.Time // credentialID -> 到期时间
	bans        map[string]*model.Ban
	messages    []*model.Message
	presence    map[string]int64
}

// NewMemory 创建内存存储
func NewMemory(clk clock.Clock, ids idgen.Generator) *Memory {
	if clk == nil {
		clk = clock.New()
	}
	return &Memory{
		clock:       clk,
		ids:         ids,
		sessions:    make(map[string]*model.Session),
		revocations: make(map[string]time.Time),
		bans:        make(map[string]*model.Ban),
		presence:    make(map[string]int64),
	}
}

// GetSession 实现 SessionStore
func (m *Memory) GetSession(_ context.Context, sessionID string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// CreateSession 实现 SessionStore
func (m *Memory) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.SessionID] = &cp
	return nil
}

// DeleteSession 实现 SessionStore
func (m *Memory) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// RevokeSession 实现 SessionStore
func (m *Memory) RevokeSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.Revoked = true
	}
	return nil
}

// Revoke 实现 RevocationStore
func (m *Memory) Revoke(_ context.Context, credentialID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revocations[credentialID] = m.clock.Now().Add(ttl)
	return nil
}

// IsRevoked 实现 RevocationStore
func (m *Memory) IsRevoked(_ context.Context, credentialID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exp, ok := m.revocations[credentialID]
	return ok && m.clock.Now().Before(exp), nil
}

// Ban 实现 BanStore
func (m *Memory) Ban(_ context.Context, ban *model.Ban) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ban
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.clock.Now()
	}
	m.bans[ban.UserID] = &cp
	return nil
}

// Unban 实现 BanStore
func (m *Memory) Unban(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bans, userID)
	return nil
}

// GetBan 实现 BanStore
func (m *Memory) GetBan(_ context.Context, userID string) (*model.Ban, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bans[userID]
	if !ok || !b.Active(m.clock.Now()) {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

// CreateMessage 实现 MessageStore
func (m *Memory) CreateMessage(_ context.Context, roomID, userID, content string, metadata json.RawMessage) (*model.Message, error) {
	id, err := m.ids.NextID()
	if err != nil {
		return nil, errors.Wrap(err, "allocate message id")
	}

	msg := &model.Message{
		ID:        id,
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: m.clock.Now(),
	}

	m.mu.Lock()
	m.messages = append(m.messages, msg)
	if n := len(m.messages) - MemoryMessageLimit; n > 0 {
		clear(m.messages[:n])
		m.messages = append(m.messages[:0], m.messages[n:]...)
	}
	m.mu.Unlock()

	cp := *msg
	return &cp, nil
}

// Messages 返回房间内已保存的消息
func (m *Memory) Messages(roomID string) []*model.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Message
	for _, msg := range m.messages {
		if msg.RoomID == roomID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out
}

// Incr 实现 PresenceCounter
func (m *Memory) Incr(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence[userID]++
	return m.presence[userID], nil
}

// Decr 实现 PresenceCounter
func (m *Memory) Decr(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.presence[userID] - 1
	if n <= 0 {
		delete(m.presence, userID)
		return 0, nil
	}
	m.presence[userID] = n
	return n, nil
}

// Sweep 清理过期的吊销记录、封禁与会话，返回清理条数
func (m *Memory) Sweep(_ context.Context) (int, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, exp := range m.revocations {
		if !now.Before(exp) {
			delete(m.revocations, id)
			removed++
		}
	}
	for id, b := range m.bans {
		if !b.Active(now) {
			delete(m.bans, id)
			removed++
		}
	}
	for id, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}
