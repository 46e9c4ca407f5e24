// Package store 定义会话、吊销、封禁、消息与在线计数的存储接口及其实现。
//
// 约定：查询不到数据返回 (nil, nil)，基础设施故障返回非 nil error。
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
)

// SessionStore 登录会话存储
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	CreateSession(ctx context.Context, s *model.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	// RevokeSession 标记会话为吊销，会话不存在时不报错
	RevokeSession(ctx context.Context, sessionID string) error
}

// RevocationStore 凭证吊销表
type RevocationStore interface {
	// Revoke 幂等，重复吊销刷新 TTL
	Revoke(ctx context.Context, credentialID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, credentialID string) (bool, error)
}

// BanStore 用户封禁
type BanStore interface {
	Ban(ctx context.Context, ban *model.Ban) error
	Unban(ctx context.Context, userID string) error
	// GetBan 返回生效中的封禁，未封禁或已过期返回 nil
	GetBan(ctx context.Context, userID string) (*model.Ban, error)
}

// MessageStore 消息持久化
type MessageStore interface {
	CreateMessage(ctx context.Context, roomID, userID, content string, metadata json.RawMessage) (*model.Message, error)
}

// PresenceCounter 跨进程的用户连接计数
type PresenceCounter interface {
	// Incr 返回自增后的连接数，1 表示该用户刚上线
	Incr(ctx context.Context, userID string) (int64, error)
	// Decr 返回自减后的连接数（不小于 0），0 表示该用户已离线
	Decr(ctx context.Context, userID string) (int64, error)
}

// Stores 服务使用的全部存储
type Stores struct {
	Sessions    SessionStore
	Revocations RevocationStore
	Bans        BanStore
	Messages    MessageStore
	Presence    PresenceCounter

	closers []func() error
}

// Close 停止后台清理任务
func (s *Stores) Close() error {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			return err
		}
	}
	return nil
}
