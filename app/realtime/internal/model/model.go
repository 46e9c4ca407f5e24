// Package model 实时层共享的领域类型。
package model

import (
	"encoding/json"
	"time"
)

// Session 登录会话
type Session struct {
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId"`
	DeviceInfo string    `json:"deviceInfo,omitempty"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Revoked    bool      `json:"revoked"`
}

// Active 会话在 now 时刻是否可用
func (s *Session) Active(now time.Time) bool {
	return s != nil && !s.Revoked && now.Before(s.ExpiresAt)
}

// RevocationEntry 凭证吊销记录，到期后可清理
type RevocationEntry struct {
	CredentialID string        `json:"credentialId"`
	RevokedAt    time.Time     `json:"revokedAt"`
	TTL          time.Duration `json:"ttl"`
}

// ExpiresAt 记录到期时间
func (e *RevocationEntry) ExpiresAt() time.Time {
	return e.RevokedAt.Add(e.TTL)
}

// Ban 用户封禁
type Ban struct {
	UserID    string    `json:"userId"`
	Until     time.Time `json:"until"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Active 封禁在 now 时刻是否生效
func (b *Ban) Active(now time.Time) bool {
	return b != nil && now.Before(b.Until)
}

// Message 持久化的聊天消息
type Message struct {
	ID        int64           `json:"id,string"`
	RoomID    string          `json:"roomId"`
	UserID    string          `json:"userId"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Identity 通过校验的连接身份
type Identity struct {
	UserID       string    `json:"userId"`
	SessionID    string    `json:"sessionId"`
	CredentialID string    `json:"-"`
	Username     string    `json:"username,omitempty"`
	DisplayName  string    `json:"displayName,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// PresenceStatus 在线状态
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceIdle    PresenceStatus = "idle"
	PresenceDND     PresenceStatus = "dnd"
	PresenceOffline PresenceStatus = "offline"
)

// Valid 是否为可接受的状态值
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceIdle, PresenceDND, PresenceOffline:
		return true
	}
	return false
}

// PrivateRoom 用户私有房间 ID
func PrivateRoom(userID string) string {
	return PrivateRoomPrefix + userID
}

// PrivateRoomPrefix 私有房间前缀
const PrivateRoomPrefix = "user:"
