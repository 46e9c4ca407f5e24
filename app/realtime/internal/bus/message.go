package bus

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// Channel 总线频道
type Channel string

const (
	ChannelPresence      Channel = "presence"
	ChannelModeration    Channel = "moderation"
	ChannelMessages      Channel = "messages"
	ChannelNotifications Channel = "notifications"
	ChannelTyping        Channel = "typing"
	ChannelSystem        Channel = "system"
	ChannelAnalytics     Channel = "analytics"
)

// Channels 启动时订阅的全部频道，也是补发顺序
var Channels = []Channel{
	ChannelPresence,
	ChannelModeration,
	ChannelMessages,
	ChannelNotifications,
	ChannelTyping,
	ChannelSystem,
	ChannelAnalytics,
}

// Priority 消息优先级
type Priority int

const (
	// PriorityLow 断线时直接丢弃，不进入补发队列
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// Message 跨进程广播的消息
type Message struct {
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	OriginProcessID string          `json:"originProcessId"`
	CreatedAt       time.Time       `json:"createdAt"`
	TTLSeconds      int             `json:"ttlSeconds,omitempty"`
	Priority        Priority        `json:"priority,omitempty"`
}

// NewMessage 序列化 payload 构造消息
func NewMessage(typ string, payload any) (*Message, error) {
	msg := &Message{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s payload", typ)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// WithTTL 设置存活时间，过期消息由接收方丢弃
func (m *Message) WithTTL(ttl time.Duration) *Message {
	m.TTLSeconds = int((ttl + time.Second - 1) / time.Second)
	return m
}

// WithPriority 设置优先级
func (m *Message) WithPriority(p Priority) *Message {
	m.Priority = p
	return m
}

// Expired TTL 未设置时永不过期
func (m *Message) Expired(now time.Time) bool {
	if m.TTLSeconds <= 0 {
		return false
	}
	return now.Sub(m.CreatedAt) > time.Duration(m.TTLSeconds)*time.Second
}

// Decode 解析载荷
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return errors.Newf("%s message has no payload", m.Type)
	}
	return errors.Wrapf(json.Unmarshal(m.Payload, v), "decode %s payload", m.Type)
}
