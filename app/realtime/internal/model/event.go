package model

import "encoding/json"

// Event 客户端线协议信封 {"event": ..., "data": ...}
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent 序列化 data 构造事件，data 为 nil 时省略
func NewEvent(name string, data any) (*Event, error) {
	evt := &Event{Name: name}
	if data == nil {
		return evt, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	evt.Data = raw
	return evt, nil
}

// MustEvent 与 NewEvent 相同，序列化失败时 panic，仅用于固定结构的载荷
func MustEvent(name string, data any) *Event {
	evt, err := NewEvent(name, data)
	if err != nil {
		panic(err)
	}
	return evt
}

// 入站事件
const (
	EventHeartbeat      = "heartbeat"
	EventRoomJoin       = "room:join"
	EventRoomLeave      = "room:leave"
	EventMessageSend    = "message:send"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventPresenceUpdate = "presence:update"
)

// 出站事件
const (
	EventReady           = "ready"
	EventHeartbeatAck    = "heartbeat_ack"
	EventRoomJoined      = "room:joined"
	EventRoomLeft        = "room:left"
	EventMessageCreated  = "message:created"
	EventTypingStarted   = "typing:started"
	EventTypingStopped   = "typing:stopped"
	EventPresenceChanged = "presence:changed"
	EventNotification    = "notification"
	EventError           = "error"
	EventClose           = "close"
)

// ReadyPayload ready 事件载荷
type ReadyPayload struct {
	Identity            Identity `json:"identity"`
	SessionID           string   `json:"sessionId"`
	HeartbeatIntervalMs int64    `json:"heartbeatIntervalMs"`
}

// HeartbeatAckPayload heartbeat_ack 事件载荷
type HeartbeatAckPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// RoomPayload room:join / room:leave 及其回执
type RoomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

// MessageSendPayload message:send 载荷
type MessageSendPayload struct {
	RoomID      string          `json:"roomId" validate:"required"`
	Content     string          `json:"content"`
	ClientNonce string          `json:"clientNonce,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// MessageCreatedPayload message:created 载荷
type MessageCreatedPayload struct {
	Message     *Message `json:"message"`
	ClientNonce string   `json:"clientNonce,omitempty"`
}

// TypingPayload typing:* 载荷
type TypingPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// PresenceUpdatePayload presence:update 载荷
type PresenceUpdatePayload struct {
	Status PresenceStatus `json:"status"`
}

// PresenceChangedPayload presence:changed 载荷
type PresenceChangedPayload struct {
	UserID string         `json:"userId"`
	Status PresenceStatus `json:"status"`
}

// ErrorPayload error 事件载荷
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClosePayload close 事件载荷
type ClosePayload struct {
	Reason string `json:"reason"`
}
