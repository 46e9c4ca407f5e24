package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// MessageType 消息类型
type MessageType int

const (
	// MessageTypeText 文本消息
	MessageTypeText MessageType = 1
	// MessageTypeBinary 二进制消息
	MessageTypeBinary MessageType = 2
	// MessageTypeClose 关闭帧（仅用于发送队列，写循环写出后关闭连接）
	MessageTypeClose MessageType = 8
)

// 关闭状态码
const (
	CloseNormalClosure   = websocket.CloseNormalClosure
	CloseGoingAway       = websocket.CloseGoingAway
	ClosePolicyViolation = websocket.ClosePolicyViolation
	CloseTryAgainLater   = websocket.CloseTryAgainLater
	CloseInternalError   = websocket.CloseInternalServerErr
)

// String 返回消息类型的字符串表示
func (t MessageType) String() string {
	switch t {
	case MessageTypeText:
		return "text"
	case MessageTypeBinary:
		return "binary"
	case MessageTypeClose:
		return "close"
	default:
		return "unknown"
	}
}

// Stats 统计信息
type Stats struct {
	TotalConnections  int64          `json:"total_connections"`
	ActiveConnections int64          `json:"active_connections"`
	ConnectionsPerIP  map[string]int `json:"connections_per_ip,omitempty"`
}

// ConnectionInfo 连接信息
type ConnectionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Closed      bool      `json:"closed"`
}
