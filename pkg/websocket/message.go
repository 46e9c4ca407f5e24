package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// Message WebSocket 消息
type Message struct {
	Type      MessageType
	Data      []byte
	Timestamp time.Time
}

// NewTextMessage 创建文本消息
func NewTextMessage(data []byte) *Message {
	return &Message{
		Type:      MessageTypeText,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// NewJSONMessage 序列化为 JSON 文本消息
func NewJSONMessage(v any) (*Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return NewTextMessage(data), nil
}

// newCloseMessage 创建关闭帧
func newCloseMessage(code int, reason string) *Message {
	return &Message{
		Type:      MessageTypeClose,
		Data:      websocket.FormatCloseMessage(code, truncateReason(reason)),
		Timestamp: time.Now(),
	}
}

// 关闭帧控制负载上限 125 字节，去掉 2 字节状态码
const maxCloseReasonLen = 123

func truncateReason(reason string) string {
	if len(reason) <= maxCloseReasonLen {
		return reason
	}
	return reason[:maxCloseReasonLen]
}

// String 返回消息数据的字符串表示
func (m *Message) String() string {
	return string(m.Data)
}

// Len 返回消息数据长度
func (m *Message) Len() int {
	return len(m.Data)
}
