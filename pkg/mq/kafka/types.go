package kafka

import "time"

// Message 消息结构
type Message struct {
	// Key 消息键（同一 Key 的消息路由到同一分区）
	Key []byte

	// Value 消息值
	Value []byte

	// Headers 消息头（如 event_type、content-type）
	Headers map[string]string
}

// ProducerStats 生产者统计
type ProducerStats struct {
	MessagesProduced  int64
	MessagesSucceeded int64
	MessagesFailed    int64
	LastMessageTime   time.Time
}
