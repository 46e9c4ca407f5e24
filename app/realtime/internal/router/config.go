package router

import "time"

// Config 事件路由配置
type Config struct {
	// AuthTimeout 认证必须在该时间内完成
	AuthTimeout time.Duration `mapstructure:"auth_timeout" validate:"gt=0"`
	// HeartbeatInterval 下发给客户端的心跳间隔
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	// RevalidateInterval 已建立连接的会话复核间隔，0 关闭
	RevalidateInterval time.Duration `mapstructure:"revalidate_interval"`
	// MaxContentLength 消息内容最大字符数，超出截断
	MaxContentLength int `mapstructure:"max_content_length" validate:"gt=0"`
	// MaxRoomIDLength 房间 ID 最大长度
	MaxRoomIDLength int `mapstructure:"max_room_id_length" validate:"gt=0"`
	// PersistTimeout 消息持久化超时
	PersistTimeout time.Duration `mapstructure:"persist_timeout" validate:"gt=0"`
	// PublishTimeout 总线发布超时
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	// PresenceTimeout 在线计数读写超时
	PresenceTimeout time.Duration `mapstructure:"presence_timeout"`
	// TypingTTL 输入状态在总线上的存活时间
	TypingTTL time.Duration `mapstructure:"typing_ttl"`
	// InboundRate 每连接每秒允许的入站事件数
	InboundRate float64 `mapstructure:"inbound_rate" validate:"gt=0"`
	// InboundBurst 入站突发量
	InboundBurst int `mapstructure:"inbound_burst" validate:"gt=0"`
	// InboundQueue 每连接待处理事件队列长度
	InboundQueue int `mapstructure:"inbound_queue" validate:"gt=0"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		AuthTimeout:        10 * time.Second,
		HeartbeatInterval:  25 * time.Second,
		RevalidateInterval: 5 * time.Minute,
		MaxContentLength:   2000,
		MaxRoomIDLength:    128,
		PersistTimeout:     5 * time.Second,
		PublishTimeout:     2 * time.Second,
		PresenceTimeout:    2 * time.Second,
		TypingTTL:          5 * time.Second,
		InboundRate:        20,
		InboundBurst:       40,
		InboundQueue:       256,
	}
}
