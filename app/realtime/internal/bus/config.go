package bus

import "time"

// Config 总线配置
type Config struct {
	// QueueCapacity 每个频道补发队列的容量
	QueueCapacity int `mapstructure:"queue_capacity" validate:"gt=0"`
	// PingInterval 代理探活间隔，也是补发的检查间隔
	PingInterval time.Duration `mapstructure:"ping_interval" validate:"gt=0"`
	PingTimeout  time.Duration `mapstructure:"ping_timeout"`
	// PublishTimeout 单次发布超时
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	// HeartbeatInterval 进程心跳间隔
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	// PeerStaleIntervals 对端多少个心跳间隔未出现视为失联
	PeerStaleIntervals int `mapstructure:"peer_stale_intervals" validate:"gt=0"`
	// EscalateAfter 不可用持续多久后日志升级为 Error
	EscalateAfter time.Duration `mapstructure:"escalate_after"`
	// Prefix Redis 频道前缀
	Prefix string `mapstructure:"prefix"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		QueueCapacity:      1000,
		PingInterval:       2 * time.Second,
		PingTimeout:        time.Second,
		PublishTimeout:     2 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		PeerStaleIntervals: 3,
		EscalateAfter:      30 * time.Second,
		Prefix:             "bus",
	}
}
