package websocket

import "time"

// ServerConfig 服务端配置
type ServerConfig struct {
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`

	// MaxMessageSize 单条入站消息上限（字节）
	MaxMessageSize int64 `mapstructure:"max_message_size"`

	// ReadTimeout 读空闲超时，收到 pong 时续期
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`

	SendQueueSize int `mapstructure:"send_queue_size"`

	MaxConnections      int `mapstructure:"max_connections"`
	MaxConnectionsPerIP int `mapstructure:"max_connections_per_ip"`

	// AllowedOrigins 为空或包含 "*" 时不校验 Origin
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DefaultServerConfig 返回默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   64 * 1024,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     25 * time.Second,
		SendQueueSize:    256,
		MaxConnections:   100000,
	}
}

// Validate 验证配置
func (c *ServerConfig) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.SendQueueSize <= 0 || c.MaxMessageSize < 0 {
		return ErrInvalidConfig
	}
	if c.PingInterval > 0 && c.ReadTimeout > 0 && c.PingInterval >= c.ReadTimeout {
		return ErrInvalidConfig
	}
	return nil
}
