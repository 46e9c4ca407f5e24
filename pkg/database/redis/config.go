package redis

import (
	"errors"
	"time"
)

var (
	ErrNilConfig = errors.New("redis: nil config")
	// ErrInvalidConfig standalone 与 cluster 未配置或同时配置
	ErrInvalidConfig = errors.New("redis: exactly one of standalone or cluster is required")
)

// Config Redis 配置，Standalone 与 Cluster 必须且只能配置一种
type Config struct {
	// Standalone 单机模式
	Standalone *NodeConfig `mapstructure:"standalone"`
	// Cluster 集群模式
	Cluster *ClusterConfig `mapstructure:"cluster"`
	// Pool 连接池配置（两种模式共享）
	Pool PoolConfig `mapstructure:"pool"`
	// KeyPrefix 所有业务 key 的前缀，便于多服务共用实例
	KeyPrefix string `mapstructure:"key_prefix"`
}

// NodeConfig 单节点配置
type NodeConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ClusterConfig 集群配置
type ClusterConfig struct {
	Addrs    []string `mapstructure:"addrs"` // host:port
	Password string   `mapstructure:"password"`
}

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
}

// DefaultConfig 本机单节点默认配置
func DefaultConfig() *Config {
	return &Config{
		Standalone: &NodeConfig{Host: "127.0.0.1", Port: 6379},
		Pool: PoolConfig{
			MaxIdleConns:    16,
			MaxOpenConns:    128,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
			DialTimeout:     5 * time.Second,
			ReadTimeout:     3 * time.Second,
			WriteTimeout:    3 * time.Second,
			PoolTimeout:     4 * time.Second,
		},
		KeyPrefix: "xdooria:realtime:",
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if (c.Standalone == nil) == (c.Cluster == nil) {
		return ErrInvalidConfig
	}
	if c.Cluster != nil && len(c.Cluster.Addrs) == 0 {
		return ErrInvalidConfig
	}
	return nil
}
