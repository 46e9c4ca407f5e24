package auth

import (
	"time"

	"github.com/lk2023060901/xdooria-realtime/pkg/ratelimit"
)

// 限流状态存放位置
const (
	LimiterMemory = "memory"
	LimiterRedis  = "redis"
)

// Config 凭证校验配置
type Config struct {
	// CredentialLimit 同一凭证的连接尝试限流
	CredentialLimit ratelimit.Config `mapstructure:"credential_limit"`
	// SourceLimit 同一来源地址的连接尝试限流，Limit 为 0 时关闭
	SourceLimit ratelimit.Config `mapstructure:"source_limit" validate:"-"`
	// Limiter memory 为进程内计数，redis 为集群共享计数
	Limiter string `mapstructure:"limiter" validate:"oneof=memory redis"`
	// StoreTimeout 单次存储查询超时
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		CredentialLimit: ratelimit.Config{Limit: 100, Window: time.Minute},
		SourceLimit:     ratelimit.Config{Limit: 300, Window: time.Minute},
		Limiter:         LimiterMemory,
		StoreTimeout:    3 * time.Second,
	}
}
