package moderation

import "time"

// Config 处置默认值
type Config struct {
	// RevocationTTL 吊销记录保留时间，应不短于凭证有效期
	RevocationTTL time.Duration `mapstructure:"revocation_ttl" validate:"gt=0"`
	// DefaultBanDuration 未指定时长时的封禁时长
	DefaultBanDuration time.Duration `mapstructure:"default_ban_duration" validate:"gt=0"`
	// StoreTimeout 存储写入超时
	StoreTimeout time.Duration `mapstructure:"store_timeout"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		RevocationTTL:      24 * time.Hour,
		DefaultBanDuration: 24 * time.Hour,
		StoreTimeout:       3 * time.Second,
	}
}
