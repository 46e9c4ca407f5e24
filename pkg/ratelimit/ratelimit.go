// Package ratelimit 提供滚动窗口计数限流：窗口内同一 key 最多放行 Limit 次。
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidConfig 配置无效
var ErrInvalidConfig = errors.New("ratelimit: invalid config")

// Config 滑动窗口配置
type Config struct {
	// Limit 窗口内最多放行次数
	Limit int `mapstructure:"limit" validate:"gt=0"`
	// Window 滚动窗口长度
	Window time.Duration `mapstructure:"window" validate:"gt=0"`
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.Limit <= 0 || c.Window <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Limiter 滑动窗口限流器
//
// Allow 在放行时计数一次；拒绝的调用不计数。
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	// SetConfig 运行时调整阈值，已记录的历史按新窗口重新解释
	SetConfig(cfg Config) error
	Config() Config
}
