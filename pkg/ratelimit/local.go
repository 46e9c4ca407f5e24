package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// 过期键的最大数量，超出后按 LRU 淘汰
const defaultMaxKeys = 100000

// history 单个 key 的放行时间戳（升序）
type history struct {
	mu    sync.Mutex
	times []time.Time
}

// LocalLimiter 进程内滑动日志限流器
type LocalLimiter struct {
	mu       sync.RWMutex
	createMu sync.Mutex
	cfg      Config
	clock    clock.Clock
	maxKeys  int
	keys     *expirable.LRU[string, *history]
}

// LocalOption 选项
type LocalOption func(*localOptions)

type localOptions struct {
	clock   clock.Clock
	maxKeys int
}

// WithClock 注入时钟（测试用）
func WithClock(c clock.Clock) LocalOption {
	return func(o *localOptions) {
		o.clock = c
	}
}

// WithMaxKeys 限制跟踪的 key 数量
func WithMaxKeys(n int) LocalOption {
	return func(o *localOptions) {
		o.maxKeys = n
	}
}

// NewLocal 创建进程内限流器
func NewLocal(cfg Config, opts ...LocalOption) (*LocalLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &localOptions{clock: clock.New(), maxKeys: defaultMaxKeys}
	for _, opt := range opts {
		opt(o)
	}

	return &LocalLimiter{
		cfg:     cfg,
		clock:   o.clock,
		maxKeys: o.maxKeys,
		keys:    expirable.NewLRU[string, *history](o.maxKeys, nil, cfg.Window),
	}, nil
}

// Allow 实现 Limiter
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.RLock()
	cfg := l.cfg
	keys := l.keys
	l.mu.RUnlock()

	h, ok := keys.Get(key)
	if !ok {
		l.createMu.Lock()
		if h, ok = keys.Peek(key); !ok {
			h = &history{}
			keys.Add(key, h)
		}
		l.createMu.Unlock()
	}

	now := l.clock.Now()
	cutoff := now.Add(-cfg.Window)

	h.mu.Lock()
	defer h.mu.Unlock()

	i := 0
	for i < len(h.times) && !h.times[i].After(cutoff) {
		i++
	}
	h.times = h.times[i:]

	if len(h.times) >= cfg.Limit {
		return false, nil
	}
	h.times = append(h.times, now)
	// 续期：最后一次放行后一个窗口内历史仍有效
	keys.Add(key, h)
	return true, nil
}

// SetConfig 实现 Limiter
func (l *LocalLimiter) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg.Window != l.cfg.Window {
		// 过期时间随窗口变化，重建缓存
		l.keys = expirable.NewLRU[string, *history](l.maxKeys, nil, cfg.Window)
	}
	l.cfg = cfg
	return nil
}

// Config 实现 Limiter
func (l *LocalLimiter) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}
