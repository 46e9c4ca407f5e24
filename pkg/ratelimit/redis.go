package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/xdooria-realtime/pkg/database/redis"
)

// 有序集合保存窗口内每次放行的毫秒时间戳
//
// KEYS[1] 计数 key
// ARGV[1] 当前毫秒时间
// ARGV[2] 窗口毫秒
// ARGV[3] 上限
// ARGV[4] 成员唯一后缀
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
	return 0
end
redis.call('ZADD', key, now, ARGV[1] .. '-' .. ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// RedisLimiter 跨进程共享的滑动窗口限流器
type RedisLimiter struct {
	client *redis.Client
	prefix string

	mu  sync.RWMutex
	cfg Config

	now func() int64
}

// NewRedis 创建基于 Redis 的限流器，prefix 用于区分不同的限流维度
func NewRedis(client *redis.Client, prefix string, cfg Config) (*RedisLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		cfg:    cfg,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Allow 实现 Limiter
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	cfg := l.Config()

	res, err := l.client.Run(ctx, slidingWindowScript,
		[]string{l.client.Key("ratelimit", l.prefix, key)},
		strconv.FormatInt(l.now(), 10),
		cfg.Window.Milliseconds(),
		cfg.Limit,
		uuid.New().String(),
	)
	if err != nil {
		return false, fmt.Errorf("ratelimit: %w", err)
	}

	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("ratelimit: unexpected script result %T", res)
	}
	return n == 1, nil
}

// SetConfig 实现 Limiter
func (l *RedisLimiter) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
	return nil
}

// Config 实现 Limiter
func (l *RedisLimiter) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}
