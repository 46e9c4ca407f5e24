package redis

import (
	"context"
	"fmt"

	"github.com/lk2023060901/xdooria-realtime/pkg/config"
	"github.com/redis/go-redis/v9"
)

// Client Redis 客户端，对外隐藏 go-redis 的单机/集群差异
type Client struct {
	rdb redis.UniversalClient
	cfg *Config
}

// NewClient 创建客户端，cfg 只需填写需要覆盖的字段
func NewClient(cfg *Config) (*Client, error) {
	merged := DefaultConfig()
	if cfg != nil {
		// 显式配置集群时不再保留默认单机节点
		if cfg.Cluster != nil {
			merged.Standalone = nil
		}
		var err error
		if merged, err = config.MergeConfig(merged, cfg); err != nil {
			return nil, fmt.Errorf("merge redis config: %w", err)
		}
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	c := &Client{cfg: merged}
	pool := merged.Pool
	if merged.Standalone != nil {
		c.rdb = redis.NewClient(&redis.Options{
			Addr:            fmt.Sprintf("%s:%d", merged.Standalone.Host, merged.Standalone.Port),
			Password:        merged.Standalone.Password,
			DB:              merged.Standalone.DB,
			MaxIdleConns:    pool.MaxIdleConns,
			MaxActiveConns:  pool.MaxOpenConns,
			ConnMaxLifetime: pool.ConnMaxLifetime,
			ConnMaxIdleTime: pool.ConnMaxIdleTime,
			DialTimeout:     pool.DialTimeout,
			ReadTimeout:     pool.ReadTimeout,
			WriteTimeout:    pool.WriteTimeout,
			PoolTimeout:     pool.PoolTimeout,
		})
	} else {
		c.rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           merged.Cluster.Addrs,
			Password:        merged.Cluster.Password,
			MaxIdleConns:    pool.MaxIdleConns,
			ConnMaxLifetime: pool.ConnMaxLifetime,
			ConnMaxIdleTime: pool.ConnMaxIdleTime,
			DialTimeout:     pool.DialTimeout,
			ReadTimeout:     pool.ReadTimeout,
			WriteTimeout:    pool.WriteTimeout,
			PoolTimeout:     pool.PoolTimeout,
		})
	}
	return c, nil
}

// Key 拼接业务 key 前缀
func (c *Client) Key(parts ...string) string {
	key := c.cfg.KeyPrefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

// Ping 测试连接
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// PoolStats 连接池统计
func (c *Client) PoolStats() PoolStats {
	s := c.rdb.PoolStats()
	return PoolStats{
		Hits:       s.Hits,
		Misses:     s.Misses,
		Timeouts:   s.Timeouts,
		TotalConns: s.TotalConns,
		IdleConns:  s.IdleConns,
		StaleConns: s.StaleConns,
	}
}

// Close 关闭客户端
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}
