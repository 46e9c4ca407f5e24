package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lk2023060901/xdooria-realtime/pkg/config"
)

// Client PostgreSQL 客户端（pgxpool）
type Client struct {
	pool *pgxpool.Pool
	cfg  *Config
}

// New 创建客户端并验证连通性
func New(cfg *Config) (*Client, error) {
	merged, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, fmt.Errorf("merge postgres config: %w", err)
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(connString(merged))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}
	poolCfg.MaxConns = merged.Pool.MaxConns
	poolCfg.MinConns = merged.Pool.MinConns
	poolCfg.MaxConnLifetime = merged.Pool.MaxConnLifetime
	poolCfg.MaxConnIdleTime = merged.Pool.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = merged.Pool.HealthCheckPeriod

	ctx, cancel := context.WithTimeout(context.Background(), merged.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Client{pool: pool, cfg: merged}, nil
}

func connString(c *Config) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, int(c.ConnectTimeout.Seconds()),
	)
}

// Ping 测试连接
func (c *Client) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// Stats 连接池统计
func (c *Client) Stats() PoolStats {
	s := c.pool.Stat()
	return PoolStats{
		AcquiredConns: s.AcquiredConns(),
		IdleConns:     s.IdleConns(),
		TotalConns:    s.TotalConns(),
		MaxConns:      s.MaxConns(),
	}
}

// PoolStats 连接池统计信息
type PoolStats struct {
	AcquiredConns int32
	IdleConns     int32
	TotalConns    int32
	MaxConns      int32
}

// Close 关闭连接池
func (c *Client) Close() error {
	c.pool.Close()
	return nil
}
