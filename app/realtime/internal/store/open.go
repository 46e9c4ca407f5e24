package store

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-realtime/pkg/database/postgres"
	"github.com/lk2023060901/xdooria-realtime/pkg/database/redis"
	"github.com/lk2023060901/xdooria-realtime/pkg/idgen"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
)

// 存储驱动
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// Config 存储配置
type Config struct {
	// Sessions 会话、吊销、封禁使用的驱动
	Sessions string `mapstructure:"sessions" validate:"oneof=memory redis postgres"`
	// Messages 消息驱动
	Messages string `mapstructure:"messages" validate:"oneof=memory postgres"`
	// Presence 在线计数驱动，多进程部署必须为 redis
	Presence string `mapstructure:"presence" validate:"oneof=memory redis"`

	PresenceTTL  time.Duration `mapstructure:"presence_ttl"`
	SweepSpec    string        `mapstructure:"sweep_spec"`
	SweepTimeout time.Duration `mapstructure:"sweep_timeout"`
	// Migrate 启动时自动建表
	Migrate bool `mapstructure:"migrate"`
}

// DefaultConfig 默认配置：全部使用内存驱动
func DefaultConfig() *Config {
	return &Config{
		Sessions:     DriverMemory,
		Messages:     DriverMemory,
		Presence:     DriverMemory,
		PresenceTTL:  24 * time.Hour,
		SweepSpec:    "@every 1m",
		SweepTimeout: 10 * time.Second,
		Migrate:      true,
	}
}

// Deps 打开存储所需的外部依赖，按驱动按需提供
type Deps struct {
	Redis    *redis.Client
	Postgres *postgres.Client
	IDs      idgen.Generator
	Clock    clock.Clock
	Logger   logger.Logger
}

// Open 根据配置组装存储
func Open(ctx context.Context, cfg *Config, deps Deps) (*Stores, error) {
	if deps.Logger == nil {
		deps.Logger = logger.NewNoop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}

	s := &Stores{}
	var (
		mem *Memory
		rds *Redis
		pg  *Postgres
	)
	memory := func() *Memory {
		if mem == nil {
			mem = NewMemory(deps.Clock, deps.IDs)
		}
		return mem
	}
	redisStore := func() (*Redis, error) {
		if deps.Redis == nil {
			return nil, errors.Wrap(ErrMissingDependency, DriverRedis)
		}
		if rds == nil {
			rds = NewRedis(deps.Redis, deps.Clock, deps.Logger, cfg.PresenceTTL)
		}
		return rds, nil
	}
	postgresStore := func() (*Postgres, error) {
		if deps.Postgres == nil {
			return nil, errors.Wrap(ErrMissingDependency, DriverPostgres)
		}
		if pg == nil {
			pg = NewPostgres(deps.Postgres, deps.IDs, deps.Clock, deps.Logger)
			if cfg.Migrate {
				if err := pg.Migrate(ctx); err != nil {
					return nil, err
				}
			}
		}
		return pg, nil
	}

	switch cfg.Sessions {
	case DriverMemory:
		m := memory()
		s.Sessions, s.Revocations, s.Bans = m, m, m
	case DriverRedis:
		r, err := redisStore()
		if err != nil {
			return nil, err
		}
		s.Sessions, s.Revocations, s.Bans = r, r, r
	case DriverPostgres:
		p, err := postgresStore()
		if err != nil {
			return nil, err
		}
		s.Sessions, s.Revocations, s.Bans = p, p, p
	default:
		return nil, errors.Wrapf(ErrUnknownDriver, "sessions: %q", cfg.Sessions)
	}

	switch cfg.Messages {
	case DriverMemory:
		s.Messages = memory()
	case DriverPostgres:
		p, err := postgresStore()
		if err != nil {
			return nil, err
		}
		s.Messages = p
	default:
		return nil, errors.Wrapf(ErrUnknownDriver, "messages: %q", cfg.Messages)
	}

	switch cfg.Presence {
	case DriverMemory:
		s.Presence = memory()
	case DriverRedis:
		r, err := redisStore()
		if err != nil {
			return nil, err
		}
		s.Presence = r
	default:
		return nil, errors.Wrapf(ErrUnknownDriver, "presence: %q", cfg.Presence)
	}

	// Redis 依靠 key TTL 过期，内存与 PostgreSQL 需要定期清理
	var targets []Sweepable
	if mem != nil {
		targets = append(targets, mem)
	}
	if pg != nil {
		targets = append(targets, pg)
	}
	for _, t := range targets {
		sw, err := NewSweeper(t, cfg.SweepSpec, cfg.SweepTimeout, deps.Logger)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		sw.Start()
		s.closers = append(s.closers, sw.Stop)
	}

	return s, nil
}
