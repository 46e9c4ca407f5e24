package main

import (
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/aggregator"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/analytics"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/auth"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/bus"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/metrics"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/moderation"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/router"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/store"
	"github.com/lk2023060901/xdooria-realtime/pkg/database/postgres"
	"github.com/lk2023060901/xdooria-realtime/pkg/database/redis"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/lk2023060901/xdooria-realtime/pkg/security"
	"github.com/lk2023060901/xdooria-realtime/pkg/sentry"
	"github.com/lk2023060901/xdooria-realtime/pkg/web"
	"github.com/lk2023060901/xdooria-realtime/pkg/websocket"
)

// 总线代理
const (
	BrokerMemory = "memory"
	BrokerRedis  = "redis"
)

// Config 实时服务的完整配置
type Config struct {
	// ProcessID 为空时由主机名与 sonyflake 生成
	ProcessID string `mapstructure:"process_id"`

	Log     logger.Config             `mapstructure:"log"`
	Loggers map[string]*logger.Config `mapstructure:"loggers"`
	// Sentry DSN 为空时不上报
	Sentry sentry.Config `mapstructure:"sentry"`

	HTTP      web.Config             `mapstructure:"http"`
	WebSocket websocket.ServerConfig `mapstructure:"websocket"`
	JWT       security.JWTConfig     `mapstructure:"jwt"`

	// Redis 与 Postgres 未配置时不建立连接，对应驱动不可用
	Redis    *redis.Config    `mapstructure:"redis"`
	Postgres *postgres.Config `mapstructure:"postgres"`

	Store      store.Config      `mapstructure:"store"`
	Auth       auth.Config       `mapstructure:"auth"`
	Bus        BusConfig         `mapstructure:"bus"`
	Router     router.Config     `mapstructure:"router"`
	Moderation moderation.Config `mapstructure:"moderation"`
	Aggregator aggregator.Config `mapstructure:"aggregator"`
	Metrics    metrics.Config    `mapstructure:"metrics"`
	Analytics  analytics.Config  `mapstructure:"analytics"`
}

// BusConfig 总线配置与代理选择
type BusConfig struct {
	bus.Config `mapstructure:",squash"`
	// Broker memory 仅用于单进程部署
	Broker string `mapstructure:"broker" validate:"oneof=memory redis"`
}

// defaultConfig 解析前预置的默认值，配置文件只需覆盖差异项
func defaultConfig() *Config {
	return &Config{
		Log:        *logger.DefaultConfig(),
		Sentry:     *sentry.DefaultConfig(),
		HTTP:       *web.DefaultConfig(),
		WebSocket:  *websocket.DefaultServerConfig(),
		JWT:        *security.DefaultJWTConfig(),
		Store:      *store.DefaultConfig(),
		Auth:       *auth.DefaultConfig(),
		Bus:        BusConfig{Config: *bus.DefaultConfig(), Broker: BrokerMemory},
		Router:     *router.DefaultConfig(),
		Moderation: *moderation.DefaultConfig(),
		Aggregator: *aggregator.DefaultConfig(),
		Metrics:    *metrics.DefaultConfig(),
		Analytics:  *analytics.DefaultConfig(),
	}
}

// needsRedis 任一组件选择了 redis
func (c *Config) needsRedis() bool {
	return c.Bus.Broker == BrokerRedis ||
		c.Auth.Limiter == auth.LimiterRedis ||
		c.Store.Sessions == store.DriverRedis ||
		c.Store.Presence == store.DriverRedis
}

func (c *Config) needsPostgres() bool {
	return c.Store.Sessions == store.DriverPostgres || c.Store.Messages == store.DriverPostgres
}
