package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/aggregator"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/analytics"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/auth"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/bus"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/handler"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/metrics"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/moderation"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/registry"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/router"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/store"
	"github.com/lk2023060901/xdooria-realtime/pkg/app"
	"github.com/lk2023060901/xdooria-realtime/pkg/config"
	"github.com/lk2023060901/xdooria-realtime/pkg/database/postgres"
	"github.com/lk2023060901/xdooria-realtime/pkg/database/redis"
	"github.com/lk2023060901/xdooria-realtime/pkg/idgen"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/lk2023060901/xdooria-realtime/pkg/metrics/system"
	"github.com/lk2023060901/xdooria-realtime/pkg/mq/kafka"
	"github.com/lk2023060901/xdooria-realtime/pkg/ratelimit"
	"github.com/lk2023060901/xdooria-realtime/pkg/security"
	"github.com/lk2023060901/xdooria-realtime/pkg/web"
	"github.com/lk2023060901/xdooria-realtime/pkg/websocket"
)

const (
	startTimeout = 10 * time.Second
	closeTimeout = 10 * time.Second
)

// initApp 按依赖顺序组装全部组件并注册到 BaseApp
//
// 构造失败时已打开的资源通过 BaseApp 的 Closer 释放。
func initApp(cfg *Config, mgr config.Manager, l logger.Logger, closers ...app.Closer) (*app.BaseApp, error) {
	ids, processID, err := provideIdentity(cfg.ProcessID)
	if err != nil {
		return nil, err
	}

	base := app.NewBaseApp(
		app.WithID(processID),
		app.WithName("realtime"),
		app.WithLogger(l),
		app.WithNamedLoggers(cfg.Loggers),
	)
	// 最先注册的资源最后关闭，日志上报器需覆盖整个关闭过程
	base.AppendCloser(closers...)
	fail := func(err error) (*app.BaseApp, error) {
		_ = base.Shutdown()
		return nil, err
	}
	if err := base.InitNamedLoggers(); err != nil {
		return fail(errors.Wrap(err, "named loggers"))
	}

	// 1. 外部连接
	var (
		rdb *redis.Client
		pg  *postgres.Client
	)
	if cfg.needsRedis() {
		if rdb, err = redis.NewClient(cfg.Redis); err != nil {
			return fail(errors.Wrap(err, "redis"))
		}
		base.AppendCloser(rdb)
	}
	if cfg.needsPostgres() {
		if pg, err = postgres.New(cfg.Postgres); err != nil {
			return fail(errors.Wrap(err, "postgres"))
		}
		base.AppendCloser(pg)
	}

	// 2. 存储
	ctx, cancel := context.WithTimeout(base.Context(), startTimeout)
	defer cancel()
	stores, err := store.Open(ctx, &cfg.Store, store.Deps{
		Redis:    rdb,
		Postgres: pg,
		IDs:      ids,
		Logger:   l,
	})
	if err != nil {
		return fail(errors.Wrap(err, "store"))
	}
	base.AppendCloser(stores)

	// 3. 凭证校验
	tokens, err := security.NewJWTManager(&cfg.JWT)
	if err != nil {
		return fail(errors.Wrap(err, "jwt"))
	}
	validator, err := provideValidator(cfg, tokens, stores, rdb, l)
	if err != nil {
		return fail(err)
	}

	// 4. 指标与分析
	m, err := metrics.New(&cfg.Metrics)
	if err != nil {
		return fail(errors.Wrap(err, "metrics"))
	}
	observers := router.Observers{m}
	var exporter *analytics.Exporter
	if cfg.Analytics.Enabled {
		producer, err := kafka.NewProducer(cfg.Analytics.Kafka, kafka.WithLogger(l))
		if err != nil {
			return fail(errors.Wrap(err, "kafka"))
		}
		exporter = analytics.New(processID, producer, &cfg.Analytics, analytics.WithLogger(l))
		observers = append(observers, exporter)
	}

	// 5. 注册表、总线、路由、处置、聚合
	reg := registry.New(processID, registry.WithLogger(l))

	var broker bus.Broker
	if cfg.Bus.Broker == BrokerRedis {
		broker = bus.NewRedisBroker(rdb, cfg.Bus.Prefix, l)
	} else {
		broker = bus.NewMemoryBroker(bus.NewMemoryHub())
	}
	b := bus.New(processID, broker, &cfg.Bus.Config,
		bus.WithLogger(l),
		bus.WithConnectionCounter(reg.Count),
	)

	r := router.New(&cfg.Router, router.Deps{
		Registry:  reg,
		Validator: validator,
		Bus:       b,
		Presence:  stores.Presence,
		Messages:  stores.Messages,
		Observer:  observers,
		Logger:    l,
	})
	r.RegisterBusHandlers(b)

	mod := moderation.New(&cfg.Moderation, moderation.Deps{
		Registry:    reg,
		Sessions:    stores.Sessions,
		Revocations: stores.Revocations,
		Bans:        stores.Bans,
		Bus:         b,
		Notifier:    r,
		Logger:      l,
	})
	mod.RegisterBusHandlers(b)

	aggOpts := []aggregator.Option{
		aggregator.WithLogger(l),
		aggregator.WithPublisher(b),
		aggregator.WithSink(m.ObserveSnapshot),
	}
	if sampler, err := system.New(); err != nil {
		l.Warn("process sampler unavailable", "error", err)
	} else {
		aggOpts = append(aggOpts, aggregator.WithSampler(sampler))
	}
	if exporter != nil {
		aggOpts = append(aggOpts, aggregator.WithSink(exporter.ObserveSnapshot))
	}
	agg := aggregator.New(processID, reg, b, &cfg.Aggregator, aggOpts...)
	agg.RegisterBusHandlers(b)

	// 6. 传输与 HTTP
	ws, err := websocket.NewServer(&cfg.WebSocket, router.NewWebSocketHandler(r),
		websocket.WithServerLogger(l),
		websocket.WithServerMetrics(m.Registerer()),
	)
	if err != nil {
		return fail(errors.Wrap(err, "websocket"))
	}

	httpSrv, err := web.NewServer(&cfg.HTTP, l, web.WithMetrics(m.Registerer()))
	if err != nil {
		return fail(errors.Wrap(err, "http"))
	}
	handler.New(handler.Deps{
		Moderator: mod,
		Monitor:   agg,
		Tokens:    tokens,
		WebSocket: ws,
		Metrics:   m.Handler(),
		Logger:    l,
	}).Register(httpSrv.Router())

	// 7. 热更新限流阈值
	err = config.WatchKey(mgr, "auth", auth.DefaultConfig,
		func(next *auth.Config) {
			if err := validator.SetRateLimits(next.CredentialLimit, next.SourceLimit); err != nil {
				l.Warn("failed to apply rate limits", "error", err)
			}
		},
		func(err error) { l.Warn("failed to reload auth config", "error", err) },
	)
	if err != nil {
		l.Warn("config watch unavailable", "error", err)
	}

	base.AppendServer(&core{
		ctx:        base.Context(),
		bus:        b,
		router:     r,
		aggregator: agg,
		exporter:   exporter,
		ws:         ws,
		logger:     l.Named("realtime"),
	}, httpSrv)

	l.Info("realtime service assembled",
		"process_id", processID,
		"bus_broker", cfg.Bus.Broker,
		"sessions", cfg.Store.Sessions,
		"messages", cfg.Store.Messages,
		"presence", cfg.Store.Presence,
		"analytics", cfg.Analytics.Enabled,
	)
	return base, nil
}

// provideIdentity 创建 ID 生成器，processID 为空时由主机名加 sonyflake 后缀生成
func provideIdentity(processID string) (idgen.Generator, string, error) {
	seed := processID
	host, _ := os.Hostname()
	if seed == "" {
		seed = host
	}
	ids, err := idgen.NewSonyflake(idgen.MachineID(seed))
	if err != nil {
		return nil, "", err
	}
	if processID != "" {
		return ids, processID, nil
	}

	suffix, err := ids.NextID()
	if err != nil {
		return nil, "", err
	}
	if host == "" {
		host = "realtime"
	}
	return ids, fmt.Sprintf("%s-%x", host, suffix), nil
}

// provideValidator 按配置选择进程内或 Redis 共享限流
func provideValidator(cfg *Config, tokens *security.JWTManager, stores *store.Stores, rdb *redis.Client, l logger.Logger) (*auth.Validator, error) {
	opts := []auth.Option{auth.WithLogger(l)}
	if cfg.Auth.Limiter == auth.LimiterRedis {
		cred, err := ratelimit.NewRedis(rdb, "ratelimit:credential", cfg.Auth.CredentialLimit)
		if err != nil {
			return nil, errors.Wrap(err, "credential limiter")
		}
		var src ratelimit.Limiter
		if cfg.Auth.SourceLimit.Limit > 0 {
			if src, err = ratelimit.NewRedis(rdb, "ratelimit:source", cfg.Auth.SourceLimit); err != nil {
				return nil, errors.Wrap(err, "source limiter")
			}
		}
		opts = append(opts, auth.WithLimiters(cred, src))
	}

	v, err := auth.NewValidator(&cfg.Auth, tokens, auth.Stores{
		Sessions:    stores.Sessions,
		Revocations: stores.Revocations,
		Bans:        stores.Bans,
	}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "validator")
	}
	return v, nil
}

// core 实时层后台组件，停止顺序保证会话先排空再断开总线
type core struct {
	ctx        context.Context
	bus        *bus.Bus
	router     *router.Router
	aggregator *aggregator.Aggregator
	exporter   *analytics.Exporter
	ws         *websocket.Server
	logger     logger.Logger
}

func (c *core) Start() error {
	if c.exporter != nil {
		if err := c.exporter.Start(); err != nil {
			return errors.Wrap(err, "analytics")
		}
	}
	if err := c.bus.Start(c.ctx); err != nil {
		return errors.Wrap(err, "bus")
	}
	if err := c.router.Start(); err != nil {
		return errors.Wrap(err, "router")
	}
	return errors.Wrap(c.aggregator.Start(), "aggregator")
}

func (c *core) Stop() error {
	if err := c.router.Stop(); err != nil {
		c.logger.Warn("router stop failed", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := c.ws.Close(ctx); err != nil {
		c.logger.Warn("websocket server close failed", "error", err)
	}

	if err := c.aggregator.Stop(); err != nil {
		c.logger.Warn("aggregator stop failed", "error", err)
	}
	if err := c.bus.Stop(); err != nil {
		c.logger.Warn("bus stop failed", "error", err)
	}
	if c.exporter != nil {
		if err := c.exporter.Stop(); err != nil {
			c.logger.Warn("analytics exporter stop failed", "error", err)
		}
	}
	return nil
}
