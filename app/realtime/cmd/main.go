package main

import (
	"github.com/lk2023060901/xdooria-realtime/pkg/app"
	"github.com/lk2023060901/xdooria-realtime/pkg/config"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/lk2023060901/xdooria-realtime/pkg/sentry"
)

func main() {
	cfg := defaultConfig()

	// 1. 加载配置
	mgr, err := app.LoadConfig(cfg)
	if err != nil {
		panic(err)
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		panic(err)
	}

	// 2. 初始化主日志，错误日志按需上报 Sentry（脱敏由 log.redact_keys 控制）
	var (
		hooks   []logger.Hook
		closers []app.Closer
	)
	if cfg.Sentry.Enabled() {
		reporter, err := sentry.New(&cfg.Sentry)
		if err != nil {
			panic(err)
		}
		hooks = append(hooks, reporter.LoggerHook())
		closers = append(closers, reporter)
	}
	l, err := logger.New(&cfg.Log, logger.WithHooks(hooks...))
	if err != nil {
		panic(err)
	}

	// 3. 组装应用
	application, err := initApp(cfg, mgr, l, closers...)
	if err != nil {
		l.Error("failed to initialize application", "error", err)
		_ = l.Sync()
		return
	}

	// 4. 运行服务
	if err := application.Run(); err != nil {
		l.Error("application exited with error", "error", err)
	}
}
