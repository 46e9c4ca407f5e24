package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Sweepable 可定期清理过期数据的存储
type Sweepable interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweeper 按 cron 表达式定期清理过期数据
type Sweeper struct {
	cron    *cron.Cron
	target  Sweepable
	timeout time.Duration
	logger  logger.Logger
}

// NewSweeper 创建清理任务，schedule 形如 "@every 1m"
func NewSweeper(target Sweepable, schedule string, timeout time.Duration, l logger.Logger) (*Sweeper, error) {
	l = l.Named("store.sweeper")
	s := &Sweeper{
		target:  target,
		timeout: timeout,
		logger:  l,
	}

	cl := cronLogger{l}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, errors.Wrapf(err, "invalid sweep schedule %q", schedule)
	}
	return s, nil
}

// Start 启动调度
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop 停止调度并等待正在执行的清理完成
func (s *Sweeper) Stop() error {
	<-s.cron.Stop().Done()
	return nil
}

func (s *Sweeper) run() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	n, err := s.target.Sweep(ctx)
	if err != nil {
		s.logger.Warn("sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Debug("expired entries swept", "count", n)
	}
}

// cronLogger 将 cron 日志接到项目 logger
type cronLogger struct {
	l logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
