package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/lk2023060901/xdooria-realtime/pkg/util/conc"
)

var (
	ErrAppAlreadyRunning = errors.New("application is already running")
)

// Server 可启动、可停止的服务（HTTP、后台任务等）
type Server interface {
	Start() error
	Stop() error
}

// Closer 资源清理接口（Redis、DB、Producer 等），按注册逆序关闭
type Closer interface {
	Close() error
}

// ServerFuncs 用函数拼装 Server
type ServerFuncs struct {
	StartFunc func() error
	StopFunc  func() error
}

func (s ServerFuncs) Start() error {
	if s.StartFunc == nil {
		return nil
	}
	return s.StartFunc()
}

func (s ServerFuncs) Stop() error {
	if s.StopFunc == nil {
		return nil
	}
	return s.StopFunc()
}

// CloserFunc 函数形式的 Closer
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }

// BaseApp 应用生命周期：启动服务、等待信号、优雅停止、逆序释放资源
type BaseApp struct {
	opts     Options
	logger   logger.Logger
	registry *LoggerRegistry
	servers  []Server
	closers  []Closer

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex

	started atomic.Bool
	closed  atomic.Bool
}

// NewBaseApp 创建 BaseApp
func NewBaseApp(opts ...Option) *BaseApp {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &BaseApp{
		opts:     o,
		logger:   o.Logger.Named(o.Name),
		registry: NewLoggerRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Context 应用级 context，Shutdown 时取消
func (a *BaseApp) Context() context.Context {
	return a.ctx
}

// ID 应用实例 ID
func (a *BaseApp) ID() string {
	return a.opts.ID
}

// AppLogger 应用主日志对象
func (a *BaseApp) AppLogger() logger.Logger {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.logger
}

// Logger 获取具名 Logger，未注册时回落到主日志对象
func (a *BaseApp) Logger(name string) logger.Logger {
	if l := a.registry.Get(name); l != nil {
		return l
	}
	return a.AppLogger().Named(name)
}

// InitNamedLoggers 根据配置创建具名 Logger
func (a *BaseApp) InitNamedLoggers() error {
	return a.registry.InitLoggers(a.opts.NamedLoggers)
}

// Run 启动所有服务并阻塞到收到退出信号或 Shutdown
func (a *BaseApp) Run() error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAppAlreadyRunning
	}

	info := GetInfo()
	fmt.Println(info.String())
	a.logger.Info("application starting",
		"name", a.opts.Name,
		"version", info.Version,
		"commit", info.GitCommit,
		"go_version", info.GoVersion,
		"id", a.opts.ID,
	)

	for i, srv := range a.servers {
		if err := srv.Start(); err != nil {
			a.logger.Error("failed to start server", "index", i, "error", err)
			_ = a.Shutdown()
			return err
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		a.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-a.ctx.Done():
		a.logger.Info("context cancelled, shutting down")
	}

	return a.Shutdown()
}

// Shutdown 并发停止所有服务（受 StopTimeout 约束），然后逆序关闭 Closer
func (a *BaseApp) Shutdown() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.cancel()
	a.logger.Info("application shutting down")

	futures := make([]*conc.Future[struct{}], 0, len(a.servers))
	for _, srv := range a.servers {
		s := srv
		futures = append(futures, conc.Go(func() (struct{}, error) {
			if err := s.Stop(); err != nil {
				a.logger.Error("failed to stop server", "error", err)
				return struct{}{}, err
			}
			return struct{}{}, nil
		}))
	}
	wait := conc.Go(func() (struct{}, error) {
		return struct{}{}, conc.AwaitAll(futures...)
	})

	select {
	case <-wait.Inner():
		a.logger.Info("all servers stopped")
	case <-time.After(a.opts.StopTimeout):
		a.logger.Warn("shutdown timeout, forcing exit", "timeout", a.opts.StopTimeout)
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("failed to close component", "error", err)
		}
	}

	a.registry.SyncAll()
	a.logger.Info("application exited")
	_ = a.logger.Sync()
	return nil
}

// AppendServer 注册服务，按注册顺序启动
func (a *BaseApp) AppendServer(srv ...Server) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.servers = append(a.servers, srv...)
}

// AppendCloser 注册资源，Shutdown 时按注册逆序关闭
func (a *BaseApp) AppendCloser(closer ...Closer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, closer...)
}
