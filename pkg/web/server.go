package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/xdooria-realtime/pkg/config"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/lk2023060901/xdooria-realtime/pkg/web/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Server Web 服务，实现 app.Server
type Server struct {
	engine *gin.Engine
	config *Config
	logger logger.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// ServerOption 服务选项
type ServerOption func(*serverOptions)

type serverOptions struct {
	registerer prometheus.Registerer
}

// WithMetrics 挂载请求指标中间件并注册到 registerer
func WithMetrics(registerer prometheus.Registerer) ServerOption {
	return func(o *serverOptions) {
		o.registerer = registerer
	}
}

// NewServer 创建 Web 服务
func NewServer(cfg *Config, l logger.Logger, opts ...ServerOption) (*Server, error) {
	newCfg, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, err
	}
	if err := newCfg.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		l = logger.Default()
	}

	o := &serverOptions{}
	for _, opt := range opts {
		opt(o)
	}

	gin.SetMode(newCfg.Mode)
	engine := gin.New()

	engine.Use(middleware.Recovery(l))
	engine.Use(middleware.Logger(l, newCfg.QuietPaths...))
	engine.Use(middleware.CORS(newCfg.AllowOrigins))
	if o.registerer != nil {
		engine.Use(middleware.Metrics(o.registerer))
	}

	return &Server{
		engine: engine,
		config: newCfg,
		logger: l.Named("web.server"),
	}, nil
}

// Router 返回 Gin 引擎，用于注册路由
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Handler 返回 http.Handler 接口
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr 返回实际监听地址，未启动时返回配置地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// Start 绑定端口并在后台处理请求
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return ErrServerAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("web: listen %s: %w", s.config.Addr, err)
	}

	s.listener = ln
	s.done = make(chan struct{})
	s.server = &http.Server{
		Handler:        s.engine,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	srv, done := s.server, s.done
	go func() {
		defer close(done)

		var err error
		if s.config.EnableTLS {
			s.logger.Info("starting https server", "addr", ln.Addr().String())
			err = srv.ServeTLS(ln, s.config.CertFile, s.config.KeyFile)
		} else {
			s.logger.Info("starting http server", "addr", ln.Addr().String())
			err = srv.Serve(ln)
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped unexpectedly", "error", err)
		}
	}()

	return nil
}

// Stop 优雅关闭，超过 ShutdownTimeout 后强制关闭
func (s *Server) Stop() error {
	s.mu.Lock()
	srv, done := s.server, s.done
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	<-done

	s.logger.Info("server exited")
	return nil
}
