// Package router 实现每个连接的认证与事件处理状态机，并负责本地投递与跨进程广播。
package router

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/auth"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/bus"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/registry"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/store"
	"github.com/lk2023060901/xdooria-realtime/pkg/config"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/lk2023060901/xdooria-realtime/pkg/util/conc"
)

// Validator 凭证校验
type Validator interface {
	Validate(ctx context.Context, credential, source string) auth.Result
	Recheck(ctx context.Context, id *model.Identity) auth.Result
}

// Publisher 跨进程广播
type Publisher interface {
	Publish(ctx context.Context, ch bus.Channel, msg *bus.Message) error
}

// Transport 连接的传输层，*websocket.Connection 满足该接口
type Transport interface {
	ID() string
	SendJSON(v any) error
	CloseAfterFlush(code int, reason string)
}

// Deps 路由依赖
type Deps struct {
	Registry  *registry.Registry
	Validator Validator
	Bus       Publisher
	Presence  store.PresenceCounter
	Messages  store.MessageStore
	Observer  Observer
	Clock     clock.Clock
	Logger    logger.Logger
}

// Router 本进程的事件路由，持有全部会话
type Router struct {
	cfg       *Config
	registry  *registry.Registry
	validator Validator
	bus       Publisher
	presence  store.PresenceCounter
	messages  store.MessageStore
	observer  Observer
	clock     clock.Clock
	logger    logger.Logger
	payloads  *config.Validator

	mu       sync.RWMutex
	sessions map[string]*Session
	draining bool

	ctx    context.Context
	cancel context.CancelFunc
	loop   *conc.Future[struct{}]
}

// New 创建路由
func New(cfg *Config, deps Deps) *Router {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoop()
	}
	if deps.Observer == nil {
		deps.Observer = Observers(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		cfg:       cfg,
		registry:  deps.Registry,
		validator: deps.Validator,
		bus:       deps.Bus,
		presence:  deps.Presence,
		messages:  deps.Messages,
		observer:  deps.Observer,
		clock:     deps.Clock,
		logger:    deps.Logger.Named("realtime.router"),
		payloads:  config.NewValidator(),
		sessions:  make(map[string]*Session),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Registry 本进程的连接注册表
func (r *Router) Registry() *registry.Registry {
	return r.registry
}

// Start 启动周期性会话复核
func (r *Router) Start() error {
	if r.cfg.RevalidateInterval <= 0 {
		return nil
	}
	r.loop = conc.Go(func() (struct{}, error) {
		ticker := r.clock.Ticker(r.cfg.RevalidateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return struct{}{}, nil
			case <-ticker.C:
				r.Revalidate(r.ctx)
			}
		}
	})
	return nil
}

// Stop 拒绝新连接，以 server_shutdown 关闭全部会话
func (r *Router) Stop() error {
	r.mu.Lock()
	r.draining = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	r.cancel()
	if r.loop != nil {
		_, _ = r.loop.Await()
	}

	for _, s := range sessions {
		s.Close(auth.ReasonServerShutdown)
	}
	r.logger.Info("router stopped", "closed_sessions", len(sessions))
	return nil
}

// Open 为新的传输连接创建会话并完成认证
//
// 返回的会话处于 Ready 或 Closed 状态；认证失败时 close 事件已入队。
func (r *Router) Open(ctx context.Context, t Transport, hs Handshake) *Session {
	s := newSession(r, t, hs.RemoteAddr)

	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		s.reject(auth.ReasonServerShutdown)
		return s
	}
	r.sessions[s.id] = s
	r.mu.Unlock()

	s.authenticate(ctx, hs.Credential())
	return s
}

// Session 查找会话
func (r *Router) Session(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	return s, ok
}

// SessionCount 未关闭的会话数（含认证中）
func (r *Router) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Router) forget(connID string) {
	r.mu.Lock()
	delete(r.sessions, connID)
	r.mu.Unlock()
}

// Revalidate 复核全部 Ready 会话，吊销、封禁或会话失效的连接被关闭
func (r *Router) Revalidate(ctx context.Context) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.State() == StateReady {
			sessions = append(sessions, s)
		}
	}
	r.mu.RUnlock()

	closed := 0
	for _, s := range sessions {
		if ctx.Err() != nil {
			return
		}
		id := s.identity
		res := r.validator.Recheck(ctx, id)
		if res.Valid || !res.Reason.Terminal() {
			continue
		}
		r.logger.Info("session failed revalidation",
			"conn_id", s.id, "user_id", id.UserID, "reason", res.Reason)
		s.Close(res.Reason)
		closed++
	}
	if closed > 0 {
		r.logger.Info("revalidation closed sessions", "count", closed, "checked", len(sessions))
	}
}

// publish 跨进程广播，失败由总线的补发队列兜底，只记录日志
func (r *Router) publish(ch bus.Channel, msg *bus.Message) {
	if r.bus == nil {
		return
	}
	ctx := context.Background()
	if r.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.PublishTimeout)
		defer cancel()
	}
	if err := r.bus.Publish(ctx, ch, msg); err != nil {
		r.logger.Warn("bus publish failed", "channel", ch, "type", msg.Type, "error", err)
	}
}

func (r *Router) withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), d)
}
