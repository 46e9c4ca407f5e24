package router

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/auth"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/bus"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/registry"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/lk2023060901/xdooria-realtime/pkg/util/conc"
	"github.com/lk2023060901/xdooria-realtime/pkg/websocket"
	"golang.org/x/time/rate"
)

var (
	ErrSessionClosed = errors.New("router: session closed")
	// ErrSessionNotReady ready 事件下发前不接收任何下行事件
	ErrSessionNotReady = errors.New("router: session not ready")
)

// Session 单个连接的状态机
//
// 入站事件按到达顺序进入私有队列，由唯一的处理 goroutine 串行执行。
type Session struct {
	r      *Router
	t      Transport
	id     string
	remote string

	state atomic.Int32

	// identity 与 conn 在进入 Ready 前写入，之后只读
	identity *model.Identity
	conn     *registry.Connection
	openedAt time.Time

	// counted 本连接已计入在线计数，关闭时才需要扣减
	presenceMu sync.Mutex
	counted    bool

	limiter *rate.Limiter
	tasks   chan []byte
	ctx     context.Context
	cancel  context.CancelFunc

	closeOnce sync.Once
	reason    atomic.Value // string
	done      chan struct{}
}

func newSession(r *Router, t Transport, remote string) *Session {
	ctx, cancel := context.WithCancel(logger.WithConnection(context.Background(), t.ID(), ""))
	return &Session{
		r:        r,
		t:        t,
		id:       t.ID(),
		remote:   remote,
		openedAt: r.clock.Now(),
		limiter:  rate.NewLimiter(rate.Limit(r.cfg.InboundRate), r.cfg.InboundBurst),
		tasks:    make(chan []byte, r.cfg.InboundQueue),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// ID 连接 ID
func (s *Session) ID() string { return s.id }

// State 当前状态
func (s *Session) State() State { return State(s.state.Load()) }

// Identity 认证后的身份
func (s *Session) Identity() (model.Identity, bool) {
	if s.State() < StateReady || s.identity == nil {
		return model.Identity{}, false
	}
	return *s.identity, true
}

// Reason 关闭原因，未关闭时为空
func (s *Session) Reason() string {
	v, _ := s.reason.Load().(string)
	return v
}

// Done 会话关闭后关闭
func (s *Session) Done() <-chan struct{} { return s.done }

// authenticate Connecting → Authenticating → Ready | Closed
func (s *Session) authenticate(ctx context.Context, credential string) {
	s.state.Store(int32(StateAuthenticating))

	if credential == "" {
		s.reject(auth.ReasonCredentialRequired)
		return
	}

	actx, cancel := context.WithTimeout(ctx, s.r.cfg.AuthTimeout)
	defer cancel()

	res := s.r.validator.Validate(actx, credential, s.remote)
	if errors.Is(actx.Err(), context.DeadlineExceeded) {
		s.reject(auth.ReasonAuthTimeout)
		return
	}
	if !res.Valid {
		s.reject(res.Reason)
		return
	}

	id := res.Identity
	conn, err := s.r.registry.Register(s.id, id, s)
	if err != nil {
		s.r.logger.Error("register connection failed", "conn_id", s.id, "user_id", id.UserID, "error", err)
		s.reject(auth.ReasonStoreUnavailable)
		return
	}
	if _, err := s.r.registry.Join(s.id, model.PrivateRoom(id.UserID)); err != nil {
		s.r.logger.Error("join private room failed", "conn_id", s.id, "error", err)
	}

	s.identity = id
	s.conn = conn
	s.ctx = logger.WithConnection(s.ctx, s.id, id.UserID)

	// ready 必须是第一个下行事件：先写出，再开放 Deliver
	ready, err := model.NewEvent(model.EventReady, model.ReadyPayload{
		Identity:            *id,
		SessionID:           id.SessionID,
		HeartbeatIntervalMs: s.r.cfg.HeartbeatInterval.Milliseconds(),
	})
	if err == nil {
		err = s.t.SendJSON(ready)
	}
	if err != nil {
		s.r.logger.Warn("send ready failed", "conn_id", s.id, "error", err)
	}
	if !s.state.CompareAndSwap(int32(StateAuthenticating), int32(StateReady)) {
		// 认证期间传输层已断开
		s.r.registry.Unregister(s.id)
		return
	}
	s.startProcessor()

	s.r.observer.ConnectionOpened(*id)
	s.markOnline()
	s.r.logger.InfoContext(s.ctx, "connection ready", "session_id", id.SessionID, "remote", s.remote)
}

// reject 认证失败：下发 close 事件后关闭传输
func (s *Session) reject(reason auth.Reason) {
	s.r.observer.ConnectionRejected(reason.String())
	s.r.logger.Debug("connection rejected", "conn_id", s.id, "reason", reason, "remote", s.remote)
	s.Close(reason)
}

// markOnline 集群内首个连接时广播上线
func (s *Session) markOnline() {
	if s.r.presence == nil {
		return
	}
	if s.incrPresence() == 1 {
		s.r.broadcastPresence(s.identity.UserID, model.PresenceOnline)
	}
}

// incrPresence 与 markOffline 互斥，已进入关闭的连接不再计入；失败时返回 0
func (s *Session) incrPresence() int64 {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()
	if s.State() != StateReady {
		return 0
	}
	ctx, cancel := s.r.withTimeout(s.r.cfg.PresenceTimeout)
	defer cancel()

	n, err := s.r.presence.Incr(ctx, s.identity.UserID)
	if err != nil {
		s.r.logger.WarnContext(s.ctx, "presence incr failed", "error", err)
		return 0
	}
	s.counted = true
	return n
}

// markOffline 集群内最后一个连接断开时广播离线
//
// 计数不可用或本连接未计入时退化为本进程判断，未计入的连接不扣减计数。
func (s *Session) markOffline(lastLocal bool) {
	s.presenceMu.Lock()
	counted := s.counted
	s.counted = false
	s.presenceMu.Unlock()

	offline := lastLocal
	if s.r.presence != nil && counted {
		ctx, cancel := s.r.withTimeout(s.r.cfg.PresenceTimeout)
		n, err := s.r.presence.Decr(ctx, s.identity.UserID)
		cancel()
		if err != nil {
			s.r.logger.WarnContext(s.ctx, "presence decr failed", "error", err)
		} else {
			offline = n == 0
		}
	}
	if offline {
		s.r.broadcastPresence(s.identity.UserID, model.PresenceOffline)
	}
}

func (s *Session) startProcessor() {
	conc.Go(func() (struct{}, error) {
		for {
			select {
			case data := <-s.tasks:
				s.handle(data)
			case <-s.ctx.Done():
				return struct{}{}, nil
			}
		}
	})
}

// Push 入站原始帧，由传输层读循环调用
func (s *Session) Push(data []byte) {
	if s.State() != StateReady {
		return
	}
	if !s.limiter.Allow() {
		s.sendError(CodeRateLimited, "too many events")
		s.r.observer.EventHandled("", CodeRateLimited)
		return
	}
	select {
	case s.tasks <- data:
	default:
		s.sendError(CodeRateLimited, "event queue full")
		s.r.observer.EventHandled("", CodeRateLimited)
	}
}

// Deliver 实现 registry.Sink
func (s *Session) Deliver(evt *model.Event) error {
	switch st := s.State(); {
	case st >= StateClosing:
		return ErrSessionClosed
	case st < StateReady:
		return ErrSessionNotReady
	}
	return s.t.SendJSON(evt)
}

// Kick 实现 registry.Sink
func (s *Session) Kick(reason string) {
	s.Close(auth.Reason(reason))
}

// Close 关闭会话，可重复调用
//
// 已进入 Ready 的会话会注销连接并更新在线计数；客户端主动断开时不再下发 close 事件。
func (s *Session) Close(reason auth.Reason) {
	s.closeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateClosing)))
		s.reason.Store(reason.String())
		s.cancel()

		if reason != auth.ReasonClientClosed {
			if evt, err := model.NewEvent(model.EventClose, model.ClosePayload{Reason: reason.String()}); err == nil {
				_ = s.t.SendJSON(evt)
			}
			s.t.CloseAfterFlush(closeCode(reason), reason.String())
		}

		if prev == StateReady {
			_, lastLocal := s.r.registry.Unregister(s.id)
			s.markOffline(lastLocal)
			s.r.observer.ConnectionClosed(*s.identity, reason.String(), s.r.clock.Now().Sub(s.openedAt))
			s.r.logger.Info("connection closed", "conn_id", s.id, "user_id", s.identity.UserID, "reason", reason)
		}

		s.r.forget(s.id)
		s.state.Store(int32(StateClosed))
		close(s.done)
	})
}

func closeCode(reason auth.Reason) int {
	switch reason {
	case auth.ReasonServerShutdown:
		return websocket.CloseGoingAway
	case auth.ReasonStoreUnavailable:
		return websocket.CloseTryAgainLater
	case auth.ReasonNone:
		return websocket.CloseNormalClosure
	default:
		return websocket.ClosePolicyViolation
	}
}

func (s *Session) emit(name string, payload any) {
	evt, err := model.NewEvent(name, payload)
	if err != nil {
		s.r.logger.Error("encode event failed", "event", name, "error", err)
		return
	}
	if err := s.Deliver(evt); err != nil {
		s.r.logger.Debug("emit failed", "conn_id", s.id, "event", name, "error", err)
	}
}

func (s *Session) sendError(code, msg string) {
	s.emit(model.EventError, model.ErrorPayload{Code: code, Message: msg})
}

// broadcastPresence 先本地投递再跨进程广播
func (r *Router) broadcastPresence(userID string, status model.PresenceStatus) {
	payload := model.PresenceChangedPayload{UserID: userID, Status: status}
	evt, err := model.NewEvent(model.EventPresenceChanged, payload)
	if err != nil {
		return
	}
	r.registry.BroadcastAll(evt, "")

	msg, err := bus.NewMessage(model.EventPresenceChanged, payload)
	if err != nil {
		return
	}
	r.publish(bus.ChannelPresence, msg)
}
