// Package moderation 吊销、登出与封禁的执行，本地立即生效并广播到其它进程。
package moderation

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/auth"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/bus"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/registry"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/store"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
)

// ErrInvalidArgument 缺少必要参数
var ErrInvalidArgument = errors.New("moderation: invalid argument")

// 广播指令类型
const (
	CommandRevoke = "revoke"
	CommandLogout = "logout"
	CommandBan    = "ban"
	CommandUnban  = "unban"
)

// Command moderation 频道载荷
type Command struct {
	Type         string    `json:"type"`
	CredentialID string    `json:"credentialId,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	UserID       string    `json:"userId,omitempty"`
	Until        time.Time `json:"until,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// Publisher 跨进程广播
type Publisher interface {
	Publish(ctx context.Context, ch bus.Channel, msg *bus.Message) error
}

// Notifier 用户通知投递
type Notifier interface {
	Notify(userID string, payload any) error
}

// Deps 依赖
type Deps struct {
	Registry    *registry.Registry
	Sessions    store.SessionStore
	Revocations store.RevocationStore
	Bans        store.BanStore
	Bus         Publisher
	Notifier    Notifier
	Clock       clock.Clock
	Logger      logger.Logger
}

// Service 处置服务
type Service struct {
	cfg         *Config
	registry    *registry.Registry
	sessions    store.SessionStore
	revocations store.RevocationStore
	bans        store.BanStore
	bus         Publisher
	notifier    Notifier
	clock       clock.Clock
	logger      logger.Logger
}

// New 创建处置服务
func New(cfg *Config, deps Deps) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoop()
	}
	return &Service{
		cfg:         cfg,
		registry:    deps.Registry,
		sessions:    deps.Sessions,
		revocations: deps.Revocations,
		bans:        deps.Bans,
		bus:         deps.Bus,
		notifier:    deps.Notifier,
		clock:       deps.Clock,
		logger:      deps.Logger.Named("realtime.moderation"),
	}
}

// Revoke 吊销凭证并断开使用该凭证的连接，可重复调用
func (s *Service) Revoke(ctx context.Context, credentialID string, ttl time.Duration) error {
	if credentialID == "" {
		return errors.Wrap(ErrInvalidArgument, "credential id required")
	}
	if ttl <= 0 {
		ttl = s.cfg.RevocationTTL
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.revocations.Revoke(sctx, credentialID, ttl); err != nil {
		return errors.Wrapf(err, "revoke credential %s", credentialID)
	}

	cmd := Command{Type: CommandRevoke, CredentialID: credentialID}
	n := s.apply(cmd)
	s.logger.Info("credential revoked", "credential_id", credentialID, "ttl", ttl, "kicked", n)
	s.publish(ctx, cmd)
	return nil
}

// Logout 删除会话并吊销凭证
func (s *Service) Logout(ctx context.Context, sessionID, credentialID string, ttl time.Duration) error {
	if sessionID == "" {
		return errors.Wrap(ErrInvalidArgument, "session id required")
	}
	if ttl <= 0 {
		ttl = s.cfg.RevocationTTL
	}

	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.sessions.DeleteSession(sctx, sessionID); err != nil {
		return errors.Wrapf(err, "delete session %s", sessionID)
	}
	if credentialID != "" {
		if err := s.revocations.Revoke(sctx, credentialID, ttl); err != nil {
			return errors.Wrapf(err, "revoke credential %s", credentialID)
		}
	}

	cmd := Command{Type: CommandLogout, SessionID: sessionID, CredentialID: credentialID}
	n := s.apply(cmd)
	s.logger.Info("session logged out", "session_id", sessionID, "kicked", n)
	s.publish(ctx, cmd)
	return nil
}

// Ban 封禁用户直到 until，零值使用默认时长
func (s *Service) Ban(ctx context.Context, userID string, until time.Time, reason string) (*model.Ban, error) {
	if userID == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "user id required")
	}
	now := s.clock.Now()
	if until.IsZero() {
		until = now.Add(s.cfg.DefaultBanDuration)
	}
	if !until.After(now) {
		return nil, errors.Wrapf(ErrInvalidArgument, "ban end %s is in the past", until)
	}

	ban := &model.Ban{UserID: userID, Until: until, Reason: reason, CreatedAt: now}
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.bans.Ban(sctx, ban); err != nil {
		return nil, errors.Wrapf(err, "ban user %s", userID)
	}

	cmd := Command{Type: CommandBan, UserID: userID, Until: until, Reason: reason}
	n := s.apply(cmd)
	s.logger.Info("user banned", "user_id", userID, "until", until, "reason", reason, "kicked", n)
	s.publish(ctx, cmd)
	return ban, nil
}

// Unban 解除封禁，不影响已断开的连接
func (s *Service) Unban(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.Wrap(ErrInvalidArgument, "user id required")
	}
	sctx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.bans.Unban(sctx, userID); err != nil {
		return errors.Wrapf(err, "unban user %s", userID)
	}
	s.logger.Info("user unbanned", "user_id", userID)
	s.publish(ctx, Command{Type: CommandUnban, UserID: userID})
	return nil
}

// Notify 向用户的全部连接推送通知
func (s *Service) Notify(_ context.Context, userID string, payload any) error {
	if userID == "" {
		return errors.Wrap(ErrInvalidArgument, "user id required")
	}
	if s.notifier == nil {
		return errors.New("moderation: notifier not configured")
	}
	return errors.Wrapf(s.notifier.Notify(userID, payload), "notify user %s", userID)
}

// RegisterBusHandlers 执行其它进程广播的处置指令
func (s *Service) RegisterBusHandlers(b *bus.Bus) {
	b.On(bus.ChannelModeration, s.onCommand)
}

func (s *Service) onCommand(_ context.Context, msg *bus.Message) {
	var cmd Command
	if err := msg.Decode(&cmd); err != nil {
		s.logger.Warn("discard moderation command", "origin", msg.OriginProcessID, "error", err)
		return
	}
	n := s.apply(cmd)
	if n > 0 {
		s.logger.Info("remote moderation applied", "type", cmd.Type, "origin", msg.OriginProcessID, "kicked", n)
	}
}

// apply 断开本进程内受影响的连接，返回断开数量
func (s *Service) apply(cmd Command) int {
	var (
		targets []*registry.Connection
		reason  auth.Reason
	)
	switch cmd.Type {
	case CommandRevoke:
		targets = s.registry.ConnectionsByCredential(cmd.CredentialID)
		reason = auth.ReasonRevoked
	case CommandLogout:
		targets = s.registry.ConnectionsBySession(cmd.SessionID)
		if cmd.CredentialID != "" {
			targets = append(targets, s.registry.ConnectionsByCredential(cmd.CredentialID)...)
		}
		reason = auth.ReasonRevoked
	case CommandBan:
		if !cmd.Until.After(s.clock.Now()) {
			return 0
		}
		targets = s.registry.ConnectionsByUser(cmd.UserID)
		reason = auth.ReasonBanned
	default:
		return 0
	}

	seen := make(map[string]struct{}, len(targets))
	for _, c := range targets {
		if _, dup := seen[c.ID()]; dup {
			continue
		}
		seen[c.ID()] = struct{}{}
		c.Kick(reason.String())
	}
	return len(seen)
}

func (s *Service) publish(ctx context.Context, cmd Command) {
	if s.bus == nil {
		return
	}
	msg, err := bus.NewMessage(cmd.Type, cmd)
	if err != nil {
		s.logger.Error("encode moderation command failed", "type", cmd.Type, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, bus.ChannelModeration, msg.WithPriority(bus.PriorityHigh)); err != nil {
		s.logger.Warn("publish moderation command failed", "type", cmd.Type, "error", err)
	}
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}
