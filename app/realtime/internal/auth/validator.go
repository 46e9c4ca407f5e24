// Package auth 校验连接凭证并复核已建立连接的会话状态。
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/store"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/lk2023060901/xdooria-realtime/pkg/ratelimit"
	"github.com/lk2023060901/xdooria-realtime/pkg/security"
	"golang.org/x/sync/singleflight"
)

// TokenDecoder 校验签名并解出载荷
type TokenDecoder interface {
	ValidateToken(token string) (*security.Claims, error)
}

// Result 校验结果，Valid 为 false 时 Reason 非空
type Result struct {
	Valid    bool
	Identity *model.Identity
	Reason   Reason
}

func reject(r Reason) Result {
	return Result{Reason: r}
}

// Stores 校验依赖的存储
type Stores struct {
	Sessions    store.SessionStore
	Revocations store.RevocationStore
	Bans        store.BanStore
}

// Validator 凭证校验器
type Validator struct {
	cfg     *Config
	decoder TokenDecoder
	stores  Stores
	clock   clock.Clock
	logger  logger.Logger

	mu          sync.RWMutex
	credLimiter ratelimit.Limiter
	srcLimiter  ratelimit.Limiter

	sessions singleflight.Group
}

// Option 校验器选项
type Option func(*Validator)

// WithClock 注入时钟，用于会话与封禁的到期判断
func WithClock(c clock.Clock) Option {
	return func(v *Validator) { v.clock = c }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithLimiters 使用外部构造的限流器，src 可为 nil
func WithLimiters(cred, src ratelimit.Limiter) Option {
	return func(v *Validator) {
		v.credLimiter = cred
		v.srcLimiter = src
	}
}

// NewValidator 创建校验器，未通过 WithLimiters 指定时使用进程内限流
func NewValidator(cfg *Config, decoder TokenDecoder, stores Stores, opts ...Option) (*Validator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	v := &Validator{
		cfg:     cfg,
		decoder: decoder,
		stores:  stores,
		clock:   clock.New(),
		logger:  logger.NewNoop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.Named("realtime.auth")

	if v.credLimiter == nil {
		l, err := ratelimit.NewLocal(cfg.CredentialLimit, ratelimit.WithClock(v.clock))
		if err != nil {
			return nil, errors.Wrap(err, "credential limiter")
		}
		v.credLimiter = l

		if cfg.SourceLimit.Limit > 0 {
			s, err := ratelimit.NewLocal(cfg.SourceLimit, ratelimit.WithClock(v.clock))
			if err != nil {
				return nil, errors.Wrap(err, "source limiter")
			}
			v.srcLimiter = s
		}
	}
	return v, nil
}

// Validate 校验连接凭证，source 为客户端地址，未知时传空串
//
// 只有限流计数会产生副作用；任何存储错误都以 ReasonStoreUnavailable 返回。
// 已吊销的凭证即使超出限流也返回 ReasonRevoked。
func (v *Validator) Validate(ctx context.Context, credential, source string) Result {
	if credential == "" {
		return reject(ReasonCredentialRequired)
	}
	if !wellFormed(credential) {
		return reject(ReasonMalformed)
	}

	if !v.allow(ctx, credential, source) {
		return v.limited(ctx, credential)
	}

	id, reason := v.decode(credential)
	if reason != ReasonNone {
		return reject(reason)
	}
	if r := v.Recheck(ctx, id); !r.Valid {
		return r
	}
	return Result{Valid: true, Identity: id}
}

// limited 超限时只查吊销列表，会话与封禁存储不承担超限流量
func (v *Validator) limited(ctx context.Context, credential string) Result {
	id, reason := v.decode(credential)
	if reason != ReasonNone {
		return reject(ReasonRateLimited)
	}
	ctx, cancel := v.storeContext(ctx)
	defer cancel()
	if r := v.checkRevoked(ctx, id); !r.Valid {
		return r
	}
	return reject(ReasonRateLimited)
}

// decode 校验签名并取出身份，缺少 sub、sid 或 jti 视为载荷无效
func (v *Validator) decode(credential string) (*model.Identity, Reason) {
	claims, err := v.decoder.ValidateToken(credential)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, ReasonExpired
		}
		return nil, ReasonInvalidPayload
	}
	if claims.Subject == "" || claims.SessionID == "" || claims.ID == "" {
		return nil, ReasonInvalidPayload
	}

	id := &model.Identity{
		UserID:       claims.Subject,
		SessionID:    claims.SessionID,
		CredentialID: claims.ID,
		Username:     claims.Username,
		DisplayName:  claims.DisplayName,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, ReasonNone
}

// Recheck 复核吊销、会话与封禁状态，不计入限流
func (v *Validator) Recheck(ctx context.Context, id *model.Identity) Result {
	ctx, cancel := v.storeContext(ctx)
	defer cancel()

	if r := v.checkRevoked(ctx, id); !r.Valid {
		return r
	}

	sess, err := v.loadSession(ctx, id.SessionID)
	if err != nil {
		v.logger.Warn("session lookup failed", "session_id", id.SessionID, "error", err)
		return reject(ReasonStoreUnavailable)
	}
	if sess == nil || sess.UserID != id.UserID || !sess.Active(v.clock.Now()) {
		return reject(ReasonRevoked)
	}

	ban, err := v.stores.Bans.GetBan(ctx, id.UserID)
	if err != nil {
		v.logger.Warn("ban lookup failed", "user_id", id.UserID, "error", err)
		return reject(ReasonStoreUnavailable)
	}
	if ban.Active(v.clock.Now()) {
		return reject(ReasonBanned)
	}

	return Result{Valid: true, Identity: id}
}

func (v *Validator) checkRevoked(ctx context.Context, id *model.Identity) Result {
	revoked, err := v.stores.Revocations.IsRevoked(ctx, id.CredentialID)
	if err != nil {
		v.logger.Warn("revocation lookup failed", "user_id", id.UserID, "error", err)
		return reject(ReasonStoreUnavailable)
	}
	if revoked {
		return reject(ReasonRevoked)
	}
	return Result{Valid: true, Identity: id}
}

func (v *Validator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.cfg.StoreTimeout > 0 {
		return context.WithTimeout(ctx, v.cfg.StoreTimeout)
	}
	return context.WithCancel(ctx)
}

// SetRateLimits 运行时调整限流阈值，src.Limit 为 0 时保持来源限流不变
func (v *Validator) SetRateLimits(cred, src ratelimit.Config) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.credLimiter.SetConfig(cred); err != nil {
		return errors.Wrap(err, "credential limit")
	}
	if v.srcLimiter != nil && src.Limit > 0 {
		if err := v.srcLimiter.SetConfig(src); err != nil {
			return errors.Wrap(err, "source limit")
		}
	}
	v.logger.Info("rate limits updated",
		"credential_limit", cred.Limit, "credential_window", cred.Window,
		"source_limit", src.Limit, "source_window", src.Window)
	return nil
}

// loadSession 合并同一会话的并发查询
//
// 共享查询不继承首个调用方的取消，只受 StoreTimeout 约束；调用方取消时各自提前返回。
func (v *Validator) loadSession(ctx context.Context, sessionID string) (*model.Session, error) {
	ch := v.sessions.DoChan(sessionID, func() (interface{}, error) {
		shared, cancel := v.storeContext(context.WithoutCancel(ctx))
		defer cancel()
		return v.stores.Sessions.GetSession(shared, sessionID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		s, _ := res.Val.(*model.Session)
		return s, nil
	}
}

// allow 限流计数；限流存储故障时放行，后续的存储检查会暴露同一故障
func (v *Validator) allow(ctx context.Context, credential, source string) bool {
	v.mu.RLock()
	cred, src := v.credLimiter, v.srcLimiter
	v.mu.RUnlock()

	if src != nil && source != "" {
		ok, err := src.Allow(ctx, "src:"+source)
		if err != nil {
			v.logger.Warn("source rate limit unavailable", "error", err)
		} else if !ok {
			return false
		}
	}

	ok, err := cred.Allow(ctx, credentialKey(credential))
	if err != nil {
		v.logger.Warn("credential rate limit unavailable", "error", err)
		return true
	}
	return ok
}

// credentialKey 限流 key 不保存凭证原文
func credentialKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return "cred:" + hex.EncodeToString(sum[:16])
}

// wellFormed 三段非空、以 '.' 分隔
func wellFormed(credential string) bool {
	parts := strings.Split(credential, ".")
	if len(parts) != 3 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return true
}
