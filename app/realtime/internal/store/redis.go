package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/pkg/database/redis"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
)

// presenceIncrScript 自增并续期计数 key
var presenceIncrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[1])
return n
`)

// presenceDecrScript 自减，不低于 0，归零时删除 key
var presenceDecrScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0') - 1
if n <= 0 then
	redis.call('DEL', KEYS[1])
	return 0
end
redis.call('SET', KEYS[1], n, 'KEEPTTL')
return n
`)

// revokeSessionScript 原子地将会话标记为吊销并保留剩余 TTL
var revokeSessionScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return 0
end
local s = cjson.decode(raw)
s['revoked'] = true
redis.call('SET', KEYS[1], cjson.encode(s), 'KEEPTTL')
return 1
`)

// Redis 基于 Redis 的会话、吊销、封禁与在线计数存储
type Redis struct {
	client      *redis.Client
	clock       clock.Clock
	logger      logger.Logger
	presenceTTL time.Duration
}

// NewRedis 创建 Redis 存储
//
// presenceTTL 是在线计数 key 的兜底过期时间，防止进程崩溃后计数永久残留。
func NewRedis(client *redis.Client, clk clock.Clock, l logger.Logger, presenceTTL time.Duration) *Redis {
	if clk == nil {
		clk = clock.New()
	}
	if presenceTTL <= 0 {
		presenceTTL = 24 * time.Hour
	}
	return &Redis{
		client:      client,
		clock:       clk,
		logger:      l.Named("store.redis"),
		presenceTTL: presenceTTL,
	}
}

func (r *Redis) sessionKey(id string) string   { return r.client.Key("session", id) }
func (r *Redis) revokedKey(id string) string   { return r.client.Key("revoked", id) }
func (r *Redis) banKey(userID string) string   { return r.client.Key("ban", userID) }
func (r *Redis) presenceKey(uid string) string { return r.client.Key("presence", uid) }

// GetSession 实现 SessionStore
func (r *Redis) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	raw, err := r.client.Get(ctx, r.sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, redis.ErrNil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get session")
	}

	var s model.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, errors.Wrapf(err, "decode session %s", sessionID)
	}
	return &s, nil
}

// CreateSession 实现 SessionStore，key 与会话同时过期
func (r *Redis) CreateSession(ctx context.Context, s *model.Session) error {
	ttl := s.ExpiresAt.Sub(r.clock.Now())
	if ttl <= 0 {
		return errors.Newf("session %s already expired", s.SessionID)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	return errors.Wrap(r.client.SetEX(ctx, r.sessionKey(s.SessionID), data, ttl), "save session")
}

// DeleteSession 实现 SessionStore
func (r *Redis) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := r.client.Del(ctx, r.sessionKey(sessionID))
	return errors.Wrap(err, "delete session")
}

// RevokeSession 实现 SessionStore
func (r *Redis) RevokeSession(ctx context.Context, sessionID string) error {
	_, err := r.client.Run(ctx, revokeSessionScript, []string{r.sessionKey(sessionID)})
	if err != nil && !errors.Is(err, redis.ErrNil) {
		return errors.Wrap(err, "revoke session")
	}
	return nil
}

// Revoke 实现 RevocationStore
func (r *Redis) Revoke(ctx context.Context, credentialID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Second
	}
	return errors.Wrap(r.client.SetEX(ctx, r.revokedKey(credentialID), 1, ttl), "save revocation")
}

// IsRevoked 实现 RevocationStore
func (r *Redis) IsRevoked(ctx context.Context, credentialID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.revokedKey(credentialID))
	if err != nil {
		return false, errors.Wrap(err, "check revocation")
	}
	return n > 0, nil
}

// Ban 实现 BanStore，key 在封禁到期时自动删除
func (r *Redis) Ban(ctx context.Context, ban *model.Ban) error {
	now := r.clock.Now()
	ttl := ban.Until.Sub(now)
	if ttl <= 0 {
		// 已过期的封禁等同于解封
		return r.Unban(ctx, ban.UserID)
	}

	cp := *ban
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	data, err := json.Marshal(&cp)
	if err != nil {
		return errors.Wrap(err, "encode ban")
	}
	return errors.Wrap(r.client.SetEX(ctx, r.banKey(ban.UserID), data, ttl), "save ban")
}

// Unban 实现 BanStore
func (r *Redis) Unban(ctx context.Context, userID string) error {
	_, err := r.client.Del(ctx, r.banKey(userID))
	return errors.Wrap(err, "delete ban")
}

// GetBan 实现 BanStore
func (r *Redis) GetBan(ctx context.Context, userID string) (*model.Ban, error) {
	raw, err := r.client.Get(ctx, r.banKey(userID))
	if err != nil {
		if errors.Is(err, redis.ErrNil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get ban")
	}

	var b model.Ban
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, errors.Wrapf(err, "decode ban for %s", userID)
	}
	if !b.Active(r.clock.Now()) {
		return nil, nil
	}
	return &b, nil
}

// Incr 实现 PresenceCounter
func (r *Redis) Incr(ctx context.Context, userID string) (int64, error) {
	res, err := r.client.Run(ctx, presenceIncrScript, []string{r.presenceKey(userID)}, int64(r.presenceTTL/time.Second))
	if err != nil {
		return 0, errors.Wrap(err, "incr presence")
	}
	return toInt64(res)
}

// Decr 实现 PresenceCounter
func (r *Redis) Decr(ctx context.Context, userID string) (int64, error) {
	res, err := r.client.Run(ctx, presenceDecrScript, []string{r.presenceKey(userID)})
	if err != nil {
		return 0, errors.Wrap(err, "decr presence")
	}
	return toInt64(res)
}

func toInt64(v interface{}) (int64, error) {
	n, ok := v.(int64)
	if !ok {
		return 0, errors.Newf("unexpected script result %T", v)
	}
	return n, nil
}
