package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/pkg/database/postgres"
	"github.com/lk2023060901/xdooria-realtime/pkg/idgen"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
)

// Schema 实时层使用的表结构
const Schema = `
CREATE TABLE IF NOT EXISTS rt_sessions (
	session_id  TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	device_info TEXT NOT NULL DEFAULT '',
	issued_at   TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	revoked     BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS rt_sessions_user_idx ON rt_sessions (user_id);

CREATE TABLE IF NOT EXISTS rt_revocations (
	credential_id TEXT PRIMARY KEY,
	revoked_at    TIMESTAMPTZ NOT NULL,
	expires_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rt_bans (
	user_id    TEXT PRIMARY KEY,
	until      TIMESTAMPTZ NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS rt_messages (
	id         BIGINT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL,
	metadata   JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS rt_messages_room_idx ON rt_messages (room_id, created_at);
`

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Postgres 基于 PostgreSQL 的会话、吊销、封禁与消息存储
type Postgres struct {
	db     *postgres.Client
	ids    idgen.Generator
	clock  clock.Clock
	logger logger.Logger
}

// NewPostgres 创建 PostgreSQL 存储
func NewPostgres(db *postgres.Client, ids idgen.Generator, clk clock.Clock, l logger.Logger) *Postgres {
	if clk == nil {
		clk = clock.New()
	}
	return &Postgres{
		db:     db,
		ids:    ids,
		clock:  clk,
		logger: l.Named("store.postgres"),
	}
}

// Migrate 创建缺失的表
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return errors.Wrap(err, "migrate realtime schema")
	}
	return nil
}

// GetSession 实现 SessionStore
func (p *Postgres) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	query, args, err := psql.
		Select("session_id", "user_id", "device_info", "issued_at", "expires_at", "revoked").
		From("rt_sessions").
		Where(squirrel.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var s model.Session
	err = p.db.QueryRow(ctx, query, args...).
		Scan(&s.SessionID, &s.UserID, &s.DeviceInfo, &s.IssuedAt, &s.ExpiresAt, &s.Revoked)
	if err != nil {
		if errors.Is(err, postgres.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get session")
	}
	return &s, nil
}

// CreateSession 实现 SessionStore
func (p *Postgres) CreateSession(ctx context.Context, s *model.Session) error {
	query, args, err := psql.
		Insert("rt_sessions").
		Columns("session_id", "user_id", "device_info", "issued_at", "expires_at", "revoked").
		Values(s.SessionID, s.UserID, s.DeviceInfo, s.IssuedAt, s.ExpiresAt, s.Revoked).
		Suffix("ON CONFLICT (session_id) DO UPDATE SET user_id = EXCLUDED.user_id, device_info = EXCLUDED.device_info, " +
			"issued_at = EXCLUDED.issued_at, expires_at = EXCLUDED.expires_at, revoked = EXCLUDED.revoked").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := p.db.Exec(ctx, query, args...); err != nil {
		return errors.Wrap(err, "save session")
	}
	return nil
}

// DeleteSession 实现 SessionStore
func (p *Postgres) DeleteSession(ctx context.Context, sessionID string) error {
	query, args, err := psql.Delete("rt_sessions").Where(squirrel.Eq{"session_id": sessionID}).ToSql()
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, query, args...)
	return errors.Wrap(err, "delete session")
}

// RevokeSession 实现 SessionStore
func (p *Postgres) RevokeSession(ctx context.Context, sessionID string) error {
	query, args, err := psql.
		Update("rt_sessions").
		Set("revoked", true).
		Where(squirrel.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, query, args...)
	return errors.Wrap(err, "revoke session")
}

// Revoke 实现 RevocationStore
func (p *Postgres) Revoke(ctx context.Context, credentialID string, ttl time.Duration) error {
	now := p.clock.Now()
	query, args, err := psql.
		Insert("rt_revocations").
		Columns("credential_id", "revoked_at", "expires_at").
		Values(credentialID, now, now.Add(ttl)).
		Suffix("ON CONFLICT (credential_id) DO UPDATE SET revoked_at = EXCLUDED.revoked_at, expires_at = EXCLUDED.expires_at").
		ToSql()
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, query, args...)
	return errors.Wrap(err, "save revocation")
}

// IsRevoked 实现 RevocationStore
func (p *Postgres) IsRevoked(ctx context.Context, credentialID string) (bool, error) {
	query, args, err := psql.
		Select("1").
		From("rt_revocations").
		Where(squirrel.Eq{"credential_id": credentialID}).
		Where(squirrel.Gt{"expires_at": p.clock.Now()}).
		ToSql()
	if err != nil {
		return false, err
	}

	var one int
	if err := p.db.QueryRow(ctx, query, args...).Scan(&one); err != nil {
		if errors.Is(err, postgres.ErrNoRows) {
			return false, nil
		}
		return false, errors.Wrap(err, "check revocation")
	}
	return true, nil
}

// Ban 实现 BanStore
func (p *Postgres) Ban(ctx context.Context, ban *model.Ban) error {
	createdAt := ban.CreatedAt
	if createdAt.IsZero() {
		createdAt = p.clock.Now()
	}
	query, args, err := psql.
		Insert("rt_bans").
		Columns("user_id", "until", "reason", "created_at").
		Values(ban.UserID, ban.Until, ban.Reason, createdAt).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET until = EXCLUDED.until, reason = EXCLUDED.reason, created_at = EXCLUDED.created_at").
		ToSql()
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, query, args...)
	return errors.Wrap(err, "save ban")
}

// Unban 实现 BanStore
func (p *Postgres) Unban(ctx context.Context, userID string) error {
	query, args, err := psql.Delete("rt_bans").Where(squirrel.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return err
	}
	_, err = p.db.Exec(ctx, query, args...)
	return errors.Wrap(err, "delete ban")
}

// GetBan 实现 BanStore
func (p *Postgres) GetBan(ctx context.Context, userID string) (*model.Ban, error) {
	query, args, err := psql.
		Select("user_id", "until", "reason", "created_at").
		From("rt_bans").
		Where(squirrel.Eq{"user_id": userID}).
		Where(squirrel.Gt{"until": p.clock.Now()}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var b model.Ban
	if err := p.db.QueryRow(ctx, query, args...).Scan(&b.UserID, &b.Until, &b.Reason, &b.CreatedAt); err != nil {
		if errors.Is(err, postgres.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "get ban")
	}
	return &b, nil
}

// CreateMessage 实现 MessageStore
func (p *Postgres) CreateMessage(ctx context.Context, roomID, userID, content string, metadata json.RawMessage) (*model.Message, error) {
	id, err := p.ids.NextID()
	if err != nil {
		return nil, errors.Wrap(err, "allocate message id")
	}

	msg := &model.Message{
		ID:        id,
		RoomID:    roomID,
		UserID:    userID,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: p.clock.Now().UTC(),
	}

	var meta any
	if len(metadata) > 0 {
		meta = []byte(metadata)
	}
	query, args, err := psql.
		Insert("rt_messages").
		Columns("id", "room_id", "user_id", "content", "metadata", "created_at").
		Values(msg.ID, msg.RoomID, msg.UserID, msg.Content, meta, msg.CreatedAt).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := p.db.Exec(ctx, query, args...); err != nil {
		return nil, errors.Wrap(err, "save message")
	}
	return msg, nil
}

// Sweep 删除过期的吊销记录、封禁与会话
func (p *Postgres) Sweep(ctx context.Context) (int, error) {
	now := p.clock.Now()
	stmts := []squirrel.DeleteBuilder{
		psql.Delete("rt_revocations").Where(squirrel.LtOrEq{"expires_at": now}),
		psql.Delete("rt_bans").Where(squirrel.LtOrEq{"until": now}),
		psql.Delete("rt_sessions").Where(squirrel.LtOrEq{"expires_at": now}),
	}

	total := 0
	for _, b := range stmts {
		query, args, err := b.ToSql()
		if err != nil {
			return total, err
		}
		n, err := p.db.Exec(ctx, query, args...)
		if err != nil {
			return total, errors.Wrap(err, "sweep expired rows")
		}
		total += int(n)
	}
	return total, nil
}
