// Package handler 实时层的 HTTP 入口：WebSocket 升级、健康检查、指标与管理接口。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/aggregator"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/moderation"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/lk2023060901/xdooria-realtime/pkg/web"
	"github.com/lk2023060901/xdooria-realtime/pkg/web/middleware"
)

// AdminRole 调用管理接口所需的角色
const AdminRole = "admin"

// Moderator 处置操作
type Moderator interface {
	Revoke(ctx context.Context, credentialID string, ttl time.Duration) error
	Logout(ctx context.Context, sessionID, credentialID string, ttl time.Duration) error
	Ban(ctx context.Context, userID string, until time.Time, reason string) (*model.Ban, error)
	Unban(ctx context.Context, userID string) error
	Notify(ctx context.Context, userID string, payload any) error
}

// Monitor 健康与集群视图
type Monitor interface {
	Health() aggregator.Health
	Cluster() []aggregator.Snapshot
}

// Deps 处理器依赖
type Deps struct {
	Moderator Moderator
	Monitor   Monitor
	Tokens    middleware.TokenValidator
	WebSocket http.Handler
	Metrics   http.Handler
	Logger    logger.Logger
}

// Handler HTTP 处理器
type Handler struct {
	moderator Moderator
	monitor   Monitor
	tokens    middleware.TokenValidator
	ws        http.Handler
	metrics   http.Handler
	logger    logger.Logger
}

// New 创建处理器
func New(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = logger.NewNoop()
	}
	return &Handler{
		moderator: deps.Moderator,
		monitor:   deps.Monitor,
		tokens:    deps.Tokens,
		ws:        deps.WebSocket,
		metrics:   deps.Metrics,
		logger:    deps.Logger.Named("handler.realtime"),
	}
}

// Register 注册路由
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}
	if h.ws != nil {
		r.GET("/ws", gin.WrapH(h.ws))
	}

	admin := r.Group("/admin", middleware.RequireRole(h.tokens, AdminRole))
	{
		admin.POST("/sessions/revoke", h.Revoke)
		admin.POST("/logout", h.Logout)
		admin.POST("/bans", h.Ban)
		admin.DELETE("/bans/:userId", h.Unban)
		admin.POST("/notify", h.Notify)
		admin.GET("/cluster", h.Cluster)
	}
}

// Healthz 本进程健康状态，总线断开时仍返回 200，由 busConnected 表达降级
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.Health())
}

// Cluster 各进程最近的快照
func (h *Handler) Cluster(c *gin.Context) {
	web.Success(c, h.monitor.Cluster())
}

// RevokeRequest 吊销凭证
type RevokeRequest struct {
	CredentialID string `json:"credentialId" binding:"required"`
	TTLSeconds   int64  `json:"ttlSeconds" binding:"gte=0,lte=31536000"`
}

// Revoke POST /admin/sessions/revoke
func (h *Handler) Revoke(c *gin.Context) {
	var req RevokeRequest
	if !web.BindJSON(c, &req) {
		return
	}
	if err := h.moderator.Revoke(c.Request.Context(), req.CredentialID, seconds(req.TTLSeconds)); err != nil {
		h.fail(c, "revoke", err)
		return
	}
	h.audit(c, "credential revoked", "credential_id", req.CredentialID)
	web.Success(c, nil)
}

// LogoutRequest 登出会话
type LogoutRequest struct {
	SessionID    string `json:"sessionId" binding:"required"`
	CredentialID string `json:"credentialId"`
	TTLSeconds   int64  `json:"ttlSeconds" binding:"gte=0,lte=31536000"`
}

// Logout POST /admin/logout
func (h *Handler) Logout(c *gin.Context) {
	var req LogoutRequest
	if !web.BindJSON(c, &req) {
		return
	}
	if err := h.moderator.Logout(c.Request.Context(), req.SessionID, req.CredentialID, seconds(req.TTLSeconds)); err != nil {
		h.fail(c, "logout", err)
		return
	}
	h.audit(c, "session logged out", "session_id", req.SessionID)
	web.Success(c, nil)
}

// BanRequest 封禁用户，DurationSeconds 为 0 时使用默认时长，上限一年
type BanRequest struct {
	UserID          string `json:"userId" binding:"required"`
	DurationSeconds int64  `json:"durationSeconds" binding:"gte=0,lte=31536000"`
	Reason          string `json:"reason"`
}

// Ban POST /admin/bans
func (h *Handler) Ban(c *gin.Context) {
	var req BanRequest
	if !web.BindJSON(c, &req) {
		return
	}
	var until time.Time
	if req.DurationSeconds > 0 {
		until = time.Now().Add(seconds(req.DurationSeconds))
	}
	ban, err := h.moderator.Ban(c.Request.Context(), req.UserID, until, req.Reason)
	if err != nil {
		h.fail(c, "ban", err)
		return
	}
	h.audit(c, "user banned", "user_id", req.UserID, "until", ban.Until)
	web.Success(c, ban)
}

// Unban DELETE /admin/bans/:userId
func (h *Handler) Unban(c *gin.Context) {
	userID := c.Param("userId")
	if err := h.moderator.Unban(c.Request.Context(), userID); err != nil {
		h.fail(c, "unban", err)
		return
	}
	h.audit(c, "user unbanned", "user_id", userID)
	web.Success(c, nil)
}

// NotifyRequest 推送通知
type NotifyRequest struct {
	UserID  string          `json:"userId" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// Notify POST /admin/notify
func (h *Handler) Notify(c *gin.Context) {
	var req NotifyRequest
	if !web.BindJSON(c, &req) {
		return
	}
	if !json.Valid(req.Payload) {
		web.Error(c, http.StatusBadRequest, web.CodeInvalidParams, "payload must be valid JSON")
		return
	}
	if err := h.moderator.Notify(c.Request.Context(), req.UserID, req.Payload); err != nil {
		h.fail(c, "notify", err)
		return
	}
	web.Success(c, nil)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if errors.Is(err, moderation.ErrInvalidArgument) {
		web.Error(c, http.StatusBadRequest, web.CodeInvalidParams, err.Error())
		return
	}
	h.logger.Error("admin operation failed", "op", op, "error", err)
	web.Error(c, http.StatusServiceUnavailable, web.CodeUnavailable, op+" failed")
}

// audit 记录操作者
func (h *Handler) audit(c *gin.Context, msg string, keysAndValues ...any) {
	if claims, ok := middleware.GetClaims(c); ok {
		keysAndValues = append(keysAndValues, "operator", claims.Subject)
	}
	h.logger.Info(msg, keysAndValues...)
}

func seconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}
