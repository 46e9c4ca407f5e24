package router

import (
	"net/http"
	"strings"
)

// Handshake 握手阶段可携带凭证的位置
type Handshake struct {
	// AuthField 显式认证字段（X-Auth-Token 头）
	AuthField string
	// Authorization Authorization 头原文
	Authorization string
	// QueryToken token 查询参数
	QueryToken string
	// RemoteAddr 客户端地址，用于来源限流
	RemoteAddr string
}

// HandshakeFromRequest 从升级请求中提取握手信息
func HandshakeFromRequest(r *http.Request) Handshake {
	return Handshake{
		AuthField:     r.Header.Get("X-Auth-Token"),
		Authorization: r.Header.Get("Authorization"),
		QueryToken:    r.URL.Query().Get("token"),
		RemoteAddr:    clientIP(r),
	}
}

// Credential 按优先级选择凭证：显式字段 > Bearer 头 > 查询参数
func (h Handshake) Credential() string {
	if v := strings.TrimSpace(h.AuthField); v != "" {
		return v
	}
	if v := bearer(h.Authorization); v != "" {
		return v
	}
	return strings.TrimSpace(h.QueryToken)
}

func bearer(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		if ip := strings.TrimSpace(xff); ip != "" {
			return ip
		}
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
