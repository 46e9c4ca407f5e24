package router

import (
	"net/http"

	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/auth"
	"github.com/lk2023060901/xdooria-realtime/pkg/websocket"
)

const sessionMetadataKey = "realtime.session"

// WebSocketHandler 将 websocket.Server 的连接回调接入路由
type WebSocketHandler struct {
	r *Router
}

var _ websocket.Handler = (*WebSocketHandler)(nil)

// NewWebSocketHandler 创建回调适配
func NewWebSocketHandler(r *Router) *WebSocketHandler {
	return &WebSocketHandler{r: r}
}

// OnConnect 认证失败时 close 事件已入队，返回 nil 以免写出前被强制关闭
func (h *WebSocketHandler) OnConnect(conn *websocket.Connection, req *http.Request) error {
	s := h.r.Open(req.Context(), conn, HandshakeFromRequest(req))
	conn.SetMetadata(sessionMetadataKey, s)
	return nil
}

// OnMessage 入站帧交给会话队列
func (h *WebSocketHandler) OnMessage(conn *websocket.Connection, msg *websocket.Message) error {
	if msg.Type != websocket.MessageTypeText && msg.Type != websocket.MessageTypeBinary {
		return nil
	}
	if s, ok := sessionOf(conn); ok {
		s.Push(msg.Data)
	}
	return nil
}

// OnDisconnect 读循环退出
func (h *WebSocketHandler) OnDisconnect(conn *websocket.Connection, _ error) {
	if s, ok := sessionOf(conn); ok {
		s.Close(auth.ReasonClientClosed)
	}
}

func sessionOf(conn *websocket.Connection) (*Session, bool) {
	v, ok := conn.GetMetadata(sessionMetadataKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Session)
	return s, ok
}
