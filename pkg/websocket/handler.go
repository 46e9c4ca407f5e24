package websocket

import "net/http"

// Handler 连接生命周期回调
type Handler interface {
	// OnConnect 升级完成后调用，r 为握手请求；返回错误则关闭连接
	OnConnect(conn *Connection, r *http.Request) error

	// OnMessage 读循环中逐条调用
	OnMessage(conn *Connection, msg *Message) error

	// OnDisconnect 读循环退出后调用一次
	OnDisconnect(conn *Connection, err error)
}

// HandlerFunc 消息处理函数类型
type HandlerFunc func(conn *Connection, msg *Message) error
