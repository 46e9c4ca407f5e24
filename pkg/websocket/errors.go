package websocket

import "errors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("websocket: invalid config")

	// ErrConnectionClosed 连接已关闭
	ErrConnectionClosed = errors.New("websocket: connection closed")

	// ErrSendQueueFull 发送队列已满
	ErrSendQueueFull = errors.New("websocket: send queue full")

	// ErrPoolFull 连接数达到上限
	ErrPoolFull = errors.New("websocket: connection pool full")

	// ErrPoolClosed 服务已关闭
	ErrPoolClosed = errors.New("websocket: connection pool closed")

	// ErrMaxConnectionsPerIP 单 IP 连接数达到上限
	ErrMaxConnectionsPerIP = errors.New("websocket: max connections per ip exceeded")
)
