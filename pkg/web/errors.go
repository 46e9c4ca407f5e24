package web

import "errors"

var (
	ErrInvalidConfig        = errors.New("web: invalid config")
	ErrServerAlreadyStarted = errors.New("web: server already started")
)

// 响应体中的业务码，HTTP 状态码之外区分失败类别
const (
	CodeOK            = 0
	CodeInvalidParams = 40001
	CodeUnavailable   = 50003
)
