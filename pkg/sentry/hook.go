package sentry

import (
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"go.uber.org/zap/zapcore"
)

// LoggerHook 将 Error 及以上级别的日志上报，日志本身照常输出
//
// 带 error 字段的日志按异常上报，其余按消息上报；其他字段放入事件上下文。
func (c *Client) LoggerHook() logger.Hook {
	return logger.HookFunc(func(entry zapcore.Entry, fields []zapcore.Field) bool {
		if entry.Level < zapcore.ErrorLevel {
			return true
		}

		tags := map[string]string{"message": entry.Message}
		if entry.LoggerName != "" {
			tags["logger"] = entry.LoggerName
		}

		enc := zapcore.NewMapObjectEncoder()
		var cause error
		for _, f := range fields {
			if f.Type == zapcore.ErrorType {
				if err, ok := f.Interface.(error); ok && cause == nil {
					cause = err
					continue
				}
			}
			f.AddTo(enc)
		}

		if cause != nil {
			c.CaptureError(cause, tags, enc.Fields)
		} else {
			c.CaptureMessage(entry.Message, tags, enc.Fields)
		}
		return true
	})
}
