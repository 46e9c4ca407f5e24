package logger

import (
	"context"

	"go.uber.org/zap"
)

// ContextFieldExtractor 从 context 提取日志字段
type ContextFieldExtractor func(ctx context.Context) []zap.Field

type connFieldsKey struct{}

type connFields struct {
	connID string
	userID string
}

// WithConnection 在 context 中记录连接与用户，供 *Context 日志方法输出
func WithConnection(ctx context.Context, connID, userID string) context.Context {
	return context.WithValue(ctx, connFieldsKey{}, connFields{connID: connID, userID: userID})
}

// ConnectionContextExtractor 默认提取器，输出 conn_id 与 user_id
func ConnectionContextExtractor(ctx context.Context) []zap.Field {
	v, ok := ctx.Value(connFieldsKey{}).(connFields)
	if !ok {
		return nil
	}
	fields := make([]zap.Field, 0, 2)
	if v.connID != "" {
		fields = append(fields, zap.String("conn_id", v.connID))
	}
	if v.userID != "" {
		fields = append(fields, zap.String("user_id", v.userID))
	}
	return fields
}
