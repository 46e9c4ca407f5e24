package logger

import "context"

// Logger 结构化日志接口，参数为交替的 key/value
//
// Context 版本会通过 ContextFieldExtractor 从 ctx 提取连接与用户标识。
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)

	DebugContext(ctx context.Context, msg string, keysAndValues ...any)
	InfoContext(ctx context.Context, msg string, keysAndValues ...any)
	WarnContext(ctx context.Context, msg string, keysAndValues ...any)
	ErrorContext(ctx context.Context, msg string, keysAndValues ...any)

	// Named 追加名称段，例如 realtime.bus
	Named(name string) Logger
	WithFields(keysAndValues ...any) Logger

	Sync() error
}
