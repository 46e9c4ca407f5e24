package logger

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// Hook 在日志写出前执行，可改写字段，返回 false 时丢弃该条日志
type Hook interface {
	OnWrite(entry zapcore.Entry, fields []zapcore.Field) bool
}

// HookFunc 函数形式的 Hook
type HookFunc func(entry zapcore.Entry, fields []zapcore.Field) bool

func (f HookFunc) OnWrite(entry zapcore.Entry, fields []zapcore.Field) bool {
	return f(entry, fields)
}

// HookedCore 在写出前依次执行钩子的 zapcore.Core
type HookedCore struct {
	zapcore.Core
	hooks []Hook
}

// NewHookedCore 包装 core
func NewHookedCore(core zapcore.Core, hooks ...Hook) zapcore.Core {
	return &HookedCore{Core: core, hooks: hooks}
}

func (h *HookedCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !h.Enabled(entry.Level) {
		return ce
	}
	return ce.AddCore(entry, h)
}

func (h *HookedCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	for _, hook := range h.hooks {
		if !hook.OnWrite(entry, fields) {
			return nil
		}
	}
	return h.Core.Write(entry, fields)
}

func (h *HookedCore) With(fields []zapcore.Field) zapcore.Core {
	return &HookedCore{Core: h.Core.With(fields), hooks: h.hooks}
}

const redacted = "***REDACTED***"

// SensitiveDataHook 将命中 keys 的字段值替换为 ***REDACTED***，键名大小写不敏感
//
// 只作用于本次写出的字段，WithFields 预绑定的字段不经过钩子。
func SensitiveDataHook(keys []string) Hook {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[strings.ToLower(k)] = struct{}{}
	}

	return HookFunc(func(_ zapcore.Entry, fields []zapcore.Field) bool {
		for i, f := range fields {
			if _, ok := set[strings.ToLower(f.Key)]; ok {
				fields[i] = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: redacted}
			}
		}
		return true
	})
}
