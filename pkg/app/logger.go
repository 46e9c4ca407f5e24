package app

import (
	"sync"

	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
)

// LoggerRegistry 具名日志，例如独立落盘的 audit 日志
type LoggerRegistry struct {
	mu      sync.RWMutex
	loggers map[string]logger.Logger
}

func NewLoggerRegistry() *LoggerRegistry {
	return &LoggerRegistry{loggers: make(map[string]logger.Logger)}
}

func (r *LoggerRegistry) Register(name string, l logger.Logger) {
	r.mu.Lock()
	r.loggers[name] = l
	r.mu.Unlock()
}

// Get 未注册时返回 nil
func (r *LoggerRegistry) Get(name string) logger.Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loggers[name]
}

// InitLoggers 按配置创建具名日志，任一失败即返回
func (r *LoggerRegistry) InitLoggers(configs map[string]*logger.Config) error {
	for name, cfg := range configs {
		l, err := logger.New(cfg)
		if err != nil {
			return err
		}
		r.Register(name, l.Named(name))
	}
	return nil
}

// SyncAll 刷新全部具名日志，退出前调用
func (r *LoggerRegistry) SyncAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.loggers {
		_ = l.Sync()
	}
}
