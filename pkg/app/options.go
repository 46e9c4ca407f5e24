package app

import (
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
)

// Options 应用选项
type Options struct {
	// ID 实例标识，实时服务使用进程 ID
	ID   string
	Name string
	// StopTimeout 等待全部服务停止的上限，超时后继续关闭资源
	StopTimeout time.Duration
	Logger      logger.Logger

	NamedLoggers map[string]*logger.Config
}

type Option func(*Options)

// DefaultOptions 随机实例 ID，停止上限 30 秒
func DefaultOptions() Options {
	return Options{
		ID:          uuid.NewString(),
		Name:        AppName,
		StopTimeout: 30 * time.Second,
		Logger:      logger.Default(),
	}
}

func WithNamedLoggers(loggers map[string]*logger.Config) Option {
	return func(o *Options) { o.NamedLoggers = loggers }
}

func WithLogger(l logger.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithID(id string) Option {
	return func(o *Options) { o.ID = id }
}

func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

func WithStopTimeout(t time.Duration) Option {
	return func(o *Options) { o.StopTimeout = t }
}
