package config

import (
	"time"

	"github.com/spf13/viper"
)

// Option 管理器选项
type Option func(*manager)

// WithDefaults 以最低优先级写入默认值，键使用点分路径，例如 bus.queue_capacity
func WithDefaults(defaults map[string]any) Option {
	return func(m *manager) {
		for k, v := range defaults {
			m.v.SetDefault(k, v)
		}
	}
}

// WithConfigType 文件无扩展名时指定格式（yaml、json、toml）
func WithConfigType(typ string) Option {
	return func(m *manager) { m.v.SetConfigType(typ) }
}

// WithViper 复用外部 viper 实例，LoadConfig 用它预置日志路径默认值
func WithViper(v *viper.Viper) Option {
	return func(m *manager) { m.v = v }
}

// WithReloadDebounce 文件变更回调的合并窗口，<= 0 时每个事件都触发
func WithReloadDebounce(d time.Duration) Option {
	return func(m *manager) { m.debounce = d }
}
