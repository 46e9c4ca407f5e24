package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// defaultDebounce 编辑器保存时常连续产生多个事件，合并为一次回调
const defaultDebounce = 100 * time.Millisecond

// Manager 配置源，封装 viper 并保证并发安全
type Manager interface {
	LoadFile(path string) error
	// BindEnv prefix 为 "XDOORIA" 时 XDOORIA_AUTH_CREDENTIAL_LIMIT_LIMIT 覆盖 auth.credential_limit.limit
	BindEnv(prefix string)
	Unmarshal(v any) error
	UnmarshalKey(key string, v any) error
	GetString(key string) string
	IsSet(key string) bool
	// Set 最高优先级，覆盖文件与环境变量
	Set(key string, value any)
	// Watch 文件变更并重新读取后回调，多次注册共享一个 watcher
	Watch(callback func()) error
	// Revision 文件重新读取的次数
	Revision() uint64
}

type manager struct {
	v        *viper.Viper
	debounce time.Duration

	mu        sync.RWMutex
	callbacks []func()
	watching  bool
	revision  uint64
	pending   *time.Timer
}

func NewManager(opts ...Option) Manager {
	m := &manager{v: viper.New(), debounce: defaultDebounce}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *manager) read(fn func(v *viper.Viper)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.v)
}

func (m *manager) write(fn func(v *viper.Viper)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.v)
}

func (m *manager) LoadFile(path string) (err error) {
	m.write(func(v *viper.Viper) {
		v.SetConfigFile(path)
		if rerr := v.ReadInConfig(); rerr != nil {
			err = fmt.Errorf("read config %s: %w", path, rerr)
		}
	})
	return err
}

func (m *manager) BindEnv(prefix string) {
	m.write(func(v *viper.Viper) {
		if prefix != "" {
			v.SetEnvPrefix(prefix)
		}
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()
	})
}

func (m *manager) Unmarshal(out any) (err error) {
	m.read(func(v *viper.Viper) {
		if uerr := v.Unmarshal(out); uerr != nil {
			err = fmt.Errorf("decode config: %w", uerr)
		}
	})
	return err
}

func (m *manager) UnmarshalKey(key string, out any) (err error) {
	m.read(func(v *viper.Viper) {
		if uerr := v.UnmarshalKey(key, out); uerr != nil {
			err = fmt.Errorf("decode config key %q: %w", key, uerr)
		}
	})
	return err
}

func (m *manager) GetString(key string) (s string) {
	m.read(func(v *viper.Viper) { s = v.GetString(key) })
	return s
}

func (m *manager) IsSet(key string) (ok bool) {
	m.read(func(v *viper.Viper) { ok = v.IsSet(key) })
	return ok
}

func (m *manager) Set(key string, value any) {
	m.write(func(v *viper.Viper) { v.Set(key, value) })
}

func (m *manager) Revision() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

func (m *manager) Watch(callback func()) error {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, callback)
	start := !m.watching
	m.watching = true
	m.mu.Unlock()

	if start {
		m.v.OnConfigChange(func(fsnotify.Event) { m.schedule() })
		m.v.WatchConfig()
	}
	return nil
}

// schedule 在静默 debounce 后统一触发回调
func (m *manager) schedule() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending != nil {
		m.pending.Stop()
	}
	m.pending = time.AfterFunc(m.debounce, m.notify)
}

func (m *manager) notify() {
	m.mu.Lock()
	m.revision++
	m.pending = nil
	callbacks := make([]func(), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}
