package config

// WatchKey 在配置文件变化时重新解析 key 对应的配置段并回调
// 解析失败时回调 onError（可为 nil），不影响旧配置
func WatchKey[T any](m Manager, key string, defaults func() *T, onChange func(*T), onError func(error)) error {
	return m.Watch(func() {
		next := defaults()
		if err := m.UnmarshalKey(key, next); err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(next)
	})
}
