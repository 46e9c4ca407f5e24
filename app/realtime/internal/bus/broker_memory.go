package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lk2023060901/xdooria-realtime/pkg/util/conc"
)

const memoryBufferSize = 4096

// MemoryHub 进程内的发布订阅中心，多个 MemoryBroker 共享一个 Hub 模拟多进程
type MemoryHub struct {
	mu   sync.RWMutex
	subs map[*memorySubscription]struct{}
}

// NewMemoryHub 创建 Hub
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[*memorySubscription]struct{})}
}

// MemoryBroker 基于 MemoryHub 的代理，可手动切换可用状态
type MemoryBroker struct {
	hub  *MemoryHub
	down atomic.Bool
}

// NewMemoryBroker 创建代理
func NewMemoryBroker(hub *MemoryHub) *MemoryBroker {
	return &MemoryBroker{hub: hub}
}

// SetDown 切换为不可用，期间发布失败且收不到消息
func (b *MemoryBroker) SetDown(down bool) {
	b.down.Store(down)
}

// Publish 实现 Broker
func (b *MemoryBroker) Publish(_ context.Context, channel string, data []byte) error {
	if b.down.Load() {
		return ErrBrokerDown
	}

	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	for s := range b.hub.subs {
		if _, ok := s.channels[channel]; !ok || s.broker.down.Load() {
			continue
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		select {
		case s.ch <- memoryMessage{channel: channel, data: cp}:
		default:
			// 与 Redis 一致，慢订阅者丢消息
		}
	}
	return nil
}

// Subscribe 实现 Broker
func (b *MemoryBroker) Subscribe(_ context.Context, channels []string, fn DeliverFunc) (Subscription, error) {
	if b.down.Load() {
		return nil, ErrBrokerDown
	}

	s := &memorySubscription{
		hub:      b.hub,
		broker:   b,
		channels: make(map[string]struct{}, len(channels)),
		ch:       make(chan memoryMessage, memoryBufferSize),
		done:     make(chan struct{}),
	}
	for _, c := range channels {
		s.channels[c] = struct{}{}
	}

	s.future = conc.Go(func() (struct{}, error) {
		for {
			select {
			case m := <-s.ch:
				fn(m.channel, m.data)
			case <-s.done:
				return struct{}{}, nil
			}
		}
	})

	b.hub.mu.Lock()
	b.hub.subs[s] = struct{}{}
	b.hub.mu.Unlock()
	return s, nil
}

// Ping 实现 Broker
func (b *MemoryBroker) Ping(context.Context) error {
	if b.down.Load() {
		return ErrBrokerDown
	}
	return nil
}

// Close 实现 Broker
func (b *MemoryBroker) Close() error {
	return nil
}

type memoryMessage struct {
	channel string
	data    []byte
}

type memorySubscription struct {
	hub      *MemoryHub
	broker   *MemoryBroker
	channels map[string]struct{}
	ch       chan memoryMessage
	done     chan struct{}
	once     sync.Once
	future   *conc.Future[struct{}]
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s)
		s.hub.mu.Unlock()
		close(s.done)
		_, _ = s.future.Await()
	})
	return nil
}
