// Package aggregator 周期性采样连接注册表、总线与进程资源，生成健康快照。
//
// 快照交给本地 Sink（指标、分析导出），并在 analytics 频道上广播，
// 各进程据此维护集群视图。
package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/bus"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/lk2023060901/xdooria-realtime/pkg/metrics/system"
	"github.com/lk2023060901/xdooria-realtime/pkg/util/conc"
)

// MessageTypeSnapshot analytics 频道上的快照消息
const MessageTypeSnapshot = "snapshot"

// 集群视图最多保留的进程数
const maxPeers = 1024

// Registry 连接注册表的只读视图
type Registry interface {
	Count() int
	RoomCount() int
	OnlineUsers() []string
}

// BusState 总线的只读视图
type BusState interface {
	Health() bus.Health
	Stats() bus.Stats
	ClusterConnections() int
	SubscribedChannels() int
}

// Sampler 进程资源采样
type Sampler interface {
	Collect() system.Stats
}

// Publisher 跨进程广播
type Publisher interface {
	Publish(ctx context.Context, ch bus.Channel, msg *bus.Message) error
}

// Sink 快照消费者，在采样 goroutine 中同步调用
type Sink func(Snapshot)

// Snapshot 单个进程的健康快照
type Snapshot struct {
	ProcessID          string       `json:"processId"`
	Timestamp          time.Time    `json:"timestamp"`
	Connections        int          `json:"connections"`
	Rooms              int          `json:"rooms"`
	OnlineUsers        int          `json:"onlineUsers"`
	ClusterConnections int          `json:"clusterConnections"`
	Bus                bus.Health   `json:"bus"`
	BusStats           bus.Stats    `json:"busStats"`
	System             system.Stats `json:"system"`
}

// Health /healthz 响应
type Health struct {
	ProcessID          string           `json:"processId"`
	ActiveConnections  int              `json:"activeConnections"`
	BusConnected       bool             `json:"busConnected"`
	QueuedMessages     int              `json:"queuedMessages"`
	SubscribedChannels int              `json:"subscribedChannels"`
	DroppedMessages    int64            `json:"droppedMessages"`
	Rooms              int              `json:"rooms"`
	OnlineUsers        int              `json:"onlineUsers"`
	ClusterConnections int              `json:"clusterConnections"`
	Peers              []bus.PeerStatus `json:"peers"`
}

// Config 采样配置
type Config struct {
	// Interval 采样间隔，0 关闭周期采样
	Interval time.Duration `mapstructure:"interval"`
	// Publish 是否在 analytics 频道广播快照
	Publish bool `mapstructure:"publish"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Interval: 15 * time.Second,
		Publish:  true,
	}
}

// Aggregator 快照采样器
type Aggregator struct {
	cfg       *Config
	processID string
	registry  Registry
	bus       BusState
	sampler   Sampler
	publisher Publisher
	clock     clock.Clock
	logger    logger.Logger

	mu     sync.RWMutex
	sinks  []Sink
	latest *Snapshot
	peers  *expirable.LRU[string, Snapshot]

	cancel context.CancelFunc
	loop   *conc.Future[struct{}]
}

// Option 选项
type Option func(*Aggregator)

// WithClock 注入时钟
func WithClock(c clock.Clock) Option {
	return func(a *Aggregator) { a.clock = c }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// WithSampler 设置进程资源采样器
func WithSampler(s Sampler) Option {
	return func(a *Aggregator) { a.sampler = s }
}

// WithPublisher 设置快照广播
func WithPublisher(p Publisher) Option {
	return func(a *Aggregator) { a.publisher = p }
}

// WithSink 追加快照消费者
func WithSink(s Sink) Option {
	return func(a *Aggregator) { a.sinks = append(a.sinks, s) }
}

// New 创建采样器
func New(processID string, reg Registry, b BusState, cfg *Config, opts ...Option) *Aggregator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	a := &Aggregator{
		cfg:       cfg,
		processID: processID,
		registry:  reg,
		bus:       b,
		clock:     clock.New(),
		logger:    logger.NewNoop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("realtime.aggregator")

	ttl := 3 * cfg.Interval
	if ttl <= 0 {
		ttl = time.Minute
	}
	a.peers = expirable.NewLRU[string, Snapshot](maxPeers, nil, ttl)
	return a
}

// Start 启动周期采样，立即采样一次
func (a *Aggregator) Start() error {
	if a.cfg.Interval <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.loop = conc.Go(func() (struct{}, error) {
		ticker := a.clock.Ticker(a.cfg.Interval)
		defer ticker.Stop()

		a.Sample(ctx)
		for {
			select {
			case <-ctx.Done():
				return struct{}{}, nil
			case <-ticker.C:
				a.Sample(ctx)
			}
		}
	})
	return nil
}

// Stop 停止周期采样
func (a *Aggregator) Stop() error {
	if a.cancel == nil {
		return nil
	}
	a.cancel()
	_, err := a.loop.Await()
	return err
}

// Sample 采样一次，通知 Sink 并广播
func (a *Aggregator) Sample(ctx context.Context) Snapshot {
	snap := Snapshot{
		ProcessID: a.processID,
		Timestamp: a.clock.Now(),
	}
	if a.registry != nil {
		snap.Connections = a.registry.Count()
		snap.Rooms = a.registry.RoomCount()
		snap.OnlineUsers = len(a.registry.OnlineUsers())
	}
	snap.ClusterConnections = snap.Connections
	if a.bus != nil {
		snap.Bus = a.bus.Health()
		snap.BusStats = a.bus.Stats()
		snap.ClusterConnections = a.bus.ClusterConnections()
	}
	if a.sampler != nil {
		snap.System = a.sampler.Collect()
	}

	a.mu.Lock()
	a.latest = &snap
	sinks := append([]Sink(nil), a.sinks...)
	a.mu.Unlock()

	for _, s := range sinks {
		s(snap)
	}
	a.publish(ctx, snap)

	if a.bus != nil && (!snap.Bus.Connected || snap.Bus.QueuedTotal > 0) {
		a.logger.Info("bus degraded",
			"connected", snap.Bus.Connected, "queued", snap.Bus.QueuedTotal, "dropped", snap.Bus.Dropped)
	}
	return snap
}

func (a *Aggregator) publish(ctx context.Context, snap Snapshot) {
	if !a.cfg.Publish || a.publisher == nil {
		return
	}
	msg, err := bus.NewMessage(MessageTypeSnapshot, snap)
	if err != nil {
		a.logger.Error("encode snapshot failed", "error", err)
		return
	}
	msg.WithPriority(bus.PriorityLow)
	if a.cfg.Interval > 0 {
		msg.WithTTL(2 * a.cfg.Interval)
	}
	if err := a.publisher.Publish(ctx, bus.ChannelAnalytics, msg); err != nil {
		a.logger.Debug("publish snapshot failed", "error", err)
	}
}

// Latest 最近一次快照
func (a *Aggregator) Latest() (Snapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return Snapshot{}, false
	}
	return *a.latest, true
}

// RegisterBusHandlers 接收其它进程的快照
func (a *Aggregator) RegisterBusHandlers(b *bus.Bus) {
	b.On(bus.ChannelAnalytics, a.onSnapshot)
}

func (a *Aggregator) onSnapshot(_ context.Context, msg *bus.Message) {
	if msg.Type != MessageTypeSnapshot {
		return
	}
	var snap Snapshot
	if err := msg.Decode(&snap); err != nil {
		a.logger.Debug("discard snapshot", "origin", msg.OriginProcessID, "error", err)
		return
	}
	a.peers.Add(snap.ProcessID, snap)
}

// Cluster 本进程与其它进程最近的快照，按进程 ID 排序
func (a *Aggregator) Cluster() []Snapshot {
	out := a.peers.Values()
	if self, ok := a.Latest(); ok {
		out = append(out, self)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessID < out[j].ProcessID })
	return out
}

// Health 实时计算的健康状态
func (a *Aggregator) Health() Health {
	h := Health{ProcessID: a.processID}
	if a.registry != nil {
		h.ActiveConnections = a.registry.Count()
		h.Rooms = a.registry.RoomCount()
		h.OnlineUsers = len(a.registry.OnlineUsers())
	}
	h.ClusterConnections = h.ActiveConnections
	if a.bus != nil {
		bh := a.bus.Health()
		h.BusConnected = bh.Connected
		h.QueuedMessages = bh.QueuedTotal
		h.DroppedMessages = bh.Dropped
		h.Peers = bh.Peers
		h.SubscribedChannels = a.bus.SubscribedChannels()
		h.ClusterConnections = a.bus.ClusterConnections()
	}
	return h
}
