// Package bus 在多个实时进程之间广播事件。
//
// 代理不可用时消息进入频道内的有界补发队列，恢复后按 FIFO 补发；
// 接收方丢弃自身发出的消息与超过 TTL 的消息。
package bus

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/lk2023060901/xdooria-realtime/pkg/util/conc"
)

// ErrNotStarted 总线尚未启动
var ErrNotStarted = errors.New("bus: not started")

// Handler 频道消息处理函数，在接收 goroutine 中串行调用
type Handler func(ctx context.Context, msg *Message)

// Health 总线健康状态
type Health struct {
	ProcessID   string         `json:"processId"`
	Connected   bool           `json:"connected"`
	Subscribed  bool           `json:"subscribed"`
	Subscribers map[string]int `json:"subscribers"`
	Queued      map[string]int `json:"queued"`
	QueuedTotal int            `json:"queuedTotal"`
	Dropped     int64          `json:"dropped"`
	Peers       []PeerStatus   `json:"peers"`
}

// Stats 接收侧计数
type Stats struct {
	Published    int64
	Received     int64
	SelfFiltered int64
	Expired      int64
}

// Bus 跨进程事件总线
type Bus struct {
	cfg       *Config
	processID string
	broker    Broker
	clock     clock.Clock
	logger    logger.Logger
	counter   func() int

	handlersMu sync.RWMutex
	handlers   map[Channel][]Handler

	mu        sync.Mutex
	queues    map[Channel]*retryQueue
	connected bool
	downSince time.Time
	escalated bool
	sub       Subscription

	flushMu sync.Mutex
	peers   *peerTable

	published    atomic.Int64
	received     atomic.Int64
	selfFiltered atomic.Int64
	expired      atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	futures []*conc.Future[struct{}]
}

// Option 总线选项
type Option func(*Bus)

// WithClock 注入时钟
func WithClock(c clock.Clock) Option {
	return func(b *Bus) { b.clock = c }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithConnectionCounter 心跳中上报的本地连接数来源
func WithConnectionCounter(fn func() int) Option {
	return func(b *Bus) { b.counter = fn }
}

// New 创建总线
func New(processID string, broker Broker, cfg *Config, opts ...Option) *Bus {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	b := &Bus{
		cfg:       cfg,
		processID: processID,
		broker:    broker,
		clock:     clock.New(),
		logger:    logger.NewNoop(),
		handlers:  make(map[Channel][]Handler),
		queues:    make(map[Channel]*retryQueue, len(Channels)),
		peers:     newPeerTable(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("realtime.bus")
	for _, ch := range Channels {
		b.queues[ch] = newRetryQueue(cfg.QueueCapacity)
	}
	return b
}

// ProcessID 本进程标识
func (b *Bus) ProcessID() string {
	return b.processID
}

// On 注册频道处理函数，需在 Start 前调用
func (b *Bus) On(ch Channel, h Handler) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers[ch] = append(b.handlers[ch], h)
}

// Start 订阅全部频道并启动探活与心跳
//
// 代理暂不可用时不返回错误，由探活任务在恢复后补订阅。
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return nil
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.mu.Unlock()

	if err := b.subscribe(ctx); err != nil {
		b.markDown(err)
	} else {
		b.markUp()
	}

	b.futures = append(b.futures,
		conc.Go(func() (struct{}, error) {
			b.monitorLoop(b.ctx)
			return struct{}{}, nil
		}),
		conc.Go(func() (struct{}, error) {
			b.heartbeatLoop(b.ctx)
			return struct{}{}, nil
		}),
	)

	b.logger.Info("bus started", "process_id", b.processID, "channels", len(Channels))
	return nil
}

// Stop 停止后台任务并取消订阅
func (b *Bus) Stop() error {
	b.mu.Lock()
	cancel := b.cancel
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	_ = conc.AwaitAll(b.futures...)

	var err error
	if sub != nil {
		err = sub.Close()
	}
	b.logger.Info("bus stopped", "process_id", b.processID)
	return err
}

// Publish 广播消息，补齐来源进程与创建时间
//
// 代理不可用或该频道仍有待补发消息时进入补发队列并返回 nil，
// 保证同一频道内的发布顺序。
func (b *Bus) Publish(ctx context.Context, ch Channel, msg *Message) error {
	q, ok := b.queues[ch]
	if !ok {
		return errors.Newf("bus: unknown channel %q", ch)
	}

	msg.OriginProcessID = b.processID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = b.clock.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode bus message")
	}
	p := &pending{msg: msg, data: data}

	b.mu.Lock()
	if !b.connected || q.len() > 0 {
		b.enqueueLocked(ch, q, p)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.publishRaw(ctx, ch, data); err != nil {
		b.markDown(err)
		b.mu.Lock()
		b.enqueueLocked(ch, q, p)
		b.mu.Unlock()
		return nil
	}
	return nil
}

func (b *Bus) publishRaw(ctx context.Context, ch Channel, data []byte) error {
	if b.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.PublishTimeout)
		defer cancel()
	}
	if err := b.broker.Publish(ctx, string(ch), data); err != nil {
		return err
	}
	b.published.Add(1)
	return nil
}

// enqueueLocked 调用方持有 b.mu
func (b *Bus) enqueueLocked(ch Channel, q *retryQueue, p *pending) {
	if p.msg.Priority == PriorityLow {
		q.dropped++
		return
	}
	if q.push(p) {
		b.logger.Warn("retry queue full, dropped oldest message", "channel", ch, "capacity", q.cap)
	}
}

// markDown 记录不可用；持续超过 EscalateAfter 后以 Error 级别再记录一次
func (b *Bus) markDown(err error) {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.connected || b.downSince.IsZero() {
		b.connected = false
		b.downSince = now
		b.escalated = false
		b.logger.Warn("bus unavailable, queueing messages", "error", err)
		return
	}
	if !b.escalated && b.cfg.EscalateAfter > 0 && now.Sub(b.downSince) >= b.cfg.EscalateAfter {
		b.escalated = true
		b.logger.Error("bus still unavailable", "down_for", now.Sub(b.downSince), "error", err)
	}
}

func (b *Bus) markUp() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return
	}
	if !b.downSince.IsZero() {
		b.logger.Info("bus reconnected", "down_for", b.clock.Now().Sub(b.downSince))
	}
	b.connected = true
	b.downSince = time.Time{}
	b.escalated = false
}

func (b *Bus) subscribe(ctx context.Context) error {
	names := make([]string, len(Channels))
	for i, ch := range Channels {
		names[i] = string(ch)
	}
	sub, err := b.broker.Subscribe(ctx, names, b.receive)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
	return nil
}

// monitorLoop 探活、补订阅并补发
func (b *Bus) monitorLoop(ctx context.Context) {
	ticker := b.clock.Ticker(b.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.check(ctx)
		}
	}
}

func (b *Bus) check(ctx context.Context) {
	pctx := ctx
	if b.cfg.PingTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, b.cfg.PingTimeout)
		defer cancel()
	}
	if err := b.broker.Ping(pctx); err != nil {
		b.markDown(err)
		return
	}

	b.mu.Lock()
	needSub := b.sub == nil
	b.mu.Unlock()
	if needSub {
		if err := b.subscribe(ctx); err != nil {
			b.markDown(err)
			return
		}
	}

	b.markUp()
	b.flush(ctx)
}

// flush 按频道逐条补发，遇到第一次失败即停止并保留剩余消息
func (b *Bus) flush(ctx context.Context) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	sent := 0
	for _, ch := range Channels {
		q := b.queues[ch]
		for {
			b.mu.Lock()
			p := q.peek()
			b.mu.Unlock()
			if p == nil {
				break
			}

			if p.msg.Expired(b.clock.Now()) {
				b.mu.Lock()
				if q.popIf(p) {
					q.dropped++
				}
				b.mu.Unlock()
				continue
			}

			if err := b.publishRaw(ctx, ch, p.data); err != nil {
				b.markDown(err)
				b.logger.Warn("flush interrupted", "channel", ch, "sent", sent, "error", err)
				return
			}
			b.mu.Lock()
			q.popIf(p)
			b.mu.Unlock()
			sent++
		}
	}
	if sent > 0 {
		b.logger.Info("retry queue flushed", "sent", sent)
	}
}

// receive 代理投递入口
func (b *Bus) receive(channel string, data []byte) {
	b.received.Add(1)

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Warn("discard undecodable bus message", "channel", channel, "error", err)
		return
	}
	if msg.OriginProcessID == b.processID {
		b.selfFiltered.Add(1)
		return
	}
	if msg.Expired(b.clock.Now()) {
		b.expired.Add(1)
		b.logger.Debug("discard expired bus message", "channel", channel, "type", msg.Type, "origin", msg.OriginProcessID)
		return
	}

	ch := Channel(channel)
	if ch == ChannelSystem && msg.Type == MessageTypeHeartbeat {
		b.observeHeartbeat(&msg)
	}

	b.handlersMu.RLock()
	handlers := b.handlers[ch]
	b.handlersMu.RUnlock()

	ctx := b.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, h := range handlers {
		h(ctx, &msg)
	}
}

// Connected 代理当前是否可用
func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Queued 全部频道待补发消息数
func (b *Bus) Queued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, q := range b.queues {
		n += q.len()
	}
	return n
}

// SubscribedChannels 已订阅频道数
func (b *Bus) SubscribedChannels() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub == nil {
		return 0
	}
	return len(Channels)
}

// Stats 收发计数
func (b *Bus) Stats() Stats {
	return Stats{
		Published:    b.published.Load(),
		Received:     b.received.Load(),
		SelfFiltered: b.selfFiltered.Load(),
		Expired:      b.expired.Load(),
	}
}

// Health 健康状态快照
func (b *Bus) Health() Health {
	h := Health{
		ProcessID:   b.processID,
		Subscribers: make(map[string]int, len(Channels)),
		Queued:      make(map[string]int, len(Channels)),
	}

	b.handlersMu.RLock()
	for _, ch := range Channels {
		h.Subscribers[string(ch)] = len(b.handlers[ch])
	}
	b.handlersMu.RUnlock()

	b.mu.Lock()
	h.Connected = b.connected
	h.Subscribed = b.sub != nil
	for ch, q := range b.queues {
		h.Queued[string(ch)] = q.len()
		h.QueuedTotal += q.len()
		h.Dropped += q.dropped
	}
	b.mu.Unlock()

	h.Peers = b.Peers()
	return h
}
