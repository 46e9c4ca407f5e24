// Package analytics 将连接、消息与快照事件异步导出到 Kafka。
//
// 观察者回调只做非阻塞入队，缓冲区满时丢弃并计数。
package analytics

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/aggregator"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/lk2023060901/xdooria-realtime/pkg/mq/kafka"
	"github.com/lk2023060901/xdooria-realtime/pkg/util/conc"
)

// 事件类型
const (
	TypeConnectionOpened   = "connection_opened"
	TypeConnectionRejected = "connection_rejected"
	TypeConnectionClosed   = "connection_closed"
	TypeMessageCreated     = "message_created"
	TypeSnapshot           = "snapshot"
)

// Event 导出记录
type Event struct {
	Type       string               `json:"type"`
	ProcessID  string               `json:"processId"`
	Timestamp  time.Time            `json:"timestamp"`
	UserID     string               `json:"userId,omitempty"`
	SessionID  string               `json:"sessionId,omitempty"`
	RoomID     string               `json:"roomId,omitempty"`
	MessageID  int64                `json:"messageId,omitempty,string"`
	Reason     string               `json:"reason,omitempty"`
	LifetimeMs int64                `json:"lifetimeMs,omitempty"`
	Snapshot   *aggregator.Snapshot `json:"snapshot,omitempty"`
}

// Producer Kafka 生产者，*kafka.Producer 满足该接口
type Producer interface {
	PublishBatch(ctx context.Context, msgs []*kafka.Message) error
	Close() error
}

// Config 导出配置
type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	Kafka         *kafka.Config `mapstructure:"kafka"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		BufferSize:    4096,
		BatchSize:     100,
		FlushInterval: time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// Exporter 分析事件导出器
type Exporter struct {
	cfg       *Config
	processID string
	producer  Producer
	clock     clock.Clock
	logger    logger.Logger

	events chan *Event
	done   chan struct{}
	loop   *conc.Future[struct{}]

	exported atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

// Option 选项
type Option func(*Exporter)

// WithClock 注入时钟
func WithClock(c clock.Clock) Option {
	return func(e *Exporter) { e.clock = c }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

// New 创建导出器
func New(processID string, producer Producer, cfg *Config, opts ...Option) *Exporter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	e := &Exporter{
		cfg:       cfg,
		processID: processID,
		producer:  producer,
		clock:     clock.New(),
		logger:    logger.NewNoop(),
		events:    make(chan *Event, cfg.BufferSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("realtime.analytics")
	return e
}

// Start 启动批量写入
func (e *Exporter) Start() error {
	e.loop = conc.Go(func() (struct{}, error) {
		e.run()
		return struct{}{}, nil
	})
	return nil
}

// Stop 写出缓冲区剩余事件后关闭生产者
func (e *Exporter) Stop() error {
	close(e.done)
	if e.loop != nil {
		_, _ = e.loop.Await()
	}
	e.logger.Info("analytics exporter stopped",
		"exported", e.exported.Load(), "dropped", e.dropped.Load(), "failed", e.failed.Load())
	return e.producer.Close()
}

func (e *Exporter) run() {
	ticker := e.clock.Ticker(e.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, e.cfg.BatchSize)
	for {
		select {
		case evt := <-e.events:
			batch = append(batch, evt)
			if len(batch) >= e.cfg.BatchSize {
				batch = e.flush(batch)
			}
		case <-ticker.C:
			batch = e.flush(batch)
		case <-e.done:
			for {
				select {
				case evt := <-e.events:
					batch = append(batch, evt)
				default:
					e.flush(batch)
					return
				}
			}
		}
	}
}

func (e *Exporter) flush(batch []*Event) []*Event {
	if len(batch) == 0 {
		return batch
	}
	msgs := make([]*kafka.Message, 0, len(batch))
	for _, evt := range batch {
		value, err := json.Marshal(evt)
		if err != nil {
			e.failed.Add(1)
			continue
		}
		msgs = append(msgs, &kafka.Message{
			Key:     []byte(evt.partitionKey()),
			Value:   value,
			Headers: map[string]string{"event_type": evt.Type},
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.WriteTimeout)
	defer cancel()
	if err := e.producer.PublishBatch(ctx, msgs); err != nil {
		e.failed.Add(int64(len(msgs)))
		e.logger.Warn("export analytics batch failed", "count", len(msgs), "error", err)
	} else {
		e.exported.Add(int64(len(msgs)))
	}
	return batch[:0]
}

func (evt *Event) partitionKey() string {
	if evt.UserID != "" {
		return evt.UserID
	}
	return evt.ProcessID
}

// Exported 已写出的事件数
func (e *Exporter) Exported() int64 { return e.exported.Load() }

// Dropped 因缓冲区满丢弃的事件数
func (e *Exporter) Dropped() int64 { return e.dropped.Load() }

func (e *Exporter) enqueue(evt *Event) {
	evt.ProcessID = e.processID
	evt.Timestamp = e.clock.Now()
	select {
	case e.events <- evt:
	default:
		e.dropped.Add(1)
	}
}

// ConnectionOpened 实现 router.Observer
func (e *Exporter) ConnectionOpened(id model.Identity) {
	e.enqueue(&Event{Type: TypeConnectionOpened, UserID: id.UserID, SessionID: id.SessionID})
}

// ConnectionRejected 实现 router.Observer
func (e *Exporter) ConnectionRejected(reason string) {
	e.enqueue(&Event{Type: TypeConnectionRejected, Reason: reason})
}

// ConnectionClosed 实现 router.Observer
func (e *Exporter) ConnectionClosed(id model.Identity, reason string, lifetime time.Duration) {
	e.enqueue(&Event{
		Type:       TypeConnectionClosed,
		UserID:     id.UserID,
		SessionID:  id.SessionID,
		Reason:     reason,
		LifetimeMs: lifetime.Milliseconds(),
	})
}

// MessageCreated 实现 router.Observer
func (e *Exporter) MessageCreated(msg *model.Message) {
	e.enqueue(&Event{Type: TypeMessageCreated, UserID: msg.UserID, RoomID: msg.RoomID, MessageID: msg.ID})
}

// EventHandled 实现 router.Observer，单个事件不导出
func (e *Exporter) EventHandled(string, string) {}

// ObserveSnapshot 作为 aggregator.Sink 导出快照
func (e *Exporter) ObserveSnapshot(s aggregator.Snapshot) {
	e.enqueue(&Event{Type: TypeSnapshot, Snapshot: &s})
}
