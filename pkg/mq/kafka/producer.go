package kafka

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lk2023060901/xdooria-realtime/pkg/config"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// messageWriter kafka.Writer 的最小接口
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer Kafka 生产者（单主题）
type Producer struct {
	topic  string
	writer messageWriter
	logger logger.Logger

	produced  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	lastAt    atomic.Int64

	closed atomic.Bool
}

// ProducerOption 生产者选项
type ProducerOption func(*Producer)

// WithLogger 设置日志
func WithLogger(l logger.Logger) ProducerOption {
	return func(p *Producer) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProducer 创建生产者
func NewProducer(cfg *Config, opts ...ProducerOption) (*Producer, error) {
	newCfg, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, err
	}
	if err := newCfg.Validate(); err != nil {
		return nil, err
	}

	pc := newCfg.Producer
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(newCfg.Brokers...),
		Topic:                  newCfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              pc.BatchSize,
		BatchTimeout:           pc.BatchTimeout,
		MaxAttempts:            pc.MaxRetries + 1,
		WriteTimeout:           pc.WriteTimeout,
		ReadTimeout:            pc.ReadTimeout,
		RequiredAcks:           kafka.RequiredAcks(pc.RequiredAcks),
		Async:                  pc.Async,
		Compression:            parseCompression(pc.Compression),
		AllowAutoTopicCreation: true,
	}

	if newCfg.TLS != nil || newCfg.SASL != nil {
		transport, err := newTransport(newCfg)
		if err != nil {
			return nil, fmt.Errorf("kafka: build transport: %w", err)
		}
		writer.Transport = transport
	}

	return newProducer(newCfg.Topic, writer, opts...), nil
}

func newProducer(topic string, w messageWriter, opts ...ProducerOption) *Producer {
	p := &Producer{
		topic:  topic,
		writer: w,
		logger: logger.NewNoop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish 发布单条消息
func (p *Producer) Publish(ctx context.Context, msg *Message) error {
	return p.PublishBatch(ctx, []*Message{msg})
}

// PublishBatch 批量发布消息
func (p *Producer) PublishBatch(ctx context.Context, msgs []*Message) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if len(msgs) == 0 {
		return nil
	}

	n := int64(len(msgs))
	p.produced.Add(n)

	kafkaMsgs := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		kafkaMsgs[i] = kafka.Message{
			Key:   msg.Key,
			Value: msg.Value,
		}
		if len(msg.Headers) > 0 {
			headers := make([]kafka.Header, 0, len(msg.Headers))
			for k, v := range msg.Headers {
				headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
			}
			kafkaMsgs[i].Headers = headers
		}
	}

	if err := p.writer.WriteMessages(ctx, kafkaMsgs...); err != nil {
		p.failed.Add(n)
		return fmt.Errorf("kafka: write to %s: %w", p.topic, err)
	}

	p.succeeded.Add(n)
	p.lastAt.Store(time.Now().UnixNano())
	return nil
}

// Topic 返回 topic 名称
func (p *Producer) Topic() string {
	return p.topic
}

// Stats 返回统计信息
func (p *Producer) Stats() ProducerStats {
	stats := ProducerStats{
		MessagesProduced:  p.produced.Load(),
		MessagesSucceeded: p.succeeded.Load(),
		MessagesFailed:    p.failed.Load(),
	}
	if ts := p.lastAt.Load(); ts > 0 {
		stats.LastMessageTime = time.Unix(0, ts)
	}
	return stats
}

// Close 关闭生产者，刷新未发送的批次
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.logger.Debug("producer closing", "topic", p.topic)
	return p.writer.Close()
}

// parseCompression 解析压缩算法
func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}
