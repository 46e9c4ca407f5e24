package bus

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/lk2023060901/xdooria-realtime/pkg/database/redis"
	"github.com/lk2023060901/xdooria-realtime/pkg/logger"
	"github.com/lk2023060901/xdooria-realtime/pkg/util/conc"
)

// RedisBroker 基于 Redis Pub/Sub 的代理
type RedisBroker struct {
	client *redis.Client
	prefix string
	logger logger.Logger
}

// NewRedisBroker 创建代理，频道名为 <key 前缀><prefix>:<channel>
func NewRedisBroker(client *redis.Client, prefix string, l logger.Logger) *RedisBroker {
	if prefix == "" {
		prefix = "bus"
	}
	return &RedisBroker{
		client: client,
		prefix: prefix,
		logger: l.Named("bus.redis"),
	}
}

func (b *RedisBroker) fullName(channel string) string {
	return b.client.Key(b.prefix, channel)
}

// Publish 实现 Broker
func (b *RedisBroker) Publish(ctx context.Context, channel string, data []byte) error {
	if _, err := b.client.Publish(ctx, b.fullName(channel), data); err != nil {
		return errors.Mark(err, ErrBrokerDown)
	}
	return nil
}

// Subscribe 实现 Broker
func (b *RedisBroker) Subscribe(ctx context.Context, channels []string, fn DeliverFunc) (Subscription, error) {
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = b.fullName(ch)
	}
	ps, err := b.client.Subscribe(ctx, names...)
	if err != nil {
		return nil, errors.Mark(err, ErrBrokerDown)
	}

	strip := b.fullName("")
	sub := &redisSubscription{ps: ps}
	sub.future = conc.Go(func() (struct{}, error) {
		for msg := range ps.Channel() {
			fn(strings.TrimPrefix(msg.Channel, strip), []byte(msg.Payload))
		}
		return struct{}{}, nil
	})

	b.logger.Info("subscribed", "channels", names)
	return sub, nil
}

// Ping 实现 Broker
func (b *RedisBroker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx); err != nil {
		return errors.Mark(err, ErrBrokerDown)
	}
	return nil
}

// Close 客户端由调用方关闭
func (b *RedisBroker) Close() error {
	return nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	future *conc.Future[struct{}]
}

func (s *redisSubscription) Close() error {
	err := s.ps.Close()
	_, _ = s.future.Await()
	return err
}
