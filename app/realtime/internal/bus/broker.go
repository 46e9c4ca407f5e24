package bus

import (
	"context"

	"github.com/cockroachdb/errors"
)

// ErrBrokerDown 代理不可用
var ErrBrokerDown = errors.New("bus: broker unavailable")

// DeliverFunc 接收原始消息，同一订阅内按到达顺序串行调用
type DeliverFunc func(channel string, data []byte)

// Subscription 订阅句柄
type Subscription interface {
	Close() error
}

// Broker 发布订阅代理
type Broker interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(ctx context.Context, channels []string, fn DeliverFunc) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}
