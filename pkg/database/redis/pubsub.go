package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Publish 发布消息，返回收到消息的订阅者数量
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	n, err := c.rdb.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publish to %s failed: %w", channel, err)
	}
	return n, nil
}

// PubSub 订阅句柄，断线后由 go-redis 自动重连并恢复订阅
type PubSub struct {
	ps   *redis.PubSub
	ch   chan *Message
	once sync.Once
	done chan struct{}
}

// Subscribe 订阅频道，等待服务端确认后返回
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*PubSub, error) {
	ps := c.rdb.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	p := &PubSub{
		ps:   ps,
		ch:   make(chan *Message, 256),
		done: make(chan struct{}),
	}
	go p.forward()
	return p, nil
}

func (p *PubSub) forward() {
	defer close(p.ch)
	src := p.ps.Channel()
	for {
		select {
		case msg, ok := <-src:
			if !ok {
				return
			}
			select {
			case p.ch <- &Message{Channel: msg.Channel, Pattern: msg.Pattern, Payload: msg.Payload}:
			case <-p.done:
				return
			}
		case <-p.done:
			return
		}
	}
}

// Channel 返回消息通道，订阅关闭后通道关闭
func (p *PubSub) Channel() <-chan *Message {
	return p.ch
}

// Close 取消订阅
func (p *PubSub) Close() error {
	var err error
	p.once.Do(func() {
		close(p.done)
		err = p.ps.Close()
	})
	return err
}
