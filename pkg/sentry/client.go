// Package sentry 将错误级别日志上报到 Sentry。
package sentry

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
	"github.com/lk2023060901/xdooria-realtime/pkg/config"
)

// Client Sentry 客户端，使用独立 Hub，不修改全局状态
type Client struct {
	hub    *sentry.Hub
	config *Config
	closed atomic.Bool

	captured atomic.Uint64
	dropped  atomic.Uint64
}

// New 创建客户端，cfg 只需填写需要覆盖的字段
func New(cfg *Config) (*Client, error) {
	merged, err := config.MergeConfig(DefaultConfig(), cfg)
	if err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	client, err := sentry.NewClient(merged.toClientOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	return newWithClient(client, merged), nil
}

func newWithClient(client *sentry.Client, cfg *Config) *Client {
	hub := sentry.NewHub(client, sentry.NewScope())
	hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range cfg.Tags {
			scope.SetTag(k, v)
		}
	})
	return &Client{hub: hub, config: cfg}
}

// CaptureError 上报错误，tags 与 extra 只作用于本次事件
func (c *Client) CaptureError(err error, tags map[string]string, extra map[string]any) {
	c.capture(func(h *sentry.Hub) *sentry.EventID { return h.CaptureException(err) }, tags, extra)
}

// CaptureMessage 上报没有 error 值的错误日志
func (c *Client) CaptureMessage(msg string, tags map[string]string, extra map[string]any) {
	c.capture(func(h *sentry.Hub) *sentry.EventID { return h.CaptureMessage(msg) }, tags, extra)
}

func (c *Client) capture(fn func(*sentry.Hub) *sentry.EventID, tags map[string]string, extra map[string]any) {
	if c.closed.Load() {
		return
	}

	hub := c.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		if len(extra) > 0 {
			scope.SetContext("fields", extra)
		}
	})

	if id := fn(hub); id != nil && *id != "" {
		c.captured.Add(1)
	} else {
		c.dropped.Add(1)
	}
}

// Captured 已上报的事件数
func (c *Client) Captured() uint64 { return c.captured.Load() }

// Dropped 被采样或 BeforeSend 丢弃的事件数
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// Close 等待事件发送完成后关闭
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return ErrClientClosed
	}
	if !c.hub.Flush(c.config.ShutdownTimeout) {
		return errors.New("sentry: flush timed out")
	}
	return nil
}
