package router

import (
	"time"

	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
)

// Observer 连接与消息生命周期的旁路观察者，用于指标与分析
//
// 回调在连接的处理 goroutine 中同步执行，实现必须是非阻塞的。
type Observer interface {
	ConnectionOpened(id model.Identity)
	ConnectionRejected(reason string)
	ConnectionClosed(id model.Identity, reason string, lifetime time.Duration)
	MessageCreated(msg *model.Message)
	EventHandled(name string, err string)
}

// Observers 组合多个观察者
type Observers []Observer

func (o Observers) ConnectionOpened(id model.Identity) {
	for _, x := range o {
		x.ConnectionOpened(id)
	}
}

func (o Observers) ConnectionRejected(reason string) {
	for _, x := range o {
		x.ConnectionRejected(reason)
	}
}

func (o Observers) ConnectionClosed(id model.Identity, reason string, lifetime time.Duration) {
	for _, x := range o {
		x.ConnectionClosed(id, reason, lifetime)
	}
}

func (o Observers) MessageCreated(msg *model.Message) {
	for _, x := range o {
		x.MessageCreated(msg)
	}
}

func (o Observers) EventHandled(name string, err string) {
	for _, x := range o {
		x.EventHandled(name, err)
	}
}
