package router

import (
	"context"
	"time"

	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/bus"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
)

// RoomEnvelope messages / typing 频道的载荷
type RoomEnvelope struct {
	RoomID        string       `json:"roomId"`
	ExcludeUserID string       `json:"excludeUserId,omitempty"`
	Event         *model.Event `json:"event"`
}

// UserEnvelope notifications 频道的载荷
type UserEnvelope struct {
	UserID string       `json:"userId"`
	Event  *model.Event `json:"event"`
}

// fanoutRoom 先投递本地房间成员，再发布到总线
func (r *Router) fanoutRoom(ch bus.Channel, roomID, excludeUserID, name string, payload any, ttl time.Duration) {
	evt, err := model.NewEvent(name, payload)
	if err != nil {
		r.logger.Error("encode event failed", "event", name, "error", err)
		return
	}
	if excludeUserID != "" {
		r.registry.LocalBroadcastExceptUser(roomID, evt, excludeUserID)
	} else {
		r.registry.LocalBroadcast(roomID, evt, "")
	}

	msg, err := bus.NewMessage(name, RoomEnvelope{RoomID: roomID, ExcludeUserID: excludeUserID, Event: evt})
	if err != nil {
		r.logger.Error("encode bus message failed", "event", name, "error", err)
		return
	}
	if ttl > 0 {
		msg.WithTTL(ttl)
	}
	r.publish(ch, msg)
}

// Notify 向用户的全部连接投递通知，先本地再跨进程
func (r *Router) Notify(userID string, payload any) error {
	evt, err := model.NewEvent(model.EventNotification, payload)
	if err != nil {
		return err
	}
	r.registry.DeliverToUser(userID, evt)

	msg, err := bus.NewMessage(model.EventNotification, UserEnvelope{UserID: userID, Event: evt})
	if err != nil {
		return err
	}
	r.publish(bus.ChannelNotifications, msg)
	return nil
}

// RegisterBusHandlers 将其它进程发布的事件投递给本地连接
func (r *Router) RegisterBusHandlers(b *bus.Bus) {
	b.On(bus.ChannelMessages, r.onRoomMessage)
	b.On(bus.ChannelTyping, r.onRoomMessage)
	b.On(bus.ChannelPresence, r.onPresenceMessage)
	b.On(bus.ChannelNotifications, r.onNotificationMessage)
}

func (r *Router) onRoomMessage(_ context.Context, msg *bus.Message) {
	var env RoomEnvelope
	if err := msg.Decode(&env); err != nil || env.Event == nil {
		r.logger.Warn("discard room message", "type", msg.Type, "origin", msg.OriginProcessID, "error", err)
		return
	}
	if env.ExcludeUserID != "" {
		r.registry.LocalBroadcastExceptUser(env.RoomID, env.Event, env.ExcludeUserID)
		return
	}
	r.registry.LocalBroadcast(env.RoomID, env.Event, "")
}

func (r *Router) onPresenceMessage(_ context.Context, msg *bus.Message) {
	var p model.PresenceChangedPayload
	if err := msg.Decode(&p); err != nil {
		r.logger.Warn("discard presence message", "origin", msg.OriginProcessID, "error", err)
		return
	}
	evt, err := model.NewEvent(model.EventPresenceChanged, p)
	if err != nil {
		return
	}
	r.registry.BroadcastAll(evt, "")
}

func (r *Router) onNotificationMessage(_ context.Context, msg *bus.Message) {
	var env UserEnvelope
	if err := msg.Decode(&env); err != nil || env.Event == nil {
		r.logger.Warn("discard notification", "origin", msg.OriginProcessID, "error", err)
		return
	}
	r.registry.DeliverToUser(env.UserID, env.Event)
}
