package router

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/bus"
	"github.com/lk2023060901/xdooria-realtime/app/realtime/internal/model"
)

type eventHandler func(s *Session, data json.RawMessage) (code string)

var handlers = map[string]eventHandler{
	model.EventHeartbeat:      (*Session).onHeartbeat,
	model.EventRoomJoin:       (*Session).onRoomJoin,
	model.EventRoomLeave:      (*Session).onRoomLeave,
	model.EventMessageSend:    (*Session).onMessageSend,
	model.EventTypingStart:    (*Session).onTypingStart,
	model.EventTypingStop:     (*Session).onTypingStop,
	model.EventPresenceUpdate: (*Session).onPresenceUpdate,
}

// handle 在处理 goroutine 中执行单个入站事件
func (s *Session) handle(raw []byte) {
	if s.State() != StateReady {
		return
	}
	s.conn.Touch(s.r.clock.Now())

	var evt model.Event
	if err := json.Unmarshal(raw, &evt); err != nil || evt.Name == "" {
		s.sendError(CodeInvalidData, "malformed event envelope")
		s.r.observer.EventHandled("", CodeInvalidData)
		return
	}

	h, ok := handlers[evt.Name]
	if !ok {
		s.sendError(CodeUnknownEvent, "unknown event: "+evt.Name)
		s.r.observer.EventHandled(evt.Name, CodeUnknownEvent)
		return
	}
	code := h(s, evt.Data)
	s.r.observer.EventHandled(evt.Name, code)
}

// decode 解析并校验载荷，失败时已向客户端下发 INVALID_DATA
func (s *Session) decode(data json.RawMessage, v any) bool {
	if len(data) == 0 {
		s.sendError(CodeInvalidData, "missing data")
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.sendError(CodeInvalidData, "invalid data")
		return false
	}
	if err := s.r.payloads.Validate(v); err != nil {
		s.sendError(CodeInvalidData, "invalid data")
		return false
	}
	return true
}

func (s *Session) onHeartbeat(json.RawMessage) string {
	s.emit(model.EventHeartbeatAck, model.HeartbeatAckPayload{Timestamp: s.r.clock.Now().UnixMilli()})
	return ""
}

func (s *Session) onRoomJoin(data json.RawMessage) string {
	var p model.RoomPayload
	if !s.decode(data, &p) {
		return CodeInvalidData
	}
	room := strings.TrimSpace(p.RoomID)
	if room == "" || len(room) > s.r.cfg.MaxRoomIDLength {
		s.sendError(CodeRoomJoinFailed, "invalid room id")
		return CodeRoomJoinFailed
	}
	if strings.HasPrefix(room, model.PrivateRoomPrefix) && room != model.PrivateRoom(s.identity.UserID) {
		s.sendError(CodeRoomJoinFailed, "cannot join another user's private room")
		return CodeRoomJoinFailed
	}
	if _, err := s.r.registry.Join(s.id, room); err != nil {
		s.r.logger.WarnContext(s.ctx, "join room failed", "room_id", room, "error", err)
		s.sendError(CodeRoomJoinFailed, "join failed")
		return CodeRoomJoinFailed
	}
	s.emit(model.EventRoomJoined, model.RoomPayload{RoomID: room})
	return ""
}

func (s *Session) onRoomLeave(data json.RawMessage) string {
	var p model.RoomPayload
	if !s.decode(data, &p) {
		return CodeInvalidData
	}
	room := strings.TrimSpace(p.RoomID)
	if room == model.PrivateRoom(s.identity.UserID) {
		s.sendError(CodeRoomLeaveFailed, "cannot leave private room")
		return CodeRoomLeaveFailed
	}
	if _, err := s.r.registry.Leave(s.id, room); err != nil {
		s.sendError(CodeRoomLeaveFailed, "leave failed")
		return CodeRoomLeaveFailed
	}
	s.emit(model.EventRoomLeft, model.RoomPayload{RoomID: room})
	return ""
}

func (s *Session) onMessageSend(data json.RawMessage) string {
	var p model.MessageSendPayload
	if !s.decode(data, &p) {
		return CodeInvalidData
	}
	content := truncateRunes(strings.TrimSpace(p.Content), s.r.cfg.MaxContentLength)
	if content == "" {
		s.sendError(CodeInvalidData, "content must not be empty")
		return CodeInvalidData
	}
	if !s.r.registry.IsMember(s.id, p.RoomID) {
		s.sendError(CodeNotInRoom, "join the room before sending")
		return CodeNotInRoom
	}
	if s.r.messages == nil {
		s.sendError(CodeMessageSendFailed, "message store unavailable")
		return CodeMessageSendFailed
	}

	ctx, cancel := s.r.withTimeout(s.r.cfg.PersistTimeout)
	msg, err := s.r.messages.CreateMessage(ctx, p.RoomID, s.identity.UserID, content, p.Metadata)
	cancel()
	if err != nil {
		s.r.logger.ErrorContext(s.ctx, "persist message failed", "room_id", p.RoomID, "error", err)
		s.sendError(CodeMessageSendFailed, "failed to send message")
		return CodeMessageSendFailed
	}
	s.r.observer.MessageCreated(msg)

	payload := model.MessageCreatedPayload{Message: msg, ClientNonce: p.ClientNonce}
	s.r.fanoutRoom(bus.ChannelMessages, p.RoomID, "", model.EventMessageCreated, payload, 0)
	return ""
}

func (s *Session) onTypingStart(data json.RawMessage) string {
	return s.typing(data, model.EventTypingStarted)
}

func (s *Session) onTypingStop(data json.RawMessage) string {
	return s.typing(data, model.EventTypingStopped)
}

// typing 只转发给房间内其他用户，不回显到发送者的任何连接
func (s *Session) typing(data json.RawMessage, out string) string {
	var p model.RoomPayload
	if !s.decode(data, &p) {
		return CodeInvalidData
	}
	if !s.r.registry.IsMember(s.id, p.RoomID) {
		s.sendError(CodeNotInRoom, "join the room first")
		return CodeNotInRoom
	}
	payload := model.TypingPayload{RoomID: p.RoomID, UserID: s.identity.UserID}
	s.r.fanoutRoom(bus.ChannelTyping, p.RoomID, s.identity.UserID, out, payload, s.r.cfg.TypingTTL)
	return ""
}

func (s *Session) onPresenceUpdate(data json.RawMessage) string {
	var p model.PresenceUpdatePayload
	if !s.decode(data, &p) {
		return CodeInvalidData
	}
	// 未知状态静默丢弃，不回错误也不广播
	if !p.Status.Valid() {
		return CodeInvalidData
	}
	s.r.broadcastPresence(s.identity.UserID, p.Status)
	return ""
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
