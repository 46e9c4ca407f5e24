package router

// 会话内错误码，随 error 事件下发给发起方
const (
	CodeInvalidData       = "INVALID_DATA"
	CodeUnknownEvent      = "UNKNOWN_EVENT"
	CodeRateLimited       = "RATE_LIMITED"
	CodeRoomJoinFailed    = "ROOM_JOIN_FAILED"
	CodeRoomLeaveFailed   = "ROOM_LEAVE_FAILED"
	CodeNotInRoom         = "NOT_IN_ROOM"
	CodeMessageSendFailed = "MESSAGE_SEND_FAILED"
)
