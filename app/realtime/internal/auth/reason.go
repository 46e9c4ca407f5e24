package auth

// Reason 连接被拒绝或关闭的原因，原样下发给客户端
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonCredentialRequired Reason = "credential_required"
	ReasonMalformed          Reason = "malformed"
	ReasonRateLimited        Reason = "rate_limited"
	ReasonExpired            Reason = "expired"
	ReasonInvalidPayload     Reason = "invalid_payload"
	ReasonRevoked            Reason = "revoked"
	ReasonBanned             Reason = "banned"
	ReasonStoreUnavailable   Reason = "store unavailable"
	ReasonAuthTimeout        Reason = "auth_timeout"
	ReasonServerShutdown     Reason = "server_shutdown"
	ReasonClientClosed       Reason = "client_closed"
	ReasonKicked             Reason = "kicked"
	ReasonInternal           Reason = "internal_error"
)

func (r Reason) String() string {
	return string(r)
}

// Terminal 连接是否应因该原因关闭
//
// 存储不可用时保留已建立的连接，等待下一次复核。
func (r Reason) Terminal() bool {
	return r != ReasonNone && r != ReasonStoreUnavailable
}
