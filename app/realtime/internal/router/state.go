package router

// State 连接状态
//
// Connecting → Authenticating → Ready → Closing → Closed，任意状态都可直接进入 Closed。
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
