package eventsub

// State is the lifecycle state of a Conn.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateWelcomed
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateWelcomed:
		return "welcomed"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Active reports whether the connection is open or being opened.
func (s State) Active() bool {
	return s == StateConnecting || s == StateWelcomed || s == StateReconnecting
}

// Established reports whether a session id is available for subscriptions.
func (s State) Established() bool {
	return s == StateWelcomed || s == StateReconnecting
}
