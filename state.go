package p2pws

// State represents the connection lifecycle of the active session.
type State int32

const (
	// StateDisconnected means no connection exists.
	StateDisconnected State = iota
	// StateConnecting means the WebSocket handshake is in progress.
	StateConnecting
	// StateReady means the connection is established and frames are
	// being received.
	StateReady
	// StateClosing means the session is tearing the connection down.
	StateClosing
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
