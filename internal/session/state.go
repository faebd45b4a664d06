// internal/session/state.go
package session

// State is the connection state of one device session.
//
//	Disconnected -> Connecting -> Connected
//	Connected -> Disconnected (Close)
//	Connecting, Connected -> Faulted
//	Faulted -> Disconnected (Reset)
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected

	// StateFaulted is terminal until Reset.
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}
