package terminal

// State represents the connection state. It is owned exclusively by Link;
// other components read it through Link.State().
type State uint8

const (
	// StateDisconnected indicates no active session.
	StateDisconnected State = iota

	// StateConnecting indicates an open attempt is in progress.
	StateConnecting

	// StateConnected indicates an established, authenticated session.
	StateConnected

	// StateDegraded indicates repeated heartbeat or command failures
	// short of a full disconnect. The owner reconnects.
	StateDegraded
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDegraded:
		return "DEGRADED"
	default:
		return "UNKNOWN"
	}
}
