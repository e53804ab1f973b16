package syncloop

// State is the loop's lifecycle state.
type State uint8

const (
	// StateIdle indicates the loop is waiting for the window to open.
	StateIdle State = iota

	// StateActivating indicates the loop is establishing the session.
	StateActivating

	// StateActive indicates the loop is pushing clock values.
	StateActive

	// StateDeactivating indicates the loop is restoring the authentic
	// clock and closing the session.
	StateDeactivating

	// StateFaulted indicates the loop gave up after repeated failures.
	StateFaulted
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateActivating:
		return "ACTIVATING"
	case StateActive:
		return "ACTIVE"
	case StateDeactivating:
		return "DEACTIVATING"
	case StateFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}
