package conn

// State is the lifecycle state of a backend connection.
type State int

// Connection states. Transitions are enforced by the connection itself:
//
//	Unconfigured/Inactive/Error -> Starting -> Active | Error
//	Active                      -> Stopping -> Inactive
//	Active                      -> Error (crash detected)
//
// Stop is accepted in every state, but only an active connection takes the
// Stopping edge; in any other state it is a no-op that leaves the state
// where it is.
const (
	// StateUnconfigured means the server is registered but has never been
	// started.
	StateUnconfigured State = iota

	// StateStarting means activation is in progress.
	StateStarting

	// StateActive means the backend is up, handshaken, and routable.
	StateActive

	// StateStopping means an orderly shutdown is in progress.
	StateStopping

	// StateError means the last start failed or the backend crashed.
	StateError

	// StateInactive means the backend was stopped cleanly.
	StateInactive
)

// String returns the canonical lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	case StateInactive:
		return "inactive"
	default:
		return "unknown"
	}
}
