package session

// State identifies the lifecycle state of the local session.
type State uint8

const (
	// StateDisconnected means no session is active and no countdown
	// is running.
	StateDisconnected State = iota

	// StateConnected means a session is active with a known absolute
	// end time and the countdown is ticking.
	StateConnected

	// StateExpiring is the transient state during the tick that
	// detects expiry. The final zero tick is delivered in this state.
	// Reported state changes skip it and go straight to DISCONNECTED.
	StateExpiring
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateExpiring:
		return "EXPIRING"
	default:
		return "UNKNOWN"
	}
}

// Reason explains what caused a state transition.
type Reason uint8

const (
	// ReasonNone marks transitions with no special cause, such as a
	// local Connect.
	ReasonNone Reason = iota

	// ReasonUserStopped marks a session ended by a local Disconnect.
	ReasonUserStopped

	// ReasonExpired marks a countdown that reached zero.
	ReasonExpired

	// ReasonRemoteSync marks a transition driven by pushed store
	// state rather than local action.
	ReasonRemoteSync
)

// String returns the reason label, or the empty string for ReasonNone.
func (r Reason) String() string {
	switch r {
	case ReasonUserStopped:
		return "user-stopped"
	case ReasonExpired:
		return "expired"
	case ReasonRemoteSync:
		return "remote-sync"
	default:
		return ""
	}
}
