package realtime

// ConnectionState is the state of a Client's connection state machine.
// The states are mutually exclusive; authentication is a state of its own
// rather than a flag next to a connected flag.
type ConnectionState int

const (
	// StateDisconnected means no transport is open. It is the initial state.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a transport has been requested but has not opened.
	StateConnecting

	// StateConnected means the transport is open but the server has not
	// accepted our credential yet.
	StateConnected

	// StateAuthenticated means the server acknowledged the auth envelope.
	StateAuthenticated

	// StateReconnecting means a reconnect timer is pending.
	StateReconnecting

	// StateFailed means the reconnect budget is exhausted. Only an explicit
	// Connect leaves this state.
	StateFailed
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsOpen reports whether the transport is open in this state.
func (s ConnectionState) IsOpen() bool {
	return s == StateConnected || s == StateAuthenticated
}

// transitions lists the legal targets for each state, excluding the
// transition to StateDisconnected performed by Close, which is legal
// from everywhere.
var transitions = map[ConnectionState][]ConnectionState{
	StateDisconnected:  {StateConnecting, StateReconnecting, StateFailed},
	StateFailed:        {StateConnecting},
	StateReconnecting:  {StateConnecting},
	StateConnecting:    {StateConnected, StateDisconnected},
	StateConnected:     {StateAuthenticated, StateDisconnected},
	StateAuthenticated: {StateDisconnected},
}

// CanTransition reports whether the state machine may move from s to next
// on a transport, timer or protocol event.
func (s ConnectionState) CanTransition(next ConnectionState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
