package auth

// State is the position of a provider in the authorization flow.
type State int

const (
	// StateIdle means no flow has run, or a valid token made one unnecessary.
	StateIdle State = iota

	// StateDiscovering means authorization server metadata is being fetched.
	StateDiscovering

	// StateRegistering means the client identity is being resolved.
	StateRegistering

	// StateAwaitingRedirect means the browser was sent to the authorization
	// endpoint and the listener is waiting for the redirect.
	StateAwaitingRedirect

	// StateExchangingCode means the authorization code is being exchanged.
	StateExchangingCode

	// StateAuthenticated means a token set was obtained and persisted.
	StateAuthenticated

	// StateFailed means the last flow ended with an error; see LastError.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateRegistering:
		return "registering"
	case StateAwaitingRedirect:
		return "awaiting_redirect"
	case StateExchangingCode:
		return "exchanging_code"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no flow is running in this state.
func (s State) Terminal() bool {
	return s == StateIdle || s == StateAuthenticated || s == StateFailed
}
