package whatsapp

import "whatsapp-pair-server/types"

// EventKind distinguishes the events a connection delivers to its supervisor
type EventKind int

const (
	// EventCredentialsUpdated means the credential state changed and must be
	// persisted and re-archived
	EventCredentialsUpdated EventKind = iota + 1
	// EventStateChanged carries a new connection state (Open or Closed)
	EventStateChanged
	// EventQR carries a fresh login QR reference for an unpaired session
	EventQR
	// EventPairError means the phone accepted a code but the pairing could
	// not be finished locally
	EventPairError
)

// Event is one item of a connection's ordered event stream
type Event struct {
	Kind   EventKind
	State  types.ConnectionState
	Reason CloseReason
	QR     string
	Err    error
}

// CloseReason classifies why a connection closed
type CloseReason int

const (
	CloseUnknown CloseReason = iota
	CloseConnectionLost
	CloseConnectionReplaced
	CloseConnectFailed
	CloseBanned
	CloseClientOutdated
	CloseLoggedOut
)

// Terminal reports whether the session must stop instead of reconnecting.
// Only an explicit logout is terminal.
func (r CloseReason) Terminal() bool {
	return r == CloseLoggedOut
}

func (r CloseReason) String() string {
	switch r {
	case CloseConnectionLost:
		return "connection lost"
	case CloseConnectionReplaced:
		return "connection replaced"
	case CloseConnectFailed:
		return "connect failed"
	case CloseBanned:
		return "temporarily banned"
	case CloseClientOutdated:
		return "client outdated"
	case CloseLoggedOut:
		return "logged out"
	}
	return "unknown"
}

func credentialsUpdated() Event {
	return Event{Kind: EventCredentialsUpdated}
}

func stateOpen() Event {
	return Event{Kind: EventStateChanged, State: types.StateOpen}
}

func stateClosed(reason CloseReason) Event {
	return Event{Kind: EventStateChanged, State: types.StateClosed, Reason: reason}
}
