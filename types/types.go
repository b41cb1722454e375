package types

import "time"

// Session represents one WhatsApp client identity and its on-disk state
type Session struct {
	ID          string          `json:"session_id"`
	Dir         string          `json:"-"`
	ArchivePath string          `json:"-"`
	Phone       string          `json:"phone,omitempty"`
	Registered  bool            `json:"registered"`
	State       ConnectionState `json:"state"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ConnectionState is the lifecycle state of a session's connection
type ConnectionState int

const (
	// StateDisconnected is the idle state before the first connection attempt
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateOpen
	StateClosed
	// StateStopped is terminal: no further connection attempts are made
	StateStopped
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
