package whatsapp

import "context"

// Credentials is the authentication state of one session. It is owned by a
// single supervisor and never shared.
type Credentials interface {
	// Registered reports whether pairing has completed
	Registered() bool
	// Persist writes the in-memory state back to the session directory
	Persist(ctx context.Context) error
	Close() error
}

// CredentialStore loads credentials from a session directory, creating fresh
// unregistered state when the directory holds none
type CredentialStore interface {
	Load(ctx context.Context, dir string) (Credentials, error)
}

// Conn is one connection to WhatsApp. Events are delivered in the order the
// underlying client emits them.
type Conn interface {
	Events() <-chan Event
	Connect(ctx context.Context) error
	Disconnect()
	// PairPhone requests a pairing code for phone on an open, unpaired connection
	PairPhone(ctx context.Context, phone string) (string, error)
	Registered() bool
	// SendText sends a text message to the session's own account
	SendText(ctx context.Context, text string) error
}

// Connector opens connections bound to loaded credentials
type Connector interface {
	Open(creds Credentials) (Conn, error)
}
