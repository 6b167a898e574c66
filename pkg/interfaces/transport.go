package interfaces

import (
	"context"
	"tutorsync/pkg/types"
)

// Transport is one live duplex link from the client to the relay.
// Writes are serialized by the implementation.
type Transport interface {
	// ID identifies this transport instance for logging.
	ID() string

	// Send queues an envelope for writing.
	Send(env types.Envelope) error

	// Close shuts the link down. Safe to call more than once.
	Close() error

	// Done is closed once the transport stops, either through Close or
	// because the peer went away.
	Done() <-chan struct{}

	// Err reports why the transport stopped, nil after a local Close.
	Err() error
}

// InboundHandler receives frames in arrival order from a single goroutine.
type InboundHandler func(env types.Envelope)

// Dialer opens transports carrying a credential token in the handshake.
type Dialer interface {
	Dial(ctx context.Context, token string, handler InboundHandler) (Transport, error)
}

// Connection is a relay-side client connection.
type Connection interface {
	ID() string

	// WriteJSON sends a JSON message to the client (thread-safe).
	WriteJSON(v interface{}) error

	Close() error

	// User returns the authenticated profile, nil before authentication.
	User() *types.User

	IsAuthenticated() bool

	// SetUser marks the connection authenticated as user.
	SetUser(user *types.User) error
}
