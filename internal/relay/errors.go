package relay

import "errors"

// Handshake errors
var (
	ErrMissingToken = errors.New("no token presented")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrAuthTimeout  = errors.New("authentication timed out")
)

// Registry errors
var (
	ErrNilConnection              = errors.New("connection cannot be nil")
	ErrConnectionNotAuthenticated = errors.New("connection must be authenticated before registration")
	ErrNotRegistered              = errors.New("connection is not registered")
	ErrEmptyRoom                  = errors.New("room name is required")
)

// Broadcaster errors
var (
	ErrBroadcasterAlreadyRunning = errors.New("broadcaster is already running")
	ErrBroadcasterNotRunning     = errors.New("broadcaster is not running")
	ErrBroadcastQueueFull        = errors.New("broadcast queue is full")
)

// Ingest errors
var (
	ErrServiceTokenRequired = errors.New("service token required")
	ErrUnknownEvent         = errors.New("unknown event")
	ErrInvalidPayload       = errors.New("invalid event payload")
)

// Messages sent to clients in authStatus and forumError payloads.
const (
	MsgInvalidToken      = "Invalid token"
	MsgTokenExpired      = "jwt expired"
	MsgAuthTimeout       = "Auth timeout"
	MsgNotAuthenticated  = "Not authenticated"
	MsgForumUnauthorized = "Unauthorized to join this forum"
	MsgForumJoinFailed   = "Failed to join forum"
	MsgRateLimitExceeded = "Rate limit exceeded"
)
