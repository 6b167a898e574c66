package session

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNoToken         = errors.New("no access token, not signed in")
	ErrSessionGone     = errors.New("session no longer exists")
)

// User-facing notification texts.
const (
	MsgRequestCreated    = "Session request created successfully!"
	MsgCreateFailed      = "Failed to create request"
	MsgRequestWithdrawn  = "Request withdrawn successfully"
	MsgWithdrawFailed    = "Failed to withdraw request"
	MsgSessionNotFound   = "Session not found"
	MsgSessionAccepted   = "Session accepted successfully!"
	MsgAcceptFailed      = "Failed to accept session"
	MsgSessionStarted    = "Session started successfully!"
	MsgStartFailed       = "Failed to start session"
	MsgFetchRequestsFail = "Failed to fetch requests"
	MsgFetchSessionsFail = "Failed to fetch active sessions"
)
