package connection

import "errors"

var (
	ErrNotReady      = errors.New("connection not ready")
	ErrManagerClosed = errors.New("connection manager closed")
)

// SessionExpiredMessage is shown when credentials cannot be refreshed.
const SessionExpiredMessage = "Session expired, please log in again"
