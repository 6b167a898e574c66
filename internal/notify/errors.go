package notify

import "errors"

var (
	ErrBridgeAlreadyRunning = errors.New("notification bridge is already running")
	ErrBridgeNotRunning     = errors.New("notification bridge is not running")
)
