package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed   = errors.New("connection closed")
	ErrConnectionClosing  = errors.New("connection already closing")
	ErrWriteTimeout       = errors.New("write timeout after 5 seconds")
	ErrInvalidJSON        = errors.New("invalid JSON data")
	ErrInvalidCredentials = errors.New("invalid connection credentials")
)

// Dialer-related errors
var (
	ErrEmptyToken = errors.New("dial requires a token")
	ErrDialFailed = errors.New("websocket dial failed")
)
