package types

import "errors"

var (
	ErrEmptyPayload = errors.New("event payload is empty")
	ErrInvalidInput = errors.New("invalid request input")
)
