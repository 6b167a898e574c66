package storage

import "errors"

var (
	ErrStoreClosed  = errors.New("local store is closed")
	ErrWriteTimeout = errors.New("local store write timeout")
	ErrEmptyKey     = errors.New("key cannot be empty")
)
