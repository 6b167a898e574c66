package interfaces

import "errors"

// ErrKeyNotFound is returned by a TokenStore for an absent key.
var ErrKeyNotFound = errors.New("key not found")
