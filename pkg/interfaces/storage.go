package interfaces

import "context"

// TokenStore is the persisted client-side key/value state holding the
// credential pair and the cached user profile.
type TokenStore interface {
	// Get returns ErrKeyNotFound when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, keys ...string) error

	// Watch delivers the new value of key after each local write, "" once
	// removed. The returned func stops the watch and closes the channel.
	Watch(key string) (<-chan string, func())
}
