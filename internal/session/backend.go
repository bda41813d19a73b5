// Package session persists the one live session record across two storage
// backends: a durable backend that survives restarts indefinitely and a
// transient backend whose entries expire with their TTL. Exactly one backend
// holds a session at any time.
package session

import "context"

// Backend is a flat key-value store holding the session fields.
// Implementations must treat a missing key as absent, not as an error.
type Backend interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Delete(ctx context.Context, keys ...string) error
}
