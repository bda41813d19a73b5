// Package closeguard normalizes the different shapes an async close-veto
// predicate can take into a single outcome, and provides an idempotent host
// around a disposable resource.
package closeguard

import "context"

// Guard decides whether a requested close may proceed. A guard blocks until
// it has an answer or the context is done; context cancellation counts as a
// veto.
type Guard func(ctx context.Context) bool

// Allow is the default guard: every close proceeds.
func Allow(context.Context) bool { return true }

// FromBool wraps an already-made decision.
func FromBool(v bool) Guard {
	return func(context.Context) bool { return v }
}

// FromFunc wraps a synchronous predicate evaluated at close time.
func FromFunc(fn func() bool) Guard {
	return func(context.Context) bool { return fn() }
}

// FromChannel wraps a deferred or streamed decision. Only the first value is
// honored; a closed channel without a value, or a context cancellation, is a
// veto.
func FromChannel(ch <-chan bool) Guard {
	return func(ctx context.Context) bool {
		select {
		case v, ok := <-ch:
			return ok && v
		case <-ctx.Done():
			return false
		}
	}
}

// Resolve evaluates a possibly-nil guard. Nil means the default allow.
func Resolve(ctx context.Context, g Guard) bool {
	if g == nil {
		return true
	}
	return g(ctx)
}
