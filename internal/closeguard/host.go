package closeguard

import (
	"context"
	"sync"
)

// Host wraps a disposable resource whose close can be vetoed by a guard.
// Close is idempotent: concurrent calls during a pending guard resolution
// join the first call's outcome, and the dispose function runs at most once.
type Host struct {
	mu      sync.Mutex
	guard   Guard
	dispose func(result any)
	done    chan struct{}
	waitCh  chan struct{}
	closed  bool
	result  any
}

// NewHost constructs a Host around a dispose function. The default guard
// allows every close.
func NewHost(dispose func(result any), opts ...Option) *Host {
	h := &Host{dispose: dispose, done: make(chan struct{})}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Option configures a Host.
type Option func(*Host)

// WithGuard installs the close guard.
func WithGuard(g Guard) Option {
	return func(h *Host) { h.guard = g }
}

// Close asks the guard for permission and, if granted, disposes the resource
// exactly once and releases waiters. A vetoed close leaves the host open and
// mutates nothing. The return value reports whether the host ended up closed.
func (h *Host) Close(ctx context.Context, result any) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return true
	}
	if h.waitCh != nil {
		// Another close is pending its guard; join its outcome.
		wait := h.waitCh
		h.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return false
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.closed
	}
	wait := make(chan struct{})
	h.waitCh = wait
	guard := h.guard
	h.mu.Unlock()

	allowed := Resolve(ctx, guard)

	h.mu.Lock()
	h.waitCh = nil
	if !allowed {
		h.mu.Unlock()
		close(wait)
		return false
	}
	h.closed = true
	h.result = result
	dispose := h.dispose
	h.mu.Unlock()

	if dispose != nil {
		dispose(result)
	}
	close(h.done)
	close(wait)
	return true
}

// Closed reports whether the host has been disposed.
func (h *Host) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Result returns the value passed to the winning Close call.
func (h *Host) Result() any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Done is closed once the host has been disposed; waiters select on it.
func (h *Host) Done() <-chan struct{} {
	return h.done
}
