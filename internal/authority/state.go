package authority

import "sync"

// Cell is a mutex-guarded observable value. Consumers subscribe instead of
// polling; publishing never blocks on a slow subscriber, the stale value is
// dropped and replaced by the newest one.
type Cell[T any] struct {
	mu   sync.RWMutex
	val  T
	subs map[int]chan T
	next int
}

// NewCell constructs a Cell holding the initial value.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{val: initial, subs: make(map[int]chan T)}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.val
}

// Set publishes a new value to every subscriber.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val = v
	for _, ch := range c.subs {
		select {
		case ch <- v:
		default:
			// Subscriber lagging: drop its stale value, keep the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Watch subscribes to future values. The cancel function must be called to
// release the subscription.
func (c *Cell[T]) Watch() (<-chan T, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	ch := make(chan T, 1)
	c.subs[id] = ch
	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
	return ch, cancel
}
