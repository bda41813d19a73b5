// Package routecache keeps a bounded cache of route view payloads so
// navigating back to an expensive view reattaches it instead of rebuilding.
package routecache

import (
	"sync"
	"time"
)

// DefaultCapacity bounds the cache when no explicit capacity is configured.
const DefaultCapacity = 10

// Handle is the detached view state retained for one navigable path.
type Handle struct {
	Path        string
	ContentType string
	Body        []byte
	StoredAt    time.Time
}

// Cache is a capacity-bounded, insertion-ordered cache keyed by path.
//
// Eviction is strict FIFO by first insertion: re-storing an existing path
// replaces its handle but does not reset its position, and Retrieve never
// touches the order. This is deliberately not an access-refreshed LRU; the
// policy evicts whichever entry has been resident longest.
type Cache struct {
	mu       sync.Mutex
	capacity int
	allowed  map[string]struct{}
	entries  map[string]*Handle
	order    []string
}

// New constructs a Cache with the given capacity and cacheable-path
// allow-list. Capacity values below one fall back to DefaultCapacity.
func New(capacity int, allowed []string) *Cache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	allowSet := make(map[string]struct{}, len(allowed))
	for _, path := range allowed {
		allowSet[path] = struct{}{}
	}
	return &Cache{
		capacity: capacity,
		allowed:  allowSet,
		entries:  make(map[string]*Handle),
	}
}

// ShouldCache reports whether the path is on the cacheable allow-list.
func (c *Cache) ShouldCache(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.allowed[path]
	return ok
}

// Store inserts or replaces the handle for path. At capacity, the single
// oldest-inserted entry is evicted first; its path is returned, or "" when
// nothing was evicted.
func (c *Cache) Store(path string, handle *Handle) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[path]; exists {
		c.entries[path] = handle
		return ""
	}

	evicted := ""
	if len(c.order) >= c.capacity {
		evicted = c.order[0]
		c.order = c.order[1:]
		delete(c.entries, evicted)
	}
	c.entries[path] = handle
	c.order = append(c.order, path)
	return evicted
}

// Retrieve returns the cached handle for path, if any. Retrieval does not
// alter the entry's eviction position.
func (c *Cache) Retrieve(path string) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle, ok := c.entries[path]
	return handle, ok
}

// Invalidate drops the entry for path, typically after a mutation made the
// cached view stale.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[path]; !ok {
		return
	}
	delete(c.entries, path)
	for i, p := range c.order {
		if p == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// InvalidateAll empties the cache. Called on logout: cached views may hold
// data scoped to the outgoing user.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Handle)
	c.order = nil
}

// Len reports the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
