package communities

import "sync"

// seenCache is a small LRU of event ids used by live subscriptions to
// short-circuit duplicate deliveries before any store work. The store's
// seen set remains authoritative; this only saves lock traffic on the
// overwhelmingly common duplicate case across overlapping relays.
type seenCache struct {
	mu       sync.Mutex
	capacity int
	ids      map[string]struct{}
	order    []string
	head     int
}

func newSeenCache(capacity int) *seenCache {
	if capacity <= 0 {
		capacity = 5000
	}
	return &seenCache{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
		order:    make([]string, 0, capacity),
	}
}

// Contains reports whether the id is cached
func (c *seenCache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[id]
	return ok
}

// Add records an id, evicting the oldest entry once full
func (c *seenCache) Add(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.ids[id]; ok {
		return
	}

	if len(c.order) < c.capacity {
		c.order = append(c.order, id)
	} else {
		delete(c.ids, c.order[c.head])
		c.order[c.head] = id
		c.head = (c.head + 1) % c.capacity
	}
	c.ids[id] = struct{}{}
}

// Size returns the number of cached ids
func (c *seenCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}
