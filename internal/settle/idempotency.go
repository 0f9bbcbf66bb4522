package settle

import (
	"container/list"
	"sync"
)

// idemCache is an LRU of recent settlement results keyed by the caller's
// idempotency key. A retried request with a known key gets the original
// settlement back instead of being applied twice.
//
// Bounded by capacity; oldest keys are evicted first. This protects
// against client retries within the retention window, not against
// replays after eviction.
type idemCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List
}

type idemEntry struct {
	key    string
	result *Settlement
}

func newIdemCache(capacity int) *idemCache {
	return &idemCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// get returns the settlement recorded for key, promoting it to most
// recently used.
func (c *idemCache) get(key string) (*Settlement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*idemEntry).result, true
}

// put records a settlement under key, evicting the least recently used
// entry when at capacity.
func (c *idemCache) put(key string, result *Settlement) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*idemEntry).result = result
		return
	}

	elem := c.order.PushFront(&idemEntry{key: key, result: result})
	c.entries[key] = elem

	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*idemEntry).key)
		}
	}
}
