package cache

import (
	"sync"
	"time"
)

// Stats counts cache outcomes since creation
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64 // dropped to make room
	Expired   uint64 // dropped because their TTL passed
}

// entry is a node of the recency ring; root.next is the most recently used
type entry[K comparable, V any] struct {
	key        K
	value      V
	expiresAt  time.Time
	prev, next *entry[K, V]
}

// LRUCache is a size-bounded cache whose entries also expire after a TTL
// A Get refreshes recency but not expiry; a Set refreshes both.
type LRUCache[K comparable, V any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[K]*entry[K, V]
	root    entry[K, V]
	stats   Stats
	now     func() time.Time
}

// NewLRUCache creates a cache holding at most maxSize entries (at least one)
func NewLRUCache[K comparable, V any](maxSize int, ttl time.Duration) *LRUCache[K, V] {
	c := &LRUCache[K, V]{
		maxSize: max(maxSize, 1),
		ttl:     ttl,
		items:   make(map[K]*entry[K, V], max(maxSize, 1)),
		now:     time.Now,
	}
	c.root.next = &c.root
	c.root.prev = &c.root
	return c
}

func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.remove(e)
		c.stats.Expired++
		c.stats.Misses++
		return zero, false
	}

	c.moveToFront(e)
	c.stats.Hits++
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry when full
func (c *LRUCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.moveToFront(e)
		return
	}

	e := &entry[K, V]{key: key, value: value, expiresAt: expiresAt}
	c.items[key] = e
	c.insertFront(e)

	if len(c.items) > c.maxSize {
		c.remove(c.root.prev)
		c.stats.Evictions++
	}
}

func (c *LRUCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.remove(e)
	}
}

// CleanExpired drops every expired entry and returns how many were dropped
func (c *LRUCache[K, V]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for e := c.root.next; e != &c.root; {
		next := e.next
		if now.After(e.expiresAt) {
			c.remove(e)
			removed++
		}
		e = next
	}
	c.stats.Expired += uint64(removed)
	return removed
}

func (c *LRUCache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the counters
func (c *LRUCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *LRUCache[K, V]) insertFront(e *entry[K, V]) {
	e.prev = &c.root
	e.next = c.root.next
	c.root.next.prev = e
	c.root.next = e
}

func (c *LRUCache[K, V]) unlink(e *entry[K, V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
}

func (c *LRUCache[K, V]) moveToFront(e *entry[K, V]) {
	if c.root.next == e {
		return
	}
	c.unlink(e)
	c.insertFront(e)
}

func (c *LRUCache[K, V]) remove(e *entry[K, V]) {
	c.unlink(e)
	delete(c.items, e.key)
}
