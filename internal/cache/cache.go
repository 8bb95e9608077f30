// Package cache implements a generic, thread-safe LRU cache with
// per-entry expiry.
//
// Time complexity: O(1) for Get, Put, Delete, Len.
// Expired entries are treated as absent and removed on access; Purge
// sweeps whatever access patterns never touch.
package cache

import (
	"sync"
	"time"

	"github.com/daybook-hq/daybook/internal/clock"
)

// entry is a doubly linked list node holding a key-value pair and its
// expiry.
type entry[K comparable, V any] struct {
	key       K
	val       V
	expiresAt time.Time
	prev      *entry[K, V]
	next      *entry[K, V]
}

// Cache is a generic, thread-safe LRU cache where every entry expires
// after the cache's TTL. K must be comparable, V can be any type.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	clock    clock.Clock
	items    map[K]*entry[K, V]
	head     *entry[K, V] // most recently used (sentinel)
	tail     *entry[K, V] // least recently used (sentinel)
}

// New creates a cache with the given capacity and entry TTL.
// Panics if capacity < 1 or ttl <= 0.
func New[K comparable, V any](capacity int, ttl time.Duration, clk clock.Clock) *Cache[K, V] {
	if capacity < 1 {
		panic("cache: capacity must be >= 1")
	}
	if ttl <= 0 {
		panic("cache: ttl must be > 0")
	}

	head := &entry[K, V]{}
	tail := &entry[K, V]{}
	head.next = tail
	tail.prev = head

	return &Cache[K, V]{
		capacity: capacity,
		ttl:      ttl,
		clock:    clk,
		items:    make(map[K]*entry[K, V], capacity),
		head:     head,
		tail:     tail,
	}
}

// Get retrieves a live value by key. An expired entry counts as a miss
// and is dropped. O(1).
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.clock.Now().After(n.expiresAt) {
		c.remove(n)
		delete(c.items, key)
		var zero V
		return zero, false
	}

	c.moveToFront(n)
	return n.val, true
}

// Put inserts or updates a key-value pair with a fresh TTL. If the cache
// is at capacity, the least recently used entry is evicted. O(1).
// Returns the evicted key and true if an eviction occurred.
func (c *Cache[K, V]) Put(key K, val V) (K, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.clock.Now().Add(c.ttl)

	// Update existing
	if n, ok := c.items[key]; ok {
		n.val = val
		n.expiresAt = expiresAt
		c.moveToFront(n)
		var zero K
		return zero, false
	}

	// Evict if at capacity
	var evictedKey K
	evicted := false
	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.remove(victim)
		delete(c.items, victim.key)
		evictedKey = victim.key
		evicted = true
	}

	// Insert new
	n := &entry[K, V]{key: key, val: val, expiresAt: expiresAt}
	c.items[key] = n
	c.pushFront(n)

	return evictedKey, evicted
}

// Delete removes a key from the cache. Returns true if the key existed. O(1).
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.items[key]
	if !ok {
		return false
	}

	c.remove(n)
	delete(c.items, key)
	return true
}

// Len returns the current number of entries, live or expired. O(1).
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Purge removes all expired entries and returns how many were dropped. O(n).
func (c *Cache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for key, n := range c.items {
		if now.After(n.expiresAt) {
			c.remove(n)
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// --- internal linked list operations (caller must hold lock) ---

// remove detaches a node from the list.
func (c *Cache[K, V]) remove(n *entry[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

// pushFront inserts a node right after head sentinel.
func (c *Cache[K, V]) pushFront(n *entry[K, V]) {
	n.next = c.head.next
	n.prev = c.head
	c.head.next.prev = n
	c.head.next = n
}

// moveToFront detaches and reinserts a node at front.
func (c *Cache[K, V]) moveToFront(n *entry[K, V]) {
	c.remove(n)
	c.pushFront(n)
}
