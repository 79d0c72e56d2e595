// Package lru implements a bounded, string-keyed LRU cache.
//
// Recency updates and evictions happen inside the call that triggers them,
// under the cache mutex, so concurrent callers always observe a consistent
// recency order.
package lru

import (
	"container/list"
	"errors"
	"sync"
)

// ErrZeroCapacity is returned by New when capacity is not positive.
var ErrZeroCapacity = errors.New("lru: capacity must be greater than zero")

// EvictFunc is called after an entry was evicted to make room for another.
type EvictFunc[V any] func(key string, value V)

type entry[V any] struct {
	key   string
	value V
}

// Cache is a fixed-capacity LRU cache. It is safe for concurrent use.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front is most recently used

	onEvict EvictFunc[V]
	onHit   func()
	onMiss  func()
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithEvict registers a callback invoked for every capacity eviction.
func WithEvict[V any](fn EvictFunc[V]) Option[V] {
	return func(c *Cache[V]) { c.onEvict = fn }
}

// WithHitMiss registers counters invoked on every Get.
func WithHitMiss[V any](hit, miss func()) Option[V] {
	return func(c *Cache[V]) {
		c.onHit = hit
		c.onMiss = miss
	}
}

// New creates a cache holding at most capacity entries.
func New[V any](capacity int, opts ...Option[V]) (*Cache[V], error) {
	if capacity <= 0 {
		return nil, ErrZeroCapacity
	}
	c := &Cache[V]{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the value stored under key and marks it as most recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	el, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		if c.onMiss != nil {
			c.onMiss()
		}
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	v := el.Value.(*entry[V]).value
	c.mu.Unlock()
	if c.onHit != nil {
		c.onHit()
	}
	return v, true
}

// Set stores value under key, marks it as most recently used and evicts the
// least recently used entry when the cache grows past its capacity.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		el.Value.(*entry[V]).value = value
		c.order.MoveToFront(el)
		c.mu.Unlock()
		return
	}
	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value})

	var evicted *entry[V]
	if c.order.Len() > c.capacity {
		back := c.order.Back()
		evicted = back.Value.(*entry[V])
		c.order.Remove(back)
		delete(c.items, evicted.key)
	}
	c.mu.Unlock()

	// callback runs outside the lock so it may call back into the cache
	if evicted != nil && c.onEvict != nil {
		c.onEvict(evicted.key, evicted.value)
	}
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return true
}

// Len returns the number of entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Cap returns the capacity the cache was created with.
func (c *Cache[V]) Cap() int { return c.capacity }

// Keys returns the keys from most to least recently used.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[V]).key)
	}
	return keys
}
