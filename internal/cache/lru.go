// Package cache provides caching implementations for Kestrel: async results
// and the windowed evaluated/churned counters shared between instances.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	counterPrefix  = "counter:"
	defaultMaxSize = 10000
)

// LRUCache keeps async replies and counters in process memory. Values are
// bounded by maxSize with least-recently-used eviction; counters are never
// evicted, only expired. It backs the community tier and is the L1 of the
// two-phase cache.
type LRUCache struct {
	mu      sync.RWMutex
	maxSize int
	lru     *list.List
	slots   map[string]*list.Element
	windows map[string]*window
}

type slot struct {
	key      string
	value    []byte
	deadline time.Time
}

type window struct {
	n        int64
	deadline time.Time // zero means open-ended
}

func (w *window) closed(now time.Time) bool {
	return !w.deadline.IsZero() && !now.Before(w.deadline)
}

// NewLRUCache creates an in-memory cache holding at most maxSize values.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	c := &LRUCache{maxSize: maxSize}
	c.reset()
	return c
}

func (c *LRUCache) reset() {
	c.lru = list.New()
	c.slots = make(map[string]*list.Element)
	c.windows = make(map[string]*window)
}

// Get returns the value for key, or nil when absent or expired.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.slots[key]
	if !ok {
		return nil, nil
	}
	s := el.Value.(*slot)
	if !time.Now().Before(s.deadline) {
		c.drop(el)
		return nil, nil
	}
	c.lru.MoveToFront(el)
	return s.value, nil
}

// Set stores value under key until ttl elapses.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	deadline := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.slots[key]; ok {
		s := el.Value.(*slot)
		s.value, s.deadline = value, deadline
		c.lru.MoveToFront(el)
		return nil
	}

	c.slots[key] = c.lru.PushFront(&slot{key: key, value: value, deadline: deadline})
	for c.lru.Len() > c.maxSize {
		c.drop(c.lru.Back())
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.slots[key]; ok {
		c.drop(el)
	}
	return nil
}

// IncrementCounter increments a counter whose window starts at the first
// increment. A zero window never expires.
func (c *LRUCache) IncrementCounter(_ context.Context, key string, d time.Duration) (int64, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.windows[counterPrefix+key]
	if !ok || w.closed(now) {
		w = &window{}
		if d > 0 {
			w.deadline = now.Add(d)
		}
		c.windows[counterPrefix+key] = w
	}
	w.n++
	return w.n, nil
}

// GetCounter returns the current counter value, 0 once the window closed.
func (c *LRUCache) GetCounter(_ context.Context, key string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if w, ok := c.windows[counterPrefix+key]; ok && !w.closed(time.Now()) {
		return w.n, nil
	}
	return 0, nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(context.Context) error { return nil }

// Close drops every value and counter.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	c.reset()
	c.mu.Unlock()
	return nil
}

// Stats reports the number of stored values and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len(), c.maxSize
}

func (c *LRUCache) drop(el *list.Element) {
	if el == nil {
		return
	}
	c.lru.Remove(el)
	delete(c.slots, el.Value.(*slot).key)
}
