// Package cache provides a generic in-memory cache with LRU eviction and TTL
// support.
//
// Entries expire a fixed TTL after insertion. Expiry is lazy: a read at or
// after the expiry instant removes the entry and counts as a miss. When a
// capacity is configured, inserting a new key into a full cache evicts exactly
// one entry, the least recently accessed one.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock returns the current time. Tests inject a fake clock.
type Clock func() time.Time

// Options configures a Cache.
type Options struct {
	// TTL is the lifetime of an entry measured from insertion. Zero disables expiry.
	TTL time.Duration
	// Capacity is the maximum number of entries. Zero means unbounded.
	Capacity int
	// Clock overrides time.Now.
	Clock Clock
}

// Entry wraps a cached value with its access bookkeeping.
type Entry[V any] struct {
	Key          string
	Value        V
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
	ExpiresAt    time.Time // zero => no TTL

	prev *Entry[V]
	next *Entry[V]
}

// Fresh reports whether the entry is visible at now.
func (e *Entry[V]) Fresh(now time.Time) bool {
	return e.ExpiresAt.IsZero() || now.Before(e.ExpiresAt)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int   `json:"entries" yaml:"entries"`
	Capacity  int   `json:"capacity" yaml:"capacity"`
	Hits      int64 `json:"hits" yaml:"hits"`
	Misses    int64 `json:"misses" yaml:"misses"`
	Sets      int64 `json:"sets" yaml:"sets"`
	Evictions int64 `json:"evictions" yaml:"evictions"`
	Expired   int64 `json:"expired" yaml:"expired"`
}

// HitRate returns hits / (hits + misses), or 0 with no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a mutex-protected map plus a doubly-linked LRU list. The front of
// the list holds the most recently accessed entry.
type Cache[V any] struct {
	entries  map[string]*Entry[V]
	mutex    sync.Mutex
	ttl      time.Duration
	capacity int
	now      Clock

	head *Entry[V]
	tail *Entry[V]

	hits      int64
	misses    int64
	sets      int64
	evictions int64
	expired   int64
}

// New creates a cache.
func New[V any](opts Options) *Cache[V] {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	c := &Cache[V]{
		entries:  make(map[string]*Entry[V]),
		ttl:      opts.TTL,
		capacity: opts.Capacity,
		now:      now,
	}
	c.head = &Entry[V]{}
	c.tail = &Entry[V]{}
	c.head.next = c.tail
	c.tail.prev = c.head

	return c
}

// Get returns the value stored under key if it is still fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	entry, ok := c.lookup(key)
	if !ok {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// GetEntry is like Get but returns a copy of the entry bookkeeping as well.
func (c *Cache[V]) GetEntry(key string) (Entry[V], bool) {
	entry, ok := c.lookup(key)
	if !ok {
		return Entry[V]{}, false
	}
	return Entry[V]{
		Key:          entry.Key,
		Value:        entry.Value,
		CreatedAt:    entry.CreatedAt,
		LastAccessed: entry.LastAccessed,
		AccessCount:  entry.AccessCount,
		ExpiresAt:    entry.ExpiresAt,
	}, true
}

func (c *Cache[V]) lookup(key string) (*Entry[V], bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	now := c.now()
	if !entry.Fresh(now) {
		c.remove(entry)
		atomic.AddInt64(&c.expired, 1)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	c.moveToFront(entry)
	entry.LastAccessed = now
	entry.AccessCount++
	atomic.AddInt64(&c.hits, 1)
	return entry, true
}

// Peek reports whether a fresh entry exists without touching LRU order or counters.
func (c *Cache[V]) Peek(key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	return exists && entry.Fresh(c.now())
}

// Set stores value under key. Re-setting an existing key restarts its TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	if existing, exists := c.entries[key]; exists {
		existing.Value = value
		existing.CreatedAt = now
		existing.LastAccessed = now
		existing.ExpiresAt = c.expiry(now)
		c.moveToFront(existing)
		atomic.AddInt64(&c.sets, 1)
		return
	}

	c.evictIfNeeded()

	entry := &Entry[V]{
		Key:          key,
		Value:        value,
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    c.expiry(now),
	}
	c.entries[key] = entry
	c.addToFront(entry)
	atomic.AddInt64(&c.sets, 1)
}

// Delete removes key. It reports whether an entry was removed.
func (c *Cache[V]) Delete(key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return false
	}
	c.remove(entry)
	return true
}

// DeleteFunc removes every entry whose key matches. It returns the number removed.
func (c *Cache[V]) DeleteFunc(match func(key string) bool) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if match(key) {
			c.remove(entry)
			removed++
		}
	}
	return removed
}

// Clear drops all entries and resets the counters.
func (c *Cache[V]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries = make(map[string]*Entry[V])
	c.head.next = c.tail
	c.tail.prev = c.head

	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.sets, 0)
	atomic.StoreInt64(&c.evictions, 0)
	atomic.StoreInt64(&c.expired, 0)
}

// Len returns the number of stored entries, including ones that expired but
// have not been read since.
func (c *Cache[V]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mutex.Lock()
	entries := len(c.entries)
	c.mutex.Unlock()

	return Stats{
		Entries:   entries,
		Capacity:  c.capacity,
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Sets:      atomic.LoadInt64(&c.sets),
		Evictions: atomic.LoadInt64(&c.evictions),
		Expired:   atomic.LoadInt64(&c.expired),
	}
}

func (c *Cache[V]) expiry(now time.Time) time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return now.Add(c.ttl)
}

// evictIfNeeded removes the least recently accessed entry when the cache is
// full. Caller holds the mutex.
func (c *Cache[V]) evictIfNeeded() {
	if c.capacity <= 0 || len(c.entries) < c.capacity {
		return
	}

	lru := c.tail.prev
	if lru == c.head {
		return
	}
	c.remove(lru)
	atomic.AddInt64(&c.evictions, 1)
}

func (c *Cache[V]) remove(entry *Entry[V]) {
	c.removeFromList(entry)
	delete(c.entries, entry.Key)
}

// LRU doubly-linked list operations
func (c *Cache[V]) addToFront(entry *Entry[V]) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *Cache[V]) removeFromList(entry *Entry[V]) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (c *Cache[V]) moveToFront(entry *Entry[V]) {
	c.removeFromList(entry)
	c.addToFront(entry)
}
