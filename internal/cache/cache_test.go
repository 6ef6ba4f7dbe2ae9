package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestCache_TTL(t *testing.T) {
	t.Run("read just before expiry hits", func(t *testing.T) {
		clock := newFakeClock()
		c := New[string](Options{TTL: time.Minute, Clock: clock.Now})

		c.Set("k", "v")
		clock.Advance(time.Minute - time.Nanosecond)

		v, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v", v)
	})

	t.Run("read at expiry misses and removes entry", func(t *testing.T) {
		clock := newFakeClock()
		c := New[string](Options{TTL: time.Minute, Clock: clock.Now})

		c.Set("k", "v")
		clock.Advance(time.Minute)

		_, ok := c.Get("k")
		assert.False(t, ok)
		assert.Equal(t, 0, c.Len(), "expired entry should be removed on read")

		stats := c.Stats()
		assert.Equal(t, int64(1), stats.Misses)
		assert.Equal(t, int64(1), stats.Expired)
	})

	t.Run("access does not extend lifetime", func(t *testing.T) {
		clock := newFakeClock()
		c := New[int](Options{TTL: time.Minute, Clock: clock.Now})

		c.Set("k", 1)
		clock.Advance(30 * time.Second)
		_, ok := c.Get("k")
		require.True(t, ok)

		clock.Advance(30 * time.Second)
		_, ok = c.Get("k")
		assert.False(t, ok)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		clock := newFakeClock()
		c := New[int](Options{Clock: clock.Now})

		c.Set("k", 1)
		clock.Advance(1000 * time.Hour)
		_, ok := c.Get("k")
		assert.True(t, ok)
	})

	t.Run("reset restarts ttl", func(t *testing.T) {
		clock := newFakeClock()
		c := New[int](Options{TTL: time.Minute, Clock: clock.Now})

		c.Set("k", 1)
		clock.Advance(50 * time.Second)
		c.Set("k", 2)
		clock.Advance(50 * time.Second)

		v, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, 2, v)
	})
}

func TestCache_LRU(t *testing.T) {
	t.Run("evicts oldest accessed entry", func(t *testing.T) {
		clock := newFakeClock()
		c := New[string](Options{Capacity: 3, Clock: clock.Now})

		for i := 1; i <= 3; i++ {
			c.Set(fmt.Sprintf("key%d", i), "v")
			clock.Advance(time.Second)
		}

		c.Set("key4", "v")

		assert.False(t, c.Peek("key1"), "key1 should be evicted as LRU")
		assert.True(t, c.Peek("key2"))
		assert.True(t, c.Peek("key3"))
		assert.True(t, c.Peek("key4"))
		assert.Equal(t, int64(1), c.Stats().Evictions)
	})

	t.Run("access protects entry from next eviction", func(t *testing.T) {
		clock := newFakeClock()
		c := New[string](Options{Capacity: 3, Clock: clock.Now})

		c.Set("key1", "v")
		clock.Advance(time.Second)
		c.Set("key2", "v")
		clock.Advance(time.Second)
		c.Set("key3", "v")
		clock.Advance(time.Second)

		_, ok := c.Get("key1")
		require.True(t, ok)

		c.Set("key4", "v")

		assert.True(t, c.Peek("key1"), "key1 was accessed and must survive")
		assert.False(t, c.Peek("key2"), "key2 is now the oldest")
		assert.Equal(t, 3, c.Len())
	})

	t.Run("updating existing key never evicts", func(t *testing.T) {
		c := New[string](Options{Capacity: 2})

		c.Set("a", "1")
		c.Set("b", "1")
		c.Set("a", "2")

		assert.Equal(t, 2, c.Len())
		assert.Equal(t, int64(0), c.Stats().Evictions)
	})
}

func TestCache_Bookkeeping(t *testing.T) {
	clock := newFakeClock()
	c := New[string](Options{TTL: time.Hour, Clock: clock.Now})

	c.Set("k", "v")
	clock.Advance(time.Second)
	c.Get("k")
	clock.Advance(time.Second)

	entry, ok := c.GetEntry("k")
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.AccessCount)
	assert.Equal(t, clock.Now(), entry.LastAccessed)
	assert.Equal(t, entry.CreatedAt.Add(time.Hour), entry.ExpiresAt)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.InDelta(t, 1.0, stats.HitRate(), 0.0001)
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := New[int](Options{})

	c.Set("a/1", 1)
	c.Set("a/2", 2)
	c.Set("b/1", 3)

	assert.True(t, c.Delete("b/1"))
	assert.False(t, c.Delete("b/1"))

	removed := c.DeleteFunc(func(key string) bool { return key[0] == 'a' })
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, c.Len())

	c.Set("x", 1)
	c.Get("x")
	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, Stats{}, c.Stats())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](Options{TTL: time.Minute, Capacity: 50})

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d", (g*i)%80)
				c.Set(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)

	// List integrity: walking the LRU list must visit every stored entry.
	count := 0
	for cur := c.head.next; cur != c.tail; cur = cur.next {
		count++
		require.Less(t, count, 1000, "infinite loop detected in LRU list")
	}
	assert.Equal(t, c.Len(), count)
}
