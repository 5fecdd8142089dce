// Package cache provides an in-memory key/value store with per-entry TTL,
// capacity-bounded eviction, and single-flight population: concurrent misses
// for the same key share one population call instead of each issuing their
// own.
package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opendouban/douban-api/internal/clock"
	"github.com/opendouban/douban-api/internal/metrics"
)

// Key constrains cache keys to comparable values with a stable string form.
// The string form feeds the single-flight group and must be unique per key.
type Key interface {
	comparable
	String() string
}

const shardCount = 16

type entry[V any] struct {
	value      V
	insertedAt time.Time
	lastAccess time.Time
}

type shard[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*entry[V]
}

// Cache is safe for concurrent use. The entry table is sharded so unrelated
// keys never contend on one lock.
type Cache[K Key, V any] struct {
	shards   [shardCount]*shard[K, V]
	group    singleflight.Group
	clk      clock.Clock
	ttl      time.Duration
	capacity int
}

// New builds a cache holding at most capacity entries, each expiring ttl
// after insertion. A zero ttl disables expiry; a zero capacity disables
// eviction. The capacity is enforced per shard, so capacities below the
// shard count round up to one entry per shard and the cache may hold up to
// shardCount entries.
func New[K Key, V any](capacity int, ttl time.Duration, clk clock.Clock) *Cache[K, V] {
	c := &Cache[K, V]{clk: clk, ttl: ttl, capacity: capacity}
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{entries: make(map[K]*entry[V])}
	}
	return c
}

func (c *Cache[K, V]) shardFor(key K) *shard[K, V] {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return c.shards[h.Sum32()%shardCount]
}

// get returns the live value for key, treating expired entries as misses and
// deleting them in place. Reads refresh the access time for eviction ordering
// but never the insertion time: TTL bounds staleness from insert.
func (s *shard[K, V]) get(key K, ttl time.Duration, now time.Time) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if ttl > 0 && now.Sub(e.insertedAt) > ttl {
		delete(s.entries, key)
		var zero V
		return zero, false
	}
	e.lastAccess = now
	return e.value, true
}

// set inserts a fresh entry, evicting the least recently used entries of this
// shard while the shard exceeds its slice of the capacity. The per-shard
// bound makes the LRU policy approximate, which is acceptable: eviction may
// drop entries before their TTL.
func (s *shard[K, V]) set(key K, value V, now time.Time, perShardCap int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry[V]{value: value, insertedAt: now, lastAccess: now}
	if perShardCap <= 0 {
		return
	}
	for len(s.entries) > perShardCap {
		var oldestKey K
		var oldest time.Time
		first := true
		for k, e := range s.entries {
			if first || e.lastAccess.Before(oldest) {
				oldestKey, oldest, first = k, e.lastAccess, false
			}
		}
		delete(s.entries, oldestKey)
		metrics.ObserveCacheEviction()
	}
}

func (c *Cache[K, V]) perShardCap() int {
	if c.capacity <= 0 {
		return 0
	}
	per := c.capacity / shardCount
	if per < 1 {
		per = 1
	}
	return per
}

// GetOrPopulate returns the cached value for key, or runs populate to produce
// it. At most one population per key is in flight at a time; every caller
// that arrives while it runs receives that single outcome. Only successful
// outcomes are stored, so the next caller after a failure retries.
//
// The populate call runs on a context detached from the caller's
// cancellation: a caller abandoning its wait must not abort a population
// other waiters share. The caller's own wait still honors ctx.
func (c *Cache[K, V]) GetOrPopulate(ctx context.Context, key K, populate func(ctx context.Context) (V, error)) (V, error) {
	sh := c.shardFor(key)
	if v, ok := sh.get(key, c.ttl, c.clk.Now()); ok {
		metrics.ObserveCacheHit()
		return v, nil
	}
	metrics.ObserveCacheMiss()

	ch := c.group.DoChan(key.String(), func() (any, error) {
		// A waiter queued behind a finished population may land here after
		// the value was stored; re-check before fetching again.
		if v, ok := sh.get(key, c.ttl, c.clk.Now()); ok {
			return v, nil
		}
		v, err := populate(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		sh.set(key, v, c.clk.Now(), c.perShardCap())
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

// Invalidate drops the entry for key, if present.
func (c *Cache[K, V]) Invalidate(key K) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
}

// Len reports the number of resident entries, expired ones included until
// their next lookup.
func (c *Cache[K, V]) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Capacity reports the configured maximum entry count.
func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}
