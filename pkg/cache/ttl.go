package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Klump3n/platt-backend-sub000/errors"
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache evicts entries that have not been read for the TTL. Get and Touch
// slide the expiry of an entry to now+TTL. A background sweeper removes
// expired entries every sweep interval.
type TTLCache[V any] struct {
	mu            sync.Mutex
	ttl           time.Duration
	sweepInterval time.Duration
	items         map[string]*ttlEntry[V]
	obs           observer
	evictFn       EvictCallback[V]
	now           func() time.Time

	shutdown  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ Cache[int] = (*TTLCache[int])(nil)

// NewTTL creates a sliding TTL cache and starts its sweeper. The sweeper
// stops when ctx is cancelled or Close is called.
func NewTTL[V any](ctx context.Context, ttl, sweepInterval time.Duration, options ...Option[V]) (*TTLCache[V], error) {
	if ttl <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "cache", "NewTTL",
			fmt.Sprintf("ttl must be positive, got %v", ttl))
	}
	if sweepInterval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "cache", "NewTTL",
			fmt.Sprintf("sweep interval must be positive, got %v", sweepInterval))
	}

	opts := applyOptions(options...)
	obs, err := newObserver(opts, "NewTTL")
	if err != nil {
		return nil, err
	}

	c := &TTLCache[V]{
		ttl:           ttl,
		sweepInterval: sweepInterval,
		items:         make(map[string]*ttlEntry[V]),
		obs:           obs,
		evictFn:       opts.evictCallback,
		now:           opts.now,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
	}
	go c.sweep(ctx)
	return c, nil
}

// TTL returns the residency granted by each read.
func (c *TTLCache[V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value for key and extends its residency.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	entry, ok := c.items[key]
	now := c.now()
	if ok && now.After(entry.expiresAt) {
		delete(c.items, key)
		size := len(c.items)
		c.mu.Unlock()

		c.obs.evicted(1, size)
		c.obs.miss()
		if c.evictFn != nil {
			c.evictFn(key, entry.value)
		}
		var zero V
		return zero, false
	}
	if !ok {
		c.mu.Unlock()
		c.obs.miss()
		var zero V
		return zero, false
	}
	entry.expiresAt = now.Add(c.ttl)
	value := entry.value
	c.mu.Unlock()

	c.obs.hit()
	return value, true
}

// Peek returns the value for key without extending its residency or
// counting a hit.
func (c *TTLCache[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	if !ok || c.now().After(entry.expiresAt) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Touch extends the residency of key. Returns false if the key is absent.
func (c *TTLCache[V]) Touch(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.items[key]
	now := c.now()
	if !ok || now.After(entry.expiresAt) {
		return false
	}
	entry.expiresAt = now.Add(c.ttl)
	return true
}

// Set stores value under key with a fresh TTL.
func (c *TTLCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = &ttlEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	size := len(c.items)
	c.mu.Unlock()

	c.obs.set(size)
	return !exists, nil
}

// Delete removes key.
func (c *TTLCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	entry, exists := c.items[key]
	if exists {
		delete(c.items, key)
	}
	size := len(c.items)
	c.mu.Unlock()

	if exists {
		c.obs.deleted(size)
		if c.evictFn != nil {
			c.evictFn(key, entry.value)
		}
	}
	return exists, nil
}

// Clear removes all entries.
func (c *TTLCache[V]) Clear() error {
	c.mu.Lock()
	old := c.items
	c.items = make(map[string]*ttlEntry[V])
	c.mu.Unlock()

	c.obs.size(0)
	if c.evictFn != nil {
		for key, entry := range old {
			c.evictFn(key, entry.value)
		}
	}
	return nil
}

// Size returns the number of entries, including expired ones not yet swept.
func (c *TTLCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the keys of all unexpired entries.
func (c *TTLCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]string, 0, len(c.items))
	for key, entry := range c.items {
		if !now.After(entry.expiresAt) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Range calls fn for every unexpired entry until fn returns false. fn runs
// on a snapshot, outside the lock.
func (c *TTLCache[V]) Range(fn func(key string, value V, expiresAt time.Time) bool) {
	type item struct {
		key       string
		value     V
		expiresAt time.Time
	}

	c.mu.Lock()
	now := c.now()
	snapshot := make([]item, 0, len(c.items))
	for key, entry := range c.items {
		if !now.After(entry.expiresAt) {
			snapshot = append(snapshot, item{key, entry.value, entry.expiresAt})
		}
	}
	c.mu.Unlock()

	for _, it := range snapshot {
		if !fn(it.key, it.value, it.expiresAt) {
			return
		}
	}
}

// Stats returns the cache statistics.
func (c *TTLCache[V]) Stats() *Statistics {
	return c.obs.stats
}

// Close stops the sweeper and waits for it to exit.
func (c *TTLCache[V]) Close() error {
	c.closeOnce.Do(func() { close(c.shutdown) })

	select {
	case <-c.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for cache sweeper to finish")
	}
}

func (c *TTLCache[V]) sweep(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.RemoveExpired()
		}
	}
}

// RemoveExpired deletes every expired entry and returns how many were removed.
func (c *TTLCache[V]) RemoveExpired() int {
	type expired struct {
		key   string
		value V
	}

	c.mu.Lock()
	now := c.now()
	var gone []expired
	for key, entry := range c.items {
		if now.After(entry.expiresAt) {
			gone = append(gone, expired{key, entry.value})
			delete(c.items, key)
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	if len(gone) == 0 {
		return 0
	}
	c.obs.evicted(len(gone), size)
	if c.evictFn != nil {
		for _, e := range gone {
			c.evictFn(e.key, e.value)
		}
	}
	return len(gone)
}
