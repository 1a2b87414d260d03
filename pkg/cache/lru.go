package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/Klump3n/platt-backend-sub000/errors"
)

type lruEntry[V any] struct {
	key   string
	value V
}

// lruCache evicts the least recently used entry once maxSize is exceeded.
type lruCache[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	obs     observer
	evictFn EvictCallback[V]
}

// NewLRU creates an LRU cache holding at most maxSize entries.
func NewLRU[V any](maxSize int, options ...Option[V]) (Cache[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "cache", "NewLRU",
			fmt.Sprintf("max size must be positive, got %d", maxSize))
	}

	opts := applyOptions(options...)
	obs, err := newObserver(opts, "NewLRU")
	if err != nil {
		return nil, err
	}
	return &lruCache[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		obs:     obs,
		evictFn: opts.evictCallback,
	}, nil
}

func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	element, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.obs.miss()
		var zero V
		return zero, false
	}
	c.order.MoveToFront(element)
	value := element.Value.(*lruEntry[V]).value
	c.mu.Unlock()

	c.obs.hit()
	return value, true
}

func (c *lruCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	if element, ok := c.items[key]; ok {
		element.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(element)
		size := len(c.items)
		c.mu.Unlock()
		c.obs.set(size)
		return false, nil
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	var evicted []*lruEntry[V]
	for len(c.items) > c.maxSize {
		back := c.order.Back()
		entry := back.Value.(*lruEntry[V])
		c.order.Remove(back)
		delete(c.items, entry.key)
		evicted = append(evicted, entry)
	}
	size := len(c.items)
	c.mu.Unlock()

	c.obs.set(size)
	if len(evicted) > 0 {
		c.obs.evicted(len(evicted), size)
		if c.evictFn != nil {
			for _, entry := range evicted {
				c.evictFn(entry.key, entry.value)
			}
		}
	}
	return true, nil
}

func (c *lruCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	entry := element.Value.(*lruEntry[V])
	c.order.Remove(element)
	delete(c.items, key)
	size := len(c.items)
	c.mu.Unlock()

	c.obs.deleted(size)
	if c.evictFn != nil {
		c.evictFn(entry.key, entry.value)
	}
	return true, nil
}

func (c *lruCache[V]) Clear() error {
	c.mu.Lock()
	var old []*lruEntry[V]
	for element := c.order.Back(); element != nil; element = element.Prev() {
		old = append(old, element.Value.(*lruEntry[V]))
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	c.obs.size(0)
	if c.evictFn != nil {
		for _, entry := range old {
			c.evictFn(entry.key, entry.value)
		}
	}
	return nil
}

func (c *lruCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns keys most recently used first.
func (c *lruCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*lruEntry[V]).key)
	}
	return keys
}

func (c *lruCache[V]) Stats() *Statistics {
	return c.obs.stats
}

func (c *lruCache[V]) Close() error {
	return nil
}
