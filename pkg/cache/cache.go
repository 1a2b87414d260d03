package cache

import (
	"github.com/Klump3n/platt-backend-sub000/errors"
)

// Cache is the interface shared by every cache implementation.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the zero value and false on miss.
	Get(key string) (V, bool)

	// Set stores a value. Returns true if a new entry was created.
	Set(key string, value V) (bool, error)

	// Delete removes an entry. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries, calling the eviction callback for each.
	Clear() error

	// Size returns the current number of entries.
	Size() int

	// Keys returns the keys of all live entries.
	Keys() []string

	// Stats returns the cache statistics.
	Stats() *Statistics

	// Close releases background resources.
	Close() error
}

// EvictCallback is called when an entry leaves the cache through eviction,
// expiry, Delete or Clear.
type EvictCallback[V any] func(key string, value V)

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}

// observer bundles the always-on statistics with the optional metrics so the
// implementations record each event once.
type observer struct {
	stats   *Statistics
	metrics *cacheMetrics
}

func (o observer) hit() {
	o.stats.Hit()
	if o.metrics != nil {
		o.metrics.hits.Inc()
	}
}

func (o observer) miss() {
	o.stats.Miss()
	if o.metrics != nil {
		o.metrics.misses.Inc()
	}
}

func (o observer) set(size int) {
	o.stats.Set()
	o.size(size)
	if o.metrics != nil {
		o.metrics.sets.Inc()
	}
}

func (o observer) deleted(size int) {
	o.stats.Delete()
	o.size(size)
	if o.metrics != nil {
		o.metrics.deletes.Inc()
	}
}

func (o observer) evicted(n, size int) {
	for i := 0; i < n; i++ {
		o.stats.Eviction()
		if o.metrics != nil {
			o.metrics.evictions.Inc()
		}
	}
	o.size(size)
}

func (o observer) size(size int) {
	o.stats.UpdateSize(int64(size))
	if o.metrics != nil {
		o.metrics.size.Set(float64(size))
	}
}

func newObserver[V any](opts *cacheOptions[V], method string) (observer, error) {
	o := observer{stats: NewStatistics()}
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		m, err := newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return o, errors.WrapTransient(err, "cache", method, "metrics registration")
		}
		o.metrics = m
	}
	return o, nil
}
