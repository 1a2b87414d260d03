// Package filecache holds downloaded objects in memory for as long as they
// are being read. Entries live in a sliding TTL cache: every read extends
// residency, and a sweeper drops entries nobody has read for the TTL.
// Misses are turned into proxy requests and awaited by polling the cache.
package filecache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Klump3n/platt-backend-sub000/config"
	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/health"
	"github.com/Klump3n/platt-backend-sub000/metric"
	"github.com/Klump3n/platt-backend-sub000/pkg/cache"
	"github.com/Klump3n/platt-backend-sub000/proxy"
	"github.com/Klump3n/platt-backend-sub000/service"
)

// Requester is the part of the proxy link the cache drives.
type Requester interface {
	Request(namespace, key string) error
	Answers() <-chan *proxy.Answer
}

// Entry is one delivered object.
type Entry struct {
	Namespace string
	Key       string
	Contents  []byte
	Sha1sum   string
	Received  time.Time
}

// Size returns the number of content bytes held by the entry.
func (e *Entry) Size() int64 { return int64(len(e.Contents)) }

// Path returns the cache key of namespace and key.
func Path(namespace, key string) string {
	return namespace + "/" + key
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces the time source used for residency. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Cache is the local file cache.
type Cache struct {
	*service.BaseService

	link   Requester
	cfg    config.FileCacheConfig
	logger *slog.Logger

	entries  *cache.TTLCache[*Entry]
	pending  *gocache.Cache
	failures *gocache.Cache
	bytes    atomic.Int64

	bytesGauge prometheus.Gauge
	requested  prometheus.Counter
	timeouts   prometheus.Counter
	failed     prometheus.Counter
	overflow   prometheus.Counter

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a cache fed by link. The residency sweeper starts immediately;
// the answer ingest loop starts with Start.
func New(link Requester, cfg config.FileCacheConfig, registry *metric.MetricsRegistry,
	logger *slog.Logger, opts ...Option) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.FetchTimeout <= 0 || cfg.PollInterval <= 0 {
		return nil, errors.WrapInvalid(errors.Kind(errors.ErrInvalidConfig,
			"fetch_timeout %v, poll_interval %v", cfg.FetchTimeout, cfg.PollInterval),
			"filecache", "New", "validate config")
	}

	c := &Cache{
		link:       link,
		cfg:        cfg,
		logger:     logger.With("component", "filecache"),
		pending:    gocache.New(cfg.FetchTimeout, cfg.FetchTimeout),
		failures:   gocache.New(cfg.FetchTimeout, cfg.FetchTimeout),
		bytesGauge: metric.Gauge(registry, "filecache", "bytes", "Content bytes held in the file cache"),
		requested:  metric.Counter(registry, "filecache", "requests_total", "Objects requested from the proxy"),
		timeouts:   metric.Counter(registry, "filecache", "timeouts_total", "Fetches that ran out of time"),
		failed:     metric.Counter(registry, "filecache", "failed_downloads_total", "Downloads the proxy link gave up on"),
		overflow:   metric.Counter(registry, "filecache", "capacity_evictions_total", "Entries evicted to stay under capacity"),
	}

	entries, err := cache.NewTTL[*Entry](context.Background(), cfg.TTL, cfg.SweepInterval,
		cache.WithMetrics[*Entry](registry, "filecache"),
		cache.WithEvictionCallback[*Entry](c.evicted),
		cache.WithClock[*Entry](o.now))
	if err != nil {
		return nil, errors.Wrap(err, "filecache", "New", "create entry cache")
	}
	c.entries = entries

	c.BaseService = service.NewBaseService("filecache",
		service.WithLogger(logger),
		service.WithMetrics(registry),
		service.WithHealthCheck(c.check))
	return c, nil
}

// Start runs the loop storing proxy answers.
func (c *Cache) Start(ctx context.Context) error {
	if err := c.Starting(); err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.ingestLoop(loopCtx)

	c.Running()
	return nil
}

// Stop ends the ingest loop and the sweeper.
func (c *Cache) Stop(timeout time.Duration) error {
	if !c.Stopping() {
		return nil
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		err := errors.WrapTransient(errors.ErrShuttingDown, "Cache", "Stop", "wait for ingest loop")
		c.Failed(err)
		return err
	}
	if err := c.entries.Close(); err != nil {
		c.Failed(err)
		return err
	}
	c.Stopped()
	return nil
}

// Get returns the entry for namespace/key and extends its residency.
func (c *Cache) Get(namespace, key string) (*Entry, bool) {
	return c.entries.Get(Path(namespace, key))
}

// Len returns the number of resident entries.
func (c *Cache) Len() int { return c.entries.Size() }

// Bytes returns the content bytes held.
func (c *Cache) Bytes() int64 { return c.bytes.Load() }

// Put stores an entry, replacing any previous one for the same path, and
// enforces the capacity.
func (c *Cache) Put(e *Entry) {
	path := Path(e.Namespace, e.Key)
	if e.Received.IsZero() {
		e.Received = time.Now()
	}
	// the eviction callback releases the bytes of a replaced entry
	_, _ = c.entries.Delete(path)
	if _, err := c.entries.Set(path, e); err != nil {
		c.logger.Warn("Dropping object", "path", path, "error", err)
		return
	}
	c.addBytes(e.Size())
	c.pending.Delete(path)
	c.failures.Delete(path)
	c.enforceCapacity(path)
}

// Fetch returns the entries for keys in order. Present entries have their
// residency extended; missing ones are requested from the proxy, once per
// key across concurrent callers, and awaited until FetchTimeout. A download
// the link gave up on fails the whole batch with the link's error.
func (c *Cache) Fetch(ctx context.Context, namespace string, keys []string) ([]*Entry, error) {
	out := make([]*Entry, len(keys))
	missing := c.collect(namespace, keys, out)
	if missing == 0 {
		return out, nil
	}

	for i, key := range keys {
		if out[i] != nil {
			continue
		}
		if err := c.request(namespace, key); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				c.timeouts.Inc()
				return nil, errors.WrapTimeout("filecache", "Fetch",
					"%d of %d objects in %s not delivered within %v", missing, len(keys), namespace, c.cfg.FetchTimeout)
			}
			return nil, errors.Wrap(ctx.Err(), "filecache", "Fetch", "await objects")
		case <-ticker.C:
		}

		if err := c.failure(namespace, keys, out); err != nil {
			return nil, err
		}
		if missing = c.collect(namespace, keys, out); missing == 0 {
			return out, nil
		}
	}
}

// collect fills the nil slots of out from the cache and returns how many
// remain missing. Slots already filled are refreshed.
func (c *Cache) collect(namespace string, keys []string, out []*Entry) int {
	missing := 0
	for i, key := range keys {
		e, ok := c.entries.Get(Path(namespace, key))
		if !ok {
			out[i] = nil
			missing++
			continue
		}
		out[i] = e
	}
	return missing
}

func (c *Cache) request(namespace, key string) error {
	path := Path(namespace, key)
	if err := c.pending.Add(path, struct{}{}, c.cfg.FetchTimeout); err != nil {
		// already requested by another caller
		return nil
	}
	c.failures.Delete(path)
	if err := c.link.Request(namespace, key); err != nil {
		c.pending.Delete(path)
		return errors.Wrap(err, "filecache", "Fetch", "request "+path)
	}
	c.requested.Inc()
	return nil
}

func (c *Cache) failure(namespace string, keys []string, out []*Entry) error {
	for i, key := range keys {
		if out[i] != nil {
			continue
		}
		if v, ok := c.failures.Get(Path(namespace, key)); ok {
			return v.(error)
		}
	}
	return nil
}

func (c *Cache) ingestLoop(ctx context.Context) {
	defer c.wg.Done()
	answers := c.link.Answers()
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-answers:
			if !ok {
				return
			}
			c.ingest(a)
		}
	}
}

func (c *Cache) ingest(a *proxy.Answer) {
	path := Path(a.Namespace, a.Key)
	if a.Err != nil {
		c.failed.Inc()
		c.pending.Delete(path)
		c.failures.SetDefault(path, a.Err)
		c.logger.Warn("Download failed", "path", path, "error", a.Err)
		return
	}
	c.Put(&Entry{
		Namespace: a.Namespace,
		Key:       a.Key,
		Contents:  a.Contents,
		Sha1sum:   a.Sha1sum,
	})
}

// enforceCapacity evicts the entries closest to expiry until the content
// bytes fit. The entry just stored is kept even if it alone exceeds the
// capacity.
func (c *Cache) enforceCapacity(keep string) {
	limit := int64(c.cfg.Capacity.Bytes())
	if limit <= 0 || c.bytes.Load() <= limit {
		return
	}

	type candidate struct {
		path      string
		expiresAt time.Time
	}
	var candidates []candidate
	c.entries.Range(func(path string, _ *Entry, expiresAt time.Time) bool {
		if path != keep {
			candidates = append(candidates, candidate{path, expiresAt})
		}
		return true
	})
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].expiresAt.Before(candidates[j].expiresAt)
	})

	evicted := 0
	for _, cand := range candidates {
		if c.bytes.Load() <= limit {
			break
		}
		if ok, _ := c.entries.Delete(cand.path); ok {
			evicted++
		}
	}
	c.overflow.Add(float64(evicted))
	c.logger.Warn("File cache over capacity, evicted oldest entries",
		"capacity", c.cfg.Capacity.HumanReadable(), "evicted", evicted,
		"bytes", c.bytes.Load())
}

func (c *Cache) evicted(_ string, e *Entry) {
	c.addBytes(-e.Size())
}

func (c *Cache) addBytes(n int64) {
	c.bytesGauge.Set(float64(c.bytes.Add(n)))
}

func (c *Cache) check() health.Status {
	msg := fmt.Sprintf("%d entries, %d bytes, %d pending, hit ratio %.2f",
		c.entries.Size(), c.bytes.Load(), c.pending.ItemCount(), c.entries.Stats().HitRatio())
	return health.NewHealthy("", msg).WithMetrics(&health.Metrics{
		Uptime:     c.Uptime(),
		ErrorCount: c.failures.ItemCount(),
	})
}
