package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Klump3n/platt-backend-sub000/config"
	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/health"
	"github.com/Klump3n/platt-backend-sub000/metric"
	"github.com/Klump3n/platt-backend-sub000/service"
)

// NewFile is one push frame announcing an object.
type NewFile struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Sha1sum   string `json:"sha1sum"`
}

// Source delivers full index pulls and the push stream.
type Source interface {
	RequestIndex(ctx context.Context) (Tree, error)
	NewFiles() <-chan NewFile
}

// Refresher keeps a Mirror current: a blocking pull at start-up, a periodic
// pull, and in-order ingestion of push frames.
type Refresher struct {
	*service.BaseService

	source Source
	mirror *Mirror
	cfg    config.IndexConfig
	logger *slog.Logger

	refreshes prometheus.Counter
	deltas    prometheus.Counter
	ignored   prometheus.Counter

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pulled  bool
	lastErr error
}

// NewRefresher creates a refresher writing into mirror.
func NewRefresher(source Source, mirror *Mirror, cfg config.IndexConfig,
	registry *metric.MetricsRegistry, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Refresher{
		source:    source,
		mirror:    mirror,
		cfg:       cfg,
		logger:    logger.With("component", "index"),
		refreshes: metric.Counter(registry, "index", "refreshes_total", "Full index pulls applied"),
		deltas:    metric.Counter(registry, "index", "deltas_total", "Push frames merged into the index"),
		ignored:   metric.Counter(registry, "index", "ignored_keys_total", "Push frames whose key did not parse"),
	}
	r.BaseService = service.NewBaseService("index-refresher",
		service.WithLogger(logger),
		service.WithMetrics(registry),
		service.WithHealthCheck(r.check))
	return r
}

// Mirror returns the mirror being maintained.
func (r *Refresher) Mirror() *Mirror { return r.mirror }

// Start performs the initial pull, bounded by InitialTimeout, and starts the
// periodic pull and push ingestion. A timed-out initial pull leaves the
// mirror empty and is not an error.
func (r *Refresher) Start(ctx context.Context) error {
	if err := r.Starting(); err != nil {
		return err
	}

	if err := r.pull(ctx, r.cfg.InitialTimeout); err != nil {
		r.logger.Warn("Initial index pull failed, mirror left empty",
			"timeout", r.cfg.InitialTimeout, "error", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(2)
	go r.ingestLoop(loopCtx)
	go r.refreshLoop(loopCtx)

	r.Running()
	return nil
}

// Stop ends both loops.
func (r *Refresher) Stop(timeout time.Duration) error {
	if !r.Stopping() {
		return nil
	}
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.Stopped()
		return nil
	case <-time.After(timeout):
		err := errors.WrapTransient(errors.ErrShuttingDown, "Refresher", "Stop", "wait for loops")
		r.Failed(err)
		return err
	}
}

// Refresh pulls the index on behalf of a client, bounded by ReaskTimeout.
func (r *Refresher) Refresh(ctx context.Context) error {
	return r.pull(ctx, r.cfg.ReaskTimeout)
}

func (r *Refresher) pull(ctx context.Context, timeout time.Duration) error {
	pullCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tree, err := r.source.RequestIndex(pullCtx)

	r.mu.Lock()
	r.lastErr = err
	if err == nil {
		r.pulled = true
	}
	r.mu.Unlock()

	if err != nil {
		return errors.WrapTransient(err, "Refresher", "pull", "request index")
	}
	r.mirror.Replace(tree)
	r.refreshes.Inc()
	r.logger.Debug("Index refreshed", "namespaces", len(tree))
	return nil
}

// Ingest merges one push frame into the mirror. It reports false for keys
// that do not parse; those are ignored.
func (r *Refresher) Ingest(f NewFile) bool {
	delta, ok := ParseKey(f.Namespace, f.Key, f.Sha1sum)
	if !ok {
		r.ignored.Inc()
		r.logger.Debug("Ignoring object key", "namespace", f.Namespace, "key", f.Key)
		return false
	}
	r.mirror.Apply(delta)
	r.deltas.Inc()
	return true
}

func (r *Refresher) ingestLoop(ctx context.Context) {
	defer r.wg.Done()
	files := r.source.NewFiles()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-files:
			if !ok {
				return
			}
			r.Ingest(f)
		}
	}
}

func (r *Refresher) refreshLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.pull(ctx, r.cfg.InitialTimeout); err != nil && ctx.Err() == nil {
				r.logger.Warn("Periodic index pull failed", "error", err)
			}
		}
	}
}

func (r *Refresher) check() health.Status {
	r.mu.Lock()
	pulled, lastErr := r.pulled, r.lastErr
	r.mu.Unlock()

	switch {
	case lastErr != nil && !pulled:
		return health.NewDegraded("", "Index never pulled: "+lastErr.Error())
	case lastErr != nil:
		return health.NewDegraded("", "Last index pull failed: "+lastErr.Error())
	}
	return health.NewHealthy("", "Index current")
}
