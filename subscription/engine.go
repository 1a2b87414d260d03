// Package subscription advances remote datasets to newly completed
// timesteps. Every interval the engine compares each subscribed dataset's
// timestep with the index mirror and moves it forward once every object the
// dataset needs is present for the latest (or second-latest) timestep.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Klump3n/platt-backend-sub000/config"
	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/health"
	"github.com/Klump3n/platt-backend-sub000/index"
	"github.com/Klump3n/platt-backend-sub000/metric"
	"github.com/Klump3n/platt-backend-sub000/service"
)

// Target is the dataset a subscription moves forward.
type Target interface {
	// Timestep returns the selected timestep.
	Timestep() string
	// Required returns the index structure that must be present for a
	// timestep to be renderable with the current selection.
	Required() *index.Sim
	// SetTimestep selects ts and returns the selection in effect afterwards.
	SetTimestep(ctx context.Context, ts string) (string, error)
}

// Index is the view of the index mirror the engine reads.
type Index interface {
	Timesteps(namespace string) []string
	Has(namespace, timestep, simtype string, required *index.Sim) bool
}

// Subscription ties a dataset to the namespace it follows.
type Subscription struct {
	DatasetID string
	Namespace string
	SceneID   string
	Target    Target

	deleted bool
}

// Engine holds the subscriptions and runs the check loop.
type Engine struct {
	*service.BaseService

	index  Index
	cfg    config.SubscriptionConfig
	logger *slog.Logger

	advances prometheus.Counter
	failures prometheus.Counter
	active   prometheus.Gauge

	mu   sync.Mutex
	subs map[string]*Subscription

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an engine reading idx.
func NewEngine(idx Index, cfg config.SubscriptionConfig, registry *metric.MetricsRegistry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	e := &Engine{
		index:    idx,
		cfg:      cfg,
		logger:   logger.With("component", "subscription"),
		advances: metric.Counter(registry, "subscription", "advances_total", "Datasets moved to a newer timestep"),
		failures: metric.Counter(registry, "subscription", "failed_advances_total", "Timestep advances the dataset rejected"),
		active:   metric.Gauge(registry, "subscription", "active", "Live subscriptions"),
		subs:     make(map[string]*Subscription),
	}
	e.BaseService = service.NewBaseService("subscription-engine",
		service.WithLogger(logger),
		service.WithMetrics(registry))
	return e
}

// Subscribe registers a dataset. It reports false when the dataset already
// has a live subscription, which is left untouched.
func (e *Engine) Subscribe(datasetID, namespace, sceneID string, target Target) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.subs[datasetID]; ok && !s.deleted {
		return false
	}
	e.subs[datasetID] = &Subscription{
		DatasetID: datasetID,
		Namespace: namespace,
		SceneID:   sceneID,
		Target:    target,
	}
	e.active.Set(float64(e.liveLocked()))
	return true
}

// Unsubscribe flags a subscription for removal on the next tick.
func (e *Engine) Unsubscribe(datasetID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.subs[datasetID]
	if !ok || s.deleted {
		return false
	}
	s.deleted = true
	e.active.Set(float64(e.liveLocked()))
	return true
}

// UnsubscribeScene flags every subscription of a scene.
func (e *Engine) UnsubscribeScene(sceneID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, s := range e.subs {
		if s.SceneID == sceneID && !s.deleted {
			s.deleted = true
			n++
		}
	}
	e.active.Set(float64(e.liveLocked()))
	return n
}

// Subscribed reports whether datasetID has a live subscription.
func (e *Engine) Subscribed(datasetID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.subs[datasetID]
	return ok && !s.deleted
}

// Len returns the number of stored subscriptions, including flagged ones
// not yet reaped.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

func (e *Engine) liveLocked() int {
	n := 0
	for _, s := range e.subs {
		if !s.deleted {
			n++
		}
	}
	return n
}

// Tick reaps flagged subscriptions and advances every dataset whose latest
// complete timestep is newer than its selection. It returns the number of
// datasets advanced. Targets are called without the engine lock held.
func (e *Engine) Tick(ctx context.Context) int {
	e.mu.Lock()
	live := make([]*Subscription, 0, len(e.subs))
	for id, s := range e.subs {
		if s.deleted {
			delete(e.subs, id)
			continue
		}
		live = append(live, s)
	}
	e.mu.Unlock()

	sort.Slice(live, func(i, j int) bool { return live[i].DatasetID < live[j].DatasetID })

	advanced := 0
	for _, s := range live {
		if ctx.Err() != nil {
			break
		}
		if e.check(ctx, s) {
			advanced++
		}
	}
	return advanced
}

func (e *Engine) check(ctx context.Context, s *Subscription) bool {
	timesteps := e.index.Timesteps(s.Namespace)
	if len(timesteps) == 0 {
		return false
	}
	current := s.Target.Timestep()
	last := len(timesteps) - 1
	if timesteps[last] == current {
		return false
	}

	position := -1
	for i, ts := range timesteps {
		if ts == current {
			position = i
			break
		}
	}

	required := s.Target.Required()
	if required == nil {
		return false
	}

	for _, i := range []int{last, last - 1} {
		if i < 0 || i <= position {
			continue
		}
		candidate := timesteps[i]
		if !e.index.Has(s.Namespace, candidate, index.SimTA, required) {
			continue
		}
		selected, err := s.Target.SetTimestep(ctx, candidate)
		if err != nil || selected != candidate {
			e.failures.Inc()
			e.logger.Warn("Dataset did not advance", "dataset", s.DatasetID,
				"namespace", s.Namespace, "timestep", candidate, "error", err)
			return false
		}
		e.advances.Inc()
		e.logger.Info("Advanced dataset", "dataset", s.DatasetID, "namespace", s.Namespace,
			"from", current, "to", candidate)
		return true
	}
	return false
}

// Start runs Tick every interval until Stop or ctx cancellation.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Starting(); err != nil {
		return err
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.loop(loopCtx)

	e.Running()
	return nil
}

// Stop ends the check loop.
func (e *Engine) Stop(timeout time.Duration) error {
	if !e.Stopping() {
		return nil
	}
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.Stopped()
		return nil
	case <-time.After(timeout):
		err := errors.WrapTransient(errors.ErrShuttingDown, "Engine", "Stop", "wait for check loop")
		e.Failed(err)
		return err
	}
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Health reports the number of live subscriptions while running.
func (e *Engine) Health() health.Status {
	st := e.BaseService.Health()
	if st.IsHealthy() {
		e.mu.Lock()
		n := e.liveLocked()
		e.mu.Unlock()
		st.Message = fmt.Sprintf("%d live subscriptions", n)
	}
	return st
}
