// Package scene manages the scenes clients look at. A scene is an ordered
// set of datasets plus colorbar settings; every change of a dataset in a
// scene is broadcast to the scene's push notifiers.
package scene

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/Klump3n/platt-backend-sub000/dataset"
	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/metric"
	"github.com/Klump3n/platt-backend-sub000/parser"
	"github.com/Klump3n/platt-backend-sub000/subscription"
)

// Notifier delivers updates to the subscribers of a scene.
type Notifier interface {
	Name() string
	Notify(sceneID string, u dataset.Update) error
}

// SceneCloser is implemented by notifiers that hold per-scene connections.
type SceneCloser interface {
	CloseScene(sceneID string)
}

// Subscriber registers remote datasets for timestep advances.
// subscription.Engine implements it.
type Subscriber interface {
	Subscribe(datasetID, namespace, sceneID string, target subscription.Target) bool
	Unsubscribe(datasetID string) bool
	UnsubscribeScene(sceneID string) int
}

// Namespaces lists the remote datasets. index.Mirror implements it.
type Namespaces interface {
	parser.Mirror
	Namespaces() []string
}

// AddResult reports which datasets were added to a scene.
type AddResult struct {
	SceneHash string         `json:"sceneHash"`
	Success   []dataset.Meta `json:"addDatasetsSuccess"`
	Fail      []string       `json:"addDatasetsFail,omitempty"`
}

// Config carries the collaborators of a Manager. Remote and its companions
// are nil when no gateway is configured.
type Config struct {
	DataDir       string
	Remote        Namespaces
	Fetcher       parser.Fetcher
	Subscriptions Subscriber
	Registry      *metric.MetricsRegistry
	Logger        *slog.Logger
}

// Manager owns the scenes.
type Manager struct {
	cfg           Config
	logger        *slog.Logger
	parserMetrics *parser.Metrics
	core          *metric.Metrics

	mu        sync.RWMutex
	scenes    map[string]*Scene
	notifiers []Notifier
}

// NewManager creates an empty manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cfg:           cfg,
		logger:        logger.With("component", "scene-manager"),
		parserMetrics: parser.NewMetrics(cfg.Registry),
		scenes:        map[string]*Scene{},
	}
	if cfg.Registry != nil {
		m.core = cfg.Registry.CoreMetrics()
	}
	return m
}

// AddNotifier registers a push notifier for every scene.
func (m *Manager) AddNotifier(n Notifier) {
	m.mu.Lock()
	m.notifiers = append(m.notifiers, n)
	m.mu.Unlock()
}

// AvailableDatasets lists the local dataset directories, sorted, followed by
// the remote namespaces not shadowed by a local name.
func (m *Manager) AvailableDatasets(_ context.Context) []string {
	out := []string{}
	seen := map[string]bool{}
	if entries, err := os.ReadDir(m.cfg.DataDir); err == nil {
		for _, e := range entries {
			if e.IsDir() && parser.IsLocalDataset(m.cfg.DataDir, e.Name()) {
				out = append(out, e.Name())
				seen[e.Name()] = true
			}
		}
	} else {
		m.logger.Warn("cannot list data directory", "dir", m.cfg.DataDir, "error", err)
	}
	sort.Strings(out)

	if m.cfg.Remote != nil {
		for _, ns := range m.cfg.Remote.Namespaces() {
			if !seen[ns] {
				out = append(out, ns)
			}
		}
	}
	return out
}

// Scenes returns the scene infos keyed by scene ID.
func (m *Manager) Scenes() map[string]Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Info, len(m.scenes))
	for id, s := range m.scenes {
		out[id] = s.Info()
	}
	return out
}

// Scene looks up a scene.
func (m *Manager) Scene(id string) (*Scene, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenes[id]
	return s, ok
}

// Dataset looks up a dataset of a scene.
func (m *Manager) Dataset(sceneID, datasetID string) (*dataset.Dataset, bool) {
	s, ok := m.Scene(sceneID)
	if !ok {
		return nil, false
	}
	return s.Dataset(datasetID)
}

// CreateScene creates a scene holding the valid names. No scene is created
// when none of the names is valid.
func (m *Manager) CreateScene(ctx context.Context, names []string) (AddResult, error) {
	s := newScene(dataset.NewID())
	res := m.load(ctx, s, names)
	if len(res.Success) == 0 {
		return res, errors.WrapSelection("SceneManager", "CreateScene", "no valid dataset in %q", names)
	}

	m.mu.Lock()
	m.scenes[s.ID] = s
	m.mu.Unlock()
	m.logger.Info("scene created", "scene", s.ID, "datasets", len(res.Success), "failed", len(res.Fail))
	return res, nil
}

// AddDatasets adds datasets to an existing scene.
func (m *Manager) AddDatasets(ctx context.Context, sceneID string, names []string) (AddResult, error) {
	s, ok := m.Scene(sceneID)
	if !ok {
		return AddResult{}, m.noScene("AddDatasets", sceneID)
	}
	return m.load(ctx, s, names), nil
}

// RemoveDataset removes a dataset; removing the last one deletes the scene.
func (m *Manager) RemoveDataset(sceneID, datasetID string) error {
	s, ok := m.Scene(sceneID)
	if !ok {
		return m.noScene("RemoveDataset", sceneID)
	}
	removed, left := s.remove(datasetID)
	if !removed {
		return errors.WrapInvalid(errors.Kind(errors.ErrNotFound, "dataset %s", datasetID),
			"SceneManager", "RemoveDataset", "find dataset")
	}
	if m.cfg.Subscriptions != nil {
		m.cfg.Subscriptions.Unsubscribe(datasetID)
	}
	m.logger.Info("dataset removed", "scene", sceneID, "dataset_hash", datasetID)
	if left == 0 {
		_ = m.DeleteScene(sceneID)
	}
	return nil
}

// DeleteScene removes a scene and its subscriptions.
func (m *Manager) DeleteScene(id string) error {
	m.mu.Lock()
	_, ok := m.scenes[id]
	delete(m.scenes, id)
	m.mu.Unlock()
	if !ok {
		return m.noScene("DeleteScene", id)
	}
	if m.cfg.Subscriptions != nil {
		m.cfg.Subscriptions.UnsubscribeScene(id)
	}
	m.mu.RLock()
	notifiers := append([]Notifier(nil), m.notifiers...)
	m.mu.RUnlock()
	for _, n := range notifiers {
		if c, ok := n.(SceneCloser); ok {
			c.CloseScene(id)
		}
	}
	m.logger.Info("scene deleted", "scene", id)
	return nil
}

// SetColorbar replaces a scene's colorbar and broadcasts the change.
func (m *Manager) SetColorbar(sceneID string, c Colorbar) (Colorbar, error) {
	s, ok := m.Scene(sceneID)
	if !ok {
		return Colorbar{}, m.noScene("SetColorbar", sceneID)
	}
	s.mu.Lock()
	s.colorbar = c
	s.mu.Unlock()
	m.broadcast(sceneID, dataset.Update{Update: dataset.UpdateColorbar})
	return c, nil
}

// Rendered records that a client fetched a dataset's geometry. The first
// time a remote dataset is rendered it is subscribed to new timesteps.
func (m *Manager) Rendered(sceneID, datasetID string) {
	s, ok := m.Scene(sceneID)
	if !ok {
		return
	}
	d, ok := s.Dataset(datasetID)
	if !ok || !s.markRendered(datasetID) {
		return
	}
	src, remote := d.Source().(*parser.RemoteSource)
	if !remote || m.cfg.Subscriptions == nil {
		return
	}
	if m.cfg.Subscriptions.Subscribe(datasetID, src.Namespace(), sceneID, d) {
		m.logger.Info("dataset subscribed", "scene", sceneID, "dataset_hash", datasetID, "namespace", src.Namespace())
	}
}

// broadcast sends an update to every notifier of a scene.
func (m *Manager) broadcast(sceneID string, u dataset.Update) {
	m.mu.RLock()
	notifiers := append([]Notifier(nil), m.notifiers...)
	m.mu.RUnlock()
	for _, n := range notifiers {
		if err := n.Notify(sceneID, u); err != nil {
			m.logger.Warn("push failed", "notifier", n.Name(), "scene", sceneID, "error", err)
			if m.core != nil {
				m.core.RecordError("push", errors.Classify(err).String())
			}
			continue
		}
		if m.core != nil {
			m.core.RecordPush(n.Name(), u.Update)
		}
	}
}

func (m *Manager) load(ctx context.Context, s *Scene, names []string) AddResult {
	res := AddResult{SceneHash: s.ID, Success: []dataset.Meta{}}
	for _, name := range names {
		s.mu.RLock()
		dup := s.hasName(name)
		s.mu.RUnlock()
		if dup {
			res.Fail = append(res.Fail, name)
			continue
		}
		d, err := m.open(ctx, s.ID, name)
		if err != nil {
			m.logger.Warn("dataset not added", "scene", s.ID, "dataset", name, "error", err)
			res.Fail = append(res.Fail, name)
			continue
		}
		// a concurrent add may have taken the name while the dataset opened
		s.mu.Lock()
		dup = s.hasName(name)
		if !dup {
			s.datasets = append(s.datasets, d)
		}
		s.mu.Unlock()
		if dup {
			res.Fail = append(res.Fail, name)
			continue
		}
		res.Success = append(res.Success, d.Meta())
	}
	return res
}

func (m *Manager) open(ctx context.Context, sceneID, name string) (*dataset.Dataset, error) {
	src, err := m.source(name)
	if err != nil {
		return nil, err
	}
	p, err := parser.New(src, m.parserMetrics, m.logger)
	if err != nil {
		return nil, err
	}
	id := dataset.NewID()
	return dataset.New(ctx, dataset.Config{
		Meta: dataset.Meta{
			Name: name,
			Hash: id,
			Href: "/api/scenes/" + sceneID + "/" + id,
		},
		Parser:    p,
		Publisher: func(u dataset.Update) { m.broadcast(sceneID, u) },
		Logger:    m.logger,
		Metrics:   m.cfg.Registry,
	})
}

// source resolves a dataset name: a local directory first, then a remote
// namespace.
func (m *Manager) source(name string) (parser.Source, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, errors.WrapSelection("SceneManager", "source", "bad dataset name %q", name)
	}
	if parser.IsLocalDataset(m.cfg.DataDir, name) {
		return parser.NewLocalSource(m.cfg.DataDir, name)
	}
	if m.cfg.Remote != nil && m.cfg.Fetcher != nil {
		for _, ns := range m.cfg.Remote.Namespaces() {
			if ns == name {
				return parser.NewRemoteSource(name, m.cfg.Remote, m.cfg.Fetcher), nil
			}
		}
	}
	return nil, errors.WrapSelection("SceneManager", "source", "unknown dataset %q", name)
}

func (m *Manager) noScene(method, id string) error {
	return errors.WrapInvalid(errors.Kind(errors.ErrNotFound, "scene %s", id), "SceneManager", method, "find scene")
}
