package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Klump3n/platt-backend-sub000/dataset"
	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/health"
	"github.com/Klump3n/platt-backend-sub000/metric"
	"github.com/Klump3n/platt-backend-sub000/pkg/retry"
	"github.com/Klump3n/platt-backend-sub000/pkg/worker"
	"github.com/Klump3n/platt-backend-sub000/service"
)

// Publisher sends one message. natsclient.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Connector is implemented by publishers whose connection the mirror owns.
type Connector interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
}

// Config holds configuration for the mirror
type Config struct {
	// SubjectPrefix is prepended to the scene ID: <prefix>.<scene>.
	SubjectPrefix string
	// PublishTimeout bounds a single publish (default: 2s)
	PublishTimeout time.Duration
	// QueueSize bounds the updates waiting to be published (default: 256)
	QueueSize int
	// Connect is the retry policy for the initial connect (default:
	// retry forever every 5s)
	Connect retry.Config
}

// DefaultConfig returns the default mirror configuration
func DefaultConfig() Config {
	return Config{
		SubjectPrefix:  "platt.scenes",
		PublishTimeout: 2 * time.Second,
		QueueSize:      256,
		Connect:        retry.Reconnect(5 * time.Second),
	}
}

// Mirror publishes scene updates onto NATS subjects so that consumers other
// than browsers can follow a scene.
type Mirror struct {
	*service.BaseService

	pub    Publisher
	cfg    Config
	logger *slog.Logger

	published  prometheus.Counter
	failed     prometheus.Counter
	reconnects prometheus.Counter

	// one worker keeps a scene's updates in order
	pool      *worker.Pool[message]
	running   atomic.Bool
	connected atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type message struct {
	subject string
	data    []byte
}

// NewMirror creates a stopped mirror publishing through pub.
func NewMirror(pub Publisher, cfg Config, registry *metric.MetricsRegistry, logger *slog.Logger) *Mirror {
	def := DefaultConfig()
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = def.SubjectPrefix
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Connect.MaxAttempts == 0 {
		cfg.Connect = def.Connect
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mirror{
		pub:    pub,
		cfg:    cfg,
		logger: logger.With("component", "nats-mirror"),
		published: metric.Counter(registry, "nats_mirror", "published_total",
			"Scene updates published to NATS"),
		failed: metric.Counter(registry, "nats_mirror", "failed_total",
			"Scene updates that could not be published"),
		reconnects: metric.Counter(registry, "nats_mirror", "reconnects_total",
			"Times the NATS connection was re-established"),
	}
	if _, owned := pub.(Connector); !owned {
		m.connected.Store(true)
	}
	m.pool = worker.NewPool(1, cfg.QueueSize, m.publish,
		worker.WithMetrics[message](registry, "nats_mirror_queue"))
	m.BaseService = service.NewBaseService("nats-mirror",
		service.WithLogger(logger),
		service.WithMetrics(registry),
		service.WithHealthCheck(m.check))
	return m
}

// Subject returns the subject a scene's updates are published on.
func (m *Mirror) Subject(sceneID string) string {
	return m.cfg.SubjectPrefix + "." + sceneID
}

// Start connects in the background when the publisher is a Connector. The
// backend serves without the mirror until the connect succeeds.
func (m *Mirror) Start(ctx context.Context) error {
	if err := m.Starting(); err != nil {
		return err
	}
	ctx, m.cancel = context.WithCancel(ctx)
	if err := m.pool.Start(ctx); err != nil {
		m.Failed(err)
		return errors.WrapFatal(err, "Mirror", "Start", "start publish queue")
	}
	m.running.Store(true)

	if conn, ok := m.pub.(Connector); ok {
		cfg := m.cfg.Connect
		cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
			m.logger.Warn("NATS connect failed", "attempt", attempt, "retry_in", delay, "error", err)
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := retry.Do(ctx, cfg, func() error { return conn.Connect(ctx) }); err != nil {
				if ctx.Err() == nil {
					m.Failed(errors.WrapTransient(err, "Mirror", "Start", "connect"))
				}
				return
			}
			m.ConnectionChanged(true)
		}()
	}

	m.Running()
	return nil
}

// Stop flushes queued updates, abandons a pending connect and closes an
// owned connection.
func (m *Mirror) Stop(timeout time.Duration) error {
	if !m.Stopping() {
		return nil
	}
	defer m.Stopped()

	m.running.Store(false)
	if err := m.pool.Stop(timeout); err != nil {
		m.logger.Warn("Dropping unpublished scene updates", "error", err)
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	if conn, ok := m.pub.(Connector); ok {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := conn.Close(ctx); err != nil {
			return errors.WrapTransient(err, "Mirror", "Stop", "close connection")
		}
	}
	return nil
}

// Notify queues u for publishing on the scene's subject. Publish failures
// are logged and counted; only a full queue is reported to the caller.
func (m *Mirror) Notify(sceneID string, u dataset.Update) error {
	if !m.running.Load() {
		return errors.WrapTransient(errors.ErrNotStarted, "Mirror", "Notify", "publish update")
	}
	data, err := json.Marshal(u)
	if err != nil {
		m.failed.Inc()
		return errors.WrapInvalid(err, "Mirror", "Notify", "marshal update")
	}
	if err := m.pool.Submit(message{subject: m.Subject(sceneID), data: data}); err != nil {
		m.failed.Inc()
		return errors.WrapTransient(err, "Mirror", "Notify", "queue update for "+sceneID)
	}
	return nil
}

func (m *Mirror) publish(ctx context.Context, msg message) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.PublishTimeout)
	defer cancel()
	if err := m.pub.Publish(ctx, msg.subject, msg.data); err != nil {
		m.failed.Inc()
		m.logger.Debug("Publish failed", "subject", msg.subject, "error", err)
		return err
	}
	m.published.Inc()
	return nil
}

// ConnectionChanged records whether the NATS connection is up. The client
// reports drops and recoveries through it.
func (m *Mirror) ConnectionChanged(connected bool) {
	if m.connected.Swap(connected) == connected {
		return
	}
	if connected {
		m.logger.Info("NATS mirror connected", "subject_prefix", m.cfg.SubjectPrefix)
	} else {
		m.logger.Warn("NATS mirror lost its connection; updates are dropped until it returns")
	}
}

// Reconnected counts a connection the NATS library re-established.
func (m *Mirror) Reconnected() {
	m.reconnects.Inc()
}

func (m *Mirror) check() health.Status {
	if !m.connected.Load() {
		return health.NewDegraded(m.Name(), "not connected to NATS")
	}
	return health.NewHealthy(m.Name(), "publishing to "+m.cfg.SubjectPrefix+".*")
}
