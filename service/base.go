// Package service provides the lifecycle contract shared by the backend's
// long-lived components (proxy link, file cache, index refresher,
// subscription engine, push notifiers) and a manager that starts them in
// order, stops them in reverse, and serves their aggregated health.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/health"
	"github.com/Klump3n/platt-backend-sub000/metric"
)

// Status represents the lifecycle state of a service.
type Status int32

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Service is implemented by every long-lived component.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Health() health.Status
}

// HealthCheckFunc reports the health of a running service.
type HealthCheckFunc func() health.Status

// Option configures a BaseService.
type Option func(*BaseService)

// WithMetrics records lifecycle transitions in the core service metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *BaseService) {
		s.metrics = registry
	}
}

// WithLogger sets the logger; the service name is added as an attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(s *BaseService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthCheck sets the check consulted while the service is running.
func WithHealthCheck(fn HealthCheckFunc) Option {
	return func(s *BaseService) {
		s.healthCheck = fn
	}
}

// BaseService tracks the lifecycle state of a component. Components embed
// it and call Starting/Running/Stopping/Stopped around their own loops.
type BaseService struct {
	name        string
	logger      *slog.Logger
	metrics     *metric.MetricsRegistry
	healthCheck HealthCheckFunc

	status    atomic.Int32
	startTime atomic.Pointer[time.Time]
	lastErr   atomic.Pointer[error]
}

// NewBaseService creates a stopped BaseService.
func NewBaseService(name string, opts ...Option) *BaseService {
	s := &BaseService{
		name:   name,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("service", name)
	s.record(StatusStopped)
	return s
}

// Name returns the service name.
func (s *BaseService) Name() string { return s.name }

// Logger returns the service logger.
func (s *BaseService) Logger() *slog.Logger { return s.logger }

// Status returns the current lifecycle state.
func (s *BaseService) Status() Status { return Status(s.status.Load()) }

// Uptime returns the time since the service last became running.
func (s *BaseService) Uptime() time.Duration {
	if t := s.startTime.Load(); t != nil && s.Status() == StatusRunning {
		return time.Since(*t)
	}
	return 0
}

// Starting moves a stopped or failed service to starting. It returns
// ErrAlreadyStarted if the service is running or starting.
func (s *BaseService) Starting() error {
	for {
		cur := s.Status()
		if cur == StatusRunning || cur == StatusStarting {
			return errors.WrapInvalid(errors.ErrAlreadyStarted, s.name, "Start", "lifecycle")
		}
		if s.status.CompareAndSwap(int32(cur), int32(StatusStarting)) {
			s.record(StatusStarting)
			return nil
		}
	}
}

// Running marks the service as running.
func (s *BaseService) Running() {
	now := time.Now()
	s.startTime.Store(&now)
	s.lastErr.Store(nil)
	s.status.Store(int32(StatusRunning))
	s.record(StatusRunning)
}

// Stopping moves a running service to stopping. It returns false if the
// service was not running, so Stop can be idempotent.
func (s *BaseService) Stopping() bool {
	if s.status.CompareAndSwap(int32(StatusRunning), int32(StatusStopping)) {
		s.record(StatusStopping)
		return true
	}
	if s.status.CompareAndSwap(int32(StatusStarting), int32(StatusStopping)) {
		s.record(StatusStopping)
		return true
	}
	return false
}

// Stopped marks the service as stopped.
func (s *BaseService) Stopped() {
	s.status.Store(int32(StatusStopped))
	s.record(StatusStopped)
}

// Failed marks the service as failed with err.
func (s *BaseService) Failed(err error) {
	s.lastErr.Store(&err)
	s.status.Store(int32(StatusFailed))
	s.record(StatusFailed)
	s.logger.Error("Service failed", "error", err)
}

// Health reports the lifecycle state, deferring to the health check while
// running.
func (s *BaseService) Health() health.Status {
	var st health.Status
	switch status := s.Status(); status {
	case StatusRunning:
		if s.healthCheck != nil {
			st = s.healthCheck()
			st.Component = s.name
		} else {
			st = health.NewHealthy(s.name, "Service operating normally")
		}
		st = st.WithMetrics(&health.Metrics{Uptime: s.Uptime()})
	case StatusStarting:
		st = health.NewDegraded(s.name, "Service is starting")
	case StatusStopping:
		st = health.NewDegraded(s.name, "Service is stopping")
	case StatusFailed:
		var err error
		if p := s.lastErr.Load(); p != nil {
			err = *p
		}
		st = health.FromError(s.name, err)
		if err == nil {
			st = health.NewUnhealthy(s.name, "Service failed")
		}
	default:
		st = health.NewUnhealthy(s.name, fmt.Sprintf("Service is %s", status))
	}

	if s.metrics != nil {
		s.metrics.CoreMetrics().RecordHealthStatus(s.name, st.Healthy)
	}
	return st
}

func (s *BaseService) record(status Status) {
	if s.metrics != nil {
		s.metrics.CoreMetrics().RecordServiceStatus(s.name, int(status))
	}
}
