package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/health"
)

// Manager owns the registered services. Services start in registration
// order and stop in reverse order.
type Manager struct {
	mu       sync.RWMutex
	services []Service
	started  []Service
	logger   *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger.With("component", "service-manager")}
}

// Register appends svc to the start order.
func (m *Manager) Register(svc Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.services {
		if existing.Name() == svc.Name() {
			return errors.WrapInvalid(fmt.Errorf("service %s already registered", svc.Name()),
				"Manager", "Register", "duplicate service")
		}
	}
	m.services = append(m.services, svc)
	return nil
}

// Services returns the registered services in start order.
func (m *Manager) Services() []Service {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Service(nil), m.services...)
}

// StartAll starts every service in order. If one fails, the services
// already started are stopped again before the error is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, svc := range m.Services() {
		m.logger.Debug("Starting service", "service", svc.Name())
		if err := svc.Start(ctx); err != nil {
			m.logger.Error("Failed to start service", "service", svc.Name(), "error", err)
			_ = m.StopAll(5 * time.Second)
			return errors.Wrap(err, "Manager", "StartAll", "start "+svc.Name())
		}

		m.mu.Lock()
		m.started = append(m.started, svc)
		m.mu.Unlock()
	}
	m.logger.Info("All services started", "count", len(m.started))
	return nil
}

// StopAll stops the started services in reverse order.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	started := m.started
	m.started = nil
	m.mu.Unlock()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		begin := time.Now()
		if err := svc.Stop(timeout); err != nil {
			m.logger.Error("Service stop failed", "service", svc.Name(), "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
			continue
		}
		m.logger.Debug("Service stopped", "service", svc.Name(),
			"duration_ms", time.Since(begin).Milliseconds())
	}

	if len(errs) > 0 {
		return fmt.Errorf("stop errors: %v", errs)
	}
	return nil
}

// Health aggregates the health of all registered services.
func (m *Manager) Health() health.Status {
	services := m.Services()
	subs := make([]health.Status, 0, len(services))
	for _, svc := range services {
		subs = append(subs, svc.Health())
	}
	return health.Aggregate("platt", subs)
}

// RegisterHTTPHandlers mounts /health, /healthz and /readyz on mux.
func (m *Manager) RegisterHTTPHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", m.handleHealth)
	mux.HandleFunc("GET /healthz", m.handleLiveness)
	mux.HandleFunc("GET /readyz", m.handleReadiness)
}

func (m *Manager) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := m.Health()
	w.Header().Set("Content-Type", "application/json")
	if st.IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(st); err != nil {
		m.logger.Error("Failed to encode health response", "error", err)
	}
}

func (m *Manager) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReadiness reports ready once no service is unhealthy. A degraded
// proxy link still serves local datasets, so it does not block readiness.
func (m *Manager) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	if m.Health().IsUnhealthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NOT READY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}
