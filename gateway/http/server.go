package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/health"
	"github.com/Klump3n/platt-backend-sub000/metric"
	"github.com/Klump3n/platt-backend-sub000/service"
)

// Server is the backend's HTTP listener. It serves a mux built by the
// caller: the REST gateway, the WebSocket hub and the health endpoints.
type Server struct {
	*service.BaseService

	port    int
	handler http.Handler
	logger  *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	serveErr chan error
}

// NewServer creates a stopped server for handler on port. Port 0 picks a
// free port.
func NewServer(port int, handler http.Handler, registry *metric.MetricsRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		port:    port,
		handler: handler,
		logger:  logger.With("component", "http-server"),
	}
	s.BaseService = service.NewBaseService("http-server",
		service.WithLogger(logger),
		service.WithMetrics(registry),
		service.WithHealthCheck(s.check))
	return s
}

// Start binds the port and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start(_ context.Context) error {
	if err := s.Starting(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		err = errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("listen on port %d", s.port))
		s.Failed(err)
		return err
	}

	s.mu.Lock()
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.serveErr = make(chan error, 1)
	server, serveErr := s.server, s.serveErr
	s.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.Failed(errors.WrapFatal(err, "Server", "Serve", "serve http"))
			serveErr <- err
		}
		close(serveErr)
	}()

	s.Running()
	s.logger.Info("HTTP server listening", "address", ln.Addr().String())
	return nil
}

// Stop shuts the server down, waiting up to timeout for open requests.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.Stopping() {
		return nil
	}
	defer s.Stopped()

	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Server", "Stop", "shutdown")
	}
	return nil
}

// Errors delivers a serve failure after Start. It is closed when the
// server stops.
func (s *Server) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Address returns the bound host:port, or "" when not listening.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) check() health.Status {
	if s.Address() == "" {
		return health.NewUnhealthy(s.Name(), "not listening")
	}
	return health.NewHealthy(s.Name(), "listening on "+s.Address())
}
