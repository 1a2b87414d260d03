package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Klump3n/platt-backend-sub000/dataset"
	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/health"
	"github.com/Klump3n/platt-backend-sub000/metric"
	"github.com/Klump3n/platt-backend-sub000/service"
)

// Config holds configuration for the WebSocket hub
type Config struct {
	// SceneExists gates connections; nil accepts every scene.
	SceneExists func(sceneID string) bool
	// PingInterval between keep-alive pings (default: 30s)
	PingInterval time.Duration
	// WriteTimeout per frame (default: 10s)
	WriteTimeout time.Duration
	// ReadTimeout without any frame or pong before a client is dropped
	// (default: 60s)
	ReadTimeout time.Duration
}

// DefaultConfig returns the default hub configuration
func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

// Metrics holds Prometheus metrics for the hub
type Metrics struct {
	clientsConnected prometheus.Gauge
	connectionTotal  prometheus.Counter
	messagesSent     prometheus.Counter
	bytesSent        prometheus.Counter
	errorsTotal      *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	m := &Metrics{
		clientsConnected: metric.Gauge(registry, "websocket", "clients_connected",
			"Number of currently connected clients"),
		connectionTotal: metric.Counter(registry, "websocket", "client_connections_total",
			"Total client connections (including disconnected)"),
		messagesSent: metric.Counter(registry, "websocket", "messages_sent_total",
			"Total frames sent to WebSocket clients"),
		bytesSent: metric.Counter(registry, "websocket", "bytes_sent_total",
			"Total bytes sent to WebSocket clients"),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "WebSocket hub errors",
		}, []string{"error_type"}),
	}
	if registry != nil {
		_ = registry.RegisterCounterVec("websocket", "errors_total", m.errorsTotal)
	}
	return m
}

// client is one connected browser.
type client struct {
	id          string
	scene       string
	conn        *websocket.Conn
	connectedAt time.Time
	writeMutex  sync.Mutex
	closed      atomic.Bool
	closeOnce   sync.Once
}

// Hub fans scene updates out to the scene's WebSocket clients.
type Hub struct {
	*service.BaseService

	cfg      Config
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[string]map[string]*client

	running  atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewHub creates a stopped hub.
func NewHub(cfg Config, registry *metric.MetricsRegistry, logger *slog.Logger) *Hub {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		cfg:     cfg,
		logger:  logger.With("component", "websocket"),
		metrics: newMetrics(registry),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[string]*client),
	}
	h.BaseService = service.NewBaseService("websocket-hub",
		service.WithLogger(logger),
		service.WithMetrics(registry),
		service.WithHealthCheck(h.check))
	return h
}

// Start begins client maintenance. Connections are refused until then.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.Starting(); err != nil {
		return err
	}
	h.shutdown = make(chan struct{})
	h.running.Store(true)

	h.wg.Add(1)
	go h.maintainClients(ctx)

	h.Running()
	return nil
}

// Stop closes every client and waits for their goroutines.
func (h *Hub) Stop(timeout time.Duration) error {
	if !h.Stopping() {
		return nil
	}
	defer h.Stopped()

	h.running.Store(false)
	close(h.shutdown)
	h.closeAllClients()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.New("client goroutines still running"), "Hub", "Stop", "wait for clients")
	}
}

// RegisterHTTPHandlers mounts the upgrade endpoint at prefix/{scene}.
func (h *Hub) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc("GET "+strings.TrimSuffix(prefix, "/")+"/{scene}", h.handleWebSocket)
}

// Clients returns the number of clients connected to a scene.
func (h *Hub) Clients(sceneID string) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients[sceneID])
}

// Notify writes u to every client of the scene. Clients whose write fails
// are dropped; that is not an error of the broadcast.
func (h *Hub) Notify(sceneID string, u dataset.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		h.metrics.errorsTotal.WithLabelValues("json_marshal").Inc()
		return errors.WrapInvalid(err, "Hub", "Notify", "marshal update")
	}

	var wg sync.WaitGroup
	for _, c := range h.snapshot(sceneID) {
		wg.Add(1)
		go func(c *client) {
			defer wg.Done()
			if err := h.send(c, data); err != nil {
				h.logger.Debug("client write failed", "client", c.id, "scene", sceneID, "error", err)
				h.metrics.errorsTotal.WithLabelValues("client_send").Inc()
				h.removeClient(c)
				return
			}
			h.metrics.messagesSent.Inc()
			h.metrics.bytesSent.Add(float64(len(data)))
		}(c)
	}
	wg.Wait()
	return nil
}

// CloseScene disconnects every client of a scene.
func (h *Hub) CloseScene(sceneID string) {
	for _, c := range h.snapshot(sceneID) {
		h.removeClient(c)
	}
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sceneID := r.PathValue("scene")
	if !h.running.Load() {
		http.Error(w, "hub not running", http.StatusServiceUnavailable)
		return
	}
	if h.cfg.SceneExists != nil && !h.cfg.SceneExists(sceneID) {
		http.Error(w, "scene not found", http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.errorsTotal.WithLabelValues("connection_upgrade").Inc()
		return
	}

	c := &client{
		id:          uuid.NewString(),
		scene:       sceneID,
		conn:        conn,
		connectedAt: time.Now(),
	}
	h.clientsMu.Lock()
	if h.clients[sceneID] == nil {
		h.clients[sceneID] = make(map[string]*client)
	}
	h.clients[sceneID][c.id] = c
	h.clientsMu.Unlock()

	h.metrics.connectionTotal.Inc()
	h.metrics.clientsConnected.Inc()
	h.logger.Info("client connected", "client", c.id, "scene", sceneID)

	h.wg.Add(1)
	go h.handleClient(c)
}

// handleClient reads until the connection fails. Clients send nothing the
// hub acts on; reading keeps pongs and close frames flowing.
func (h *Hub) handleClient(c *client) {
	defer h.wg.Done()
	defer h.removeClient(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	}
}

// send writes one frame with the connection's write lock held.
func (h *Hub) send(c *client, data []byte) error {
	if c.closed.Load() {
		return errors.WrapTransient(errors.ErrConnectionLost, "Hub", "send", "client closed")
	}
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (h *Hub) removeClient(c *client) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		h.clientsMu.Lock()
		if set := h.clients[c.scene]; set != nil {
			delete(set, c.id)
			if len(set) == 0 {
				delete(h.clients, c.scene)
			}
		}
		h.clientsMu.Unlock()

		h.metrics.clientsConnected.Dec()
		_ = c.conn.Close()
		h.logger.Info("client disconnected", "client", c.id, "scene", c.scene,
			"connected_s", int(time.Since(c.connectedAt).Seconds()))
	})
}

func (h *Hub) snapshot(sceneID string) []*client {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	out := make([]*client, 0, len(h.clients[sceneID]))
	for _, c := range h.clients[sceneID] {
		if !c.closed.Load() {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) all() []*client {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	var out []*client
	for _, set := range h.clients {
		for _, c := range set {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) closeAllClients() {
	for _, c := range h.all() {
		h.removeClient(c)
	}
}

// maintainClients pings every client periodically
func (h *Hub) maintainClients(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		case <-ticker.C:
			h.pingClients()
		}
	}
}

func (h *Hub) pingClients() {
	for _, c := range h.all() {
		c.writeMutex.Lock()
		err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout))
		c.writeMutex.Unlock()
		if err != nil {
			h.metrics.errorsTotal.WithLabelValues("ping").Inc()
			h.removeClient(c)
		}
	}
}

func (h *Hub) check() health.Status {
	return health.NewHealthy(h.Name(), "serving push clients")
}
