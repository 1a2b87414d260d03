// Package http provides the REST gateway of the viewer backend.
package http

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/Klump3n/platt-backend-sub000/dataset"
	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/gateway"
	"github.com/Klump3n/platt-backend-sub000/metric"
	"github.com/Klump3n/platt-backend-sub000/parser"
	"github.com/Klump3n/platt-backend-sub000/scene"
)

// getOrGenerateRequestID extracts the request ID from headers or generates
// a new one
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	// 16 hex characters (8 random bytes)
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Program identifies the running backend on /api/version.
type Program struct {
	Name    string `json:"programName"`
	Version string `json:"programVersion"`
}

// Gateway serves the REST API on top of a scene manager.
type Gateway struct {
	manager *scene.Manager
	program Program
	config  gateway.Config
	logger  *slog.Logger
	metrics *metric.Metrics

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
}

// NewGateway creates the REST gateway.
func NewGateway(manager *scene.Manager, program Program, config gateway.Config,
	registry *metric.MetricsRegistry, logger *slog.Logger) (*Gateway, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "config validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		manager: manager,
		program: program,
		config:  config,
		logger:  logger.With("component", "http-gateway"),
	}
	if registry != nil {
		g.metrics = registry.CoreMetrics()
	}
	return g, nil
}

// Requests returns the number of requests served and failed.
func (g *Gateway) Requests() (total, failed uint64) {
	return g.requestsTotal.Load(), g.requestsFailed.Load()
}

// RegisterHTTPHandlers mounts the REST routes below prefix. Responses are
// gzip-compressed for clients that accept it.
func (g *Gateway) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	prefix = strings.TrimSuffix(prefix, "/")
	api := http.NewServeMux()
	handle := func(method, path string, h http.HandlerFunc) {
		api.HandleFunc(method+" "+prefix+path, g.wrap(path, h))
	}

	handle("OPTIONS", "/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	handle("GET", "/version", g.handleVersion)
	handle("GET", "/datasets", g.handleDatasets)

	handle("GET", "/scenes", g.handleScenes)
	handle("POST", "/scenes", g.handleCreateScene)
	handle("GET", "/scenes/{scene}", g.handleScene)
	handle("POST", "/scenes/{scene}", g.handleAddDatasets)
	handle("DELETE", "/scenes/{scene}", g.handleDeleteScene)
	handle("GET", "/scenes/{scene}/colorbar", g.handleColorbar)
	handle("PATCH", "/scenes/{scene}/colorbar", g.handleSetColorbar)

	handle("GET", "/scenes/{scene}/{dataset}", g.handleDataset)
	handle("DELETE", "/scenes/{scene}/{dataset}", g.handleDeleteDataset)
	handle("GET", "/scenes/{scene}/{dataset}/orientation", g.handleOrientation)
	handle("PATCH", "/scenes/{scene}/{dataset}/orientation", g.handleSetOrientation)
	handle("GET", "/scenes/{scene}/{dataset}/timesteps", g.handleTimesteps)
	handle("PATCH", "/scenes/{scene}/{dataset}/timesteps", g.handleSetTimestep)
	handle("GET", "/scenes/{scene}/{dataset}/fields", g.handleFields)
	handle("PATCH", "/scenes/{scene}/{dataset}/fields", g.handleSetField)
	handle("GET", "/scenes/{scene}/{dataset}/elementsets", g.handleElementSets)
	handle("PATCH", "/scenes/{scene}/{dataset}/elementsets", g.handleSetElementSet)
	handle("GET", "/scenes/{scene}/{dataset}/mesh/hash", g.handleHashes)
	handle("GET", "/scenes/{scene}/{dataset}/mesh/geometry", g.handleGeometry)
	handle("GET", "/scenes/{scene}/{dataset}/mesh/field", g.handleField)

	mux.Handle(prefix+"/", gzhttp.GzipHandler(api))
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (g *Gateway) wrap(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		begin := time.Now()
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)
		g.requestsTotal.Add(1)

		if g.config.EnableCORS {
			g.applyCORS(w, r)
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		if rec.status >= http.StatusBadRequest {
			g.requestsFailed.Add(1)
		}
		if g.metrics != nil {
			g.metrics.RecordHTTPRequest(route, rec.status)
			g.metrics.RecordDuration("http", route, time.Since(begin))
		}
		g.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "request_id", requestID,
			"duration_ms", time.Since(begin).Milliseconds())
	}
}

// applyCORS applies CORS headers to the response
func (g *Gateway) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range g.config.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}

	if allowed {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")
	}
}

// decode reads a size-limited JSON body into v.
func (g *Gateway) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, g.config.MaxRequestSize+1))
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if int64(len(body)) > g.config.MaxRequestSize {
		g.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", g.config.MaxRequestSize))
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		g.writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// mapErrorToHTTPStatus maps backend errors to HTTP status codes
func mapErrorToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrProxyTimeout):
		return http.StatusGatewayTimeout
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError returns a safe error message for external clients
func sanitizeError(err error) string {
	switch mapErrorToHTTPStatus(err) {
	case http.StatusNotFound:
		return "resource not found"
	case http.StatusGatewayTimeout:
		return "request timeout"
	case http.StatusBadRequest:
		return "invalid request"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}

func (g *Gateway) fail(w http.ResponseWriter, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		g.logger.Error("request failed", "error", err)
	} else {
		g.logger.Debug("request rejected", "error", err)
	}
	g.writeError(w, status, sanitizeError(err))
}

// writeError writes an error response
func (g *Gateway) writeError(w http.ResponseWriter, statusCode int, message string) {
	g.writeStatus(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, v any) {
	g.writeStatus(w, http.StatusOK, v)
}

func (g *Gateway) writeStatus(w http.ResponseWriter, statusCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("Failed to encode response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}

func (g *Gateway) scene(w http.ResponseWriter, r *http.Request) (*scene.Scene, bool) {
	s, ok := g.manager.Scene(r.PathValue("scene"))
	if !ok {
		g.writeError(w, http.StatusNotFound, "scene not found")
	}
	return s, ok
}

func (g *Gateway) dataset(w http.ResponseWriter, r *http.Request) (*dataset.Dataset, bool) {
	s, ok := g.scene(w, r)
	if !ok {
		return nil, false
	}
	d, ok := s.Dataset(r.PathValue("dataset"))
	if !ok {
		g.writeError(w, http.StatusNotFound, "dataset not found")
	}
	return d, ok
}

// logRejected records a PATCH the dataset refused. The client gets the
// unchanged state with status 200.
func (g *Gateway) logRejected(r *http.Request, err error) {
	g.logger.Info("selection rejected", "path", r.URL.Path, "error", err)
}

type datasetsRequest struct {
	DatasetsToAdd []string `json:"datasetsToAdd"`
}

func (g *Gateway) handleVersion(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, g.program)
}

func (g *Gateway) handleDatasets(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, map[string][]string{"availableDatasets": g.manager.AvailableDatasets(r.Context())})
}

func (g *Gateway) handleScenes(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, g.manager.Scenes())
}

func (g *Gateway) handleCreateScene(w http.ResponseWriter, r *http.Request) {
	var req datasetsRequest
	if !g.decode(w, r, &req) {
		return
	}
	res, err := g.manager.CreateScene(r.Context(), req.DatasetsToAdd)
	if err != nil {
		g.logger.Info("scene not created", "datasets", req.DatasetsToAdd, "error", err)
		g.writeStatus(w, http.StatusBadRequest, res)
		return
	}
	g.writeJSON(w, res)
}

func (g *Gateway) handleScene(w http.ResponseWriter, r *http.Request) {
	if s, ok := g.scene(w, r); ok {
		g.writeJSON(w, s.Info())
	}
}

func (g *Gateway) handleAddDatasets(w http.ResponseWriter, r *http.Request) {
	var req datasetsRequest
	if !g.decode(w, r, &req) {
		return
	}
	res, err := g.manager.AddDatasets(r.Context(), r.PathValue("scene"), req.DatasetsToAdd)
	if err != nil {
		g.fail(w, err)
		return
	}
	g.writeJSON(w, res)
}

func (g *Gateway) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("scene")
	if err := g.manager.DeleteScene(id); err != nil {
		g.fail(w, err)
		return
	}
	g.writeJSON(w, map[string]string{"deleted": id})
}

func (g *Gateway) handleColorbar(w http.ResponseWriter, r *http.Request) {
	if s, ok := g.scene(w, r); ok {
		g.writeJSON(w, s.Colorbar())
	}
}

func (g *Gateway) handleSetColorbar(w http.ResponseWriter, r *http.Request) {
	if _, ok := g.scene(w, r); !ok {
		return
	}
	var c scene.Colorbar
	if !g.decode(w, r, &c) {
		return
	}
	res, err := g.manager.SetColorbar(r.PathValue("scene"), c)
	if err != nil {
		g.fail(w, err)
		return
	}
	g.writeJSON(w, res)
}

func (g *Gateway) handleDataset(w http.ResponseWriter, r *http.Request) {
	if d, ok := g.dataset(w, r); ok {
		g.writeJSON(w, d.Meta())
	}
}

func (g *Gateway) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("dataset")
	if err := g.manager.RemoveDataset(r.PathValue("scene"), id); err != nil {
		g.fail(w, err)
		return
	}
	g.writeJSON(w, map[string]string{"deleted": id})
}

func (g *Gateway) handleOrientation(w http.ResponseWriter, r *http.Request) {
	if d, ok := g.dataset(w, r); ok {
		g.writeJSON(w, d.Orientation())
	}
}

func (g *Gateway) handleSetOrientation(w http.ResponseWriter, r *http.Request) {
	d, ok := g.dataset(w, r)
	if !ok {
		return
	}
	var req struct {
		DatasetOrientation []float64 `json:"datasetOrientation"`
	}
	if !g.decode(w, r, &req) {
		return
	}
	res, err := d.SetOrientation(req.DatasetOrientation)
	if err != nil {
		g.logRejected(r, err)
	}
	g.writeJSON(w, res)
}

type timestepState struct {
	List     []string `json:"datasetTimestepList,omitempty"`
	Selected string   `json:"datasetTimestepSelected"`
}

func (g *Gateway) handleTimesteps(w http.ResponseWriter, r *http.Request) {
	d, ok := g.dataset(w, r)
	if !ok {
		return
	}
	list, err := d.Timesteps(r.Context())
	if err != nil {
		g.fail(w, err)
		return
	}
	g.writeJSON(w, timestepState{List: list, Selected: d.Timestep()})
}

func (g *Gateway) handleSetTimestep(w http.ResponseWriter, r *http.Request) {
	d, ok := g.dataset(w, r)
	if !ok {
		return
	}
	var req struct {
		Selected string `json:"datasetTimestepSelected"`
	}
	if !g.decode(w, r, &req) {
		return
	}
	ts, err := scene.ResolveTimestep(r.Context(), d, req.Selected)
	if err == nil {
		ts, err = d.SetTimestep(r.Context(), ts)
	} else {
		ts = d.Timestep()
	}
	if err != nil {
		g.logRejected(r, err)
	}
	g.writeJSON(w, timestepState{Selected: ts})
}

type fieldState struct {
	List     *parser.FieldList     `json:"datasetFieldList,omitempty"`
	Selected parser.FieldSelection `json:"datasetFieldSelected"`
}

func (g *Gateway) handleFields(w http.ResponseWriter, r *http.Request) {
	d, ok := g.dataset(w, r)
	if !ok {
		return
	}
	list, err := d.Fields(r.Context())
	if err != nil {
		g.fail(w, err)
		return
	}
	g.writeJSON(w, fieldState{List: &list, Selected: d.SelectedField()})
}

func (g *Gateway) handleSetField(w http.ResponseWriter, r *http.Request) {
	d, ok := g.dataset(w, r)
	if !ok {
		return
	}
	var req struct {
		Selected *parser.FieldSelection `json:"datasetFieldSelected"`
	}
	if !g.decode(w, r, &req) {
		return
	}
	if req.Selected == nil {
		g.writeError(w, http.StatusBadRequest, "datasetFieldSelected missing")
		return
	}
	field, err := d.SetField(r.Context(), *req.Selected)
	if err != nil {
		g.logRejected(r, err)
	}
	g.writeJSON(w, fieldState{Selected: field})
}

type elementSetState struct {
	List     []string `json:"datasetElementsetList,omitempty"`
	Selected string   `json:"datasetElementsetSelected"`
}

func (g *Gateway) handleElementSets(w http.ResponseWriter, r *http.Request) {
	d, ok := g.dataset(w, r)
	if !ok {
		return
	}
	list, err := d.ElementSets(r.Context())
	if err != nil {
		g.fail(w, err)
		return
	}
	g.writeJSON(w, elementSetState{List: list, Selected: d.ElementSet()})
}

func (g *Gateway) handleSetElementSet(w http.ResponseWriter, r *http.Request) {
	d, ok := g.dataset(w, r)
	if !ok {
		return
	}
	var req struct {
		Selected string `json:"datasetElementsetSelected"`
	}
	if !g.decode(w, r, &req) {
		return
	}
	set, err := d.SetElementSet(r.Context(), req.Selected)
	if err != nil {
		g.logRejected(r, err)
	}
	g.writeJSON(w, elementSetState{Selected: set})
}

func (g *Gateway) handleHashes(w http.ResponseWriter, r *http.Request) {
	if d, ok := g.dataset(w, r); ok {
		g.writeJSON(w, d.Hashes())
	}
}

func (g *Gateway) handleGeometry(w http.ResponseWriter, r *http.Request) {
	d, ok := g.dataset(w, r)
	if !ok {
		return
	}
	g.manager.Rendered(r.PathValue("scene"), d.ID())
	g.writeJSON(w, d.Mesh(r.URL.Query().Get("hash")))
}

func (g *Gateway) handleField(w http.ResponseWriter, r *http.Request) {
	if d, ok := g.dataset(w, r); ok {
		g.writeJSON(w, d.Field(r.URL.Query().Get("hash")))
	}
}
