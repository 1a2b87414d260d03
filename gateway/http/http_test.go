package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klump3n/platt-backend-sub000/dataset"
	pkgerrors "github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/gateway"
	"github.com/Klump3n/platt-backend-sub000/metric"
	"github.com/Klump3n/platt-backend-sub000/parser"
	"github.com/Klump3n/platt-backend-sub000/scene"
	"github.com/Klump3n/platt-backend-sub000/testutil"
)

func TestGetOrGenerateRequestID(t *testing.T) {
	tests := []struct {
		name          string
		headerValue   string
		shouldExtract bool
	}{
		{name: "extract existing request ID", headerValue: "existing-request-id-12345", shouldExtract: true},
		{name: "generate new request ID when header missing"},
		{name: "extract UUID-style request ID", headerValue: "550e8400-e29b-41d4-a716-446655440000", shouldExtract: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.headerValue != "" {
				req.Header.Set("X-Request-ID", tt.headerValue)
			}

			requestID := getOrGenerateRequestID(req)
			if tt.shouldExtract {
				assert.Equal(t, tt.headerValue, requestID)
			} else {
				assert.Len(t, requestID, 16)
			}
		})
	}
}

func TestGetOrGenerateRequestID_Uniqueness(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)

	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := getOrGenerateRequestID(req)
		assert.False(t, ids[id], "duplicate request ID %s", id)
		ids[id] = true
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, http.StatusInternalServerError},
		{"not found", pkgerrors.WrapInvalid(pkgerrors.Kind(pkgerrors.ErrNotFound, "scene x"), "c", "m", "find"), http.StatusNotFound},
		{"bad selection", pkgerrors.WrapSelection("c", "m", "bad"), http.StatusBadRequest},
		{"proxy timeout", pkgerrors.WrapTimeout("c", "m", "slow"), http.StatusGatewayTimeout},
		{"transient", pkgerrors.WrapTransient(pkgerrors.ErrConnectionLost, "c", "m", "send"), http.StatusServiceUnavailable},
		{"fatal", pkgerrors.WrapFatal(fmt.Errorf("boom"), "c", "m", "run"), http.StatusInternalServerError},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, mapErrorToHTTPStatus(tt.err))
			assert.NotContains(t, sanitizeError(tt.err), "boom")
		})
	}
}

type apiFixture struct {
	server   *httptest.Server
	manager  *scene.Manager
	registry *metric.MetricsRegistry
	gateway  *Gateway
}

func newAPI(t *testing.T) apiFixture {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, testutil.WriteTimestep(root, "cube", "1", testutil.CubeTimestep(2)))
	require.NoError(t, testutil.WriteTimestep(root, "cube", "2", testutil.CubeTimestep(1)))
	require.NoError(t, testutil.WriteTimestep(root, "other", "1", testutil.CubeTimestep(1)))
	require.NoError(t, testutil.WriteTimestep(root, "large", "1", testutil.CubeTimestep(6)))

	registry := metric.NewMetricsRegistry()
	manager := scene.NewManager(scene.Config{DataDir: root, Registry: registry})
	g, err := NewGateway(manager, Program{Name: "platt", Version: "test"}, gateway.DefaultConfig(), registry, nil)
	require.NoError(t, err)

	mux := http.NewServeMux()
	g.RegisterHTTPHandlers("/api", mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return apiFixture{server: server, manager: manager, registry: registry, gateway: g}
}

func (f apiFixture) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f apiFixture) createScene(t *testing.T, names ...string) scene.AddResult {
	t.Helper()
	body, err := json.Marshal(map[string][]string{"datasetsToAdd": names})
	require.NoError(t, err)
	var res scene.AddResult
	require.Equal(t, http.StatusOK, f.do(t, "POST", "/api/scenes", string(body), &res))
	return res
}

func TestVersionAndDatasets(t *testing.T) {
	f := newAPI(t)

	var version Program
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/api/version", "", &version))
	assert.Equal(t, Program{Name: "platt", Version: "test"}, version)

	var datasets map[string][]string
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/api/datasets", "", &datasets))
	assert.Equal(t, []string{"cube", "large", "other"}, datasets["availableDatasets"])
}

func TestSceneLifecycle(t *testing.T) {
	f := newAPI(t)

	res := f.createScene(t, "cube", "missing")
	require.Len(t, res.Success, 1)
	assert.Equal(t, []string{"missing"}, res.Fail)
	sceneURL := "/api/scenes/" + res.SceneHash

	var scenes map[string]scene.Info
	assert.Equal(t, http.StatusOK, f.do(t, "GET", "/api/scenes", "", &scenes))
	assert.Contains(t, scenes, res.SceneHash)

	var added scene.AddResult
	assert.Equal(t, http.StatusOK, f.do(t, "POST", sceneURL, `{"datasetsToAdd":["other"]}`, &added))
	require.Len(t, added.Success, 1)

	var info scene.Info
	assert.Equal(t, http.StatusOK, f.do(t, "GET", sceneURL, "", &info))
	require.Len(t, info.Datasets, 2)
	assert.Equal(t, "cube", info.Datasets[0].Name)

	var meta dataset.Meta
	assert.Equal(t, http.StatusOK, f.do(t, "GET", info.Datasets[1].Href, "", &meta))
	assert.Equal(t, "other", meta.Name)

	var deleted map[string]string
	assert.Equal(t, http.StatusOK, f.do(t, "DELETE", info.Datasets[1].Href, "", &deleted))
	assert.Equal(t, info.Datasets[1].Hash, deleted["deleted"])

	assert.Equal(t, http.StatusOK, f.do(t, "DELETE", sceneURL, "", &deleted))
	assert.Equal(t, res.SceneHash, deleted["deleted"])
	assert.Equal(t, http.StatusNotFound, f.do(t, "GET", sceneURL, "", nil))
}

func TestCreateSceneRejectsBadInput(t *testing.T) {
	f := newAPI(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/scenes", `{"datasetsToAdd":`, nil))

	var res scene.AddResult
	assert.Equal(t, http.StatusBadRequest, f.do(t, "POST", "/api/scenes", `{"datasetsToAdd":["nope"]}`, &res))
	assert.Empty(t, res.Success)
	assert.Equal(t, []string{"nope"}, res.Fail)
}

func TestUnknownIDsAreNotFound(t *testing.T) {
	f := newAPI(t)
	res := f.createScene(t, "cube")

	for _, path := range []string{
		"/api/scenes/nope",
		"/api/scenes/nope/colorbar",
		"/api/scenes/" + res.SceneHash + "/nope",
		"/api/scenes/" + res.SceneHash + "/nope/timesteps",
		"/api/scenes/" + res.SceneHash + "/nope/mesh/geometry",
	} {
		assert.Equal(t, http.StatusNotFound, f.do(t, "GET", path, "", nil), path)
	}
	assert.Equal(t, http.StatusNotFound, f.do(t, "DELETE", "/api/scenes/nope", "", nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, "POST", "/api/scenes/nope", `{"datasetsToAdd":["cube"]}`, nil))
}

func TestTimestepSelection(t *testing.T) {
	f := newAPI(t)
	href := f.createScene(t, "cube").Success[0].Href

	var state timestepState
	assert.Equal(t, http.StatusOK, f.do(t, "GET", href+"/timesteps", "", &state))
	assert.Equal(t, []string{"1", "2"}, state.List)
	assert.Equal(t, "1", state.Selected)

	assert.Equal(t, http.StatusOK, f.do(t, "PATCH", href+"/timesteps",
		`{"datasetTimestepSelected":"_next_timestep"}`, &state))
	assert.Equal(t, "2", state.Selected)

	assert.Equal(t, http.StatusOK, f.do(t, "PATCH", href+"/timesteps",
		`{"datasetTimestepSelected":"9"}`, &state))
	assert.Equal(t, "2", state.Selected)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "PATCH", href+"/timesteps", `not json`, nil))
}

func TestFieldAndElementSetSelection(t *testing.T) {
	f := newAPI(t)
	href := f.createScene(t, "cube").Success[0].Href

	var fields fieldState
	assert.Equal(t, http.StatusOK, f.do(t, "GET", href+"/fields", "", &fields))
	require.NotNil(t, fields.List)
	assert.Equal(t, []string{"temperature"}, fields.List.Nodal)
	assert.Equal(t, []string{"stress"}, fields.List.Elemental)
	assert.Equal(t, parser.BlankField, fields.Selected)

	assert.Equal(t, http.StatusOK, f.do(t, "PATCH", href+"/fields",
		`{"datasetFieldSelected":{"type":"nodal","name":"temperature"}}`, &fields))
	assert.Equal(t, parser.FieldSelection{Type: parser.NodalType, Name: "temperature"}, fields.Selected)

	assert.Equal(t, http.StatusOK, f.do(t, "PATCH", href+"/fields",
		`{"datasetFieldSelected":{"type":"nodal","name":"pressure"}}`, &fields))
	assert.Equal(t, "temperature", fields.Selected.Name)

	assert.Equal(t, http.StatusBadRequest, f.do(t, "PATCH", href+"/fields", `{}`, nil))

	var sets elementSetState
	assert.Equal(t, http.StatusOK, f.do(t, "GET", href+"/elementsets", "", &sets))
	assert.Equal(t, []string{"corner"}, sets.List)
	assert.Equal(t, parser.NoElementSet, sets.Selected)

	assert.Equal(t, http.StatusOK, f.do(t, "PATCH", href+"/elementsets",
		`{"datasetElementsetSelected":"corner"}`, &sets))
	assert.Equal(t, "corner", sets.Selected)
}

func TestOrientation(t *testing.T) {
	f := newAPI(t)
	href := f.createScene(t, "cube").Success[0].Href

	var o dataset.Orientation
	assert.Equal(t, http.StatusOK, f.do(t, "GET", href+"/orientation", "", &o))
	assert.False(t, o.DatasetOrientationInit)

	assert.Equal(t, http.StatusOK, f.do(t, "PATCH", href+"/orientation", `{"datasetOrientation":[1,2]}`, &o))
	assert.False(t, o.DatasetOrientationInit)

	values, err := json.Marshal(map[string][]float64{"datasetOrientation": make([]float64, dataset.OrientationSize)})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, f.do(t, "PATCH", href+"/orientation", string(values), &o))
	assert.True(t, o.DatasetOrientationInit)
}

func TestColorbar(t *testing.T) {
	f := newAPI(t)
	url := "/api/scenes/" + f.createScene(t, "cube").SceneHash + "/colorbar"

	var c scene.Colorbar
	assert.Equal(t, http.StatusOK, f.do(t, "GET", url, "", &c))
	assert.Nil(t, c.Selected)

	body := `{"selected":"values","current":{"min":null,"max":null},"values":{"min":0,"max":25}}`
	assert.Equal(t, http.StatusOK, f.do(t, "PATCH", url, body, &c))
	require.NotNil(t, c.Selected)
	assert.Equal(t, "values", *c.Selected)
	require.NotNil(t, c.Values.Max)
	assert.Equal(t, 25.0, *c.Values.Max)

	assert.Equal(t, http.StatusOK, f.do(t, "GET", url, "", &c))
	assert.Equal(t, "values", *c.Selected)
}

func TestMeshPayloads(t *testing.T) {
	f := newAPI(t)
	href := f.createScene(t, "cube").Success[0].Href

	var hashes parser.Hashes
	assert.Equal(t, http.StatusOK, f.do(t, "GET", href+"/mesh/hash", "", &hashes))
	assert.Len(t, hashes.Mesh, 40)
	assert.Len(t, hashes.Field, 40)

	var geometry dataset.Geometry
	assert.Equal(t, http.StatusOK, f.do(t, "GET", href+"/mesh/geometry", "", &geometry))
	require.NotNil(t, geometry.MeshHash)
	assert.Equal(t, hashes.Mesh, *geometry.MeshHash)
	assert.Len(t, geometry.Nodes, 3*26)

	geometry = dataset.Geometry{}
	assert.Equal(t, http.StatusOK, f.do(t, "GET", href+"/mesh/geometry?hash="+hashes.Mesh, "", &geometry))
	assert.Nil(t, geometry.MeshHash)
	assert.Empty(t, geometry.Nodes)

	var field dataset.FieldData
	assert.Equal(t, http.StatusOK, f.do(t, "GET", href+"/mesh/field?hash=stale", "", &field))
	require.NotNil(t, field.FieldHash)
	assert.Equal(t, hashes.Field, *field.FieldHash)
	assert.Len(t, field.Field, 26)
}

func TestResponsesAreCompressed(t *testing.T) {
	f := newAPI(t)
	href := f.createScene(t, "large").Success[0].Href

	req, err := http.NewRequest("GET", f.server.URL+href+"/mesh/geometry", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
}

func TestRequestsAreCounted(t *testing.T) {
	f := newAPI(t)
	f.do(t, "GET", "/api/version", "", nil)
	f.do(t, "GET", "/api/scenes/nope", "", nil)

	total, failed := f.gateway.Requests()
	assert.Equal(t, uint64(2), total)
	assert.Equal(t, uint64(1), failed)

	families, err := f.registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "platt_http_requests_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestServerLifecycle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
	s := NewServer(0, mux, nil, nil)
	assert.Empty(t, s.Address())

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.Health().IsHealthy())

	_, port, err := net.SplitHostPort(s.Address())
	require.NoError(t, err)
	resp, err := http.Get("http://127.0.0.1:" + port + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(bytes.TrimSpace(body)))

	require.NoError(t, s.Stop(time.Second))
	assert.Empty(t, s.Address())
	require.NoError(t, s.Stop(time.Second))
}
