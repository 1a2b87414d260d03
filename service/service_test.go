package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/health"
	"github.com/Klump3n/platt-backend-sub000/metric"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

type fakeService struct {
	*BaseService
	rec      *recorder
	startErr error
}

func newFake(name string, rec *recorder, opts ...Option) *fakeService {
	return &fakeService{BaseService: NewBaseService(name, opts...), rec: rec}
}

func (f *fakeService) Start(context.Context) error {
	if err := f.Starting(); err != nil {
		return err
	}
	if f.startErr != nil {
		f.Failed(f.startErr)
		return f.startErr
	}
	f.rec.add("start " + f.Name())
	f.Running()
	return nil
}

func (f *fakeService) Stop(time.Duration) error {
	if !f.Stopping() {
		return nil
	}
	f.rec.add("stop " + f.Name())
	f.Stopped()
	return nil
}

func TestBaseService_Lifecycle(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	s := NewBaseService("proxy", WithMetrics(registry))

	assert.Equal(t, StatusStopped, s.Status())
	assert.True(t, s.Health().IsUnhealthy())

	require.NoError(t, s.Starting())
	assert.True(t, s.Health().IsDegraded())
	err := s.Starting()
	assert.True(t, errors.Is(err, errors.ErrAlreadyStarted))

	s.Running()
	assert.True(t, s.Health().IsHealthy())
	assert.Equal(t, "running", s.Status().String())

	assert.True(t, s.Stopping())
	assert.False(t, s.Stopping())
	s.Stopped()
	assert.Equal(t, StatusStopped, s.Status())
	assert.Zero(t, s.Uptime())
}

func TestBaseService_HealthCheckWhileRunning(t *testing.T) {
	active := false
	s := NewBaseService("proxy", WithHealthCheck(func() health.Status {
		if active {
			return health.NewHealthy("", "active")
		}
		return health.NewDegraded("", "index or push connection down")
	}))
	require.NoError(t, s.Starting())
	s.Running()

	st := s.Health()
	assert.True(t, st.IsDegraded())
	assert.Equal(t, "proxy", st.Component)

	active = true
	assert.True(t, s.Health().IsHealthy())
}

func TestBaseService_Failed(t *testing.T) {
	s := NewBaseService("filecache")
	require.NoError(t, s.Starting())
	s.Failed(fmt.Errorf("listen tcp 127.0.0.1:8009: bind"))

	st := s.Health()
	assert.True(t, st.IsUnhealthy())
	assert.NotContains(t, st.Message, "127.0.0.1")

	require.NoError(t, s.Starting(), "failed service may be restarted")
}

func TestManager_StartStopOrder(t *testing.T) {
	rec := &recorder{}
	m := NewManager(nil)
	require.NoError(t, m.Register(newFake("a", rec)))
	require.NoError(t, m.Register(newFake("b", rec)))
	require.NoError(t, m.Register(newFake("c", rec)))
	assert.Error(t, m.Register(newFake("b", rec)))

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.Health().IsHealthy())
	require.NoError(t, m.StopAll(time.Second))

	assert.Equal(t, []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}, rec.events)
}

func TestManager_StartFailureStopsStarted(t *testing.T) {
	rec := &recorder{}
	m := NewManager(nil)
	bad := newFake("b", rec)
	bad.startErr = fmt.Errorf("boom")

	require.NoError(t, m.Register(newFake("a", rec)))
	require.NoError(t, m.Register(bad))
	require.NoError(t, m.Register(newFake("c", rec)))

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"start a", "stop a"}, rec.events)
}

func TestManager_HTTPEndpoints(t *testing.T) {
	rec := &recorder{}
	m := NewManager(nil)
	require.NoError(t, m.Register(newFake("a", rec)))

	mux := http.NewServeMux()
	m.RegisterHTTPHandlers(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	get := func(path string) (int, []byte) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, body
	}

	code, _ := get("/healthz")
	assert.Equal(t, http.StatusOK, code)

	code, body := get("/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "NOT READY", string(body))

	require.NoError(t, m.StartAll(context.Background()))
	defer m.StopAll(time.Second)

	code, body = get("/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "READY", string(body))

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st health.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, health.StateHealthy, st.Status)
	require.Len(t, st.SubStatuses, 1)
	assert.Equal(t, "a", st.SubStatuses[0].Component)
}
