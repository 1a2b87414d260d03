package metric

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatheredNames(t *testing.T, r *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())

	registry.Metrics.RecordError("parser", "malformed binary")
	registry.Metrics.RecordHTTPRequest("/api/datasets", http.StatusOK)
	registry.Metrics.RecordDuration("parser", "timestep_data", 20*time.Millisecond)

	names := gatheredNames(t, registry)
	assert.True(t, names["platt_errors_total"])
	assert.True(t, names["platt_http_requests_total"])
	assert.True(t, names["platt_operation_duration_seconds"])
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "dup_counter", Help: "dup"})
	require.NoError(t, registry.RegisterCounter("svc", "dup_counter", counter))

	err := registry.RegisterCounter("svc", "dup_counter", counter)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate metric registration")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "temp_gauge", Help: "temp"})
	require.NoError(t, registry.RegisterGauge("svc", "temp_gauge", gauge))

	assert.True(t, registry.Unregister("svc", "temp_gauge"))
	assert.False(t, registry.Unregister("svc", "temp_gauge"))
}

func TestHelpersRegisterUnderNamespace(t *testing.T) {
	registry := NewMetricsRegistry()

	c := Counter(registry, "proxy", "frames_total", "frames")
	g := Gauge(registry, "proxy", "active", "active")
	h := Histogram(registry, "parser", "run_seconds", "runs", nil)
	c.Inc()
	g.Set(1)
	h.Observe(0.2)

	names := gatheredNames(t, registry)
	assert.True(t, names["platt_proxy_frames_total"])
	assert.True(t, names["platt_proxy_active"])
	assert.True(t, names["platt_parser_run_seconds"])

	assert.NotPanics(t, func() {
		Counter(nil, "x", "y_total", "unregistered").Inc()
	})
}

func TestServer_ServesMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	Counter(registry, "test", "hits_total", "hits").Add(3)

	server := NewServer(0, "", registry)
	require.NoError(t, server.Start())
	defer func() { _ = server.Stop() }()

	resp, err := http.Get(server.Address())
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "platt_test_hits_total 3")
}
