package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klump3n/platt-backend-sub000/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8008, cfg.Server.Port)
	assert.Equal(t, 8009, cfg.Server.GatewayPort)
	assert.False(t, cfg.Server.GatewayEnabled())
	assert.Equal(t, 60*time.Second, cfg.FileCache.TTL)
	assert.Equal(t, time.Second, cfg.FileCache.SweepInterval)
	assert.Equal(t, 100*time.Second, cfg.FileCache.FetchTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.FileCache.PollInterval)
	assert.Equal(t, 120*time.Second, cfg.Index.RefreshInterval)
	assert.Equal(t, 100*time.Second, cfg.Index.InitialTimeout)
	assert.Equal(t, 5*time.Second, cfg.Index.ReaskTimeout)
	assert.Equal(t, 3500*time.Millisecond, cfg.Proxy.ReconnectDelay)
	assert.Equal(t, 3, cfg.Proxy.DownloadAttempts)
	assert.Equal(t, 4, cfg.Proxy.DownloadWorkers)
	assert.False(t, cfg.NATS.Enabled())
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "platt.yaml", `
log_format: json
metrics_port: 9100
file_cache:
  ttl: 30s
  capacity: "2GB"
index:
  refresh_interval: 1m
proxy:
  reconnect_delay: 500ms
nats:
  url: nats://localhost:4222
  reconnect_wait: 250ms
gateway:
  enable_cors: true
  cors_origins: ["http://localhost:3000"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 9100, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.FileCache.TTL)
	assert.Equal(t, 2*datasize.GB, cfg.FileCache.Capacity)
	assert.Equal(t, time.Second, cfg.FileCache.SweepInterval, "unset keys keep defaults")
	assert.Equal(t, time.Minute, cfg.Index.RefreshInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Proxy.ReconnectDelay)
	assert.True(t, cfg.NATS.Enabled())
	assert.Equal(t, "platt.scenes", cfg.NATS.SubjectPrefix)
	assert.Equal(t, 250*time.Millisecond, cfg.NATS.ReconnectWait)
	assert.Equal(t, 5*time.Second, cfg.NATS.ConnectTimeout)
	assert.True(t, cfg.Gateway.EnableCORS)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Gateway.CORSOrigins)
	assert.Equal(t, int64(1<<20), cfg.Gateway.MaxRequestSize)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown key", "a.yaml", "no_such_key: 1\n"},
		{"bad duration", "b.yaml", "file_cache:\n  ttl: soon\n"},
		{"json file", "c.json", "{}"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(writeFile(t, test.file, test.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
			assert.True(t, errors.IsFatal(err))
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }, "log level"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "port 70000"},
		{"zero ttl", func(c *Config) { c.FileCache.TTL = 0 }, "file_cache.ttl"},
		{"no attempts", func(c *Config) { c.Proxy.DownloadAttempts = 0 }, "download_attempts"},
		{"no download workers", func(c *Config) { c.Proxy.DownloadWorkers = 0 }, "download_workers"},
		{"bad subject", func(c *Config) {
			c.NATS.URL = "nats://x"
			c.NATS.SubjectPrefix = "platt scenes"
		}, "subject_prefix"},
		{"zero nats timeout", func(c *Config) {
			c.NATS.URL = "nats://x"
			c.NATS.ConnectTimeout = 0
		}, "nats.connect_timeout"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"cors without origins", func(c *Config) {
			c.Gateway.EnableCORS = true
			c.Gateway.CORSOrigins = nil
		}, "gateway"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.want)
			assert.True(t, errors.Is(err, errors.ErrInvalidConfig))
		})
	}

	for _, level := range LogLevels {
		cfg := Default()
		cfg.Server.LogLevel = level
		assert.NoError(t, cfg.Validate(), level)
	}
}

func TestGatewayAddr(t *testing.T) {
	s := ServerConfig{GatewayAddress: "store.local", GatewayPort: 8009}
	assert.True(t, s.GatewayEnabled())
	assert.Equal(t, "store.local:8009", s.GatewayAddr())
}
