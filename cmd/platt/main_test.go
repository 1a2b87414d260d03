package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klump3n/platt-backend-sub000/config"
)

func TestParseFlagsDefaults(t *testing.T) {
	cli, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, 8008, cli.Port)
	assert.Equal(t, 8009, cli.GatewayPort)
	assert.Empty(t, cli.GatewayAddress)
	assert.Equal(t, "info", cli.LogLevel)
	assert.Equal(t, ".", cli.DataDir)
	assert.False(t, cli.SelfTest)
}

func TestParseFlags(t *testing.T) {
	cli, err := parseFlags([]string{
		"--port", "9000", "--gw_address", "10.0.0.5", "--gw_port", "9001",
		"--log", "WARNING", "--data_dir", "/data",
	}, io.Discard)
	require.NoError(t, err)

	cfg := config.Default()
	cli.apply(cfg)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "10.0.0.5:9001", cfg.Server.GatewayAddr())
	assert.Equal(t, "warning", cfg.Server.LogLevel)
	assert.Equal(t, "/data", cfg.Server.DataDir)
	assert.NoError(t, cfg.Validate())

	_, err = parseFlags([]string{"stray"}, io.Discard)
	assert.Error(t, err)

	_, err = parseFlags([]string{"-h"}, io.Discard)
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--version"}, &out, io.Discard))
	assert.Equal(t, "platt version "+Version+"\n", out.String())
}

func TestRunRejectsBadLogLevel(t *testing.T) {
	err := run([]string{"--log", "verbose"}, io.Discard, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}

func TestRunSelfCheck(t *testing.T) {
	defer slog.SetDefault(slog.Default())

	var out bytes.Buffer
	require.NoError(t, run([]string{"--test"}, &out, io.Discard))
	assert.Contains(t, out.String(), "Self-check passed")
	assert.Contains(t, out.String(), "triangles=108")
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(&buf, "critical", "json")
	logger.Error("dropped")
	logger.Log(context.Background(), LevelCritical, "kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "CRITICAL", rec["level"])
	assert.Equal(t, "platt", rec["service"])

	buf.Reset()
	setupLogger(&buf, "quiet", "text").Error("nothing")
	assert.Zero(t, buf.Len())

	setupLogger(&buf, "warning", "text").Info("below level")
	assert.Zero(t, buf.Len())
}

func TestAppServesLocalDatasets(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Server.DataDir = t.TempDir()
	cfg.NATS.URL = "nats://127.0.0.1:1"

	a, err := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Len(t, a.services.Services(), 3, "hub, nats mirror and http server without a proxy")

	require.NoError(t, a.services.StartAll(context.Background()))
	defer func() { _ = a.services.StopAll(time.Second) }()

	_, port, err := net.SplitHostPort(a.server.Address())
	require.NoError(t, err)
	base := "http://127.0.0.1:" + port

	resp, err := http.Get(base + "/api/version")
	require.NoError(t, err)
	var program map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&program))
	resp.Body.Close()
	assert.Equal(t, "platt", program["programName"])

	resp, err = http.Get(base + "/api/datasets")
	require.NoError(t, err)
	var datasets []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&datasets))
	resp.Body.Close()
	assert.Empty(t, datasets)

	resp, err = http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
