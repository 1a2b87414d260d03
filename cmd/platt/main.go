// Package main implements the entry point for the platt backend, which
// serves finite-element datasets to browser viewers: local datasets from a
// data directory and remote ones through a data proxy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Klump3n/platt-backend-sub000/config"
	"github.com/Klump3n/platt-backend-sub000/filecache"
	gatewayhttp "github.com/Klump3n/platt-backend-sub000/gateway/http"
	"github.com/Klump3n/platt-backend-sub000/index"
	"github.com/Klump3n/platt-backend-sub000/metric"
	"github.com/Klump3n/platt-backend-sub000/natsclient"
	natsout "github.com/Klump3n/platt-backend-sub000/output/nats"
	"github.com/Klump3n/platt-backend-sub000/output/websocket"
	"github.com/Klump3n/platt-backend-sub000/proxy"
	"github.com/Klump3n/platt-backend-sub000/scene"
	"github.com/Klump3n/platt-backend-sub000/service"
	"github.com/Klump3n/platt-backend-sub000/subscription"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "platt"
)

const shutdownTimeout = 10 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Log(context.Background(), LevelCritical, "Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return err
	}
	cli.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := setupLogger(stdout, cfg.Server.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx := context.Background()
	if cli.SelfTest {
		return selfCheck(ctx, logger)
	}

	slog.Info("Starting platt backend",
		"version", Version,
		"build_time", BuildTime,
		"port", cfg.Server.Port,
		"data_dir", cfg.Server.DataDir,
		"gateway", cfg.Server.GatewayEnabled())

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	return a.runWithSignalHandling(ctx)
}

// app holds the wired backend.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	services *service.Manager
	server   *gatewayhttp.Server
	metrics  *metric.Server
}

// newApp builds every component and registers the long-lived ones in start
// order: proxy link, file cache, index refresher and subscription engine
// (all only with a proxy), push notifiers, and finally the HTTP server.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		services: service.NewManager(logger),
	}

	sceneCfg := scene.Config{
		DataDir:  cfg.Server.DataDir,
		Registry: a.registry,
		Logger:   logger,
	}

	if cfg.Server.GatewayEnabled() {
		link := proxy.NewLink(cfg.Server.GatewayAddr(), cfg.Proxy, a.registry, logger)
		cache, err := filecache.New(link, cfg.FileCache, a.registry, logger)
		if err != nil {
			return nil, fmt.Errorf("create file cache: %w", err)
		}
		mirror := index.NewMirror()
		refresher := index.NewRefresher(link, mirror, cfg.Index, a.registry, logger)
		engine := subscription.NewEngine(mirror, cfg.Subscription, a.registry, logger)

		if err := a.register(link, cache, refresher, engine); err != nil {
			return nil, err
		}
		sceneCfg.Remote = mirror
		sceneCfg.Fetcher = cache
		sceneCfg.Subscriptions = engine
	}

	scenes := scene.NewManager(sceneCfg)

	hubCfg := websocket.DefaultConfig()
	hubCfg.SceneExists = func(id string) bool {
		_, ok := scenes.Scene(id)
		return ok
	}
	hub := websocket.NewHub(hubCfg, a.registry, logger)
	scenes.AddNotifier(hub)
	if err := a.register(hub); err != nil {
		return nil, err
	}

	if cfg.NATS.Enabled() {
		var mirror *natsout.Mirror
		client, err := natsclient.NewClient(cfg.NATS.URL,
			natsclient.WithName(appName),
			natsclient.WithLogger(logger),
			natsclient.WithTimeout(cfg.NATS.ConnectTimeout),
			natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
			natsclient.WithHealthChangeCallback(func(healthy bool) { mirror.ConnectionChanged(healthy) }),
			natsclient.WithReconnectCallback(func() { mirror.Reconnected() }))
		if err != nil {
			return nil, fmt.Errorf("create NATS client: %w", err)
		}
		mirror = natsout.NewMirror(client, natsout.Config{SubjectPrefix: cfg.NATS.SubjectPrefix}, a.registry, logger)
		scenes.AddNotifier(mirror)
		if err := a.register(mirror); err != nil {
			return nil, err
		}
	}

	gw, err := gatewayhttp.NewGateway(scenes,
		gatewayhttp.Program{Name: appName, Version: Version},
		cfg.Gateway, a.registry, logger)
	if err != nil {
		return nil, fmt.Errorf("create REST gateway: %w", err)
	}

	mux := http.NewServeMux()
	gw.RegisterHTTPHandlers("/api", mux)
	hub.RegisterHTTPHandlers("/websocket", mux)
	a.services.RegisterHTTPHandlers(mux)

	a.server = gatewayhttp.NewServer(cfg.Server.Port, mux, a.registry, logger)
	if err := a.register(a.server); err != nil {
		return nil, err
	}

	if cfg.MetricsPort > 0 {
		a.metrics = metric.NewServer(cfg.MetricsPort, "/metrics", a.registry)
	}
	return a, nil
}

func (a *app) register(svcs ...service.Service) error {
	for _, svc := range svcs {
		if err := a.services.Register(svc); err != nil {
			return fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}
	return nil
}

// runWithSignalHandling starts the services and blocks until a shutdown
// signal arrives or the HTTP server fails.
func (a *app) runWithSignalHandling(ctx context.Context) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if a.metrics != nil {
		if err := a.metrics.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			if err := a.metrics.Stop(); err != nil {
				slog.Warn("Error stopping metrics server", "error", err)
			}
		}()
		slog.Info("Metrics server listening", "address", a.metrics.Address())
	}

	if err := a.services.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	slog.Info("platt backend started", "address", a.server.Address())

	var serveErr error
	select {
	case <-signalCtx.Done():
		slog.Info("Received shutdown signal")
	case err, ok := <-a.server.Errors():
		if ok && err != nil {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	if err := a.services.StopAll(shutdownTimeout); err != nil {
		slog.Error("Error stopping services", "error", err)
		if serveErr == nil {
			serveErr = fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	if serveErr != nil {
		return serveErr
	}

	slog.Info("platt backend shutdown complete")
	return nil
}
