// Package config holds the backend configuration: the server settings given
// on the command line and the tuning values read from an optional YAML file.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/c2h5oh/datasize"

	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/gateway"
)

// Config is the complete backend configuration.
type Config struct {
	Server       ServerConfig       `yaml:"-"`
	LogFormat    string             `yaml:"log_format"`
	MetricsPort  int                `yaml:"metrics_port"`
	FileCache    FileCacheConfig    `yaml:"file_cache"`
	Index        IndexConfig        `yaml:"index"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Proxy        ProxyConfig        `yaml:"proxy"`
	NATS         NATSConfig         `yaml:"nats"`
	Gateway      gateway.Config     `yaml:"gateway"`
}

// ServerConfig is populated from command-line flags only.
type ServerConfig struct {
	Port           int
	GatewayAddress string
	GatewayPort    int
	DataDir        string
	LogLevel       string
}

// GatewayEnabled reports whether a proxy address was given.
func (s ServerConfig) GatewayEnabled() bool {
	return s.GatewayAddress != ""
}

// GatewayAddr returns host:port of the proxy.
func (s ServerConfig) GatewayAddr() string {
	return fmt.Sprintf("%s:%d", s.GatewayAddress, s.GatewayPort)
}

// FileCacheConfig tunes the local file cache.
type FileCacheConfig struct {
	TTL           time.Duration     `yaml:"ttl"`
	SweepInterval time.Duration     `yaml:"sweep_interval"`
	FetchTimeout  time.Duration     `yaml:"fetch_timeout"`
	PollInterval  time.Duration     `yaml:"poll_interval"`
	Capacity      datasize.ByteSize `yaml:"capacity"`
}

// IndexConfig tunes the index mirror refresher.
type IndexConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	InitialTimeout  time.Duration `yaml:"initial_timeout"`
	ReaskTimeout    time.Duration `yaml:"reask_timeout"`
}

// SubscriptionConfig tunes the subscription engine.
type SubscriptionConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ProxyConfig tunes the proxy link.
type ProxyConfig struct {
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	DownloadAttempts int           `yaml:"download_attempts"`
	// DownloadWorkers bounds the downloads in flight.
	DownloadWorkers  int           `yaml:"download_workers"`
}

// NATSConfig configures the optional NATS push mirror. An empty URL
// disables it.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
}

// Enabled reports whether the NATS mirror is configured.
func (n NATSConfig) Enabled() bool {
	return n.URL != ""
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8008,
			GatewayPort: 8009,
			DataDir:     ".",
			LogLevel:    "info",
		},
		LogFormat: "text",
		FileCache: FileCacheConfig{
			TTL:           60 * time.Second,
			SweepInterval: time.Second,
			FetchTimeout:  100 * time.Second,
			PollInterval:  100 * time.Millisecond,
		},
		Index: IndexConfig{
			RefreshInterval: 120 * time.Second,
			InitialTimeout:  100 * time.Second,
			ReaskTimeout:    5 * time.Second,
		},
		Subscription: SubscriptionConfig{
			Interval: time.Second,
		},
		Proxy: ProxyConfig{
			ReconnectDelay:   3500 * time.Millisecond,
			DownloadAttempts: 3,
			DownloadWorkers:  4,
		},
		NATS: NATSConfig{
			SubjectPrefix:  "platt.scenes",
			ConnectTimeout: 5 * time.Second,
			ReconnectWait:  2 * time.Second,
		},
		Gateway: gateway.DefaultConfig(),
	}
}

// LogLevels lists the accepted --log values.
var LogLevels = []string{"debug", "info", "warning", "error", "critical", "quiet"}

// Validate checks the configuration for values the backend cannot run with.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		add("port %d out of range", c.Server.Port)
	}
	if c.Server.GatewayPort < 0 || c.Server.GatewayPort > 65535 {
		add("gw_port %d out of range", c.Server.GatewayPort)
	}
	if !contains(LogLevels, c.Server.LogLevel) {
		add("log level %q not one of %s", c.Server.LogLevel, strings.Join(LogLevels, ", "))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		add("log_format %q must be text or json", c.LogFormat)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		add("metrics_port %d out of range", c.MetricsPort)
	}

	for name, d := range map[string]time.Duration{
		"file_cache.ttl":            c.FileCache.TTL,
		"file_cache.sweep_interval": c.FileCache.SweepInterval,
		"file_cache.fetch_timeout":  c.FileCache.FetchTimeout,
		"file_cache.poll_interval":  c.FileCache.PollInterval,
		"index.refresh_interval":    c.Index.RefreshInterval,
		"index.initial_timeout":     c.Index.InitialTimeout,
		"index.reask_timeout":       c.Index.ReaskTimeout,
		"subscription.interval":     c.Subscription.Interval,
		"proxy.reconnect_delay":     c.Proxy.ReconnectDelay,
	} {
		if d <= 0 {
			add("%s must be positive, got %v", name, d)
		}
	}
	if c.Proxy.DownloadAttempts < 1 {
		add("proxy.download_attempts must be at least 1, got %d", c.Proxy.DownloadAttempts)
	}
	if c.Proxy.DownloadWorkers < 1 {
		add("proxy.download_workers must be at least 1, got %d", c.Proxy.DownloadWorkers)
	}
	if err := c.Gateway.Validate(); err != nil {
		add("gateway: %v", err)
	}
	if c.NATS.Enabled() {
		if !isValidSubject(c.NATS.SubjectPrefix) {
			add("nats.subject_prefix %q is not a valid subject", c.NATS.SubjectPrefix)
		}
		if c.NATS.ConnectTimeout <= 0 || c.NATS.ReconnectWait <= 0 {
			add("nats.connect_timeout and nats.reconnect_wait must be positive")
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return errors.WrapFatal(
			errors.Kind(errors.ErrInvalidConfig, "%s", strings.Join(problems, "; ")),
			"Config", "Validate", "configuration check")
	}
	return nil
}

// isValidSubject checks that s is usable as a NATS subject prefix.
func isValidSubject(s string) bool {
	if s == "" || strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
