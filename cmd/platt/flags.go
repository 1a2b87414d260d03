package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Klump3n/platt-backend-sub000/config"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath     string
	Port           int
	GatewayAddress string
	GatewayPort    int
	DataDir        string
	LogLevel       string
	SelfTest       bool
	ShowVersion    bool
}

// parseFlags reads args (without the program name). Environment variables
// are not consulted.
func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	def := config.Default().Server
	cfg := &CLIConfig{}

	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.IntVar(&cfg.Port, "port", def.Port, "Port for the REST and WebSocket server")
	fs.StringVar(&cfg.GatewayAddress, "gw_address", def.GatewayAddress,
		"Address of the data proxy; empty serves local datasets only")
	fs.IntVar(&cfg.GatewayPort, "gw_port", def.GatewayPort, "Port of the data proxy")
	fs.StringVar(&cfg.LogLevel, "log", def.LogLevel,
		"Log level: "+strings.Join(config.LogLevels, ", "))
	fs.StringVar(&cfg.DataDir, "data_dir", def.DataDir, "Directory holding local datasets")
	fs.StringVar(&cfg.ConfigPath, "config", "", "Optional YAML tuning file")
	fs.BoolVar(&cfg.SelfTest, "test", false, "Run the self-check and exit")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(stderr, "%s - FE dataset viewer backend\n\nUsage: %s [options]\n\nOptions:\n",
			appName, appName)
		fs.PrintDefaults()
		_, _ = fmt.Fprintf(stderr, `
Examples:
  # Serve the datasets below /data
  %s --data_dir=/data

  # Also serve remote datasets through a proxy
  %s --gw_address=10.0.0.5 --gw_port=8009 --log=debug

  # Check the mesh pipeline
  %s --test

Version: %s
Build: %s
`, appName, appName, appName, Version, BuildTime)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return cfg, nil
}

// apply copies the flags into the loaded configuration.
func (c *CLIConfig) apply(cfg *config.Config) {
	cfg.Server = config.ServerConfig{
		Port:           c.Port,
		GatewayAddress: c.GatewayAddress,
		GatewayPort:    c.GatewayPort,
		DataDir:        c.DataDir,
		LogLevel:       strings.ToLower(c.LogLevel),
	}
}
