package gateway

import (
	"github.com/Klump3n/platt-backend-sub000/errors"
)

// Config holds the REST gateway settings.
type Config struct {
	// EnableCORS enables CORS headers (requires explicit CORSOrigins)
	EnableCORS bool `yaml:"enable_cors"`

	// CORSOrigins lists allowed CORS origins. Use ["*"] for development only.
	CORSOrigins []string `yaml:"cors_origins"`

	// MaxRequestSize limits request body size in bytes (default: 1MB)
	MaxRequestSize int64 `yaml:"max_request_size"`
}

// Validate ensures the gateway configuration is valid
func (c *Config) Validate() error {
	if c.MaxRequestSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot be negative")
	}

	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 1024 * 1024
	}

	if c.MaxRequestSize > 100*1024*1024 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"max_request_size cannot exceed 100MB")
	}

	if c.EnableCORS && len(c.CORSOrigins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"enable_cors requires explicit cors_origins configuration (use [\"*\"] for development only)")
	}

	return nil
}

// DefaultConfig returns default gateway configuration
func DefaultConfig() Config {
	return Config{
		EnableCORS:     false,
		CORSOrigins:    []string{},
		MaxRequestSize: 1024 * 1024,
	}
}
