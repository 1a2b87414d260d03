package natsclient

import (
	"log/slog"
	"time"
)

// ClientOption configures a Client.
type ClientOption func(*Client) error

// WithReconnectWait sets the pause between reconnect attempts after an
// established connection drops.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.reconnectWait = d
		}
		return nil
	}
}

// WithTimeout bounds a single connect attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d > 0 {
			c.timeout = d
		}
		return nil
	}
}

// WithLogger sets the client's logger. nil keeps slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// WithReconnectCallback runs fn, on its own goroutine, after the connection
// was re-established by the NATS library.
func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithHealthChangeCallback runs fn whenever the connection comes up or goes
// down.
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// WithCircuitBreakerThreshold sets how many consecutive connect failures
// open the circuit. Values below 1 mean 5.
func WithCircuitBreakerThreshold(threshold int32) ClientOption {
	return func(c *Client) error {
		if threshold < 1 {
			threshold = 5
		}
		c.circuitThreshold = threshold
		return nil
	}
}

// WithMaxBackoff caps how long an open circuit waits before it lets the next
// connect through. Values below a second mean one minute.
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d < time.Second {
			d = time.Minute
		}
		c.maxBackoff = d
		return nil
	}
}

// WithName sets the connection name shown by the server.
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}
