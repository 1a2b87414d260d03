// Package metric exposes the backend's Prometheus metrics.
//
// MetricsRegistry wraps a private prometheus.Registry, registers a small set
// of backend-wide metrics (service status, errors, operation durations, REST
// requests, push deliveries) and lets components register their own
// collectors under the "platt" namespace:
//
//	frames := metric.Counter(registry, "proxy", "frames_total", "Frames exchanged with the proxy")
//	frames.Inc()
//
// Server serves the registry at /metrics on a dedicated port.
package metric
