package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the backend-wide metrics shared by all components
type Metrics struct {
	ServiceStatus     *prometheus.GaugeVec
	HealthCheckStatus *prometheus.GaugeVec
	ErrorsTotal       *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	HTTPRequests      *prometheus.CounterVec
	PushPublished     *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		ServiceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "service",
				Name:      "status",
				Help:      "Service status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"service"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"service"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and kind",
			},
			[]string{"component", "kind"},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "operation",
				Name:      "duration_seconds",
				Help:      "Duration of parser and dataset operations in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 100},
			},
			[]string{"component", "operation"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "REST requests by route and status code",
			},
			[]string{"route", "code"},
		),

		PushPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "push",
				Name:      "published_total",
				Help:      "Push payloads delivered per notifier and update kind",
			},
			[]string{"notifier", "update"},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ServiceStatus,
		c.HealthCheckStatus,
		c.ErrorsTotal,
		c.OperationDuration,
		c.HTTPRequests,
		c.PushPublished,
	}
}

// RecordServiceStatus updates service status metric
func (c *Metrics) RecordServiceStatus(service string, status int) {
	c.ServiceStatus.WithLabelValues(service).Set(float64(status))
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(service string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(service).Set(value)
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, kind string) {
	c.ErrorsTotal.WithLabelValues(component, kind).Inc()
}

// RecordDuration records how long an operation took
func (c *Metrics) RecordDuration(component, operation string, d time.Duration) {
	c.OperationDuration.WithLabelValues(component, operation).Observe(d.Seconds())
}

// RecordHTTPRequest counts a REST request
func (c *Metrics) RecordHTTPRequest(route string, code int) {
	c.HTTPRequests.WithLabelValues(route, statusLabel(code)).Inc()
}

// RecordPush counts a delivered push payload
func (c *Metrics) RecordPush(notifier, update string) {
	c.PushPublished.WithLabelValues(notifier, update).Inc()
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
