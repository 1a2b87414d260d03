package proxy

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Klump3n/platt-backend-sub000/metric"
)

// linkMetrics holds the Prometheus metrics of the proxy link. A nil
// *linkMetrics records nothing.
type linkMetrics struct {
	frames     *prometheus.CounterVec
	nacks      *prometheus.CounterVec
	reconnects *prometheus.CounterVec
	downloads  *prometheus.CounterVec
	dropped    prometheus.Counter
	active     prometheus.Gauge
}

func newLinkMetrics(registry *metric.MetricsRegistry) *linkMetrics {
	if registry == nil {
		return nil
	}

	m := &linkMetrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "proxy",
			Name:      "frames_total",
			Help:      "Frames exchanged with the proxy",
		}, []string{"role", "direction"}),

		nacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "proxy",
			Name:      "nacks_total",
			Help:      "Negative acknowledgements sent or received",
		}, []string{"role", "direction"}),

		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "proxy",
			Name:      "reconnects_total",
			Help:      "Sub-connection re-establishment attempts",
		}, []string{"role"}),

		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "proxy",
			Name:      "downloads_total",
			Help:      "File downloads by result",
		}, []string{"result"}),

		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "proxy",
			Name:      "answers_dropped_total",
			Help:      "Download answers dropped after lingering in the queue",
		}),

		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "proxy",
			Name:      "active",
			Help:      "1 while both the index and push sub-connections are up",
		}),
	}

	_ = registry.RegisterCounterVec("proxy", "frames_total", m.frames)
	_ = registry.RegisterCounterVec("proxy", "nacks_total", m.nacks)
	_ = registry.RegisterCounterVec("proxy", "reconnects_total", m.reconnects)
	_ = registry.RegisterCounterVec("proxy", "downloads_total", m.downloads)
	_ = registry.RegisterCounter("proxy", "answers_dropped_total", m.dropped)
	_ = registry.RegisterGauge("proxy", "active", m.active)
	return m
}

func (m *linkMetrics) frame(role, direction string) {
	if m != nil {
		m.frames.WithLabelValues(role, direction).Inc()
	}
}

func (m *linkMetrics) nack(role, direction string) {
	if m != nil {
		m.nacks.WithLabelValues(role, direction).Inc()
	}
}

func (m *linkMetrics) reconnect(role string) {
	if m != nil {
		m.reconnects.WithLabelValues(role).Inc()
	}
}

func (m *linkMetrics) download(result string) {
	if m != nil {
		m.downloads.WithLabelValues(result).Inc()
	}
}

func (m *linkMetrics) drop() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *linkMetrics) setActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.active.Set(1)
	} else {
		m.active.Set(0)
	}
}
