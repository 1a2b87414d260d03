package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor tracks the latest status of named components.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records status under name.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

// Get returns the status recorded for name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// Remove stops tracking name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.statuses, name)
	m.mu.Unlock()
}

// ListComponents returns the tracked names in sorted order.
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

// AggregateHealth aggregates all tracked statuses, ordered by name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	names := m.ListComponents()

	m.mu.RLock()
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		if status, ok := m.statuses[name]; ok {
			subs = append(subs, status)
		}
	}
	m.mu.RUnlock()

	return Aggregate(systemName, subs)
}
