package index

import (
	"sort"
	"sync"
)

// Mirror is the process-wide copy of the remote index. One lock guards the
// tree; it is held only for in-memory work. Readers get deep copies.
type Mirror struct {
	mu      sync.RWMutex
	tree    Tree
	version uint64
}

// NewMirror creates an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{tree: make(Tree)}
}

// Replace swaps in a complete tree.
func (m *Mirror) Replace(tree Tree) {
	c := tree.Clone()
	if c == nil {
		c = make(Tree)
	}
	m.mu.Lock()
	m.tree = c
	m.version++
	m.mu.Unlock()
}

// Apply merges a delta into the mirror.
func (m *Mirror) Apply(delta Tree) {
	m.mu.Lock()
	Merge(m.tree, delta)
	m.version++
	m.mu.Unlock()
}

// Version increases with every Replace and Apply.
func (m *Mirror) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Empty reports whether the mirror holds no namespace.
func (m *Mirror) Empty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tree) == 0
}

// Snapshot returns a deep copy of one namespace.
func (m *Mirror) Snapshot(namespace string) (Dataset, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.tree[namespace]
	if !ok {
		return nil, false
	}
	return ds.Clone(), true
}

// Tree returns a deep copy of the whole mirror.
func (m *Mirror) Tree() Tree {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Clone()
}

// Namespaces lists the known namespaces, sorted.
func (m *Mirror) Namespaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tree))
	for ns := range m.tree {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Timesteps lists the timesteps of namespace in natural order.
func (m *Mirror) Timesteps(namespace string) []string {
	m.mu.RLock()
	ds := m.tree[namespace]
	out := make([]string, 0, len(ds))
	for ts := range ds {
		out = append(out, ts)
	}
	m.mu.RUnlock()

	SortTimesteps(out)
	return out
}

// Sim returns a copy of the objects of one simtype at one timestep.
func (m *Mirror) Sim(namespace, timestep, simtype string) (*Sim, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sim := m.tree[namespace][timestep][simtype]
	if sim == nil {
		return nil, false
	}
	return sim.Clone(), true
}

// Has reports whether every object required at timestep is present.
func (m *Mirror) Has(namespace, timestep, simtype string, required *Sim) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree[namespace][timestep][simtype].Contains(required)
}
