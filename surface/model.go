// Package surface turns a volumetric mesh into the surface the viewer
// draws: outward triangles, wireframe and free-edge line lists, and the
// tables that map bulk nodal and elemental fields onto the surface nodes.
package surface

import (
	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/format"
)

// Model is an extracted surface. Index lists refer to surface nodes.
type Model struct {
	// Nodes holds xyz per surface node.
	Nodes []float64
	// Triangles holds three node indices per triangle.
	Triangles []int32
	// Wireframe holds two node indices per edge shared by two faces.
	Wireframe []int32
	// FreeEdges holds two node indices per edge of a single face.
	FreeEdges []int32
	Center    [3]float64

	// SurfaceNodes lists the bulk index of every surface node, ascending.
	// Surface node i is bulk node SurfaceNodes[i].
	SurfaceNodes []int32
	// SurfaceElements lists, per type, the ascending indices of elements
	// owning at least one surface face.
	SurfaceElements map[format.ElementType][]int32

	bulkNodes int
	nodeIndex []int32
}

// NodeCount is the number of surface nodes.
func (m *Model) NodeCount() int { return len(m.SurfaceNodes) }

// TriangleCount is the number of surface triangles.
func (m *Model) TriangleCount() int { return len(m.Triangles) / 3 }

// BulkNodeCount is the node count of the mesh the surface came from.
func (m *Model) BulkNodeCount() int { return m.bulkNodes }

// SurfaceIndex maps a bulk node to its surface node.
func (m *Model) SurfaceIndex(bulk int32) (int32, bool) {
	if bulk < 0 || int(bulk) >= len(m.nodeIndex) {
		return 0, false
	}
	i := m.nodeIndex[bulk]
	return i, i >= 0
}

// RemapNodal picks the surface values out of a bulk nodal field.
func (m *Model) RemapNodal(values []float64) ([]float64, error) {
	if len(values) != m.bulkNodes {
		return nil, errors.WrapMalformed("surface", "RemapNodal",
			"nodal field has %d values for %d nodes", len(values), m.bulkNodes)
	}
	out := make([]float64, len(m.SurfaceNodes))
	for i, bulk := range m.SurfaceNodes {
		out[i] = values[bulk]
	}
	return out, nil
}
