package surface

import (
	"sort"

	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/format"
)

type faceRef struct {
	typ     format.ElementType
	element int32
	face    int
}

type edgeCount struct {
	a, b  int32
	count int
}

// Extract computes the surface of mesh. masks restricts the elements taken
// into account: nil means every element, otherwise only the listed element
// indices of each type (types without an entry contribute nothing).
//
// Surface faces are chosen per element type. A type that ships a skin
// contributes the skin faces of its included elements; any other type
// contributes the faces no other included element (of any type) shares.
// Edges of the included elements are free when one element uses
// them and wireframe when two do; only edges between surface nodes are
// kept.
func Extract(mesh format.Mesh, masks map[format.ElementType][]int32) (*Model, error) {
	if err := mesh.Check(); err != nil {
		return nil, err
	}
	included, err := includedElements(mesh, masks)
	if err != nil {
		return nil, err
	}

	faces := surfaceFaces(mesh, included)

	m := &Model{
		SurfaceElements: make(map[format.ElementType][]int32),
		bulkNodes:       mesh.NodeCount(),
	}

	// bulk triangles and the surface node set
	onSurface := make([]bool, mesh.NodeCount())
	bulkTris := make([]int32, 0, 6*len(faces))
	for _, f := range faces {
		conn := mesh.Elements[f.typ].At(int(f.element))
		for _, tri := range f.typ.Faces()[f.face].Triangles {
			for _, local := range tri {
				n := conn[local]
				bulkTris = append(bulkTris, n)
				onSurface[n] = true
			}
		}
		owners := m.SurfaceElements[f.typ]
		if len(owners) == 0 || owners[len(owners)-1] != f.element {
			m.SurfaceElements[f.typ] = append(owners, f.element)
		}
	}
	for t, owners := range m.SurfaceElements {
		sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
		m.SurfaceElements[t] = dedupe(owners)
	}

	// ascending bulk order gives consecutive surface indices
	m.nodeIndex = make([]int32, mesh.NodeCount())
	for bulk := range m.nodeIndex {
		if !onSurface[bulk] {
			m.nodeIndex[bulk] = -1
			continue
		}
		m.nodeIndex[bulk] = int32(len(m.SurfaceNodes))
		m.SurfaceNodes = append(m.SurfaceNodes, int32(bulk))
	}

	m.Triangles = make([]int32, len(bulkTris))
	for i, n := range bulkTris {
		m.Triangles[i] = m.nodeIndex[n]
	}

	for _, e := range countedEdges(mesh, included) {
		if !onSurface[e.a] || !onSurface[e.b] {
			continue
		}
		switch e.count {
		case 1:
			m.FreeEdges = append(m.FreeEdges, m.nodeIndex[e.a], m.nodeIndex[e.b])
		case 2:
			m.Wireframe = append(m.Wireframe, m.nodeIndex[e.a], m.nodeIndex[e.b])
		}
	}

	m.Nodes = make([]float64, 0, 3*len(m.SurfaceNodes))
	for _, bulk := range m.SurfaceNodes {
		xyz := mesh.Nodes.At(int(bulk))
		m.Nodes = append(m.Nodes, xyz...)
		for k := 0; k < 3; k++ {
			m.Center[k] += xyz[k]
		}
	}
	if n := float64(len(m.SurfaceNodes)); n > 0 {
		for k := range m.Center {
			m.Center[k] /= n
		}
	}
	return m, nil
}

// includedElements returns the ascending element indices per type that
// take part in the extraction.
func includedElements(mesh format.Mesh, masks map[format.ElementType][]int32) (map[format.ElementType][]int32, error) {
	out := make(map[format.ElementType][]int32)
	for _, t := range mesh.Types() {
		count := int32(mesh.Elements[t].Len())
		if masks == nil {
			all := make([]int32, count)
			for i := range all {
				all[i] = int32(i)
			}
			out[t] = all
			continue
		}
		mask, ok := masks[t]
		if !ok {
			continue
		}
		selected := append([]int32(nil), mask...)
		for _, e := range selected {
			if e < 0 || e >= count {
				return nil, errors.WrapMalformed("surface", "Extract",
					"element set references %s element %d of %d", t, e, count)
			}
		}
		sort.Slice(selected, func(i, j int) bool { return selected[i] < selected[j] })
		out[t] = dedupe(selected)
	}
	return out, nil
}

// surfaceFaces merges the skin faces of skinned types with the counted
// faces of the rest, in type order.
func surfaceFaces(mesh format.Mesh, included map[format.ElementType][]int32) []faceRef {
	var counted []faceRef
	for _, t := range mesh.Types() {
		if _, skinned := mesh.Skins[t]; !skinned {
			counted = countedFaces(mesh, included)
			break
		}
	}

	var out []faceRef
	for _, t := range mesh.Types() {
		if skin, skinned := mesh.Skins[t]; skinned {
			out = append(out, skinFaces(t, skin, included[t])...)
			continue
		}
		for _, f := range counted {
			if f.typ == t {
				out = append(out, f)
			}
		}
	}
	return out
}

// countedFaces returns the faces used by exactly one included element in
// type, element, face order.
func countedFaces(mesh format.Mesh, included map[format.ElementType][]int32) []faceRef {
	var all []faceRef
	var keys []format.FaceKey
	counts := make(map[format.FaceKey]int)
	nodes := make([]int32, 0, 8)

	for _, t := range mesh.Types() {
		recs := mesh.Elements[t]
		for _, e := range included[t] {
			conn := recs.At(int(e))
			for fi, face := range t.Faces() {
				nodes = nodes[:0]
				for _, local := range face.Nodes() {
					nodes = append(nodes, conn[local])
				}
				key := format.MakeFaceKey(nodes)
				counts[key]++
				all = append(all, faceRef{typ: t, element: e, face: fi})
				keys = append(keys, key)
			}
		}
	}

	out := make([]faceRef, 0, len(all)/2)
	for i, f := range all {
		if counts[keys[i]] == 1 {
			out = append(out, f)
		}
	}
	return out
}

func skinFaces(t format.ElementType, skin []format.SkinFace, selected []int32) []faceRef {
	skin = append([]format.SkinFace(nil), skin...)
	sort.Slice(skin, func(i, j int) bool {
		if skin[i].Element != skin[j].Element {
			return skin[i].Element < skin[j].Element
		}
		return skin[i].Face < skin[j].Face
	})
	var out []faceRef
	for k, f := range skin {
		if k > 0 && f == skin[k-1] {
			continue
		}
		if contains(selected, f.Element) {
			out = append(out, faceRef{typ: t, element: f.Element, face: f.Face})
		}
	}
	return out
}

func countedEdges(mesh format.Mesh, included map[format.ElementType][]int32) []edgeCount {
	var order []format.EdgeKey
	counts := make(map[format.EdgeKey]int)
	for _, t := range mesh.Types() {
		recs := mesh.Elements[t]
		edges := t.Edges()
		for _, e := range included[t] {
			conn := recs.At(int(e))
			for _, edge := range edges {
				key := format.MakeEdgeKey(conn[edge[0]], conn[edge[1]])
				if counts[key] == 0 {
					order = append(order, key)
				}
				counts[key]++
			}
		}
	}
	out := make([]edgeCount, len(order))
	for i, key := range order {
		out[i] = edgeCount{a: key[0], b: key[1], count: counts[key]}
	}
	return out
}

func contains(sorted []int32, v int32) bool {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= v })
	return i < len(sorted) && sorted[i] == v
}

func dedupe(sorted []int32) []int32 {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
