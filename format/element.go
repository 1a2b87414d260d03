// Package format is the binary-format registry and decoder of the viewer
// backend. It knows the closed set of volumetric element types (their
// faces, edges, face triangulation and integration-point extrapolation
// matrices) and decodes the little-endian record files a dataset is made of.
package format

import (
	"sort"

	"github.com/Klump3n/platt-backend-sub000/errors"
)

// ElementType is one of the registered volumetric element types.
// Methods panic for values outside the closed set; obtain values from the
// constants or from Lookup.
type ElementType int

const (
	C3D6 ElementType = iota + 1
	C3D8
	C3D15
	C3D20
)

// Face is one face of an element in element-local node indices.
type Face struct {
	// Corners in outward winding order.
	Corners []int
	// Mids holds the mid-side nodes of quadratic types; Mids[i] sits
	// between Corners[i] and Corners[i+1].
	Mids []int
	// Triangles is the triangulation of the face, keeping the corner winding.
	Triangles [][3]int
}

// Nodes returns every node of the face, corners first.
func (f Face) Nodes() []int {
	nodes := make([]int, 0, len(f.Corners)+len(f.Mids))
	nodes = append(nodes, f.Corners...)
	return append(nodes, f.Mids...)
}

type elementDef struct {
	tag    string
	nodes  int
	points [][3]float64
	shape  func(n int, r, s, t float64) float64
	faces  []Face
	edges  [][2]int

	// extrapolation maps integration-point values to nodal values,
	// nodes x points.
	extrapolation []float64
}

var registry [C3D20 + 1]*elementDef

// tagOrder lists the types sorted by tag; every ordered walk over types
// (hash folds, surface iteration) uses it.
var tagOrder []ElementType

func init() {
	registry[C3D6] = &elementDef{
		tag:    "c3d6",
		nodes:  6,
		points: wedgePoints(),
		shape:  shapeC3D6,
		faces:  buildFaces(wedgeCorners, nil),
		edges:  wedgeEdges,
	}
	registry[C3D8] = &elementDef{
		tag:    "c3d8",
		nodes:  8,
		points: hexPoints(),
		shape:  shapeC3D8,
		faces:  buildFaces(hexCorners, nil),
		edges:  hexEdges,
	}
	registry[C3D15] = &elementDef{
		tag:    "c3d15",
		nodes:  15,
		points: wedgePoints(),
		shape:  shapeC3D15,
		faces:  buildFaces(wedgeCorners, wedgeFaceMids),
		edges:  splitEdges(wedgeEdges, wedgeEdgeMids),
	}
	registry[C3D20] = &elementDef{
		tag:    "c3d20",
		nodes:  20,
		points: hexPoints(),
		shape:  shapeC3D20,
		faces:  buildFaces(hexCorners, hexFaceMids),
		edges:  splitEdges(hexEdges, hexEdgeMids),
	}

	for t := C3D6; t <= C3D20; t++ {
		def := registry[t]
		def.extrapolation = pseudoInverse(shapeMatrix(def)).RawMatrix().Data
		tagOrder = append(tagOrder, t)
	}
	sort.Slice(tagOrder, func(i, j int) bool {
		return registry[tagOrder[i]].tag < registry[tagOrder[j]].tag
	})
}

// Lookup resolves an element tag such as "c3d8".
func Lookup(tag string) (ElementType, error) {
	for t := C3D6; t <= C3D20; t++ {
		if registry[t].tag == tag {
			return t, nil
		}
	}
	return 0, errors.Kind(errors.ErrUnknownElementType, "%q", tag)
}

// Types returns every registered type in tag order.
func Types() []ElementType {
	out := make([]ElementType, len(tagOrder))
	copy(out, tagOrder)
	return out
}

// Valid reports whether t is a registered type.
func (t ElementType) Valid() bool {
	return t >= C3D6 && t <= C3D20
}

func (t ElementType) String() string {
	if !t.Valid() {
		return "unknown"
	}
	return registry[t].tag
}

// MarshalText lets element types key JSON objects.
func (t ElementType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, errors.Kind(errors.ErrUnknownElementType, "%d", int(t))
	}
	return []byte(registry[t].tag), nil
}

// UnmarshalText parses an element tag.
func (t *ElementType) UnmarshalText(text []byte) error {
	parsed, err := Lookup(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Nodes is the number of nodes per element.
func (t ElementType) Nodes() int { return registry[t].nodes }

// Points is the number of integration points per element.
func (t ElementType) Points() int { return len(registry[t].points) }

// Faces returns the face table. Callers must not modify it.
func (t ElementType) Faces() []Face { return registry[t].faces }

// Edges returns the edge table. Callers must not modify it.
func (t ElementType) Edges() [][2]int { return registry[t].edges }

// Extrapolate writes the nodal values of one element into dst from its
// integration-point values in src. len(src) must be Points() and len(dst)
// Nodes().
func (t ElementType) Extrapolate(dst, src []float64) {
	def := registry[t]
	g := len(def.points)
	for i := 0; i < def.nodes; i++ {
		row := def.extrapolation[i*g : (i+1)*g]
		var sum float64
		for j, w := range row {
			sum += w * src[j]
		}
		dst[i] = sum
	}
}
