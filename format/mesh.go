package format

import (
	"fmt"

	"github.com/Klump3n/platt-backend-sub000/errors"
)

// Mesh is a decoded bulk mesh.
type Mesh struct {
	Nodes    Records[float64]
	Elements map[ElementType]Records[int32]
	// Skins is optional; when set it lists the surface faces per type.
	Skins map[ElementType][]SkinFace
}

// NodeCount is the number of bulk nodes.
func (m Mesh) NodeCount() int {
	return m.Nodes.Len()
}

// Types returns the element types present in the mesh, in tag order.
func (m Mesh) Types() []ElementType {
	var out []ElementType
	for _, t := range tagOrder {
		if recs, ok := m.Elements[t]; ok && recs.Len() > 0 {
			out = append(out, t)
		}
	}
	return out
}

// Check verifies record widths, node references and skin references.
func (m Mesh) Check() error {
	if m.Nodes.Width != 3 && m.Nodes.Len() > 0 {
		return m.malformed("nodes have width %d", m.Nodes.Width)
	}
	nodes := int32(m.NodeCount())
	for t, recs := range m.Elements {
		if !t.Valid() {
			return errors.WrapInvalid(errors.Kind(errors.ErrUnknownElementType, "%d", int(t)),
				"format", "Mesh.Check", "check elements")
		}
		if recs.Width != t.Nodes() && recs.Len() > 0 {
			return m.malformed("%s elements have width %d", t, recs.Width)
		}
		for i, n := range recs.Data {
			if n < 0 || n >= nodes {
				return m.malformed("%s element %d references node %d of %d", t, i/t.Nodes(), n, nodes)
			}
		}
	}
	for t, skin := range m.Skins {
		count := int32(m.Elements[t].Len())
		faces := 0
		if t.Valid() {
			faces = len(t.Faces())
		}
		for _, f := range skin {
			if f.Element >= count || f.Face >= faces {
				return m.malformed("%s skin face %+v outside %d elements", t, f, count)
			}
		}
	}
	return nil
}

func (m Mesh) malformed(format string, args ...any) error {
	return errors.WrapInvalid(errors.Kind(errors.ErrMalformedBinary, "%s", fmt.Sprintf(format, args...)),
		"format", "Mesh.Check", "check mesh")
}
