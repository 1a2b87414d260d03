package surface

import (
	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/format"
)

// ExtrapolateElemental turns an elemental field, given per type as
// integration-point values (Points() per element, elements in order), into
// values at the surface nodes. Each surface element writes its extrapolated
// nodal values; a node shared by several elements keeps the value of the
// element processed last (types in tag order, elements ascending).
// Surface nodes no element writes stay zero.
func ExtrapolateElemental(m *Model, elements map[format.ElementType]format.Records[int32],
	values map[format.ElementType][]float64) ([]float64, error) {
	out := make([]float64, len(m.SurfaceNodes))

	for _, t := range format.Types() {
		block, ok := values[t]
		if !ok {
			continue
		}
		recs := elements[t]
		g := t.Points()
		if len(block) != g*recs.Len() {
			return nil, errors.WrapMalformed("surface", "ExtrapolateElemental",
				"%s field has %d values for %d elements of %d points", t, len(block), recs.Len(), g)
		}

		nodal := make([]float64, t.Nodes())
		for _, e := range m.SurfaceElements[t] {
			t.Extrapolate(nodal, block[int(e)*g:(int(e)+1)*g])
			for k, bulk := range recs.At(int(e)) {
				if i, ok := m.SurfaceIndex(bulk); ok {
					out[i] = nodal[k]
				}
			}
		}
	}
	return out, nil
}
