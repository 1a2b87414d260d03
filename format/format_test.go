package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/Klump3n/platt-backend-sub000/errors"
)

func TestLookup(t *testing.T) {
	for _, et := range []ElementType{C3D6, C3D8, C3D15, C3D20} {
		got, err := Lookup(et.String())
		require.NoError(t, err)
		assert.Equal(t, et, got)
	}

	_, err := Lookup("c3d4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownElementType))
}

func TestTypesInTagOrder(t *testing.T) {
	assert.Equal(t, []ElementType{C3D15, C3D20, C3D6, C3D8}, Types())
}

func TestElementTables(t *testing.T) {
	tests := []struct {
		et        ElementType
		nodes     int
		points    int
		faces     int
		edges     int
		triangles int
	}{
		{C3D6, 6, 9, 5, 9, 8},
		{C3D8, 8, 8, 6, 12, 12},
		{C3D15, 15, 9, 5, 18, 26},
		{C3D20, 20, 8, 6, 24, 36},
	}

	for _, test := range tests {
		t.Run(test.et.String(), func(t *testing.T) {
			assert.Equal(t, test.nodes, test.et.Nodes())
			assert.Equal(t, test.points, test.et.Points())
			assert.Len(t, test.et.Faces(), test.faces)
			assert.Len(t, test.et.Edges(), test.edges)

			tris := 0
			used := make(map[int]bool)
			for _, f := range test.et.Faces() {
				tris += len(f.Triangles)
				for _, n := range f.Nodes() {
					require.Less(t, n, test.et.Nodes())
					used[n] = true
				}
			}
			assert.Equal(t, test.triangles, tris)
			assert.Len(t, used, test.nodes, "every node lies on some face")
		})
	}
}

// Each face of a closed element must share every edge with exactly one
// other face, and every face edge must be an element edge.
func TestFacesCloseTheElement(t *testing.T) {
	for _, et := range []ElementType{C3D6, C3D8} {
		t.Run(et.String(), func(t *testing.T) {
			edges := make(map[EdgeKey]bool)
			for _, e := range et.Edges() {
				edges[MakeEdgeKey(int32(e[0]), int32(e[1]))] = true
			}

			directed := make(map[[2]int]int)
			for _, f := range et.Faces() {
				c := f.Corners
				for i := range c {
					a, b := c[i], c[(i+1)%len(c)]
					directed[[2]int{a, b}]++
					assert.True(t, edges[MakeEdgeKey(int32(a), int32(b))])
				}
			}
			for e, n := range directed {
				assert.Equal(t, 1, n, "edge %v", e)
				assert.Equal(t, 1, directed[[2]int{e[1], e[0]}], "edge %v has no opposite", e)
			}
		})
	}
}

func TestExtrapolationMapsOnesToOnes(t *testing.T) {
	for _, et := range []ElementType{C3D6, C3D8} {
		t.Run(et.String(), func(t *testing.T) {
			src := make([]float64, et.Points())
			for i := range src {
				src[i] = 1
			}
			dst := make([]float64, et.Nodes())
			et.Extrapolate(dst, src)
			for i, v := range dst {
				assert.InDelta(t, 1.0, v, 1e-12, "node %d", i)
			}
		})
	}
}

func TestExtrapolationIsPseudoInverse(t *testing.T) {
	for _, et := range []ElementType{C3D6, C3D8, C3D15, C3D20} {
		t.Run(et.String(), func(t *testing.T) {
			s := et.ShapeMatrix()
			m := et.ExtrapolationMatrix()

			rows, cols := m.Dims()
			assert.Equal(t, et.Nodes(), rows)
			assert.Equal(t, et.Points(), cols)

			var sm, sms mat.Dense
			sm.Mul(s, m)
			sms.Mul(&sm, s)
			assert.True(t, mat.EqualApprox(&sms, s, 1e-10))

			var ms, msm mat.Dense
			ms.Mul(m, s)
			msm.Mul(&ms, m)
			assert.True(t, mat.EqualApprox(&msm, m, 1e-10))
		})
	}
}

func TestC3D8ExtrapolationOfLinearField(t *testing.T) {
	// A field linear in the reference coordinates is reproduced exactly.
	field := func(r, s, t float64) float64 { return 2*r - s + 0.5*t + 3 }

	src := make([]float64, C3D8.Points())
	for i, p := range hexPoints() {
		src[i] = field(p[0], p[1], p[2])
	}
	dst := make([]float64, C3D8.Nodes())
	C3D8.Extrapolate(dst, src)

	for i, c := range hexSigns {
		assert.InDelta(t, field(c[0], c[1], c[2]), dst[i], 1e-12)
	}
}

func TestShapeFunctionsPartitionUnity(t *testing.T) {
	for _, et := range []ElementType{C3D6, C3D8, C3D15, C3D20} {
		s := et.ShapeMatrix()
		for i := 0; i < et.Points(); i++ {
			assert.InDelta(t, 1.0, mat.Sum(s.RowView(i)), 1e-12, "%s point %d", et, i)
		}
	}
}

func TestElementTypeText(t *testing.T) {
	text, err := C3D15.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "c3d15", string(text))

	var et ElementType
	require.NoError(t, et.UnmarshalText([]byte("c3d20")))
	assert.Equal(t, C3D20, et)
	assert.Error(t, et.UnmarshalText([]byte("c3d4")))

	_, err = ElementType(0).MarshalText()
	assert.Error(t, err)
	assert.Equal(t, "unknown", ElementType(9).String())
}

func TestFaceKey(t *testing.T) {
	a := MakeFaceKey([]int32{4, 1, 3, 2})
	b := MakeFaceKey([]int32{2, 3, 4, 1})
	assert.Equal(t, a, b)
	assert.Equal(t, FaceKey{1, 2, 3, 4, -1, -1, -1, -1}, a)
	assert.NotEqual(t, a, MakeFaceKey([]int32{1, 2, 3}))
	assert.Equal(t, MakeEdgeKey(5, 2), MakeEdgeKey(2, 5))
}
