package surface

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/format"
	"github.com/Klump3n/platt-backend-sub000/testutil"
)

func TestSkinlessCube(t *testing.T) {
	model, err := Extract(testutil.Cube(3), nil)
	require.NoError(t, err)

	assert.Equal(t, 108, model.TriangleCount())
	assert.Equal(t, 56, model.NodeCount())
	assert.Len(t, model.Nodes, 3*56)
	assert.Len(t, model.FreeEdges, 2*36, "the 12 cube edges, three segments each")
	assert.Len(t, model.Wireframe, 2*72)
	assert.Len(t, model.SurfaceElements[format.C3D8], 26, "every element but the center one")
	assert.NotContains(t, model.SurfaceElements[format.C3D8], testutil.CubeElement(3, 1, 1, 1))
}

func TestCubeCenterAndNodeOrder(t *testing.T) {
	mesh := testutil.Cube(3)
	model, err := Extract(mesh, nil)
	require.NoError(t, err)

	var want [3]float64
	for _, bulk := range model.SurfaceNodes {
		for k, v := range mesh.Nodes.At(int(bulk)) {
			want[k] += v
		}
	}
	for k := range want {
		assert.InDelta(t, want[k]/56, model.Center[k], 1e-9)
	}

	for i := 1; i < len(model.SurfaceNodes); i++ {
		assert.Less(t, model.SurfaceNodes[i-1], model.SurfaceNodes[i], "ascending bulk order")
	}
	_, ok := model.SurfaceIndex(testutil.CubeNodeIndex(3, 1, 1, 1))
	assert.False(t, ok, "interior node")
}

func TestCompressionFaithfulness(t *testing.T) {
	mesh := testutil.Cube(3)
	model, err := Extract(mesh, nil)
	require.NoError(t, err)

	// every surface triangle corner maps back to its bulk coordinates
	for _, s := range model.Triangles {
		bulk := model.SurfaceNodes[s]
		assert.Equal(t, mesh.Nodes.At(int(bulk)), model.Nodes[3*s:3*s+3])
	}
	seen := make(map[int32]bool)
	for _, s := range model.Triangles {
		seen[s] = true
	}
	assert.Len(t, seen, model.NodeCount(), "every surface node is used by a triangle")
}

func TestTrianglesFaceOutward(t *testing.T) {
	for name, mesh := range map[string]format.Mesh{
		"cube":  testutil.Cube(3),
		"mixed": testutil.Mixed(),
	} {
		t.Run(name, func(t *testing.T) {
			model, err := Extract(mesh, nil)
			require.NoError(t, err)
			for i := 0; i < model.TriangleCount(); i++ {
				a, b, c := point(model, i, 0), point(model, i, 1), point(model, i, 2)
				n := cross(sub(b, a), sub(c, a))
				centroid := [3]float64{(a[0] + b[0] + c[0]) / 3, (a[1] + b[1] + c[1]) / 3, (a[2] + b[2] + c[2]) / 3}
				assert.Greater(t, dot(n, sub(centroid, model.Center)), 0.0, "triangle %d", i)
			}
		})
	}
}

func TestMixedMeshSharedFace(t *testing.T) {
	model, err := Extract(testutil.Mixed(), nil)
	require.NoError(t, err)

	// 5 hex quads and the wedge's 2 triangles and 2 quads
	assert.Equal(t, 5*2+2+2*2, model.TriangleCount())
	assert.Equal(t, 10, model.NodeCount())
	assert.Len(t, model.Wireframe, 2*4, "edges of the shared face")
	assert.Len(t, model.FreeEdges, 2*13)
	assert.Equal(t, []int32{0}, model.SurfaceElements[format.C3D8])
	assert.Equal(t, []int32{0}, model.SurfaceElements[format.C3D6])
}

func TestEdgePartition(t *testing.T) {
	for name, mesh := range map[string]format.Mesh{
		"cube":  testutil.Cube(3),
		"mixed": testutil.Mixed(),
	} {
		t.Run(name, func(t *testing.T) {
			model, err := Extract(mesh, nil)
			require.NoError(t, err)

			free := edgeSet(model.FreeEdges)
			wire := edgeSet(model.Wireframe)
			for e := range free {
				assert.False(t, wire[e], "edge %v both free and wireframe", e)
			}
			for _, e := range triangleBoundaryEdges(mesh, model) {
				assert.True(t, free[e] || wire[e], "surface face edge %v unclassified", e)
			}
		})
	}
}

func TestSkinPathMatchesCounting(t *testing.T) {
	counted, err := Extract(testutil.Cube(3), nil)
	require.NoError(t, err)

	mesh := testutil.Cube(3)
	mesh.Skins = map[format.ElementType][]format.SkinFace{format.C3D8: testutil.CubeSkin(3)}
	skinned, err := Extract(mesh, nil)
	require.NoError(t, err)

	assert.Equal(t, counted.TriangleCount(), skinned.TriangleCount())
	assert.Equal(t, counted.SurfaceNodes, skinned.SurfaceNodes)
	assert.ElementsMatch(t, triangleSet(counted), triangleSet(skinned))
	assert.Len(t, skinned.FreeEdges, len(counted.FreeEdges))
	assert.Len(t, skinned.Wireframe, len(counted.Wireframe))
}

func TestPartialSkinKeepsCountedTypes(t *testing.T) {
	counted, err := Extract(testutil.Mixed(), nil)
	require.NoError(t, err)

	// only the hex ships a skin: every face but x+, which the wedge covers
	mesh := testutil.Mixed()
	mesh.Skins = map[format.ElementType][]format.SkinFace{format.C3D8: {
		{Element: 0, Face: 0}, {Element: 0, Face: 1}, {Element: 0, Face: 2},
		{Element: 0, Face: 4}, {Element: 0, Face: 5},
	}}
	partial, err := Extract(mesh, nil)
	require.NoError(t, err)

	assert.Equal(t, counted.TriangleCount(), partial.TriangleCount())
	assert.ElementsMatch(t, triangleSet(counted), triangleSet(partial))
	assert.Equal(t, []int32{0}, partial.SurfaceElements[format.C3D6], "wedge faces found by counting")
	assert.Equal(t, counted.SurfaceNodes, partial.SurfaceNodes)
}

func TestElementSetMaskExposesCutSurface(t *testing.T) {
	mesh := testutil.Cube(3)
	masks := map[format.ElementType][]int32{format.C3D8: {testutil.CubeElement(3, 1, 1, 1)}}
	model, err := Extract(mesh, masks)
	require.NoError(t, err)

	assert.Equal(t, 12, model.TriangleCount(), "the center element alone")
	assert.Equal(t, 8, model.NodeCount())
	assert.Len(t, model.FreeEdges, 2*12)
	assert.Empty(t, model.Wireframe)

	_, err = Extract(mesh, map[format.ElementType][]int32{format.C3D8: {99}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedBinary))

	empty, err := Extract(mesh, map[format.ElementType][]int32{})
	require.NoError(t, err)
	assert.Zero(t, empty.TriangleCount())
	assert.Equal(t, [3]float64{}, empty.Center)
}

func TestRemapNodal(t *testing.T) {
	mesh := testutil.Cube(3)
	model, err := Extract(mesh, nil)
	require.NoError(t, err)

	values := make([]float64, mesh.NodeCount())
	for i := range values {
		values[i] = float64(i) * 0.5
	}
	out, err := model.RemapNodal(values)
	require.NoError(t, err)
	for i, bulk := range model.SurfaceNodes {
		assert.Equal(t, values[bulk], out[i])
	}

	_, err = model.RemapNodal(values[:3])
	assert.True(t, errors.Is(err, errors.ErrMalformedBinary))
}

func TestExtrapolateOnesToOnes(t *testing.T) {
	mesh := testutil.Cube(1)
	model, err := Extract(mesh, nil)
	require.NoError(t, err)

	ones := make([]float64, format.C3D8.Points())
	for i := range ones {
		ones[i] = 1
	}
	out, err := ExtrapolateElemental(model, mesh.Elements, map[format.ElementType][]float64{format.C3D8: ones})
	require.NoError(t, err)
	require.Len(t, out, 8)
	for _, v := range out {
		assert.InDelta(t, 1.0, v, 1e-9)
	}
}

func TestExtrapolationLinearity(t *testing.T) {
	mesh := testutil.Mixed()
	model, err := Extract(mesh, nil)
	require.NoError(t, err)

	field := func(seed float64) map[format.ElementType][]float64 {
		out := make(map[format.ElementType][]float64)
		for _, typ := range mesh.Types() {
			block := make([]float64, typ.Points()*mesh.Elements[typ].Len())
			for i := range block {
				block[i] = math.Sin(seed*float64(i+1)) + seed
			}
			out[typ] = block
		}
		return out
	}
	u, v := field(0.7), field(2.3)
	alpha := -1.75
	combined := make(map[format.ElementType][]float64)
	for typ := range u {
		block := make([]float64, len(u[typ]))
		for i := range block {
			block[i] = alpha*u[typ][i] + v[typ][i]
		}
		combined[typ] = block
	}

	eu, err := ExtrapolateElemental(model, mesh.Elements, u)
	require.NoError(t, err)
	ev, err := ExtrapolateElemental(model, mesh.Elements, v)
	require.NoError(t, err)
	ec, err := ExtrapolateElemental(model, mesh.Elements, combined)
	require.NoError(t, err)
	for i := range ec {
		assert.InDelta(t, alpha*eu[i]+ev[i], ec[i], 1e-9)
	}
}

func TestExtrapolateRejectsShortBlock(t *testing.T) {
	mesh := testutil.Cube(2)
	model, err := Extract(mesh, nil)
	require.NoError(t, err)

	_, err = ExtrapolateElemental(model, mesh.Elements, map[format.ElementType][]float64{format.C3D8: {1, 2, 3}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedBinary))
}

func TestExtractRejectsBadConnectivity(t *testing.T) {
	mesh := testutil.Mixed()
	mesh.Elements[format.C3D8] = format.Records[int32]{Data: []int32{0, 1, 2, 3, 4, 5, 6, 70}, Width: 8}
	_, err := Extract(mesh, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedBinary))
}

func point(m *Model, tri, corner int) [3]float64 {
	s := m.Triangles[3*tri+corner]
	return [3]float64{m.Nodes[3*s], m.Nodes[3*s+1], m.Nodes[3*s+2]}
}

func sub(a, b [3]float64) [3]float64 { return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func dot(a, b [3]float64) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}

func edgeSet(lines []int32) map[format.EdgeKey]bool {
	out := make(map[format.EdgeKey]bool)
	for i := 0; i < len(lines); i += 2 {
		out[format.MakeEdgeKey(lines[i], lines[i+1])] = true
	}
	return out
}

func triangleSet(m *Model) []format.FaceKey {
	out := make([]format.FaceKey, 0, m.TriangleCount())
	for i := 0; i < len(m.Triangles); i += 3 {
		out = append(out, format.MakeFaceKey(m.Triangles[i:i+3]))
	}
	return out
}

// triangleBoundaryEdges returns the element edges of every surface face,
// in surface indices. Diagonals introduced by triangulating quads are not
// element edges and are left out.
func triangleBoundaryEdges(mesh format.Mesh, m *Model) []format.EdgeKey {
	var out []format.EdgeKey
	for _, typ := range mesh.Types() {
		recs := mesh.Elements[typ]
		for _, e := range m.SurfaceElements[typ] {
			conn := recs.At(int(e))
			for _, face := range typ.Faces() {
				nodes := face.Nodes()
				onSurface := true
				for _, local := range nodes {
					if _, ok := m.SurfaceIndex(conn[local]); !ok {
						onSurface = false
					}
				}
				if !onSurface || !isSurfaceFace(m, conn, face) {
					continue
				}
				corners := face.Corners
				for i := range corners {
					a, _ := m.SurfaceIndex(conn[corners[i]])
					b, _ := m.SurfaceIndex(conn[corners[(i+1)%len(corners)]])
					out = append(out, format.MakeEdgeKey(a, b))
				}
			}
		}
	}
	return out
}

func isSurfaceFace(m *Model, conn []int32, face format.Face) bool {
	want := make([]int32, 0, 3)
	for _, local := range face.Triangles[0] {
		s, _ := m.SurfaceIndex(conn[local])
		want = append(want, s)
	}
	key := format.MakeFaceKey(want)
	for _, got := range triangleSet(m) {
		if got == key {
			return true
		}
	}
	return false
}
