package format

import "sort"

// Node numbering follows Abaqus/CalculiX, zero-based. Faces wind so that
// their normals point out of the element.

var wedgeCorners = [][]int{
	{0, 2, 1},
	{3, 4, 5},
	{0, 1, 4, 3},
	{1, 2, 5, 4},
	{2, 0, 3, 5},
}

var wedgeEdges = [][2]int{
	{0, 1}, {1, 2}, {2, 0},
	{3, 4}, {4, 5}, {5, 3},
	{0, 3}, {1, 4}, {2, 5},
}

var wedgeFaceMids = [][]int{
	{8, 7, 6},
	{9, 10, 11},
	{6, 13, 9, 12},
	{7, 14, 10, 13},
	{8, 12, 11, 14},
}

var wedgeEdgeMids = []int{6, 7, 8, 9, 10, 11, 12, 13, 14}

var hexCorners = [][]int{
	{0, 3, 2, 1},
	{4, 5, 6, 7},
	{0, 1, 5, 4},
	{1, 2, 6, 5},
	{2, 3, 7, 6},
	{0, 4, 7, 3},
}

var hexEdges = [][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0},
	{4, 5}, {5, 6}, {6, 7}, {7, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

var hexFaceMids = [][]int{
	{11, 10, 9, 8},
	{12, 13, 14, 15},
	{8, 17, 12, 16},
	{9, 18, 13, 17},
	{10, 19, 14, 18},
	{16, 15, 19, 11},
}

var hexEdgeMids = []int{8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19}

// buildFaces pairs corner lists with their mid-side nodes (nil for linear
// types) and triangulates each face.
func buildFaces(corners, mids [][]int) []Face {
	faces := make([]Face, len(corners))
	for i, c := range corners {
		face := Face{Corners: c}
		if mids != nil {
			face.Mids = mids[i]
		}
		face.Triangles = triangulate(face)
		faces[i] = face
	}
	return faces
}

func triangulate(f Face) [][3]int {
	c, m := f.Corners, f.Mids
	switch {
	case len(c) == 3 && len(m) == 0:
		return [][3]int{{c[0], c[1], c[2]}}
	case len(c) == 4 && len(m) == 0:
		return [][3]int{{c[0], c[1], c[2]}, {c[0], c[2], c[3]}}
	case len(c) == 3 && len(m) == 3:
		return [][3]int{
			{c[0], m[0], m[2]},
			{m[0], c[1], m[1]},
			{m[1], c[2], m[2]},
			{m[0], m[1], m[2]},
		}
	case len(c) == 4 && len(m) == 4:
		return [][3]int{
			{c[0], m[0], m[3]},
			{m[0], c[1], m[1]},
			{m[1], c[2], m[2]},
			{m[2], c[3], m[3]},
			{m[0], m[1], m[2]},
			{m[0], m[2], m[3]},
		}
	}
	panic("format: unsupported face shape")
}

// splitEdges turns every corner edge into two segments through its
// mid-side node; mids[i] belongs to edges[i].
func splitEdges(edges [][2]int, mids []int) [][2]int {
	out := make([][2]int, 0, 2*len(edges))
	for i, e := range edges {
		out = append(out, [2]int{e[0], mids[i]}, [2]int{mids[i], e[1]})
	}
	return out
}

// FaceKey identifies a face independently of orientation: its node indices
// sorted ascending, padded with -1.
type FaceKey [8]int32

// EdgeKey identifies an edge independently of direction.
type EdgeKey [2]int32

// MakeFaceKey builds the key of the face whose global node indices are nodes.
func MakeFaceKey(nodes []int32) FaceKey {
	var key FaceKey
	for i := range key {
		key[i] = -1
	}
	n := copy(key[:], nodes)
	sorted := key[:n]
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return key
}

// MakeEdgeKey builds the key of the edge between a and b.
func MakeEdgeKey(a, b int32) EdgeKey {
	if a > b {
		a, b = b, a
	}
	return EdgeKey{a, b}
}
