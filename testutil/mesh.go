package testutil

import "github.com/Klump3n/platt-backend-sub000/format"

// CubeNodeIndex is the bulk index of grid node (i, j, k) in Cube(n).
func CubeNodeIndex(n, i, j, k int) int32 {
	return int32(i + (n+1)*(j+(n+1)*k))
}

// Cube returns n×n×n c3d8 elements on an (n+1)³ grid. Node (i, j, k) sits at
// (3.1·i, 1.3·j², 5.7·k); elements are numbered x fastest.
func Cube(n int) format.Mesh {
	nodes := make([]float64, 0, 3*(n+1)*(n+1)*(n+1))
	for k := 0; k <= n; k++ {
		for j := 0; j <= n; j++ {
			for i := 0; i <= n; i++ {
				nodes = append(nodes, 3.1*float64(i), 1.3*float64(j*j), 5.7*float64(k))
			}
		}
	}

	conn := make([]int32, 0, 8*n*n*n)
	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				conn = append(conn,
					CubeNodeIndex(n, i, j, k),
					CubeNodeIndex(n, i+1, j, k),
					CubeNodeIndex(n, i+1, j+1, k),
					CubeNodeIndex(n, i, j+1, k),
					CubeNodeIndex(n, i, j, k+1),
					CubeNodeIndex(n, i+1, j, k+1),
					CubeNodeIndex(n, i+1, j+1, k+1),
					CubeNodeIndex(n, i, j+1, k+1),
				)
			}
		}
	}

	return format.Mesh{
		Nodes:    format.Records[float64]{Data: nodes, Width: 3},
		Elements: map[format.ElementType]format.Records[int32]{format.C3D8: {Data: conn, Width: 8}},
	}
}

// CubeElement is the index of element (i, j, k) in Cube(n).
func CubeElement(n, i, j, k int) int32 {
	return int32(i + n*(j+n*k))
}

// Mixed returns a unit c3d8 cube with a c3d6 wedge attached to its x = 1
// face. The wedge's quad face 0-1-4-3 coincides with that face.
func Mixed() format.Mesh {
	nodes := []float64{
		0, 0, 0, // 0
		1, 0, 0, // 1
		1, 1, 0, // 2
		0, 1, 0, // 3
		0, 0, 1, // 4
		1, 0, 1, // 5
		1, 1, 1, // 6
		0, 1, 1, // 7
		2, 0.5, 0, // 8
		2, 0.5, 1, // 9
	}
	return format.Mesh{
		Nodes: format.Records[float64]{Data: nodes, Width: 3},
		Elements: map[format.ElementType]format.Records[int32]{
			format.C3D8: {Data: []int32{0, 1, 2, 3, 4, 5, 6, 7}, Width: 8},
			format.C3D6: {Data: []int32{2, 1, 8, 6, 5, 9}, Width: 6},
		},
	}
}

// CubeSkin returns the skin of Cube(n): every face of a boundary element
// that lies on the outside of the cube.
func CubeSkin(n int) []format.SkinFace {
	var out []format.SkinFace
	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				e := CubeElement(n, i, j, k)
				// face order: z-, z+, y-, x+, y+, x-
				boundary := []bool{k == 0, k == n-1, j == 0, i == n-1, j == n-1, i == 0}
				for face, ok := range boundary {
					if ok {
						out = append(out, format.SkinFace{Element: e, Face: face})
					}
				}
			}
		}
	}
	return out
}
