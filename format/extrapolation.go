package format

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Integration points in the reference element, Abaqus order.
func wedgePoints() [][3]float64 {
	t := math.Sqrt(3.0 / 5.0)
	var pts [][3]float64
	for _, tt := range []float64{-t, 0, t} {
		pts = append(pts,
			[3]float64{1.0 / 6, 1.0 / 6, tt},
			[3]float64{4.0 / 6, 1.0 / 6, tt},
			[3]float64{1.0 / 6, 4.0 / 6, tt},
		)
	}
	return pts
}

func hexPoints() [][3]float64 {
	g := 1 / math.Sqrt(3)
	return [][3]float64{
		{-g, -g, -g}, {+g, -g, -g}, {+g, +g, -g}, {-g, +g, -g},
		{-g, -g, +g}, {+g, -g, +g}, {+g, +g, +g}, {-g, +g, +g},
	}
}

func shapeC3D6(n int, r, s, t float64) float64 {
	u := 1 - r - s
	switch n {
	case 0:
		return u * (1 - t) / 2
	case 1:
		return r * (1 - t) / 2
	case 2:
		return s * (1 - t) / 2
	case 3:
		return u * (1 + t) / 2
	case 4:
		return r * (1 + t) / 2
	case 5:
		return s * (1 + t) / 2
	}
	return 0
}

// hexSigns are the reference coordinates of the eight hex corners.
var hexSigns = [8][3]float64{
	{-1, -1, -1}, {+1, -1, -1}, {+1, +1, -1}, {-1, +1, -1},
	{-1, -1, +1}, {+1, -1, +1}, {+1, +1, +1}, {-1, +1, +1},
}

func shapeC3D8(n int, r, s, t float64) float64 {
	if n < 0 || n > 7 {
		return 0
	}
	c := hexSigns[n]
	return (1 + c[0]*r) * (1 + c[1]*s) * (1 + c[2]*t) / 8
}

func shapeC3D15(n int, r, s, t float64) float64 {
	u := 1 - r - s
	switch n {
	case 0:
		return -u * (1 - t) * (2*r + 2*s + t) / 2
	case 1:
		return r * (1 - t) * (2*r - t - 2) / 2
	case 2:
		return s * (1 - t) * (2*s - t - 2) / 2
	case 3:
		return -u * (1 + t) * (2*r + 2*s - t) / 2
	case 4:
		return r * (1 + t) * (2*r + t - 2) / 2
	case 5:
		return s * (1 + t) * (2*s + t - 2) / 2
	case 6:
		return 2 * r * u * (1 - t)
	case 7:
		return 2 * r * s * (1 - t)
	case 8:
		return 2 * s * u * (1 - t)
	case 9:
		return 2 * r * u * (1 + t)
	case 10:
		return 2 * r * s * (1 + t)
	case 11:
		return 2 * s * u * (1 + t)
	case 12:
		return u * (1 - t*t)
	case 13:
		return r * (1 - t*t)
	case 14:
		return s * (1 - t*t)
	}
	return 0
}

func shapeC3D20(n int, r, s, t float64) float64 {
	switch {
	case n >= 0 && n < 8:
		c := hexSigns[n]
		return (1 + c[0]*r) * (1 + c[1]*s) * (1 + c[2]*t) * (c[0]*r + c[1]*s + c[2]*t - 2) / 8
	case n >= 8 && n < 12:
		return hexMid(n-8, r, s, -1, t)
	case n >= 12 && n < 16:
		return hexMid(n-12, r, s, +1, t)
	case n >= 16 && n < 20:
		c := hexSigns[n-16]
		return (1 + c[0]*r) * (1 + c[1]*s) * (1 - t*t) / 4
	}
	return 0
}

// hexMid is the shape function of mid-side node i (0..3) of the hex face at
// t = side.
func hexMid(i int, r, s, side, t float64) float64 {
	tt := 1 + side*t
	switch i {
	case 0:
		return (1 - r*r) * (1 - s) * tt / 4
	case 1:
		return (1 + r) * (1 - s*s) * tt / 4
	case 2:
		return (1 - r*r) * (1 + s) * tt / 4
	default:
		return (1 - r) * (1 - s*s) * tt / 4
	}
}

// shapeMatrix evaluates every shape function at every integration point:
// S[i][j] = N_j(ip_i).
func shapeMatrix(def *elementDef) *mat.Dense {
	s := mat.NewDense(len(def.points), def.nodes, nil)
	for i, p := range def.points {
		for j := 0; j < def.nodes; j++ {
			s.Set(i, j, def.shape(j, p[0], p[1], p[2]))
		}
	}
	return s
}

// pseudoInverse computes the Moore-Penrose inverse through a thin SVD,
// discarding singular values below the usual max(m,n)*eps*sigma_max cutoff.
func pseudoInverse(a *mat.Dense) *mat.Dense {
	rows, cols := a.Dims()

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		panic("format: SVD factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sigma := svd.Values(nil)

	cutoff := float64(max(rows, cols)) * 2.220446049250313e-16 * sigma[0]

	pinv := mat.NewDense(cols, rows, nil)
	for k, sv := range sigma {
		if sv <= cutoff {
			continue
		}
		for i := 0; i < cols; i++ {
			vik := v.At(i, k) / sv
			for j := 0; j < rows; j++ {
				pinv.Set(i, j, pinv.At(i, j)+vik*u.At(j, k))
			}
		}
	}
	return pinv
}

// ShapeMatrix returns S (points x nodes) for t.
func (t ElementType) ShapeMatrix() *mat.Dense {
	return shapeMatrix(registry[t])
}

// ExtrapolationMatrix returns a copy of the nodes x points matrix used by
// Extrapolate.
func (t ElementType) ExtrapolationMatrix() *mat.Dense {
	def := registry[t]
	data := make([]float64, len(def.extrapolation))
	copy(data, def.extrapolation)
	return mat.NewDense(def.nodes, len(def.points), data)
}
