package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/Klump3n/platt-backend-sub000/format"
	"github.com/Klump3n/platt-backend-sub000/parser"
)

const (
	checkCells     = 3
	checkTriangles = 2 * 6 * checkCells * checkCells
)

// selfCheck writes a 3×3×3 c3d8 cube dataset to a temporary directory and
// runs it through the parser: the surface must have 108 triangles and an
// elemental field of ones must extrapolate to ones on every surface node.
func selfCheck(ctx context.Context, logger *slog.Logger) error {
	root, err := os.MkdirTemp("", "platt-selfcheck-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(root)

	if err := writeCheckCube(filepath.Join(root, "cube", "fo", "1")); err != nil {
		return fmt.Errorf("write cube: %w", err)
	}

	src, err := parser.NewLocalSource(root, "cube")
	if err != nil {
		return err
	}
	p, err := parser.New(src, parser.NewMetrics(nil), logger)
	if err != nil {
		return err
	}
	res, err := p.TimestepData(ctx, parser.Request{
		Timestep: "1",
		Field:    parser.FieldSelection{Type: parser.ElementalType, Name: "ones"},
	})
	if err != nil {
		return fmt.Errorf("parse cube: %w", err)
	}

	if res.Mesh == nil {
		return fmt.Errorf("no mesh returned")
	}
	if n := res.Mesh.TriangleCount(); n != checkTriangles {
		return fmt.Errorf("surface has %d triangles, want %d", n, checkTriangles)
	}
	if len(res.Field) != res.Mesh.NodeCount() {
		return fmt.Errorf("field has %d values for %d surface nodes", len(res.Field), res.Mesh.NodeCount())
	}
	for i, v := range res.Field {
		if math.Abs(v-1) > 1e-9 {
			return fmt.Errorf("surface node %d extrapolated to %g, want 1", i, v)
		}
	}

	logger.Info("Self-check passed",
		"triangles", res.Mesh.TriangleCount(),
		"surface_nodes", res.Mesh.NodeCount())
	return nil
}

// writeCheckCube writes nodes, c3d8 elements and the elemental field "ones"
// into dir.
func writeCheckCube(dir string) error {
	const n = checkCells
	node := func(i, j, k int) int32 { return int32(i + (n+1)*(j+(n+1)*k)) }

	var nodes []float64
	for k := 0; k <= n; k++ {
		for j := 0; j <= n; j++ {
			for i := 0; i <= n; i++ {
				nodes = append(nodes, float64(i), float64(j), float64(k))
			}
		}
	}

	var elements []int32
	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				elements = append(elements,
					node(i, j, k), node(i+1, j, k), node(i+1, j+1, k), node(i, j+1, k),
					node(i, j, k+1), node(i+1, j, k+1), node(i+1, j+1, k+1), node(i, j+1, k+1))
			}
		}
	}

	ones := make([]float64, n*n*n*format.C3D8.Points())
	for i := range ones {
		ones[i] = 1
	}

	if err := os.MkdirAll(filepath.Join(dir, "eo"), 0o755); err != nil {
		return err
	}
	suffix := "." + format.C3D8.String() + ".bin"
	files := map[string][]byte{
		"nodes.bin":                        format.EncodeFloat64(nodes),
		"elements" + suffix:                format.EncodeInt32(elements),
		filepath.Join("eo", "ones"+suffix): format.EncodeFloat64(ones),
	}
	for name, blob := range files {
		if err := os.WriteFile(filepath.Join(dir, name), blob, 0o644); err != nil {
			return err
		}
	}
	return nil
}
