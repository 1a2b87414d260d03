package testutil

import (
	"os"
	"path/filepath"

	"github.com/Klump3n/platt-backend-sub000/format"
)

// Timestep is the content of one timestep directory of a local dataset.
type Timestep struct {
	Mesh        format.Mesh
	Nodal       map[string][]float64
	Elemental   map[string]map[format.ElementType][]float64
	ElementSets map[string]map[format.ElementType][]int32
}

// WriteTimestep writes step below <root>/<dataset>/fo/<timestep> in the
// binary layout the local source reads.
func WriteTimestep(root, dataset, timestep string, step Timestep) error {
	dir := filepath.Join(root, dataset, "fo", timestep)
	for _, sub := range []string{dir, filepath.Join(dir, "no"), filepath.Join(dir, "eo")} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return err
		}
	}

	files := map[string][]byte{
		"nodes.bin": format.EncodeFloat64(step.Mesh.Nodes.Data),
	}
	for t, recs := range step.Mesh.Elements {
		files["elements."+t.String()+".bin"] = format.EncodeInt32(recs.Data)
	}
	for t, skin := range step.Mesh.Skins {
		blob, err := format.EncodeSkin(skin)
		if err != nil {
			return err
		}
		files["skin."+t.String()+".bin"] = blob
	}
	for name, values := range step.Nodal {
		files[filepath.Join("no", name+".bin")] = format.EncodeFloat64(values)
	}
	for name, blocks := range step.Elemental {
		for t, values := range blocks {
			files[filepath.Join("eo", name+"."+t.String()+".bin")] = format.EncodeFloat64(values)
		}
	}
	for name, sets := range step.ElementSets {
		for t, elements := range sets {
			files[name+".elset."+t.String()+".bin"] = format.EncodeInt32(elements)
		}
	}

	for name, blob := range files {
		if err := os.WriteFile(filepath.Join(dir, name), blob, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// CubeTimestep is a Cube(n) timestep with a nodal field "temperature" equal
// to the bulk node index, an elemental field "stress" of ones, and an
// element set "corner" holding element 0.
func CubeTimestep(n int) Timestep {
	mesh := Cube(n)
	nodal := make([]float64, mesh.NodeCount())
	for i := range nodal {
		nodal[i] = float64(i)
	}
	elements := mesh.Elements[format.C3D8].Len()
	stress := make([]float64, elements*format.C3D8.Points())
	for i := range stress {
		stress[i] = 1
	}
	return Timestep{
		Mesh:      mesh,
		Nodal:     map[string][]float64{"temperature": nodal},
		Elemental: map[string]map[format.ElementType][]float64{"stress": {format.C3D8: stress}},
		ElementSets: map[string]map[format.ElementType][]int32{
			"corner": {format.C3D8: {0}},
		},
	}
}
