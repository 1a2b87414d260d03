package dataset

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Klump3n/platt-backend-sub000/parser"
	"github.com/Klump3n/platt-backend-sub000/surface"
)

// State is the stage of a dataset's state machine.
type State int

const (
	StateEmpty State = iota
	StateGeometry
	StateGeometryField
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateGeometry:
		return "geometry"
	case StateGeometryField:
		return "geometry+field"
	}
	return "unknown"
}

// Push update kinds.
const (
	UpdateMesh        = "mesh"
	UpdateOrientation = "orientation"
	UpdateColorbar    = "colorbar"
)

// Update is the push payload announcing a change of a dataset.
type Update struct {
	DatasetHash string        `json:"datasetHash"`
	Update      string        `json:"update"`
	Hashes      parser.Hashes `json:"hashes"`
	FieldType   string        `json:"field_type"`
}

// Publisher receives the updates of a dataset.
type Publisher func(Update)

// Meta describes a dataset to the client.
type Meta struct {
	Name  string `json:"datasetName"`
	Hash  string `json:"datasetHash"`
	Alias string `json:"datasetAlias"`
	Href  string `json:"datasetHref"`
}

// Orientation is a 4×4 affine transform in column-major order.
type Orientation struct {
	DatasetOrientation     []float64 `json:"datasetOrientation"`
	DatasetOrientationInit bool      `json:"datasetOrientationInit"`
}

// OrientationSize is the number of values of an orientation.
const OrientationSize = 16

func identity() []float64 {
	m := make([]float64, OrientationSize)
	for i := 0; i < 4; i++ {
		m[i*5] = 1
	}
	return m
}

// Geometry is the surface mesh payload. MeshHash is nil in the empty
// payload returned to a client that already holds the current mesh.
type Geometry struct {
	MeshHash    *string   `json:"mesh_hash"`
	Nodes       []float64 `json:"nodes"`
	NodesCenter []float64 `json:"nodes_center"`
	Tets        []int32   `json:"tets"`
	Wireframe   []int32   `json:"wireframe"`
	FreeEdges   []int32   `json:"free_edges"`
}

// EmptyGeometry is the payload for a client that is up to date.
func EmptyGeometry() *Geometry {
	return &Geometry{
		Nodes:       []float64{},
		NodesCenter: []float64{},
		Tets:        []int32{},
		Wireframe:   []int32{},
		FreeEdges:   []int32{},
	}
}

func geometryOf(hash string, m *surface.Model) *Geometry {
	return &Geometry{
		MeshHash:    &hash,
		Nodes:       m.Nodes,
		NodesCenter: []float64{m.Center[0], m.Center[1], m.Center[2]},
		Tets:        m.Triangles,
		Wireframe:   m.Wireframe,
		FreeEdges:   m.FreeEdges,
	}
}

// FieldData is the surface field payload.
type FieldData struct {
	FieldHash *string   `json:"field_hash"`
	Field     []float64 `json:"field"`
}

// EmptyField is the payload for a client that is up to date.
func EmptyField() *FieldData {
	return &FieldData{Field: []float64{}}
}

// NewID returns a 40-hex identifier derived from the wall clock.
func NewID() string {
	sum := sha1.Sum([]byte(strconv.FormatInt(time.Now().UnixNano(), 10) + uuid.NewString()))
	return hex.EncodeToString(sum[:])
}
