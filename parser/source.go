package parser

import (
	"context"
	"crypto/sha1"
	"encoding/hex"

	"github.com/Klump3n/platt-backend-sub000/format"
)

// Field selection sentinels.
const (
	NoFieldType   = "__no_type__"
	NoFieldName   = "__no_field__"
	NodalType     = "nodal"
	ElementalType = "elemental"

	// NoElementSet selects every element.
	NoElementSet = "__all__"
)

// FieldSelection names a field by kind and name.
type FieldSelection struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// BlankField is the selection of no field at all.
var BlankField = FieldSelection{Type: NoFieldType, Name: NoFieldName}

// IsBlank reports whether the selection asks for no field.
func (f FieldSelection) IsBlank() bool {
	return f.Type == NoFieldType || f.Name == NoFieldName
}

// FieldList lists the fields of a timestep.
type FieldList struct {
	Nodal     []string `json:"nodal"`
	Elemental []string `json:"elemental"`
}

// Has reports whether the selection names a listed field. The blank field
// is always present.
func (l FieldList) Has(f FieldSelection) bool {
	if f.IsBlank() {
		return true
	}
	var names []string
	switch f.Type {
	case NodalType:
		names = l.Nodal
	case ElementalType:
		names = l.Elemental
	}
	for _, n := range names {
		if n == f.Name {
			return true
		}
	}
	return false
}

// ObjectRef names one object of a source. Sha1sum is empty when the source
// cannot tell the content hash before loading. Type is set for per-type
// objects.
type ObjectRef struct {
	Key     string
	Sha1sum string
	Type    format.ElementType
}

// GeometryRefs are the objects making up the mesh of a timestep. Elements
// and Skins are in tag order.
type GeometryRefs struct {
	Nodes    ObjectRef
	Elements []ObjectRef
	Skins    []ObjectRef
}

// Blob is a loaded object with the sha1 of the delivered bytes.
type Blob struct {
	Ref      ObjectRef
	Contents []byte
	Sha1sum  string
}

// Source is where a dataset's objects come from.
type Source interface {
	// Timesteps lists the timesteps in natural order.
	Timesteps(ctx context.Context) ([]string, error)
	Fields(ctx context.Context, timestep string) (FieldList, error)
	// ElementSets lists the element set names, sorted.
	ElementSets(ctx context.Context, timestep string) ([]string, error)
	Geometry(ctx context.Context, timestep string) (GeometryRefs, error)
	// FieldRefs returns one object for a nodal field and one per type, in
	// tag order, for an elemental field.
	FieldRefs(ctx context.Context, timestep string, field FieldSelection) ([]ObjectRef, error)
	// ElementSetRefs returns one object per type, in tag order.
	ElementSetRefs(ctx context.Context, timestep, name string) ([]ObjectRef, error)
	// Load returns the contents of refs, in order.
	Load(ctx context.Context, refs []ObjectRef) ([]Blob, error)
}

// Fold aggregates parts into one content hash: starting from "", each part
// replaces the hash h with hex(sha1(h || part)).
func Fold(parts ...string) string {
	h := ""
	for _, p := range parts {
		sum := sha1.Sum([]byte(h + p))
		h = hex.EncodeToString(sum[:])
	}
	return h
}

// Sha1Hex is the hex sha1 of b.
func Sha1Hex(b []byte) string {
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}
