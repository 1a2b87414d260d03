package format

// Kind is the scalar encoding of a record file.
type Kind int

const (
	F64LE Kind = iota + 1
	I32LE
)

// UnitBytes is the size of one scalar.
func (k Kind) UnitBytes() int {
	switch k {
	case F64LE:
		return 8
	case I32LE:
		return 4
	}
	return 0
}

func (k Kind) String() string {
	switch k {
	case F64LE:
		return "f64_le"
	case I32LE:
		return "i32_le"
	}
	return "unknown"
}

// Layout describes how a blob splits into records.
type Layout struct {
	Name  string
	Kind  Kind
	Width int // scalars per record
}

// Layouts of the dataset files.
var (
	NodesLayout      = Layout{Name: "nodes", Kind: F64LE, Width: 3}
	NodalLayout      = Layout{Name: "nodal", Kind: F64LE, Width: 1}
	ElementSetLayout = Layout{Name: "elset", Kind: I32LE, Width: 1}
	SkinLayout       = Layout{Name: "skin", Kind: I32LE, Width: 1}
)

// ElementsLayout is the connectivity layout of t: Nodes() indices per element.
func ElementsLayout(t ElementType) Layout {
	return Layout{Name: "elements." + t.String(), Kind: I32LE, Width: t.Nodes()}
}

// ElementalLayout is the layout of an elemental field block of t, one value
// per integration point.
func ElementalLayout(t ElementType) Layout {
	return Layout{Name: "elemental." + t.String(), Kind: F64LE, Width: 1}
}
