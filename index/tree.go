// Package index mirrors the object index of the remote store: a typed tree
// namespace -> timestep -> simtype -> usage whose leaves carry an object key
// and its sha1sum. The mirror is loaded in full at start-up and then kept
// current by push frames parsed into sparse deltas.
package index

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/Klump3n/platt-backend-sub000/format"
)

// Simulation types.
const (
	SimTA = "ta"
	SimMA = "ma"
)

// Object is one leaf of the index. An empty Sha1sum means unknown.
type Object struct {
	Key     string `json:"object_key"`
	Sha1sum string `json:"sha1sum"`
}

func (o *Object) clone() *Object {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

// Elemental holds the objects of one elemental field: either one per element
// type or a single untyped object.
type Elemental struct {
	Untyped *Object
	Typed   map[format.ElementType]*Object
}

// Sim is the set of objects of one simulation type at one timestep.
type Sim struct {
	Nodes                   *Object
	Elements                map[format.ElementType]*Object
	Skin                    map[string]map[format.ElementType]*Object
	ElementActivationBitmap *Object
	Elset                   map[string]map[format.ElementType]*Object
	Nset                    map[string]*Object
	BoundingBox             *Object
	Nodal                   map[string]*Object
	Elemental               map[string]*Elemental
}

// Timestep maps a simtype to its objects.
type Timestep map[string]*Sim

// Dataset maps a timestep to its simtypes.
type Dataset map[string]Timestep

// Tree maps a namespace to its dataset.
type Tree map[string]Dataset

// Clone returns a deep copy.
func (t Tree) Clone() Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	for ns, ds := range t {
		out[ns] = ds.Clone()
	}
	return out
}

// Clone returns a deep copy.
func (d Dataset) Clone() Dataset {
	if d == nil {
		return nil
	}
	out := make(Dataset, len(d))
	for ts, step := range d {
		c := make(Timestep, len(step))
		for st, sim := range step {
			c[st] = sim.Clone()
		}
		out[ts] = c
	}
	return out
}

// Clone returns a deep copy.
func (s *Sim) Clone() *Sim {
	if s == nil {
		return nil
	}
	return &Sim{
		Nodes:                   s.Nodes.clone(),
		Elements:                cloneTyped(s.Elements),
		Skin:                    cloneNamedTyped(s.Skin),
		ElementActivationBitmap: s.ElementActivationBitmap.clone(),
		Elset:                   cloneNamedTyped(s.Elset),
		Nset:                    cloneNamed(s.Nset),
		BoundingBox:             s.BoundingBox.clone(),
		Nodal:                   cloneNamed(s.Nodal),
		Elemental:               cloneElemental(s.Elemental),
	}
}

func cloneTyped(m map[format.ElementType]*Object) map[format.ElementType]*Object {
	if m == nil {
		return nil
	}
	out := make(map[format.ElementType]*Object, len(m))
	for k, v := range m {
		out[k] = v.clone()
	}
	return out
}

func cloneNamed(m map[string]*Object) map[string]*Object {
	if m == nil {
		return nil
	}
	out := make(map[string]*Object, len(m))
	for k, v := range m {
		out[k] = v.clone()
	}
	return out
}

func cloneNamedTyped(m map[string]map[format.ElementType]*Object) map[string]map[format.ElementType]*Object {
	if m == nil {
		return nil
	}
	out := make(map[string]map[format.ElementType]*Object, len(m))
	for k, v := range m {
		out[k] = cloneTyped(v)
	}
	return out
}

func cloneElemental(m map[string]*Elemental) map[string]*Elemental {
	if m == nil {
		return nil
	}
	out := make(map[string]*Elemental, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = &Elemental{Untyped: v.Untyped.clone(), Typed: cloneTyped(v.Typed)}
	}
	return out
}

// Merge deep-merges src into dst. Leaves in src replace leaves in dst.
func Merge(dst, src Tree) {
	for ns, ds := range src {
		if dst[ns] == nil {
			dst[ns] = make(Dataset)
		}
		for ts, step := range ds {
			if dst[ns][ts] == nil {
				dst[ns][ts] = make(Timestep)
			}
			for st, sim := range step {
				if sim == nil {
					continue
				}
				if dst[ns][ts][st] == nil {
					dst[ns][ts][st] = &Sim{}
				}
				dst[ns][ts][st].merge(sim)
			}
		}
	}
}

func (s *Sim) merge(src *Sim) {
	if src.Nodes != nil {
		s.Nodes = src.Nodes.clone()
	}
	if src.ElementActivationBitmap != nil {
		s.ElementActivationBitmap = src.ElementActivationBitmap.clone()
	}
	if src.BoundingBox != nil {
		s.BoundingBox = src.BoundingBox.clone()
	}
	s.Elements = mergeTyped(s.Elements, src.Elements)
	s.Skin = mergeNamedTyped(s.Skin, src.Skin)
	s.Elset = mergeNamedTyped(s.Elset, src.Elset)
	s.Nset = mergeNamed(s.Nset, src.Nset)
	s.Nodal = mergeNamed(s.Nodal, src.Nodal)

	for name, e := range src.Elemental {
		if e == nil {
			continue
		}
		if s.Elemental == nil {
			s.Elemental = make(map[string]*Elemental)
		}
		cur := s.Elemental[name]
		if cur == nil {
			cur = &Elemental{}
			s.Elemental[name] = cur
		}
		if e.Untyped != nil {
			cur.Untyped = e.Untyped.clone()
		}
		cur.Typed = mergeTyped(cur.Typed, e.Typed)
	}
}

func mergeTyped(dst, src map[format.ElementType]*Object) map[format.ElementType]*Object {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[format.ElementType]*Object, len(src))
	}
	for k, v := range src {
		if v != nil {
			dst[k] = v.clone()
		}
	}
	return dst
}

func mergeNamed(dst, src map[string]*Object) map[string]*Object {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]*Object, len(src))
	}
	for k, v := range src {
		if v != nil {
			dst[k] = v.clone()
		}
	}
	return dst
}

func mergeNamedTyped(dst, src map[string]map[format.ElementType]*Object) map[string]map[format.ElementType]*Object {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]map[format.ElementType]*Object, len(src))
	}
	for k, v := range src {
		dst[k] = mergeTyped(dst[k], v)
	}
	return dst
}

// Contains reports whether every leaf position of required exists in tree.
// Only structure is compared, not sha1sums.
func Contains(tree, required Tree) bool {
	for ns, ds := range required {
		have, ok := tree[ns]
		if !ok {
			return false
		}
		for ts, step := range ds {
			haveStep, ok := have[ts]
			if !ok {
				return false
			}
			for st, sim := range step {
				if !haveStep[st].Contains(sim) {
					return false
				}
			}
		}
	}
	return true
}

// Contains reports whether every object position set in required is also
// set in s.
func (s *Sim) Contains(required *Sim) bool {
	if required == nil {
		return true
	}
	if s == nil {
		return false
	}
	if (required.Nodes != nil && s.Nodes == nil) ||
		(required.ElementActivationBitmap != nil && s.ElementActivationBitmap == nil) ||
		(required.BoundingBox != nil && s.BoundingBox == nil) {
		return false
	}
	if !containsTyped(s.Elements, required.Elements) ||
		!containsNamedTyped(s.Skin, required.Skin) ||
		!containsNamedTyped(s.Elset, required.Elset) ||
		!containsNamed(s.Nset, required.Nset) ||
		!containsNamed(s.Nodal, required.Nodal) {
		return false
	}
	for name, e := range required.Elemental {
		if e == nil {
			continue
		}
		have := s.Elemental[name]
		if have == nil {
			return false
		}
		if e.Untyped != nil && have.Untyped == nil {
			return false
		}
		if !containsTyped(have.Typed, e.Typed) {
			return false
		}
	}
	return true
}

func containsTyped(have, want map[format.ElementType]*Object) bool {
	for k := range want {
		if have[k] == nil {
			return false
		}
	}
	return true
}

func containsNamed(have, want map[string]*Object) bool {
	for k := range want {
		if have[k] == nil {
			return false
		}
	}
	return true
}

func containsNamedTyped(have, want map[string]map[format.ElementType]*Object) bool {
	for k, v := range want {
		h, ok := have[k]
		if !ok || !containsTyped(h, v) {
			return false
		}
	}
	return true
}

// ElementTypes returns the element types with connectivity objects, in tag
// order.
func (s *Sim) ElementTypes() []format.ElementType {
	var out []format.ElementType
	for _, t := range format.Types() {
		if s.Elements[t] != nil {
			out = append(out, t)
		}
	}
	return out
}

// ElementSetNames returns the sorted element-set names.
func (s *Sim) ElementSetNames() []string {
	return sortedKeys(s.Elset)
}

// NodalNames returns the sorted nodal field names.
func (s *Sim) NodalNames() []string {
	return sortedKeys(s.Nodal)
}

// ElementalNames returns the sorted elemental field names.
func (s *Sim) ElementalNames() []string {
	return sortedKeys(s.Elemental)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON renders the nested dictionary shape used on the wire.
func (s *Sim) MarshalJSON() ([]byte, error) {
	out := make(map[string]any)
	if s.Nodes != nil {
		out["nodes"] = s.Nodes
	}
	if len(s.Elements) > 0 {
		out["elements"] = s.Elements
	}
	if len(s.Skin) > 0 {
		out["skin"] = s.Skin
	}
	if s.ElementActivationBitmap != nil {
		out["elementactivationbitmap"] = s.ElementActivationBitmap
	}
	if len(s.Elset) > 0 {
		out["elset"] = s.Elset
	}
	if len(s.Nset) > 0 {
		out["nset"] = s.Nset
	}
	if s.BoundingBox != nil {
		out["boundingbox"] = s.BoundingBox
	}
	if len(s.Nodal) > 0 {
		out["nodal"] = s.Nodal
	}
	if len(s.Elemental) > 0 {
		elemental := make(map[string]any, len(s.Elemental))
		for name, e := range s.Elemental {
			if e == nil {
				continue
			}
			if len(e.Typed) == 0 {
				elemental[name] = e.Untyped
				continue
			}
			typed := make(map[string]*Object, len(e.Typed)+1)
			for t, o := range e.Typed {
				typed[t.String()] = o
			}
			if e.Untyped != nil {
				typed[""] = e.Untyped
			}
			elemental[name] = typed
		}
		out["elemental"] = elemental
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the nested dictionary shape. Element types outside
// the registry and unknown usages are skipped.
func (s *Sim) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Sim{}

	var err error
	for usage, msg := range raw {
		switch usage {
		case "nodes":
			s.Nodes, err = decodeLeaf(msg)
		case "elementactivationbitmap":
			s.ElementActivationBitmap, err = decodeLeaf(msg)
		case "boundingbox":
			s.BoundingBox, err = decodeLeaf(msg)
		case "elements":
			s.Elements, err = decodeTyped(msg)
		case "skin":
			s.Skin, err = decodeNamedTyped(msg)
		case "elset":
			s.Elset, err = decodeNamedTyped(msg)
		case "nset":
			s.Nset, err = decodeNamed(msg)
		case "nodal":
			s.Nodal, err = decodeNamed(msg)
		case "elemental":
			s.Elemental, err = decodeElemental(msg)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func decodeLeaf(msg json.RawMessage) (*Object, error) {
	if bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
		return nil, nil
	}
	var o Object
	if err := json.Unmarshal(msg, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func isLeaf(msg json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return false
	}
	_, ok := fields["object_key"]
	return ok
}

func decodeTyped(msg json.RawMessage) (map[format.ElementType]*Object, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	out := make(map[format.ElementType]*Object, len(raw))
	for tag, leaf := range raw {
		t, err := format.Lookup(tag)
		if err != nil {
			continue
		}
		o, err := decodeLeaf(leaf)
		if err != nil {
			return nil, err
		}
		if o != nil {
			out[t] = o
		}
	}
	return out, nil
}

func decodeNamed(msg json.RawMessage) (map[string]*Object, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]*Object, len(raw))
	for name, leaf := range raw {
		o, err := decodeLeaf(leaf)
		if err != nil {
			return nil, err
		}
		if o != nil {
			out[name] = o
		}
	}
	return out, nil
}

func decodeNamedTyped(msg json.RawMessage) (map[string]map[format.ElementType]*Object, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]map[format.ElementType]*Object, len(raw))
	for name, inner := range raw {
		typed, err := decodeTyped(inner)
		if err != nil {
			return nil, err
		}
		if len(typed) > 0 {
			out[name] = typed
		}
	}
	return out, nil
}

func decodeElemental(msg json.RawMessage) (map[string]*Elemental, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]*Elemental, len(raw))
	for name, inner := range raw {
		if isLeaf(inner) {
			o, err := decodeLeaf(inner)
			if err != nil {
				return nil, err
			}
			out[name] = &Elemental{Untyped: o}
			continue
		}

		var byType map[string]json.RawMessage
		if err := json.Unmarshal(inner, &byType); err != nil {
			return nil, err
		}
		e := &Elemental{}
		for tag, leaf := range byType {
			o, err := decodeLeaf(leaf)
			if err != nil {
				return nil, err
			}
			if o == nil {
				continue
			}
			if tag == "" {
				e.Untyped = o
				continue
			}
			t, err := format.Lookup(tag)
			if err != nil {
				continue
			}
			if e.Typed == nil {
				e.Typed = make(map[format.ElementType]*Object)
			}
			e.Typed[t] = o
		}
		if e.Untyped != nil || len(e.Typed) > 0 {
			out[name] = e
		}
	}
	return out, nil
}

// FromJSON decodes the payload of an index reply.
func FromJSON(data []byte) (Tree, error) {
	var tree Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	if tree == nil {
		tree = make(Tree)
	}
	return tree, nil
}
