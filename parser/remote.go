package parser

import (
	"context"

	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/filecache"
	"github.com/Klump3n/platt-backend-sub000/format"
	"github.com/Klump3n/platt-backend-sub000/index"
)

// Fetcher loads objects of a namespace. filecache.Cache implements it.
type Fetcher interface {
	Fetch(ctx context.Context, namespace string, keys []string) ([]*filecache.Entry, error)
}

// Mirror is the read side of the index mirror.
type Mirror interface {
	Timesteps(namespace string) []string
	Sim(namespace, timestep, simtype string) (*index.Sim, bool)
}

// RemoteSource reads a namespace of the remote store: references come from
// the index mirror (simtype ta), bytes from the file cache.
type RemoteSource struct {
	namespace string
	mirror    Mirror
	fetcher   Fetcher
}

// NewRemoteSource binds namespace to the mirror and the cache.
func NewRemoteSource(namespace string, mirror Mirror, fetcher Fetcher) *RemoteSource {
	return &RemoteSource{namespace: namespace, mirror: mirror, fetcher: fetcher}
}

// Namespace returns the remote namespace.
func (s *RemoteSource) Namespace() string { return s.namespace }

// Timesteps lists the timesteps with ta objects, in natural order.
func (s *RemoteSource) Timesteps(_ context.Context) ([]string, error) {
	var out []string
	for _, ts := range s.mirror.Timesteps(s.namespace) {
		if _, ok := s.mirror.Sim(s.namespace, ts, index.SimTA); ok {
			out = append(out, ts)
		}
	}
	return out, nil
}

// Fields lists the nodal and elemental fields of timestep.
func (s *RemoteSource) Fields(_ context.Context, timestep string) (FieldList, error) {
	sim, err := s.sim(timestep, "Fields")
	if err != nil {
		return FieldList{}, err
	}
	return FieldList{Nodal: sim.NodalNames(), Elemental: sim.ElementalNames()}, nil
}

// ElementSets lists the element sets of timestep.
func (s *RemoteSource) ElementSets(_ context.Context, timestep string) ([]string, error) {
	sim, err := s.sim(timestep, "ElementSets")
	if err != nil {
		return nil, err
	}
	return sim.ElementSetNames(), nil
}

// Geometry returns the nodes, the connectivity per type and, when the index
// lists one, the skin per type. Of several skin groups the first by name is
// used.
func (s *RemoteSource) Geometry(_ context.Context, timestep string) (GeometryRefs, error) {
	sim, err := s.sim(timestep, "Geometry")
	if err != nil {
		return GeometryRefs{}, err
	}
	if sim.Nodes == nil {
		return GeometryRefs{}, errors.WrapMissing("RemoteSource", "Geometry", "%s/%s has no nodes", s.namespace, timestep)
	}
	refs := GeometryRefs{Nodes: objectRef(sim.Nodes, 0)}
	skins := skinGroup(sim)
	for _, t := range sim.ElementTypes() {
		refs.Elements = append(refs.Elements, objectRef(sim.Elements[t], t))
		if o := skins[t]; o != nil {
			refs.Skins = append(refs.Skins, objectRef(o, t))
		}
	}
	return refs, nil
}

// FieldRefs resolves a nodal field or the per-type blocks of an elemental
// field. An untyped elemental object is accepted when the timestep has a
// single element type.
func (s *RemoteSource) FieldRefs(_ context.Context, timestep string, field FieldSelection) ([]ObjectRef, error) {
	sim, err := s.sim(timestep, "FieldRefs")
	if err != nil {
		return nil, err
	}
	var refs []ObjectRef
	switch field.Type {
	case NodalType:
		if o := sim.Nodal[field.Name]; o != nil {
			refs = append(refs, objectRef(o, 0))
		}
	case ElementalType:
		if e := sim.Elemental[field.Name]; e != nil {
			for _, t := range format.Types() {
				if o := e.Typed[t]; o != nil {
					refs = append(refs, objectRef(o, t))
				}
			}
			if types := sim.ElementTypes(); len(refs) == 0 && e.Untyped != nil && len(types) == 1 {
				refs = append(refs, objectRef(e.Untyped, types[0]))
			}
		}
	}
	if len(refs) == 0 {
		return nil, errors.WrapMissing("RemoteSource", "FieldRefs", "%s field %q at %s/%s",
			field.Type, field.Name, s.namespace, timestep)
	}
	return refs, nil
}

// ElementSetRefs resolves the per-type objects of an element set.
func (s *RemoteSource) ElementSetRefs(_ context.Context, timestep, name string) ([]ObjectRef, error) {
	sim, err := s.sim(timestep, "ElementSetRefs")
	if err != nil {
		return nil, err
	}
	var refs []ObjectRef
	for _, t := range format.Types() {
		if o := sim.Elset[name][t]; o != nil {
			refs = append(refs, objectRef(o, t))
		}
	}
	if len(refs) == 0 {
		return nil, errors.WrapMissing("RemoteSource", "ElementSetRefs", "element set %q at %s/%s",
			name, s.namespace, timestep)
	}
	return refs, nil
}

// Load fetches the objects through the file cache.
func (s *RemoteSource) Load(ctx context.Context, refs []ObjectRef) ([]Blob, error) {
	keys := make([]string, len(refs))
	for i, r := range refs {
		keys[i] = r.Key
	}
	entries, err := s.fetcher.Fetch(ctx, s.namespace, keys)
	if err != nil {
		return nil, err
	}
	out := make([]Blob, len(refs))
	for i, r := range refs {
		sum := entries[i].Sha1sum
		if sum == "" {
			sum = Sha1Hex(entries[i].Contents)
		}
		out[i] = Blob{Ref: r, Contents: entries[i].Contents, Sha1sum: sum}
	}
	return out, nil
}

// Required returns the index positions a timestep needs to render the same
// selection as at timestep: its element types, the field and the element set.
func (s *RemoteSource) Required(timestep string, field FieldSelection, elementSet string) *index.Sim {
	req := &index.Sim{Nodes: &index.Object{}}
	if sim, ok := s.mirror.Sim(s.namespace, timestep, index.SimTA); ok {
		for _, t := range sim.ElementTypes() {
			if req.Elements == nil {
				req.Elements = map[format.ElementType]*index.Object{}
			}
			req.Elements[t] = &index.Object{}
		}
	}
	if !field.IsBlank() {
		switch field.Type {
		case NodalType:
			req.Nodal = map[string]*index.Object{field.Name: {}}
		case ElementalType:
			req.Elemental = map[string]*index.Elemental{field.Name: {}}
		}
	}
	if elementSet != "" && elementSet != NoElementSet {
		req.Elset = map[string]map[format.ElementType]*index.Object{elementSet: {}}
	}
	return req
}

func (s *RemoteSource) sim(timestep, method string) (*index.Sim, error) {
	sim, ok := s.mirror.Sim(s.namespace, timestep, index.SimTA)
	if !ok {
		return nil, errors.WrapMissing("RemoteSource", method, "no %s objects at %s/%s", index.SimTA, s.namespace, timestep)
	}
	return sim, nil
}

func skinGroup(sim *index.Sim) map[format.ElementType]*index.Object {
	var first string
	for name := range sim.Skin {
		if first == "" || name < first {
			first = name
		}
	}
	return sim.Skin[first]
}

func objectRef(o *index.Object, t format.ElementType) ObjectRef {
	return ObjectRef{Key: o.Key, Sha1sum: o.Sha1sum, Type: t}
}
