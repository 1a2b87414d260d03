package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/format"
	"github.com/Klump3n/platt-backend-sub000/index"
	"github.com/Klump3n/platt-backend-sub000/pkg/cache"
)

const sumMemoSize = 1024

// LocalSource reads a dataset from <root>/<dataset>/fo/<timestep>/.
type LocalSource struct {
	dir  string
	sums cache.Cache[string]
}

// NewLocalSource opens the dataset directory. The directory must contain fo/.
func NewLocalSource(root, dataset string) (*LocalSource, error) {
	dir := filepath.Join(root, dataset, "fo")
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, errors.WrapMissing("LocalSource", "NewLocalSource", "no fo directory in %s", filepath.Join(root, dataset))
	}
	sums, err := cache.NewLRU[string](sumMemoSize)
	if err != nil {
		return nil, errors.Wrap(err, "LocalSource", "NewLocalSource", "create sha1 memo")
	}
	return &LocalSource{dir: dir, sums: sums}, nil
}

// IsLocalDataset reports whether <root>/<name> holds a dataset.
func IsLocalDataset(root, name string) bool {
	info, err := os.Stat(filepath.Join(root, name, "fo"))
	return err == nil && info.IsDir()
}

// Timesteps lists the timestep directories in natural order.
func (s *LocalSource) Timesteps(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.WrapTransient(err, "LocalSource", "Timesteps", "list timesteps")
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	index.SortTimesteps(out)
	return out, nil
}

// Fields lists no/<name>.bin and eo/<name>.<type>.bin.
func (s *LocalSource) Fields(_ context.Context, timestep string) (FieldList, error) {
	dir, err := s.timestepDir(timestep)
	if err != nil {
		return FieldList{}, err
	}
	list := FieldList{Nodal: []string{}, Elemental: []string{}}
	for _, name := range s.list(filepath.Join(dir, "no")) {
		if stem, ok := strings.CutSuffix(name, ".bin"); ok && stem != "" {
			list.Nodal = append(list.Nodal, stem)
		}
	}
	elemental := map[string]bool{}
	for _, name := range s.list(filepath.Join(dir, "eo")) {
		if field, _, ok := splitTyped(name, ""); ok {
			elemental[field] = true
		}
	}
	list.Elemental = sortedSet(elemental)
	sort.Strings(list.Nodal)
	return list, nil
}

// ElementSets lists <name>.elset.<type>.bin.
func (s *LocalSource) ElementSets(_ context.Context, timestep string) ([]string, error) {
	dir, err := s.timestepDir(timestep)
	if err != nil {
		return nil, err
	}
	names := map[string]bool{}
	for _, name := range s.list(dir) {
		if set, _, ok := splitTyped(name, ".elset"); ok {
			names[set] = true
		}
	}
	return sortedSet(names), nil
}

// Geometry returns nodes.bin, elements.<type>.bin and skin.<type>.bin.
func (s *LocalSource) Geometry(_ context.Context, timestep string) (GeometryRefs, error) {
	dir, err := s.timestepDir(timestep)
	if err != nil {
		return GeometryRefs{}, err
	}
	nodes, ok, err := s.ref(filepath.Join(dir, "nodes.bin"), 0)
	if err != nil {
		return GeometryRefs{}, err
	}
	if !ok {
		return GeometryRefs{}, errors.WrapMissing("LocalSource", "Geometry", "%s has no nodes.bin", timestep)
	}
	refs := GeometryRefs{Nodes: nodes}
	for _, t := range format.Types() {
		if r, ok, err := s.ref(filepath.Join(dir, "elements."+t.String()+".bin"), t); err != nil {
			return GeometryRefs{}, err
		} else if ok {
			refs.Elements = append(refs.Elements, r)
		}
		if r, ok, err := s.ref(filepath.Join(dir, "skin."+t.String()+".bin"), t); err != nil {
			return GeometryRefs{}, err
		} else if ok {
			refs.Skins = append(refs.Skins, r)
		}
	}
	return refs, nil
}

// FieldRefs returns no/<name>.bin or every eo/<name>.<type>.bin.
func (s *LocalSource) FieldRefs(_ context.Context, timestep string, field FieldSelection) ([]ObjectRef, error) {
	dir, err := s.timestepDir(timestep)
	if err != nil {
		return nil, err
	}
	var refs []ObjectRef
	switch field.Type {
	case NodalType:
		r, ok, err := s.ref(filepath.Join(dir, "no", field.Name+".bin"), 0)
		if err != nil {
			return nil, err
		}
		if ok {
			refs = append(refs, r)
		}
	case ElementalType:
		for _, t := range format.Types() {
			r, ok, err := s.ref(filepath.Join(dir, "eo", field.Name+"."+t.String()+".bin"), t)
			if err != nil {
				return nil, err
			}
			if ok {
				refs = append(refs, r)
			}
		}
	}
	if len(refs) == 0 {
		return nil, errors.WrapMissing("LocalSource", "FieldRefs", "%s field %q at %s", field.Type, field.Name, timestep)
	}
	return refs, nil
}

// ElementSetRefs returns every <name>.elset.<type>.bin.
func (s *LocalSource) ElementSetRefs(_ context.Context, timestep, name string) ([]ObjectRef, error) {
	dir, err := s.timestepDir(timestep)
	if err != nil {
		return nil, err
	}
	var refs []ObjectRef
	for _, t := range format.Types() {
		r, ok, err := s.ref(filepath.Join(dir, name+".elset."+t.String()+".bin"), t)
		if err != nil {
			return nil, err
		}
		if ok {
			refs = append(refs, r)
		}
	}
	if len(refs) == 0 {
		return nil, errors.WrapMissing("LocalSource", "ElementSetRefs", "element set %q at %s", name, timestep)
	}
	return refs, nil
}

// Load reads the referenced files.
func (s *LocalSource) Load(ctx context.Context, refs []ObjectRef) ([]Blob, error) {
	out := make([]Blob, len(refs))
	for i, r := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		contents, err := os.ReadFile(r.Key)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.WrapMissing("LocalSource", "Load", "%s vanished", r.Key)
			}
			return nil, errors.WrapTransient(err, "LocalSource", "Load", "read "+r.Key)
		}
		out[i] = Blob{Ref: r, Contents: contents, Sha1sum: Sha1Hex(contents)}
	}
	return out, nil
}

func (s *LocalSource) timestepDir(timestep string) (string, error) {
	if timestep == "" || strings.ContainsAny(timestep, `/\`) || timestep == "." || timestep == ".." {
		return "", errors.WrapSelection("LocalSource", "timestep", "bad timestep %q", timestep)
	}
	dir := filepath.Join(s.dir, timestep)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", errors.WrapMissing("LocalSource", "timestep", "no timestep %q", timestep)
	}
	return dir, nil
}

// ref stats path and returns its reference with the sha1 of its bytes. The
// sha1 is memoized per path, size and modification time.
func (s *LocalSource) ref(path string, t format.ElementType) (ObjectRef, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectRef{}, false, nil
		}
		return ObjectRef{}, false, errors.WrapTransient(err, "LocalSource", "ref", "stat "+path)
	}
	if info.IsDir() {
		return ObjectRef{}, false, nil
	}
	memo := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if sum, ok := s.sums.Get(memo); ok {
		return ObjectRef{Key: path, Sha1sum: sum, Type: t}, true, nil
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return ObjectRef{}, false, errors.WrapTransient(err, "LocalSource", "ref", "read "+path)
	}
	sum := Sha1Hex(contents)
	_, _ = s.sums.Set(memo, sum)
	return ObjectRef{Key: path, Sha1sum: sum, Type: t}, true, nil
}

func (s *LocalSource) list(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}

// splitTyped splits "<name><infix>.<tag>.bin" for a registered tag.
func splitTyped(file, infix string) (string, format.ElementType, bool) {
	stem, ok := strings.CutSuffix(file, ".bin")
	if !ok {
		return "", 0, false
	}
	dot := strings.LastIndexByte(stem, '.')
	if dot <= 0 {
		return "", 0, false
	}
	t, err := format.Lookup(stem[dot+1:])
	if err != nil {
		return "", 0, false
	}
	name, ok := strings.CutSuffix(stem[:dot], infix)
	if !ok || name == "" {
		return "", 0, false
	}
	return name, t, true
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
