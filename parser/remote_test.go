package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/filecache"
	"github.com/Klump3n/platt-backend-sub000/format"
	"github.com/Klump3n/platt-backend-sub000/index"
	"github.com/Klump3n/platt-backend-sub000/testutil"
)

type fakeFetcher struct {
	objects map[string][]byte
	fetched int
}

func (f *fakeFetcher) Fetch(_ context.Context, namespace string, keys []string) ([]*filecache.Entry, error) {
	out := make([]*filecache.Entry, len(keys))
	for i, k := range keys {
		contents, ok := f.objects[k]
		if !ok {
			return nil, errors.WrapMissing("fakeFetcher", "Fetch", "%s", k)
		}
		f.fetched++
		out[i] = &filecache.Entry{Namespace: namespace, Key: k, Contents: contents, Sha1sum: Sha1Hex(contents)}
	}
	return out, nil
}

// publish puts a cube timestep into the mirror and the fetcher under the
// remote key grammar.
func publish(t *testing.T, m *index.Mirror, f *fakeFetcher, timestep string, step testutil.Timestep) {
	t.Helper()
	add := func(key string, contents []byte) {
		delta, ok := index.ParseKey("remote", key, Sha1Hex(contents))
		require.True(t, ok, key)
		m.Apply(delta)
		f.objects[key] = contents
	}
	add(index.FileKey(index.SimTA, timestep, "nodes"), format.EncodeFloat64(step.Mesh.Nodes.Data))
	for typ, recs := range step.Mesh.Elements {
		add(index.FileKey(index.SimTA, timestep, "elements", typ.String()), format.EncodeInt32(recs.Data))
	}
	for name, values := range step.Nodal {
		add(index.FileKey(index.SimTA, timestep, "nodal", name), format.EncodeFloat64(values))
	}
	for name, blocks := range step.Elemental {
		for typ, values := range blocks {
			add(index.FileKey(index.SimTA, timestep, "elemental", name, typ.String()), format.EncodeFloat64(values))
		}
	}
	for name, sets := range step.ElementSets {
		for typ, elements := range sets {
			add(index.FileKey(index.SimTA, timestep, "elset", name, typ.String()), format.EncodeInt32(elements))
		}
	}
}

func TestRemoteSourceMatchesLocal(t *testing.T) {
	mirror := index.NewMirror()
	fetcher := &fakeFetcher{objects: map[string][]byte{}}
	publish(t, mirror, fetcher, "1", testutil.CubeTimestep(2))
	ctx := context.Background()

	src := NewRemoteSource("remote", mirror, fetcher)
	remote, err := New(src, nil, nil)
	require.NoError(t, err)
	local := newLocalParser(t, writeCube(t, 2, "1"))

	req := Request{Timestep: "1", Field: FieldSelection{Type: ElementalType, Name: "stress"}, ElementSet: "corner"}
	want, err := local.TimestepData(ctx, req)
	require.NoError(t, err)
	got, err := remote.TimestepData(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, want.Hashes, got.Hashes)
	require.NotNil(t, got.Mesh)
	assert.Equal(t, want.Mesh.Triangles, got.Mesh.Triangles)
	assert.InDeltaSlice(t, want.Field, got.Field, 1e-12)

	fetched := fetcher.fetched
	req.Current = got.Hashes
	again, err := remote.TimestepData(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, again.Mesh)
	assert.Nil(t, again.Field)
	assert.Equal(t, fetched, fetcher.fetched, "known hashes need no download")
}

func TestRemoteSourceListing(t *testing.T) {
	mirror := index.NewMirror()
	fetcher := &fakeFetcher{objects: map[string][]byte{}}
	publish(t, mirror, fetcher, "2", testutil.CubeTimestep(1))
	publish(t, mirror, fetcher, "10", testutil.CubeTimestep(1))
	delta, ok := index.ParseKey("remote", index.FileKey(index.SimMA, "3", "nodes"), "")
	require.True(t, ok)
	mirror.Apply(delta)

	src := NewRemoteSource("remote", mirror, fetcher)
	ctx := context.Background()

	timesteps, err := src.Timesteps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "10"}, timesteps)

	fields, err := src.Fields(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"temperature"}, fields.Nodal)
	assert.Equal(t, []string{"stress"}, fields.Elemental)

	sets, err := src.ElementSets(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"corner"}, sets)

	_, err = src.Geometry(ctx, "3")
	assert.True(t, errors.Is(err, errors.ErrMissingObject))
}

func TestRemoteSourceUntypedElemental(t *testing.T) {
	mirror := index.NewMirror()
	fetcher := &fakeFetcher{objects: map[string][]byte{}}
	publish(t, mirror, fetcher, "1", testutil.Timestep{Mesh: testutil.Cube(1)})
	delta, ok := index.ParseKey("remote", index.FileKey(index.SimTA, "1", "elemental", "strain"), "abc")
	require.True(t, ok)
	mirror.Apply(delta)

	src := NewRemoteSource("remote", mirror, fetcher)
	refs, err := src.FieldRefs(context.Background(), "1", FieldSelection{Type: ElementalType, Name: "strain"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, format.C3D8, refs[0].Type)
	assert.Equal(t, "abc", refs[0].Sha1sum)
}

func TestRemoteSourceRequired(t *testing.T) {
	mirror := index.NewMirror()
	fetcher := &fakeFetcher{objects: map[string][]byte{}}
	publish(t, mirror, fetcher, "1", testutil.CubeTimestep(1))
	publish(t, mirror, fetcher, "2", testutil.Timestep{Mesh: testutil.Cube(1)})
	src := NewRemoteSource("remote", mirror, fetcher)

	geometry := src.Required("1", BlankField, NoElementSet)
	assert.True(t, mirror.Has("remote", "2", index.SimTA, geometry))

	withField := src.Required("1", FieldSelection{Type: NodalType, Name: "temperature"}, NoElementSet)
	assert.True(t, mirror.Has("remote", "1", index.SimTA, withField))
	assert.False(t, mirror.Has("remote", "2", index.SimTA, withField))

	withSet := src.Required("1", BlankField, "corner")
	assert.False(t, mirror.Has("remote", "2", index.SimTA, withSet))
}
