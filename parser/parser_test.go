package parser

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/format"
	"github.com/Klump3n/platt-backend-sub000/testutil"
)

func writeCube(t *testing.T, n int, timesteps ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, ts := range timesteps {
		require.NoError(t, testutil.WriteTimestep(root, "cube", ts, testutil.CubeTimestep(n)))
	}
	return root
}

func newLocalParser(t *testing.T, root string) *Parser {
	t.Helper()
	src, err := NewLocalSource(root, "cube")
	require.NoError(t, err)
	p, err := New(src, nil, nil)
	require.NoError(t, err)
	return p
}

func TestFold(t *testing.T) {
	assert.Equal(t, "", Fold())

	first := sha1.Sum([]byte("a"))
	h := hex.EncodeToString(first[:])
	second := sha1.Sum([]byte(h + "b"))
	assert.Equal(t, hex.EncodeToString(second[:]), Fold("a", "b"))
	assert.NotEqual(t, Fold("a", "b"), Fold("b", "a"))
}

func TestLocalSourceListing(t *testing.T) {
	root := writeCube(t, 1, "00.10", "00.9", "00.2")
	src, err := NewLocalSource(root, "cube")
	require.NoError(t, err)
	ctx := context.Background()

	timesteps, err := src.Timesteps(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"00.2", "00.9", "00.10"}, timesteps)

	fields, err := src.Fields(ctx, "00.2")
	require.NoError(t, err)
	assert.Equal(t, []string{"temperature"}, fields.Nodal)
	assert.Equal(t, []string{"stress"}, fields.Elemental)
	assert.True(t, fields.Has(FieldSelection{Type: ElementalType, Name: "stress"}))
	assert.True(t, fields.Has(BlankField))
	assert.False(t, fields.Has(FieldSelection{Type: NodalType, Name: "stress"}))

	sets, err := src.ElementSets(ctx, "00.2")
	require.NoError(t, err)
	assert.Equal(t, []string{"corner"}, sets)

	geo, err := src.Geometry(ctx, "00.2")
	require.NoError(t, err)
	require.Len(t, geo.Elements, 1)
	assert.Equal(t, format.C3D8, geo.Elements[0].Type)
	assert.Empty(t, geo.Skins)
	assert.Len(t, geo.Nodes.Sha1sum, 40)

	_, err = src.Geometry(ctx, "nope")
	assert.True(t, errors.Is(err, errors.ErrMissingObject))
	_, err = src.Geometry(ctx, "../cube")
	assert.True(t, errors.Is(err, errors.ErrInvalidSelection))

	_, err = NewLocalSource(root, "missing")
	assert.True(t, errors.Is(err, errors.ErrMissingObject))
	assert.True(t, IsLocalDataset(root, "cube"))
	assert.False(t, IsLocalDataset(root, "missing"))
}

func TestTimestepDataBlankField(t *testing.T) {
	p := newLocalParser(t, writeCube(t, 2, "1"))

	res, err := p.TimestepData(context.Background(), Request{Timestep: "1", Field: BlankField})
	require.NoError(t, err)

	require.NotNil(t, res.Mesh)
	assert.Equal(t, 26, res.Mesh.NodeCount())
	assert.Equal(t, NoFieldType, res.FieldType)
	assert.Len(t, res.Field, 26)
	for _, v := range res.Field {
		assert.Zero(t, v)
	}
	assert.Equal(t, Fold("blank:26"), res.Hashes.Field)
	assert.Len(t, res.Hashes.Mesh, 40)
}

func TestKnownHashesSkipDecoding(t *testing.T) {
	p := newLocalParser(t, writeCube(t, 2, "1"))
	ctx := context.Background()
	req := Request{Timestep: "1", Field: FieldSelection{Type: NodalType, Name: "temperature"}}

	first, err := p.TimestepData(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, first.Mesh)
	require.NotNil(t, first.Field)

	before := format.DecodeCount()
	req.Current = first.Hashes
	second, err := p.TimestepData(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Hashes, second.Hashes)
	assert.Nil(t, second.Mesh)
	assert.Nil(t, second.Field)
	assert.Equal(t, before, format.DecodeCount())
}

func TestKnownMeshReusesExtractedSurface(t *testing.T) {
	p := newLocalParser(t, writeCube(t, 2, "1"))
	ctx := context.Background()

	first, err := p.TimestepData(ctx, Request{Timestep: "1", Field: BlankField})
	require.NoError(t, err)

	before := format.DecodeCount()
	res, err := p.TimestepData(ctx, Request{
		Timestep: "1",
		Field:    FieldSelection{Type: NodalType, Name: "temperature"},
		Current:  first.Hashes,
	})
	require.NoError(t, err)

	assert.Nil(t, res.Mesh)
	assert.Equal(t, first.Hashes.Mesh, res.Hashes.Mesh)
	assert.NotEqual(t, first.Hashes.Field, res.Hashes.Field)
	// only the field file is decoded
	assert.Equal(t, before+1, format.DecodeCount())

	// temperature is the bulk node index, remapped to surface order
	require.Len(t, res.Field, first.Mesh.NodeCount())
	for i, bulk := range first.Mesh.SurfaceNodes {
		assert.Equal(t, float64(bulk), res.Field[i])
	}
}

func TestKnownMeshCallback(t *testing.T) {
	p := newLocalParser(t, writeCube(t, 1, "1"))
	ctx := context.Background()

	first, err := p.TimestepData(ctx, Request{Timestep: "1", Field: BlankField})
	require.NoError(t, err)

	res, err := p.TimestepData(ctx, Request{
		Timestep:   "1",
		Field:      BlankField,
		KnownMesh:  func(h string) bool { return h == first.Hashes.Mesh },
		KnownField: func(h string) bool { return h == first.Hashes.Field },
	})
	require.NoError(t, err)
	assert.Nil(t, res.Mesh)
	assert.Nil(t, res.Field)
}

func TestElementalField(t *testing.T) {
	p := newLocalParser(t, writeCube(t, 2, "1"))

	res, err := p.TimestepData(context.Background(), Request{
		Timestep: "1",
		Field:    FieldSelection{Type: ElementalType, Name: "stress"},
	})
	require.NoError(t, err)
	assert.Equal(t, ElementalType, res.FieldType)
	require.Len(t, res.Field, 26)
	for _, v := range res.Field {
		assert.InDelta(t, 1.0, v, 1e-9)
	}
}

func TestElementSetChangesHashes(t *testing.T) {
	p := newLocalParser(t, writeCube(t, 2, "1"))
	ctx := context.Background()

	all, err := p.TimestepData(ctx, Request{Timestep: "1", Field: BlankField})
	require.NoError(t, err)
	corner, err := p.TimestepData(ctx, Request{Timestep: "1", Field: BlankField, ElementSet: "corner"})
	require.NoError(t, err)

	assert.NotEqual(t, all.Hashes.Mesh, corner.Hashes.Mesh)
	assert.NotEqual(t, all.Hashes.Field, corner.Hashes.Field)
	require.NotNil(t, corner.Mesh)
	assert.Equal(t, 8, corner.Mesh.NodeCount())
	assert.Equal(t, 12, corner.Mesh.TriangleCount())
	assert.Equal(t, []int32{0}, corner.Mesh.SurfaceElements[format.C3D8])

	_, err = p.TimestepData(ctx, Request{Timestep: "1", Field: BlankField, ElementSet: "nope"})
	assert.True(t, errors.Is(err, errors.ErrMissingObject))
}

func TestMissingField(t *testing.T) {
	p := newLocalParser(t, writeCube(t, 1, "1"))

	_, err := p.TimestepData(context.Background(), Request{
		Timestep: "1",
		Field:    FieldSelection{Type: NodalType, Name: "pressure"},
	})
	assert.True(t, errors.Is(err, errors.ErrMissingObject))
}

// blindSource hides the sha1s so every object must be loaded to be hashed.
type blindSource struct {
	*LocalSource
	corrupt bool
}

func (s blindSource) hide(refs []ObjectRef) []ObjectRef {
	out := make([]ObjectRef, len(refs))
	for i, r := range refs {
		r.Sha1sum = ""
		if s.corrupt {
			r.Sha1sum = "0000000000000000000000000000000000000000"
		}
		out[i] = r
	}
	return out
}

func (s blindSource) Geometry(ctx context.Context, ts string) (GeometryRefs, error) {
	geo, err := s.LocalSource.Geometry(ctx, ts)
	if err != nil {
		return geo, err
	}
	geo.Nodes = s.hide([]ObjectRef{geo.Nodes})[0]
	geo.Elements = s.hide(geo.Elements)
	geo.Skins = s.hide(geo.Skins)
	return geo, nil
}

func (s blindSource) FieldRefs(ctx context.Context, ts string, f FieldSelection) ([]ObjectRef, error) {
	refs, err := s.LocalSource.FieldRefs(ctx, ts, f)
	return s.hide(refs), err
}

func (s blindSource) ElementSetRefs(ctx context.Context, ts, name string) ([]ObjectRef, error) {
	refs, err := s.LocalSource.ElementSetRefs(ctx, ts, name)
	return s.hide(refs), err
}

func TestUnknownSha1sAreHashedFromDeliveredBytes(t *testing.T) {
	root := writeCube(t, 2, "1")
	ctx := context.Background()
	req := Request{Timestep: "1", Field: FieldSelection{Type: NodalType, Name: "temperature"}, ElementSet: "corner"}

	known, err := newLocalParser(t, root).TimestepData(ctx, req)
	require.NoError(t, err)

	local, err := NewLocalSource(root, "cube")
	require.NoError(t, err)
	p, err := New(blindSource{LocalSource: local}, nil, nil)
	require.NoError(t, err)

	blind, err := p.TimestepData(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, known.Hashes, blind.Hashes)
	require.NotNil(t, blind.Mesh)

	// bytes are loaded to learn the hash, but nothing is decoded
	before := format.DecodeCount()
	req.Current = blind.Hashes
	again, err := p.TimestepData(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, again.Mesh)
	assert.Nil(t, again.Field)
	assert.Equal(t, before, format.DecodeCount())
}

func TestMismatchedSha1KeepsDeliveredBytes(t *testing.T) {
	root := writeCube(t, 1, "1")
	local, err := NewLocalSource(root, "cube")
	require.NoError(t, err)
	metrics := NewMetrics(nil)
	p, err := New(blindSource{LocalSource: local, corrupt: true}, metrics, nil)
	require.NoError(t, err)

	res, err := p.TimestepData(context.Background(), Request{
		Timestep: "1",
		Field:    FieldSelection{Type: NodalType, Name: "temperature"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Mesh)
	assert.Equal(t, 8, res.Mesh.NodeCount())
	assert.Len(t, res.Field, 8)
}

func TestMismatchedSha1MatchingCurrentMeshIsNotResent(t *testing.T) {
	root := writeCube(t, 1, "1")
	local, err := NewLocalSource(root, "cube")
	require.NoError(t, err)
	p, err := New(blindSource{LocalSource: local, corrupt: true}, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()
	req := Request{Timestep: "1", Field: FieldSelection{Type: NodalType, Name: "temperature"}}

	first, err := p.TimestepData(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, first.Mesh)

	// the index sha1s never match, but the delivered bytes hash to the
	// mesh the caller already displays
	req.Current = first.Hashes
	before := format.DecodeCount()
	again, err := p.TimestepData(ctx, req)
	require.NoError(t, err)
	assert.Nil(t, again.Mesh)
	assert.Nil(t, again.Field)
	assert.Equal(t, first.Hashes, again.Hashes)
	assert.Equal(t, before, format.DecodeCount())
}
