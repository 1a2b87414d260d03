package scene

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klump3n/platt-backend-sub000/dataset"
	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/filecache"
	"github.com/Klump3n/platt-backend-sub000/format"
	"github.com/Klump3n/platt-backend-sub000/index"
	"github.com/Klump3n/platt-backend-sub000/parser"
	"github.com/Klump3n/platt-backend-sub000/subscription"
	"github.com/Klump3n/platt-backend-sub000/testutil"
)

type sceneUpdate struct {
	scene  string
	update dataset.Update
}

type fakeNotifier struct {
	mu      sync.Mutex
	updates []sceneUpdate
	closed  []string
}

func (n *fakeNotifier) CloseScene(sceneID string) {
	n.mu.Lock()
	n.closed = append(n.closed, sceneID)
	n.mu.Unlock()
}

func (n *fakeNotifier) Name() string { return "fake" }

func (n *fakeNotifier) Notify(sceneID string, u dataset.Update) error {
	n.mu.Lock()
	n.updates = append(n.updates, sceneUpdate{scene: sceneID, update: u})
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) all() []sceneUpdate {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sceneUpdate(nil), n.updates...)
}

type fakeSubscriber struct {
	mu           sync.Mutex
	subscribed   map[string]string
	removedScene []string
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{subscribed: map[string]string{}}
}

func (s *fakeSubscriber) Subscribe(datasetID, namespace, _ string, _ subscription.Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribed[datasetID]; ok {
		return false
	}
	s.subscribed[datasetID] = namespace
	return true
}

func (s *fakeSubscriber) Unsubscribe(datasetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscribed[datasetID]
	delete(s.subscribed, datasetID)
	return ok
}

func (s *fakeSubscriber) UnsubscribeScene(sceneID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removedScene = append(s.removedScene, sceneID)
	return 0
}

type memFetcher map[string][]byte

func (f memFetcher) Fetch(_ context.Context, namespace string, keys []string) ([]*filecache.Entry, error) {
	out := make([]*filecache.Entry, len(keys))
	for i, k := range keys {
		contents, ok := f[k]
		if !ok {
			return nil, errors.WrapMissing("memFetcher", "Fetch", "%s", k)
		}
		out[i] = &filecache.Entry{Namespace: namespace, Key: k, Contents: contents, Sha1sum: parser.Sha1Hex(contents)}
	}
	return out, nil
}

func publishCube(t *testing.T, m *index.Mirror, f memFetcher, namespace, timestep string) {
	t.Helper()
	mesh := testutil.Cube(1)
	add := func(key string, contents []byte) {
		delta, ok := index.ParseKey(namespace, key, parser.Sha1Hex(contents))
		require.True(t, ok)
		m.Apply(delta)
		f[key] = contents
	}
	add(index.FileKey(index.SimTA, timestep, "nodes"), format.EncodeFloat64(mesh.Nodes.Data))
	add(index.FileKey(index.SimTA, timestep, "elements", "c3d8"), format.EncodeInt32(mesh.Elements[format.C3D8].Data))
}

type fixture struct {
	manager  *Manager
	notifier *fakeNotifier
	subs     *fakeSubscriber
	mirror   *index.Mirror
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"b", "a"} {
		require.NoError(t, testutil.WriteTimestep(root, name, "1", testutil.CubeTimestep(1)))
		require.NoError(t, testutil.WriteTimestep(root, name, "2", testutil.CubeTimestep(2)))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "junk"), 0o755))

	mirror := index.NewMirror()
	fetcher := memFetcher{}
	publishCube(t, mirror, fetcher, "remote", "1")
	publishCube(t, mirror, fetcher, "a", "1")

	subs := newFakeSubscriber()
	m := NewManager(Config{DataDir: root, Remote: mirror, Fetcher: fetcher, Subscriptions: subs})
	n := &fakeNotifier{}
	m.AddNotifier(n)
	return fixture{manager: m, notifier: n, subs: subs, mirror: mirror}
}

func TestAvailableDatasets(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{"a", "b", "remote"}, f.manager.AvailableDatasets(context.Background()))
}

func TestCreateScene(t *testing.T) {
	f := newFixture(t)

	res, err := f.manager.CreateScene(context.Background(), []string{"a", "missing", "../b", "remote"})
	require.NoError(t, err)
	assert.Len(t, res.SceneHash, 40)
	require.Len(t, res.Success, 2)
	assert.Equal(t, "a", res.Success[0].Name)
	assert.Equal(t, "remote", res.Success[1].Name)
	assert.Equal(t, []string{"missing", "../b"}, res.Fail)

	s, ok := f.manager.Scene(res.SceneHash)
	require.True(t, ok)
	assert.Len(t, s.Datasets(), 2)

	infos := f.manager.Scenes()
	require.Contains(t, infos, res.SceneHash)
	assert.Equal(t, res.Success, infos[res.SceneHash].Datasets)

	d, ok := f.manager.Dataset(res.SceneHash, res.Success[0].Hash)
	require.True(t, ok)
	assert.Equal(t, "1", d.Timestep())
	assert.Equal(t, "/api/scenes/"+res.SceneHash+"/"+d.ID(), d.Meta().Href)
}

func TestCreateSceneWithoutValidDatasets(t *testing.T) {
	f := newFixture(t)

	res, err := f.manager.CreateScene(context.Background(), []string{"junk", "nope"})
	assert.True(t, errors.Is(err, errors.ErrInvalidSelection))
	assert.Equal(t, []string{"junk", "nope"}, res.Fail)
	assert.Empty(t, f.manager.Scenes())
}

func TestAddDatasets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.manager.CreateScene(ctx, []string{"a"})
	require.NoError(t, err)

	added, err := f.manager.AddDatasets(ctx, res.SceneHash, []string{"b", "a"})
	require.NoError(t, err)
	require.Len(t, added.Success, 1)
	assert.Equal(t, "b", added.Success[0].Name)
	assert.Equal(t, []string{"a"}, added.Fail)

	_, err = f.manager.AddDatasets(ctx, "nope", []string{"b"})
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestConcurrentAddsKeepNamesUnique(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.manager.CreateScene(ctx, []string{"a"})
	require.NoError(t, err)

	const adders = 8
	var wg sync.WaitGroup
	results := make([]AddResult, adders)
	for i := range adders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.manager.AddDatasets(ctx, res.SceneHash, []string{"b"})
			assert.NoError(t, err)
			results[i] = r
		}()
	}
	wg.Wait()

	added, failed := 0, 0
	for _, r := range results {
		added += len(r.Success)
		failed += len(r.Fail)
	}
	assert.Equal(t, 1, added)
	assert.Equal(t, adders-1, failed)

	s, ok := f.manager.Scene(res.SceneHash)
	require.True(t, ok)
	names := []string{}
	for _, d := range s.Datasets() {
		names = append(names, d.Meta().Name)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestRemovingLastDatasetDeletesScene(t *testing.T) {
	f := newFixture(t)
	res, err := f.manager.CreateScene(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	id := res.SceneHash

	require.NoError(t, f.manager.RemoveDataset(id, res.Success[0].Hash))
	_, ok := f.manager.Scene(id)
	assert.True(t, ok)

	err = f.manager.RemoveDataset(id, "nope")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	require.NoError(t, f.manager.RemoveDataset(id, res.Success[1].Hash))
	_, ok = f.manager.Scene(id)
	assert.False(t, ok)
	assert.Equal(t, []string{id}, f.subs.removedScene)
	assert.Equal(t, []string{id}, f.notifier.closed)

	assert.True(t, errors.Is(f.manager.DeleteScene(id), errors.ErrNotFound))
}

func TestDatasetChangesAreBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.manager.CreateScene(ctx, []string{"a"})
	require.NoError(t, err)
	d, ok := f.manager.Dataset(res.SceneHash, res.Success[0].Hash)
	require.True(t, ok)

	_, err = d.SetTimestep(ctx, "2")
	require.NoError(t, err)

	updates := f.notifier.all()
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, res.SceneHash, last.scene)
	assert.Equal(t, dataset.UpdateMesh, last.update.Update)
	assert.Equal(t, d.ID(), last.update.DatasetHash)
	assert.Equal(t, d.Hashes(), last.update.Hashes)
}

func TestColorbar(t *testing.T) {
	f := newFixture(t)
	res, err := f.manager.CreateScene(context.Background(), []string{"a"})
	require.NoError(t, err)
	s, _ := f.manager.Scene(res.SceneHash)
	assert.Nil(t, s.Colorbar().Selected)

	selected, low, high := "values", 0.5, 2.0
	c := Colorbar{Selected: &selected, Values: Range{Min: &low, Max: &high}}
	got, err := f.manager.SetColorbar(res.SceneHash, c)
	require.NoError(t, err)
	assert.Equal(t, c, got)
	assert.Equal(t, c, s.Colorbar())

	updates := f.notifier.all()
	assert.Equal(t, dataset.UpdateColorbar, updates[len(updates)-1].update.Update)

	_, err = f.manager.SetColorbar("nope", c)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestResolveTimestep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.manager.CreateScene(ctx, []string{"a"})
	require.NoError(t, err)
	d, _ := f.manager.Dataset(res.SceneHash, res.Success[0].Hash)

	prev, err := ResolveTimestep(ctx, d, PrevTimestep)
	require.NoError(t, err)
	assert.Equal(t, "1", prev)

	next, err := ResolveTimestep(ctx, d, NextTimestep)
	require.NoError(t, err)
	assert.Equal(t, "2", next)

	_, err = d.SetTimestep(ctx, next)
	require.NoError(t, err)
	next, err = ResolveTimestep(ctx, d, NextTimestep)
	require.NoError(t, err)
	assert.Equal(t, "2", next)

	plain, err := ResolveTimestep(ctx, d, "7")
	require.NoError(t, err)
	assert.Equal(t, "7", plain)
}

func TestRenderedSubscribesRemoteDatasetsOnce(t *testing.T) {
	f := newFixture(t)
	res, err := f.manager.CreateScene(context.Background(), []string{"a", "remote"})
	require.NoError(t, err)
	local, remote := res.Success[0].Hash, res.Success[1].Hash

	f.manager.Rendered(res.SceneHash, local)
	f.manager.Rendered(res.SceneHash, remote)
	f.manager.Rendered(res.SceneHash, remote)
	assert.Equal(t, map[string]string{remote: "remote"}, f.subs.subscribed)

	require.NoError(t, f.manager.RemoveDataset(res.SceneHash, remote))
	assert.Empty(t, f.subs.subscribed)
}
