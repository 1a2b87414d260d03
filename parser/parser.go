// Package parser turns the objects of one dataset timestep into surface
// geometry and surface field values. Every mesh and field is identified by a
// content hash folded from the sha1s of the objects it was built from, so a
// caller that already holds a hash never makes the parser load or decode the
// bytes again.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/format"
	"github.com/Klump3n/platt-backend-sub000/metric"
	"github.com/Klump3n/platt-backend-sub000/pkg/cache"
	"github.com/Klump3n/platt-backend-sub000/surface"
)

const (
	modelCacheSize = 8
	countCacheSize = 64
)

// Hashes identifies the mesh and the field of a result.
type Hashes struct {
	Mesh  string `json:"mesh"`
	Field string `json:"field"`
}

// Request asks for the surface data of one timestep.
type Request struct {
	Timestep   string
	Field      FieldSelection
	ElementSet string
	// Current are the hashes the caller displays now.
	Current Hashes
	// KnownMesh and KnownField, when set, report further hashes the caller
	// holds. Known hashes are not decoded.
	KnownMesh  func(hash string) bool
	KnownField func(hash string) bool
}

func (r Request) knowsMesh(hash string) bool {
	return hash != "" && (hash == r.Current.Mesh || (r.KnownMesh != nil && r.KnownMesh(hash)))
}

func (r Request) knowsField(hash string) bool {
	return hash != "" && (hash == r.Current.Field || (r.KnownField != nil && r.KnownField(hash)))
}

func (r Request) elementSet() string {
	if r.ElementSet == "" {
		return NoElementSet
	}
	return r.ElementSet
}

// Result carries the hashes of a timestep and whatever the caller did not
// already hold: Mesh is nil when the mesh hash was known, Field is nil when
// the field hash was known.
type Result struct {
	Hashes    Hashes
	Mesh      *surface.Model
	Field     []float64
	FieldType string
}

// Metrics are shared by the parsers of all datasets.
type Metrics struct {
	runs       prometheus.Counter
	decodes    prometheus.Counter
	meshReuse  prometheus.Counter
	fieldReuse prometheus.Counter
	mismatches prometheus.Counter
	core       *metric.Metrics
}

// NewMetrics registers the parser metrics. A nil registry yields
// unregistered collectors.
func NewMetrics(registry *metric.MetricsRegistry) *Metrics {
	m := &Metrics{
		runs:       metric.Counter(registry, "parser", "runs_total", "Timestep parser runs"),
		decodes:    metric.Counter(registry, "parser", "mesh_decodes_total", "Meshes decoded and extracted"),
		meshReuse:  metric.Counter(registry, "parser", "mesh_reuse_total", "Mesh hashes the caller already held"),
		fieldReuse: metric.Counter(registry, "parser", "field_reuse_total", "Field hashes the caller already held"),
		mismatches: metric.Counter(registry, "parser", "hash_mismatches_total", "Delivered objects whose sha1 differs from the index"),
	}
	if registry != nil {
		m.core = registry.CoreMetrics()
	}
	return m
}

type meshEntry struct {
	model    *surface.Model
	elements map[format.ElementType]format.Records[int32]
}

// Parser reads one dataset through its Source.
type Parser struct {
	source  Source
	logger  *slog.Logger
	metrics *Metrics
	models  cache.Cache[*meshEntry]
	counts  cache.Cache[int]
}

// New creates a parser over source.
func New(source Source, metrics *Metrics, logger *slog.Logger) (*Parser, error) {
	if source == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Parser", "New", "nil source")
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	models, err := cache.NewLRU[*meshEntry](modelCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "Parser", "New", "create model cache")
	}
	counts, err := cache.NewLRU[int](countCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "Parser", "New", "create count cache")
	}
	return &Parser{
		source:  source,
		logger:  logger.With("component", "parser"),
		metrics: metrics,
		models:  models,
		counts:  counts,
	}, nil
}

// Source returns the parser's source.
func (p *Parser) Source() Source { return p.source }

// TimestepData resolves the mesh and the field selected by req.
func (p *Parser) TimestepData(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	p.metrics.runs.Inc()
	defer func() {
		if p.metrics.core != nil {
			p.metrics.core.RecordDuration("parser", "timestep_data", time.Since(start))
		}
	}()

	geo, err := p.source.Geometry(ctx, req.Timestep)
	if err != nil {
		return nil, err
	}
	refs := meshRefs{geo: geo}
	if set := req.elementSet(); set != NoElementSet {
		if refs.elsets, err = p.source.ElementSetRefs(ctx, req.Timestep, set); err != nil {
			return nil, err
		}
	}

	m := &meshRun{parser: p, refs: refs}
	m.hash, m.hashKnown = foldRefs(refs.hashed())
	if !m.hashKnown {
		if err := m.load(ctx); err != nil {
			return nil, err
		}
	}

	res := &Result{}
	if err := p.field(ctx, req, m, res); err != nil {
		return nil, err
	}

	meshKnown := req.knowsMesh(m.hash)
	if !meshKnown && m.blobs == nil {
		// the delivered bytes may hash to a mesh the caller holds
		if err := m.resolve(ctx); err != nil {
			return nil, err
		}
		meshKnown = req.knowsMesh(m.hash)
	}
	res.Hashes.Mesh = m.hash
	if meshKnown {
		p.metrics.meshReuse.Inc()
		return res, nil
	}

	entry, err := m.entry(ctx)
	if err != nil {
		return nil, err
	}
	res.Mesh = entry.model
	return res, nil
}

func (p *Parser) field(ctx context.Context, req Request, m *meshRun, res *Result) error {
	if req.Field.IsBlank() {
		res.FieldType = NoFieldType
		count, err := m.nodeCount(ctx)
		if err != nil {
			return err
		}
		res.Hashes.Field = Fold(append([]string{fmt.Sprintf("blank:%d", count)}, m.elsetSums()...)...)
		if req.knowsField(res.Hashes.Field) {
			p.metrics.fieldReuse.Inc()
			return nil
		}
		res.Field = make([]float64, count)
		return nil
	}

	res.FieldType = req.Field.Type
	refs, err := p.source.FieldRefs(ctx, req.Timestep, req.Field)
	if err != nil {
		return err
	}
	var blobs []Blob
	sums, known := refSums(refs)
	if !known {
		if blobs, err = p.load(ctx, refs); err != nil {
			return err
		}
		sums = blobSums(blobs)
	}
	res.Hashes.Field = Fold(append(sums, m.elsetSums()...)...)
	if req.knowsField(res.Hashes.Field) {
		p.metrics.fieldReuse.Inc()
		return nil
	}

	if blobs == nil {
		if blobs, err = p.load(ctx, refs); err != nil {
			return err
		}
	}
	entry, err := m.entry(ctx)
	if err != nil {
		return err
	}
	values, err := decodeField(req.Field, entry, blobs)
	if err != nil {
		return err
	}
	res.Field = values
	return nil
}

func decodeField(field FieldSelection, entry *meshEntry, blobs []Blob) ([]float64, error) {
	if field.Type == NodalType {
		recs, err := format.Decode[float64](blobs[0].Contents, format.NodalLayout)
		if err != nil {
			return nil, err
		}
		return entry.model.RemapNodal(recs.Data)
	}

	values := make(map[format.ElementType][]float64, len(blobs))
	for _, b := range blobs {
		recs, err := format.Decode[float64](b.Contents, format.ElementalLayout(b.Ref.Type))
		if err != nil {
			return nil, err
		}
		values[b.Ref.Type] = recs.Data
	}
	return surface.ExtrapolateElemental(entry.model, entry.elements, values)
}

// load fetches refs and logs delivered sha1s that differ from the
// referenced ones. The delivered bytes are used either way.
func (p *Parser) load(ctx context.Context, refs []ObjectRef) ([]Blob, error) {
	blobs, err := p.source.Load(ctx, refs)
	if err != nil {
		return nil, err
	}
	if len(blobs) != len(refs) {
		return nil, errors.WrapMissing("Parser", "load", "%d of %d objects delivered", len(blobs), len(refs))
	}
	for _, b := range blobs {
		if b.Ref.Sha1sum != "" && b.Sha1sum != b.Ref.Sha1sum {
			p.metrics.mismatches.Inc()
			p.logger.Warn("delivered object does not match its index sha1",
				"key", b.Ref.Key,
				"error", errors.Kind(errors.ErrHashMismatch, "index %s, delivered %s", b.Ref.Sha1sum, b.Sha1sum))
		}
	}
	return blobs, nil
}

// meshRefs lists the objects of a mesh: nodes, elements and skins of the
// geometry, then the element-set objects.
type meshRefs struct {
	geo    GeometryRefs
	elsets []ObjectRef
}

func (r meshRefs) all() []ObjectRef {
	out := make([]ObjectRef, 0, 1+len(r.geo.Elements)+len(r.geo.Skins)+len(r.elsets))
	out = append(out, r.geo.Nodes)
	out = append(out, r.geo.Elements...)
	out = append(out, r.geo.Skins...)
	return append(out, r.elsets...)
}

// hashed are the objects folded into the mesh hash: nodes, elements in tag
// order, then element sets.
func (r meshRefs) hashed() []ObjectRef {
	out := make([]ObjectRef, 0, 1+len(r.geo.Elements)+len(r.elsets))
	out = append(out, r.geo.Nodes)
	out = append(out, r.geo.Elements...)
	return append(out, r.elsets...)
}

// meshRun resolves the mesh of one request, loading at most once.
type meshRun struct {
	parser    *Parser
	refs      meshRefs
	hash      string
	hashKnown bool
	blobs     []Blob
}

func (m *meshRun) load(ctx context.Context) error {
	if m.blobs != nil {
		return nil
	}
	blobs, err := m.parser.load(ctx, m.refs.all())
	if err != nil {
		return err
	}
	m.blobs = blobs
	m.hash = Fold(blobSums(m.hashedBlobs())...)
	return nil
}

// resolve settles the mesh hash on the delivered sha1s unless a mesh is
// already cached under the indexed hash.
func (m *meshRun) resolve(ctx context.Context) error {
	if _, ok := m.parser.models.Get(m.hash); ok {
		return nil
	}
	return m.load(ctx)
}

func (m *meshRun) hashedBlobs() []Blob {
	n := 1 + len(m.refs.geo.Elements)
	skins := len(m.refs.geo.Skins)
	out := make([]Blob, 0, n+len(m.refs.elsets))
	out = append(out, m.blobs[:n]...)
	return append(out, m.blobs[n+skins:]...)
}

func (m *meshRun) elsetSums() []string {
	if m.blobs != nil {
		return blobSums(m.blobs[len(m.blobs)-len(m.refs.elsets):])
	}
	sums, _ := refSums(m.refs.elsets)
	return sums
}

func (m *meshRun) nodeCount(ctx context.Context) (int, error) {
	if n, ok := m.parser.counts.Get(m.hash); ok {
		return n, nil
	}
	entry, err := m.entry(ctx)
	if err != nil {
		return 0, err
	}
	return entry.model.NodeCount(), nil
}

// entry returns the extracted mesh, from the parser's cache when the hash is
// held there.
func (m *meshRun) entry(ctx context.Context) (*meshEntry, error) {
	p := m.parser
	if e, ok := p.models.Get(m.hash); ok {
		return e, nil
	}
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	if e, ok := p.models.Get(m.hash); ok {
		return e, nil
	}

	mesh, masks, err := m.decode()
	if err != nil {
		return nil, err
	}
	model, err := surface.Extract(mesh, masks)
	if err != nil {
		return nil, err
	}
	p.metrics.decodes.Inc()
	p.logger.Debug("extracted surface",
		"mesh_hash", m.hash,
		"surface_nodes", model.NodeCount(),
		"triangles", model.TriangleCount())

	e := &meshEntry{model: model, elements: mesh.Elements}
	_, _ = p.models.Set(m.hash, e)
	_, _ = p.counts.Set(m.hash, model.NodeCount())
	return e, nil
}

func (m *meshRun) decode() (format.Mesh, map[format.ElementType][]int32, error) {
	geo := m.refs.geo
	blobs := m.blobs

	nodes, err := format.Decode[float64](blobs[0].Contents, format.NodesLayout)
	if err != nil {
		return format.Mesh{}, nil, err
	}
	mesh := format.Mesh{Nodes: nodes, Elements: make(map[format.ElementType]format.Records[int32], len(geo.Elements))}
	i := 1
	for range geo.Elements {
		b := blobs[i]
		recs, err := format.Decode[int32](b.Contents, format.ElementsLayout(b.Ref.Type))
		if err != nil {
			return format.Mesh{}, nil, err
		}
		mesh.Elements[b.Ref.Type] = recs
		i++
	}
	for range geo.Skins {
		b := blobs[i]
		faces, err := format.DecodeSkin(b.Contents)
		if err != nil {
			return format.Mesh{}, nil, err
		}
		if mesh.Skins == nil {
			mesh.Skins = make(map[format.ElementType][]format.SkinFace, len(geo.Skins))
		}
		mesh.Skins[b.Ref.Type] = faces
		i++
	}

	if len(m.refs.elsets) == 0 {
		return mesh, nil, nil
	}
	masks := make(map[format.ElementType][]int32, len(m.refs.elsets))
	for _, b := range blobs[i:] {
		recs, err := format.Decode[int32](b.Contents, format.ElementSetLayout)
		if err != nil {
			return format.Mesh{}, nil, err
		}
		masks[b.Ref.Type] = recs.Data
	}
	return mesh, masks, nil
}

// foldRefs folds the referenced sha1s. It reports false when any is unknown.
func foldRefs(refs []ObjectRef) (string, bool) {
	sums, ok := refSums(refs)
	if !ok {
		return "", false
	}
	return Fold(sums...), true
}

func refSums(refs []ObjectRef) ([]string, bool) {
	out := make([]string, len(refs))
	for i, r := range refs {
		if r.Sha1sum == "" {
			return nil, false
		}
		out[i] = r.Sha1sum
	}
	return out, true
}

func blobSums(blobs []Blob) []string {
	out := make([]string, len(blobs))
	for i, b := range blobs {
		out[i] = b.Sha1sum
	}
	return out
}
