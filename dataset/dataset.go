// Package dataset holds the selection state of one dataset in a scene: the
// timestep, field, element set and orientation the client displays, plus
// the surface meshes and fields computed for them, cached by content hash.
package dataset

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Klump3n/platt-backend-sub000/errors"
	"github.com/Klump3n/platt-backend-sub000/index"
	"github.com/Klump3n/platt-backend-sub000/metric"
	"github.com/Klump3n/platt-backend-sub000/parser"
	"github.com/Klump3n/platt-backend-sub000/pkg/cache"
)

const payloadCacheSize = 32

// Requirer is implemented by sources that can tell which index objects a
// selection needs.
type Requirer interface {
	Required(timestep string, field parser.FieldSelection, elementSet string) *index.Sim
}

// Dataset is the state of one dataset. Each mutating operation holds the
// operation lock across its parser run, so runs never overlap.
type Dataset struct {
	meta    Meta
	parser  *parser.Parser
	publish Publisher
	logger  *slog.Logger
	core    *metric.Metrics

	op sync.Mutex

	mu          sync.RWMutex
	state       State
	timestep    string
	field       parser.FieldSelection
	elementSet  string
	orientation Orientation
	hashes      parser.Hashes
	mesh        *Geometry
	values      *FieldData

	meshes cache.Cache[*Geometry]
	fields cache.Cache[*FieldData]
}

// Config carries the collaborators of a dataset.
type Config struct {
	Meta      Meta
	Parser    *parser.Parser
	Publisher Publisher
	Logger    *slog.Logger
	Metrics   *metric.MetricsRegistry
}

// New creates a dataset and selects its first timestep.
func New(ctx context.Context, cfg Config) (*Dataset, error) {
	if cfg.Parser == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Dataset", "New", "nil parser")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	meshes, err := cache.NewLRU[*Geometry](payloadCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "Dataset", "New", "create mesh cache")
	}
	fields, err := cache.NewLRU[*FieldData](payloadCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "Dataset", "New", "create field cache")
	}

	d := &Dataset{
		meta:        cfg.Meta,
		parser:      cfg.Parser,
		publish:     cfg.Publisher,
		logger:      logger.With("component", "dataset", "dataset", cfg.Meta.Name, "dataset_hash", cfg.Meta.Hash),
		field:       parser.BlankField,
		elementSet:  parser.NoElementSet,
		orientation: Orientation{DatasetOrientation: identity()},
		meshes:      meshes,
		fields:      fields,
	}
	if cfg.Metrics != nil {
		d.core = cfg.Metrics.CoreMetrics()
	}

	timesteps, err := d.Timesteps(ctx)
	if err != nil {
		return nil, err
	}
	if len(timesteps) == 0 {
		return nil, errors.WrapMissing("Dataset", "New", "%s has no timesteps", cfg.Meta.Name)
	}
	d.op.Lock()
	defer d.op.Unlock()
	if err := d.transition(ctx, timesteps[0], d.field, d.elementSet); err != nil {
		return nil, err
	}
	return d, nil
}

// Meta returns the dataset's description.
func (d *Dataset) Meta() Meta { return d.meta }

// ID returns the dataset hash.
func (d *Dataset) ID() string { return d.meta.Hash }

// Source returns where the dataset is read from.
func (d *Dataset) Source() parser.Source { return d.parser.Source() }

// SetPublisher replaces the publisher of updates.
func (d *Dataset) SetPublisher(p Publisher) {
	d.mu.Lock()
	d.publish = p
	d.mu.Unlock()
}

// State returns the state machine's stage.
func (d *Dataset) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Timestep returns the selected timestep.
func (d *Dataset) Timestep() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.timestep
}

// SelectedField returns the selected field.
func (d *Dataset) SelectedField() parser.FieldSelection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.field
}

// ElementSet returns the selected element set.
func (d *Dataset) ElementSet() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.elementSet
}

// Orientation returns a copy of the orientation.
func (d *Dataset) Orientation() Orientation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o := d.orientation
	o.DatasetOrientation = append([]float64(nil), o.DatasetOrientation...)
	return o
}

// Hashes returns the hashes of the displayed mesh and field.
func (d *Dataset) Hashes() parser.Hashes {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.hashes
}

// Timesteps lists the dataset's timesteps in natural order.
func (d *Dataset) Timesteps(ctx context.Context) ([]string, error) {
	return d.parser.Source().Timesteps(ctx)
}

// Fields lists the fields of the selected timestep.
func (d *Dataset) Fields(ctx context.Context) (parser.FieldList, error) {
	return d.parser.Source().Fields(ctx, d.Timestep())
}

// ElementSets lists the element sets of the selected timestep.
func (d *Dataset) ElementSets(ctx context.Context) ([]string, error) {
	return d.parser.Source().ElementSets(ctx, d.Timestep())
}

// Mesh returns the current mesh, or the empty payload when hash is the
// current mesh hash.
func (d *Dataset) Mesh(hash string) *Geometry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.mesh == nil || (hash != "" && hash == d.hashes.Mesh) {
		return EmptyGeometry()
	}
	return d.mesh
}

// Field returns the current field, or the empty payload when hash is the
// current field hash.
func (d *Dataset) Field(hash string) *FieldData {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.values == nil || (hash != "" && hash == d.hashes.Field) {
		return EmptyField()
	}
	return d.values
}

// Required returns the index objects a timestep needs to render the current
// selection. It is nil for sources that cannot tell.
func (d *Dataset) Required() *index.Sim {
	r, ok := d.parser.Source().(Requirer)
	if !ok {
		return nil
	}
	d.mu.RLock()
	ts, field, set := d.timestep, d.field, d.elementSet
	d.mu.RUnlock()
	return r.Required(ts, field, set)
}

// SetTimestep selects ts. An unknown timestep leaves the selection
// unchanged. A selected field or element set the new timestep lacks falls
// back to the blank field or all elements.
func (d *Dataset) SetTimestep(ctx context.Context, ts string) (string, error) {
	d.op.Lock()
	defer d.op.Unlock()

	timesteps, err := d.Timesteps(ctx)
	if err != nil {
		return d.failed("SetTimestep", err, d.Timestep())
	}
	if !contains(timesteps, ts) {
		return d.failed("SetTimestep",
			errors.WrapSelection("Dataset", "SetTimestep", "unknown timestep %q", ts), d.Timestep())
	}

	field, set := d.SelectedField(), d.ElementSet()
	src := d.parser.Source()
	if fields, err := src.Fields(ctx, ts); err != nil || !fields.Has(field) {
		field = parser.BlankField
	}
	if set != parser.NoElementSet {
		if sets, err := src.ElementSets(ctx, ts); err != nil || !contains(sets, set) {
			set = parser.NoElementSet
		}
	}

	if err := d.transition(ctx, ts, field, set); err != nil {
		return d.failed("SetTimestep", err, d.Timestep())
	}
	return ts, nil
}

// SetField selects field at the current timestep.
func (d *Dataset) SetField(ctx context.Context, field parser.FieldSelection) (parser.FieldSelection, error) {
	d.op.Lock()
	defer d.op.Unlock()

	if field.IsBlank() {
		field = parser.BlankField
	} else {
		fields, err := d.Fields(ctx)
		if err != nil {
			return d.failedField(err)
		}
		if !fields.Has(field) {
			return d.failedField(errors.WrapSelection("Dataset", "SetField", "unknown %s field %q", field.Type, field.Name))
		}
	}
	if err := d.transition(ctx, d.Timestep(), field, d.ElementSet()); err != nil {
		return d.failedField(err)
	}
	return field, nil
}

// SetElementSet selects an element set, or every element for
// parser.NoElementSet.
func (d *Dataset) SetElementSet(ctx context.Context, name string) (string, error) {
	d.op.Lock()
	defer d.op.Unlock()

	if name != parser.NoElementSet {
		sets, err := d.ElementSets(ctx)
		if err != nil {
			return d.failed("SetElementSet", err, d.ElementSet())
		}
		if !contains(sets, name) {
			return d.failed("SetElementSet",
				errors.WrapSelection("Dataset", "SetElementSet", "unknown element set %q", name), d.ElementSet())
		}
	}
	if err := d.transition(ctx, d.Timestep(), d.SelectedField(), name); err != nil {
		return d.failed("SetElementSet", err, d.ElementSet())
	}
	return name, nil
}

// SetOrientation replaces the orientation and publishes an orientation
// update.
func (d *Dataset) SetOrientation(values []float64) (Orientation, error) {
	if len(values) != OrientationSize {
		err := errors.WrapSelection("Dataset", "SetOrientation", "orientation has %d values, want %d",
			len(values), OrientationSize)
		d.logger.Warn("orientation rejected", "error", err)
		return d.Orientation(), err
	}

	d.mu.Lock()
	d.orientation = Orientation{
		DatasetOrientation:     append([]float64(nil), values...),
		DatasetOrientationInit: true,
	}
	update := d.update(UpdateOrientation)
	publish := d.publish
	d.mu.Unlock()

	if publish != nil {
		publish(update)
	}
	return d.Orientation(), nil
}

// transition runs the parser for a selection and commits the result. The
// caller holds the operation lock.
func (d *Dataset) transition(ctx context.Context, ts string, field parser.FieldSelection, set string) error {
	start := time.Now()
	current := d.Hashes()
	res, err := d.parser.TimestepData(ctx, parser.Request{
		Timestep:   ts,
		Field:      field,
		ElementSet: set,
		Current:    current,
		KnownMesh:  d.knownMesh,
		KnownField: d.knownField,
	})
	if err != nil {
		return err
	}

	mesh, err := d.resolveMesh(res)
	if err != nil {
		return err
	}
	values, err := d.resolveField(res)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.timestep, d.field, d.elementSet = ts, field, set
	d.hashes = res.Hashes
	d.mesh, d.values = mesh, values
	d.state = StateGeometry
	if !field.IsBlank() {
		d.state = StateGeometryField
	}
	update := d.update(UpdateMesh)
	publish := d.publish
	d.mu.Unlock()

	if d.core != nil {
		d.core.RecordDuration("dataset", "transition", time.Since(start))
	}
	d.logger.Debug("selection changed",
		"timestep", ts,
		"field", field.Name,
		"element_set", set,
		"mesh_hash", res.Hashes.Mesh,
		"field_hash", res.Hashes.Field)

	if publish != nil {
		publish(update)
	}
	return nil
}

func (d *Dataset) knownMesh(hash string) bool {
	_, ok := d.meshes.Get(hash)
	return ok
}

func (d *Dataset) knownField(hash string) bool {
	_, ok := d.fields.Get(hash)
	return ok
}

func (d *Dataset) resolveMesh(res *parser.Result) (*Geometry, error) {
	hash := res.Hashes.Mesh
	if res.Mesh != nil {
		g := geometryOf(hash, res.Mesh)
		_, _ = d.meshes.Set(hash, g)
		return g, nil
	}
	if g, ok := d.meshes.Get(hash); ok {
		return g, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.mesh != nil && hash == d.hashes.Mesh {
		return d.mesh, nil
	}
	return nil, errors.WrapMissing("Dataset", "resolveMesh", "mesh %s is not cached", hash)
}

func (d *Dataset) resolveField(res *parser.Result) (*FieldData, error) {
	hash := res.Hashes.Field
	if res.Field != nil {
		f := &FieldData{FieldHash: &hash, Field: res.Field}
		_, _ = d.fields.Set(hash, f)
		return f, nil
	}
	if f, ok := d.fields.Get(hash); ok {
		return f, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.values != nil && hash == d.hashes.Field {
		return d.values, nil
	}
	return nil, errors.WrapMissing("Dataset", "resolveField", "field %s is not cached", hash)
}

// update builds a payload from the current state. The caller holds mu.
func (d *Dataset) update(kind string) Update {
	fieldType := d.field.Type
	if d.field.IsBlank() {
		fieldType = parser.NoFieldType
	}
	return Update{
		DatasetHash: d.meta.Hash,
		Update:      kind,
		Hashes:      d.hashes,
		FieldType:   fieldType,
	}
}

// failed logs err and hands back the unchanged selection.
func (d *Dataset) failed(op string, err error, unchanged string) (string, error) {
	d.logger.Warn("selection unchanged", "operation", op, "error", err)
	if d.core != nil {
		d.core.RecordError("dataset", errors.Classify(err).String())
	}
	return unchanged, err
}

func (d *Dataset) failedField(err error) (parser.FieldSelection, error) {
	unchanged := d.SelectedField()
	_, err = d.failed("SetField", err, unchanged.Name)
	return unchanged, err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
