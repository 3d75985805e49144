// Package scan reads feature records out of columnar batches. A Cursor
// walks the batches of one dataset in storage order, applies attribute and
// spatial filters before materializing rows, and produces features whose
// values follow the mapped definition.
//
// Filtering happens at up to three levels. Spatial filters consult bounding
// box columns when the schema declares them, then fall back to
// encoding-specific envelope scans that avoid full geometry decodes.
// Attribute predicates are compiled into batch-level constraints evaluated
// against raw storage, and the full predicate is re-checked on each
// materialized feature, so partial pushdown never changes results.
package scan

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"go.uber.org/zap"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/expr"
	"github.com/tesseradata/tessera/pkg/feature"
	"github.com/tesseradata/tessera/pkg/geoarrow"
	"github.com/tesseradata/tessera/pkg/logger"
	"github.com/tesseradata/tessera/pkg/metrics"
	"github.com/tesseradata/tessera/pkg/schema"
)

// BatchSource yields the record batches of one dataset in storage order.
type BatchSource interface {
	// Schema returns the columnar schema shared by all batches.
	Schema() *arrow.Schema

	// Next returns the next batch or io.EOF after the last one. Ownership
	// transfers to the caller, who must release it.
	Next(ctx context.Context) (arrow.Record, error)

	// Reset rewinds the source to the first batch.
	Reset() error
}

// Options tune a cursor. The zero value enables every fast path.
type Options struct {
	// DisablePushdown turns off batch-level evaluation of attribute filter
	// constraints.
	DisablePushdown bool

	// DisableBBox turns off the bounding-box column shortcut for spatial
	// filtering and extent computation.
	DisableBBox bool
}

// Cursor iterates the features of one dataset. It is not safe for
// concurrent use.
type Cursor struct {
	src     BatchSource
	mapping *schema.Mapping
	defn    *feature.Definition
	lg      *zap.Logger

	pushdown bool
	useBBox  bool

	filter      expr.Node
	constraints []constraint

	spatialField int
	spatialEnv   feature.Envelope
	hasSpatial   bool

	rec        arrow.Record
	rowInBatch int
	featureIdx int64
	eof        bool

	readers  []fieldReader
	geoms    []*geoarrow.Decoder
	geomOK   []bool
	fid      func(row int) int64
	bbox     bboxColumns
	bboxOK   bool

	domainsDone bool
	extents     map[int]feature.Envelope
}

// NewCursor builds a scan over src using a previously derived mapping. The
// source schema must be the one the mapping was built from.
func NewCursor(src BatchSource, m *schema.Mapping, opts Options) (*Cursor, error) {
	if !src.Schema().Equal(m.Schema) {
		return nil, errors.New(errors.ErrorTypeSchema, "batch source schema differs from the mapped schema")
	}
	defn := m.Defn
	cur := &Cursor{
		src:      src,
		mapping:  m,
		defn:     defn,
		lg:       logger.Get().With(zap.String("dataset", defn.Name)),
		pushdown: !opts.DisablePushdown,
		useBBox:  !opts.DisableBBox,
		geoms:    make([]*geoarrow.Decoder, len(defn.GeomFields)),
		geomOK:   make([]bool, len(defn.GeomFields)),
	}
	for i, g := range defn.GeomFields {
		cur.geoms[i] = geoarrow.NewDecoder(g.Encoding, g.Type)
	}
	return cur, nil
}

// Definition returns the feature definition the cursor materializes to.
func (cur *Cursor) Definition() *feature.Definition { return cur.defn }

// Mapping returns the schema mapping behind the cursor.
func (cur *Cursor) Mapping() *schema.Mapping { return cur.mapping }

// Filtered reports whether an attribute or spatial filter is installed.
func (cur *Cursor) Filtered() bool { return cur.filter != nil || cur.hasSpatial }

// SetAttributeFilter installs the record-level predicate, or clears it with
// nil, and recompiles the batch-level constraints. Predicates referencing
// unknown fields are rejected up front.
func (cur *Cursor) SetAttributeFilter(node expr.Node) error {
	if node != nil {
		if err := validateFilterColumns(node, cur.defn); err != nil {
			return err
		}
	}
	cur.filter = node
	cur.constraints = nil
	if node != nil && cur.pushdown {
		cur.constraints = compileConstraints(node, cur.defn)
		cur.warnIgnoredConstraints()
	}
	if cur.rec != nil {
		cur.bindConstraintTests(cur.rec)
	}
	return nil
}

// SetSpatialFilter installs a bounding-box intersection filter on one
// geometry field. Features whose geometry is null, empty or entirely
// outside env are skipped.
func (cur *Cursor) SetSpatialFilter(geomField int, env feature.Envelope) error {
	if geomField < 0 || geomField >= len(cur.defn.GeomFields) {
		return errors.Newf(errors.ErrorTypeFilter, "geometry field %d out of range", geomField)
	}
	cur.spatialField = geomField
	cur.spatialEnv = env
	cur.hasSpatial = true
	if g := cur.defn.GeomFields[geomField]; g.Ignored {
		cur.lg.Warn("spatial filter set on an ignored geometry field, it will not restrict rows",
			zap.String("field", g.Name))
	}
	if cur.rec != nil {
		cur.bindSpatialShortcut(cur.rec)
	}
	return nil
}

// ClearSpatialFilter removes the spatial filter.
func (cur *Cursor) ClearSpatialFilter() {
	cur.hasSpatial = false
	cur.bbox = bboxColumns{}
	cur.bboxOK = false
}

// SetIgnoredFields marks the named attribute and geometry fields as ignored
// for subsequent reads. Ignored fields stay null on materialized features
// and their constraints fall back to the record-level evaluator.
func (cur *Cursor) SetIgnoredFields(names []string) error {
	if err := cur.defn.SetIgnoredFields(names); err != nil {
		return err
	}
	cur.warnIgnoredConstraints()
	if cur.rec != nil {
		return cur.bindBatch()
	}
	return nil
}

func (cur *Cursor) warnIgnoredConstraints() {
	for i := range cur.constraints {
		c := &cur.constraints[i]
		if c.fieldIdx == fidConstraintField {
			continue
		}
		if fd := cur.defn.Fields[c.fieldIdx]; fd.Ignored {
			cur.lg.Warn("filter constraint cannot be applied at batch level, its field is ignored",
				zap.String("field", fd.Name))
		}
	}
}

// Rewind restarts the scan from the first batch. Filters and ignored fields
// are kept.
func (cur *Cursor) Rewind() error {
	cur.releaseBatch()
	cur.eof = false
	cur.featureIdx = 0
	return cur.src.Reset()
}

// Next returns the next feature passing the active filters, or io.EOF after
// the last one. String and byte values of the returned feature may share
// memory with the current batch.
func (cur *Cursor) Next(ctx context.Context) (*feature.Feature, error) {
	for {
		if cur.eof {
			return nil, io.EOF
		}
		if cur.rec == nil {
			if err := cur.loadBatch(ctx); err != nil {
				return nil, err
			}
			continue
		}
		n := int(cur.rec.NumRows())
		for cur.rowInBatch < n {
			row := cur.rowInBatch
			if cur.hasSpatial && cur.skipSpatial(row) {
				cur.step()
				metrics.RowsSkipped.WithLabelValues(cur.defn.Name, "spatial").Inc()
				continue
			}
			if !cur.rowMatchesConstraints(row) {
				cur.step()
				metrics.RowsSkipped.WithLabelValues(cur.defn.Name, "attribute").Inc()
				continue
			}
			f, err := cur.materialize(row)
			if err != nil {
				return nil, err
			}
			cur.step()
			if cur.filter != nil {
				keep, err := expr.Evaluate(cur.filter, f)
				if err != nil {
					return nil, err
				}
				if !keep {
					metrics.RowsSkipped.WithLabelValues(cur.defn.Name, "attribute").Inc()
					continue
				}
			}
			metrics.RowsRead.WithLabelValues(cur.defn.Name).Inc()
			return f, nil
		}
		cur.releaseBatch()
	}
}

// NextBatch returns the next untouched physical batch, bypassing feature
// materialization. A batch partially consumed by Next is skipped to its
// end. Ownership of the returned batch transfers to the caller.
func (cur *Cursor) NextBatch(ctx context.Context) (arrow.Record, error) {
	if cur.eof {
		return nil, io.EOF
	}
	if cur.rec != nil && cur.rowInBatch == 0 {
		rec := cur.rec
		cur.rec = nil
		cur.rowInBatch = 0
		cur.featureIdx += rec.NumRows()
		return rec, nil
	}
	if cur.rec != nil {
		cur.featureIdx += cur.rec.NumRows() - int64(cur.rowInBatch)
		cur.releaseBatch()
	}
	rec, err := cur.src.Next(ctx)
	if err == io.EOF {
		cur.eof = true
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	cur.featureIdx += rec.NumRows()
	return rec, nil
}

// Count returns the number of features passing the active filters. Without
// filters it sums batch lengths instead of materializing rows. The cursor
// is rewound on both sides.
func (cur *Cursor) Count(ctx context.Context) (int64, error) {
	if err := cur.Rewind(); err != nil {
		return 0, err
	}
	var n int64
	if cur.filter == nil && !cur.hasSpatial {
		for {
			rec, err := cur.src.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return 0, err
			}
			n += rec.NumRows()
			rec.Release()
		}
	} else {
		for {
			_, err := cur.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return 0, err
			}
			n++
		}
	}
	return n, cur.Rewind()
}

func (cur *Cursor) step() {
	cur.rowInBatch++
	cur.featureIdx++
}

func (cur *Cursor) releaseBatch() {
	if cur.rec != nil {
		cur.rec.Release()
		cur.rec = nil
	}
	cur.rowInBatch = 0
}

func (cur *Cursor) loadBatch(ctx context.Context) error {
	timer := metrics.NewTimer("load_batch")
	rec, err := cur.src.Next(ctx)
	if err == io.EOF {
		cur.eof = true
		return nil
	}
	if err != nil {
		return err
	}
	metrics.BatchesLoaded.WithLabelValues(cur.defn.Name).Inc()
	metrics.BatchLoadLatency.WithLabelValues(cur.defn.Name).Observe(float64(timer.Stop().Nanoseconds()))
	if rec.NumRows() == 0 {
		rec.Release()
		return nil
	}
	cur.rec = rec
	cur.rowInBatch = 0
	return cur.bindBatch()
}

// bindBatch resolves all per-batch state: field readers, geometry decoders,
// the identifier column, constraint tests and the bounding box shortcut.
func (cur *Cursor) bindBatch() error {
	rec := cur.rec
	if !cur.domainsDone {
		cur.loadDomains(rec)
	}

	cur.readers = make([]fieldReader, len(cur.defn.Fields))
	for i, fd := range cur.defn.Fields {
		if fd.Ignored {
			continue
		}
		col, err := bindColumn(rec, fd.Path)
		if err != nil {
			return err
		}
		r, err := newFieldReader(fd, col)
		if err != nil {
			return err
		}
		cur.readers[i] = r
	}

	for i, g := range cur.defn.GeomFields {
		cur.geomOK[i] = false
		if g.Ignored {
			continue
		}
		col, err := bindColumn(rec, g.Path)
		if err != nil {
			return err
		}
		if err := cur.geoms[i].Bind(col.leaf); err != nil {
			cur.lg.Warn("geometry column failed to bind, nulling it for this batch",
				zap.String("field", g.Name), zap.Error(err))
			continue
		}
		cur.geomOK[i] = true
	}

	cur.bindFID(rec)
	cur.bindConstraintTests(rec)
	cur.bindSpatialShortcut(rec)
	return nil
}

// loadDomains materializes coded-value domains from the dictionaries of the
// first loaded batch.
func (cur *Cursor) loadDomains(rec arrow.Record) {
	cur.domainsDone = true
	for name, idx := range cur.mapping.DomainColumns {
		dom, err := schema.BuildDomainFromColumn(name, rec.Column(idx))
		if err != nil {
			cur.lg.Warn("failed to materialize field domain",
				zap.String("domain", name), zap.Error(err))
			continue
		}
		cur.defn.AddDomain(dom)
	}
}

func (cur *Cursor) bindFID(rec arrow.Record) {
	cur.fid = nil
	if cur.mapping.FIDColumnIndex < 0 {
		return
	}
	switch a := rec.Column(cur.mapping.FIDColumnIndex).(type) {
	case *array.Int32:
		cur.fid = func(row int) int64 {
			if a.IsNull(row) {
				return feature.NullFID
			}
			return int64(a.Value(row))
		}
	case *array.Int64:
		cur.fid = func(row int) int64 {
			if a.IsNull(row) {
				return feature.NullFID
			}
			return a.Value(row)
		}
	}
}

func (cur *Cursor) bindConstraintTests(rec arrow.Record) {
	for i := range cur.constraints {
		c := &cur.constraints[i]
		c.col = boundColumn{}
		c.test = nil
		if c.fieldIdx == fidConstraintField {
			if cur.mapping.FIDColumnIndex < 0 {
				continue // evaluated against the running feature index
			}
			if col, err := bindColumn(rec, []int{cur.mapping.FIDColumnIndex}); err == nil {
				c.col = col
				c.test = newConstraintTest(c, col.leaf)
			}
			continue
		}
		fd := cur.defn.Fields[c.fieldIdx]
		if fd.Ignored {
			continue
		}
		if col, err := bindColumn(rec, fd.Path); err == nil {
			c.col = col
			c.test = newConstraintTest(c, col.leaf)
		}
	}
}

// rowMatchesConstraints evaluates the pushed constraints against raw batch
// storage. A null cell passes only a not-equal or IS NULL constraint, the
// same rule the record-level evaluator applies. Constraints without a
// usable column pass unconditionally.
func (cur *Cursor) rowMatchesConstraints(row int) bool {
	for i := range cur.constraints {
		c := &cur.constraints[i]
		if c.fieldIdx == fidConstraintField && cur.mapping.FIDColumnIndex < 0 {
			if !compareInt(c.op, cur.featureIdx, c.intValue) {
				return false
			}
			continue
		}
		if !c.col.ok() {
			continue
		}
		isNull := c.col.isNull(row)
		switch c.op {
		case opIsNull:
			if !isNull {
				return false
			}
			continue
		case opIsNotNull:
			if isNull {
				return false
			}
			continue
		}
		if isNull {
			if c.op == opNotEqual {
				continue
			}
			return false
		}
		if c.test != nil && !c.test(row) {
			return false
		}
	}
	return true
}

// bboxColumns is the per-batch binding of a bounding box column quadruple.
type bboxColumns struct {
	minX, minY, maxX, maxY boundColumn
	minXV, minYV           *array.Float64
	maxXV, maxYV           *array.Float64
}

// rowEnvelope assembles the row envelope from the box columns; ok is false
// when any of the four cells is null.
func (b *bboxColumns) rowEnvelope(row int) (feature.Envelope, bool) {
	if b.minX.isNull(row) || b.minY.isNull(row) || b.maxX.isNull(row) || b.maxY.isNull(row) {
		return feature.Envelope{}, false
	}
	env := feature.NewEnvelope()
	env.ExtendXY(b.minXV.Value(row), b.minYV.Value(row))
	env.ExtendXY(b.maxXV.Value(row), b.maxYV.Value(row))
	return env, true
}

// bindBBoxColumns resolves a bounding box quadruple against a batch; ok is
// false when any member is missing or not a float64 column.
func bindBBoxColumns(rec arrow.Record, paths *feature.BBoxColumnPaths) (bboxColumns, bool) {
	var b bboxColumns
	var err error
	if b.minX, err = bindColumn(rec, paths.MinX); err != nil {
		return bboxColumns{}, false
	}
	if b.minY, err = bindColumn(rec, paths.MinY); err != nil {
		return bboxColumns{}, false
	}
	if b.maxX, err = bindColumn(rec, paths.MaxX); err != nil {
		return bboxColumns{}, false
	}
	if b.maxY, err = bindColumn(rec, paths.MaxY); err != nil {
		return bboxColumns{}, false
	}
	var ok bool
	if b.minXV, ok = b.minX.leaf.(*array.Float64); !ok {
		return bboxColumns{}, false
	}
	if b.minYV, ok = b.minY.leaf.(*array.Float64); !ok {
		return bboxColumns{}, false
	}
	if b.maxXV, ok = b.maxX.leaf.(*array.Float64); !ok {
		return bboxColumns{}, false
	}
	if b.maxYV, ok = b.maxY.leaf.(*array.Float64); !ok {
		return bboxColumns{}, false
	}
	return b, true
}

func (cur *Cursor) bindSpatialShortcut(rec arrow.Record) {
	cur.bbox = bboxColumns{}
	cur.bboxOK = false
	if !cur.hasSpatial || !cur.useBBox {
		return
	}
	g := cur.defn.GeomFields[cur.spatialField]
	if g.Ignored || g.BBoxPaths == nil {
		return
	}
	cur.bbox, cur.bboxOK = bindBBoxColumns(rec, g.BBoxPaths)
}

// skipSpatial reports whether the row falls outside the spatial filter. Box
// columns decide when they carry the row; otherwise the geometry column's
// envelope scan decides. Unreadable geometry values are kept rather than
// silently dropped.
func (cur *Cursor) skipSpatial(row int) bool {
	g := cur.defn.GeomFields[cur.spatialField]
	if g.Ignored {
		return false
	}
	if cur.bboxOK {
		if env, ok := cur.bbox.rowEnvelope(row); ok {
			return !env.Intersects(cur.spatialEnv)
		}
	}
	if !cur.geomOK[cur.spatialField] {
		return false
	}
	env, ok, err := cur.geoms[cur.spatialField].RowEnvelope(row)
	if err != nil {
		return false
	}
	if !ok {
		return true // null geometry never matches a spatial filter
	}
	return !env.Intersects(cur.spatialEnv)
}

// materialize decodes one batch row into a feature.
func (cur *Cursor) materialize(row int) (*feature.Feature, error) {
	f := feature.New(cur.defn)
	if cur.fid != nil {
		f.FID = cur.fid(row)
	} else {
		f.FID = cur.featureIdx
	}
	for i := range cur.readers {
		v, err := cur.readers[i].value(row)
		if err != nil {
			return nil, err
		}
		f.Values[i] = v
	}
	for i, g := range cur.defn.GeomFields {
		if !cur.geomOK[i] {
			continue
		}
		gv, err := cur.geoms[i].Decode(row)
		if err != nil {
			cur.lg.Warn("skipping malformed geometry value",
				zap.String("field", g.Name), zap.Int64("fid", f.FID), zap.Error(err))
			continue
		}
		f.Geoms[i] = geoarrow.NormalizeDeclared(gv, g.Type)
	}
	return f, nil
}

// validateFilterColumns rejects predicates referencing unknown fields up
// front instead of failing on the first evaluated row.
func validateFilterColumns(node expr.Node, defn *feature.Definition) error {
	switch n := node.(type) {
	case *expr.Conjunction:
		for _, child := range n.Children {
			if err := validateFilterColumns(child, defn); err != nil {
				return err
			}
		}
	case *expr.Not:
		return validateFilterColumns(n.Child, defn)
	case *expr.IsNull:
		return validateFilterColumns(n.Child, defn)
	case *expr.Comparison:
		if err := validateFilterColumns(n.Left, defn); err != nil {
			return err
		}
		return validateFilterColumns(n.Right, defn)
	case *expr.ColumnRef:
		if _, _, ok := constraintField(n.Name, defn); !ok {
			return errors.Newf(errors.ErrorTypeFilter, "unknown field %q in attribute filter", n.Name)
		}
	}
	return nil
}
