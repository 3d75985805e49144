// Package export turns scanned datasets back into columnar batches. The
// fast path shares the source arrays zero-copy, compacting ignored columns
// away and re-encoding text geometry columns to binary. A builder-backed
// fallback rebuilds batches row by row when filters are installed or when
// the ignored-field set does not align with whole columns.
package export

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/feature"
	"github.com/tesseradata/tessera/pkg/geoarrow"
	"github.com/tesseradata/tessera/pkg/schema"
)

// GeometryEncoding selects the on-wire encoding of exported geometry
// columns.
type GeometryEncoding int

const (
	// EncodeWKB re-encodes text geometry columns to binary on export.
	EncodeWKB GeometryEncoding = iota

	// EncodeSource passes every geometry column through in its stored
	// encoding.
	EncodeSource
)

// ParseGeometryEncoding resolves the export.geometry_encoding setting.
func ParseGeometryEncoding(s string) (GeometryEncoding, error) {
	switch s {
	case "", "wkb":
		return EncodeWKB, nil
	case "source":
		return EncodeSource, nil
	}
	return EncodeWKB, errors.Newf(errors.ErrorTypeConfig, "unknown geometry encoding %q", s)
}

// MetadataEncoding picks the extension tag convention written on exported
// geometry columns.
type MetadataEncoding int

const (
	// TagOGC writes ogc.wkb and ogc.wkt extension names.
	TagOGC MetadataEncoding = iota

	// TagGeoArrow writes geoarrow.wkb and geoarrow.wkt extension names.
	TagGeoArrow
)

// ParseMetadataEncoding resolves the export.metadata_encoding setting.
func ParseMetadataEncoding(s string) (MetadataEncoding, error) {
	switch s {
	case "", "ogc":
		return TagOGC, nil
	case "geoarrow":
		return TagGeoArrow, nil
	}
	return TagOGC, errors.Newf(errors.ErrorTypeConfig, "unknown metadata encoding %q", s)
}

func (m MetadataEncoding) wkbTag() string {
	if m == TagGeoArrow {
		return geoarrow.ExtensionWKB
	}
	return geoarrow.ExtensionOGCWKB
}

func (m MetadataEncoding) wktTag() string {
	if m == TagGeoArrow {
		return geoarrow.ExtensionWKT
	}
	return geoarrow.ExtensionOGCWKT
}

// DefaultBatchRows caps the row count of batches produced by the rebuild
// path. The zero-copy path keeps the source batch boundaries instead.
const DefaultBatchRows = 65536

// Options tune the exported shape. The zero value matches the configuration
// defaults: binary re-encoding, ogc extension tags, column passthrough
// whenever it applies.
type Options struct {
	GeometryEncoding GeometryEncoding
	MetadataEncoding MetadataEncoding

	// ForceNaive rebuilds every batch through a record builder even when
	// the source columns could be shared.
	ForceNaive bool

	// BatchRows overrides DefaultBatchRows for the rebuild path.
	BatchRows int
}

// projection is the once-per-schema plan of the zero-copy path: which
// top-level columns survive, their exported declarations, and which of them
// need a text-to-binary rebuild.
type projection struct {
	schema *arrow.Schema
	cols   []plannedColumn

	// columnAligned reports that the ignored-field set maps to whole
	// columns. A partially ignored struct column cannot be compacted
	// without rebuilding it, so it forces the row-by-row path.
	columnAligned bool
}

type plannedColumn struct {
	src       int
	translate bool
}

// newProjection plans the passthrough of a mapped schema: the identifier
// column and unmapped columns ride along unchanged, fully ignored columns
// disappear, and geometry columns are re-declared or re-tagged per the
// options.
func newProjection(m *schema.Mapping, opts Options) *projection {
	srcFields := m.Schema.Fields()

	type colState struct {
		geom    *feature.GeomFieldDefn
		total   int
		ignored int
	}
	states := make([]colState, len(srcFields))
	for _, fd := range m.Defn.Fields {
		st := &states[fd.Path[0]]
		st.total++
		if fd.Ignored {
			st.ignored++
		}
	}
	for _, gd := range m.Defn.GeomFields {
		states[gd.Path[0]].geom = gd
	}

	p := &projection{columnAligned: true}
	fields := make([]arrow.Field, 0, len(srcFields))
	for i, f := range srcFields {
		st := states[i]
		if g := st.geom; g != nil {
			if g.Ignored {
				continue
			}
			switch {
			case opts.GeometryEncoding == EncodeWKB && g.Encoding == feature.EncodingWKT:
				fields = append(fields, arrow.Field{
					Name:     f.Name,
					Type:     arrow.BinaryTypes.Binary,
					Nullable: f.Nullable,
					Metadata: extensionMetadata(f.Metadata, opts.MetadataEncoding.wkbTag()),
				})
				p.cols = append(p.cols, plannedColumn{src: i, translate: true})
			case g.Encoding == feature.EncodingWKB:
				f.Metadata = extensionMetadata(f.Metadata, opts.MetadataEncoding.wkbTag())
				fields = append(fields, f)
				p.cols = append(p.cols, plannedColumn{src: i})
			case g.Encoding == feature.EncodingWKT:
				f.Metadata = extensionMetadata(f.Metadata, opts.MetadataEncoding.wktTag())
				fields = append(fields, f)
				p.cols = append(p.cols, plannedColumn{src: i})
			default:
				// Native coordinate encodings exist only in the geoarrow
				// namespace; their tag stays whatever the source declares.
				fields = append(fields, f)
				p.cols = append(p.cols, plannedColumn{src: i})
			}
			continue
		}
		if st.total > 0 && st.ignored == st.total {
			continue
		}
		if st.ignored > 0 {
			p.columnAligned = false
		}
		fields = append(fields, f)
		p.cols = append(p.cols, plannedColumn{src: i})
	}

	md := m.Schema.Metadata()
	p.schema = arrow.NewSchema(fields, &md)
	return p
}

// Schema returns the exported declaration of a mapped dataset: the source
// schema with ignored columns compacted away, text geometry columns
// re-declared as binary when re-encoding is on, and geometry extension tags
// rewritten to the configured convention.
func Schema(m *schema.Mapping, opts Options) *arrow.Schema {
	return newProjection(m, opts).schema
}

// Record projects one batch onto the exported schema. Ignored columns are
// removed, text geometry columns are rebuilt as binary arrays, and every
// other column is shared with the source. The source batch stays referenced
// by the returned wrapper until its Release.
func Record(batch arrow.Record, m *schema.Mapping, opts Options) (*ExportedBatch, error) {
	return project(batch, newProjection(m, opts))
}

func project(batch arrow.Record, p *projection) (*ExportedBatch, error) {
	cols := make([]arrow.Array, len(p.cols))
	var built []arrow.Array
	for i, pc := range p.cols {
		if !pc.translate {
			cols[i] = batch.Column(pc.src)
			continue
		}
		bin, err := geoarrow.TranslateWKTColumn(batch.Column(pc.src))
		if err != nil {
			for _, b := range built {
				b.Release()
			}
			return nil, err
		}
		built = append(built, bin)
		cols[i] = bin
	}
	rec := array.NewRecord(p.schema, cols, batch.NumRows())
	for _, b := range built {
		b.Release()
	}
	batch.Retain()
	return &ExportedBatch{rec: rec, src: batch}, nil
}

// extensionMetadata rewrites or adds the extension name key, keeping every
// other metadata entry of the column.
func extensionMetadata(md arrow.Metadata, tag string) arrow.Metadata {
	keys := append([]string(nil), md.Keys()...)
	vals := append([]string(nil), md.Values()...)
	for i, k := range keys {
		if k == geoarrow.ExtensionNameKey {
			vals[i] = tag
			return arrow.NewMetadata(keys, vals)
		}
	}
	return arrow.NewMetadata(append(keys, geoarrow.ExtensionNameKey), append(vals, tag))
}

// ExportedBatch is one projected batch plus the references keeping it
// alive: the source batch whose columns it shares and any rebuilt
// replacement arrays. Release it once, when done with the record.
type ExportedBatch struct {
	rec arrow.Record
	src arrow.Record
}

// Record returns the projected batch.
func (b *ExportedBatch) Record() arrow.Record { return b.rec }

// Schema returns the projected schema.
func (b *ExportedBatch) Schema() *arrow.Schema { return b.rec.Schema() }

// NumRows returns the row count of the projected batch.
func (b *ExportedBatch) NumRows() int64 { return b.rec.NumRows() }

// Release drops the projected batch and the source reference behind it.
func (b *ExportedBatch) Release() {
	b.rec.Release()
	if b.src != nil {
		b.src.Release()
	}
}
