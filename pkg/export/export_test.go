package export

import (
	"context"
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/expr"
	"github.com/tesseradata/tessera/pkg/geoarrow"
	"github.com/tesseradata/tessera/pkg/scan"
	"github.com/tesseradata/tessera/pkg/schema"
)

type sliceSource struct {
	schema *arrow.Schema
	recs   []arrow.Record
	pos    int
}

func (s *sliceSource) Schema() *arrow.Schema { return s.schema }

func (s *sliceSource) Next(ctx context.Context) (arrow.Record, error) {
	if s.pos >= len(s.recs) {
		return nil, io.EOF
	}
	rec := s.recs[s.pos]
	s.pos++
	rec.Retain()
	return rec, nil
}

func (s *sliceSource) Reset() error {
	s.pos = 0
	return nil
}

func buildRecord(t *testing.T, sch *arrow.Schema, populate func(*array.RecordBuilder)) arrow.Record {
	t.Helper()
	rb := array.NewRecordBuilder(memory.NewGoAllocator(), sch)
	defer rb.Release()
	populate(rb)
	rec := rb.NewRecord()
	t.Cleanup(rec.Release)
	return rec
}

func newMapping(t *testing.T, sch *arrow.Schema, opts schema.Options) *schema.Mapping {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "roads"
	}
	m, err := schema.FromArrow(sch, opts)
	require.NoError(t, err)
	return m
}

func newCursor(t *testing.T, sch *arrow.Schema, opts schema.Options, recs ...arrow.Record) *scan.Cursor {
	t.Helper()
	m := newMapping(t, sch, opts)
	cur, err := scan.NewCursor(&sliceSource{schema: sch, recs: recs}, m, scan.Options{})
	require.NoError(t, err)
	return cur
}

func wkbPoint(t *testing.T, x, y float64) []byte {
	t.Helper()
	data, err := wkb.Marshal(geom.NewPointFlat(geom.XY, []float64{x, y}), wkb.NDR)
	require.NoError(t, err)
	return data
}

func extName(f arrow.Field) string {
	if i := f.Metadata.FindKey(geoarrow.ExtensionNameKey); i >= 0 {
		return f.Metadata.Values()[i]
	}
	return ""
}

func geomMeta(tag string) arrow.Metadata {
	return arrow.NewMetadata([]string{geoarrow.ExtensionNameKey}, []string{tag})
}

func TestExportSchemaProjection(t *testing.T) {
	sch := arrow.NewSchema([]arrow.Field{
		{Name: "fid", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "secret", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "boundary", Type: arrow.BinaryTypes.String, Nullable: true, Metadata: geomMeta(geoarrow.ExtensionOGCWKT)},
		{Name: "site", Type: arrow.BinaryTypes.Binary, Nullable: true, Metadata: geomMeta(geoarrow.ExtensionWKB)},
	}, nil)
	m := newMapping(t, sch, schema.Options{FIDColumn: "fid"})
	require.NoError(t, m.Defn.SetIgnoredFields([]string{"secret"}))

	t.Run("default re-encodes and tags ogc", func(t *testing.T) {
		out := Schema(m, Options{})
		require.Equal(t, 4, out.NumFields())
		assert.Equal(t, "fid", out.Field(0).Name)
		assert.Equal(t, arrow.PrimitiveTypes.Int64, out.Field(0).Type)
		assert.Equal(t, "name", out.Field(1).Name)

		boundary := out.Field(2)
		assert.Equal(t, arrow.BinaryTypes.Binary, boundary.Type)
		assert.Equal(t, geoarrow.ExtensionOGCWKB, extName(boundary))

		site := out.Field(3)
		assert.Equal(t, arrow.BinaryTypes.Binary, site.Type)
		assert.Equal(t, geoarrow.ExtensionOGCWKB, extName(site))
	})

	t.Run("geoarrow tag convention", func(t *testing.T) {
		out := Schema(m, Options{MetadataEncoding: TagGeoArrow})
		assert.Equal(t, geoarrow.ExtensionWKB, extName(out.Field(2)))
		assert.Equal(t, geoarrow.ExtensionWKB, extName(out.Field(3)))
	})

	t.Run("source encoding keeps text columns", func(t *testing.T) {
		out := Schema(m, Options{GeometryEncoding: EncodeSource})
		boundary := out.Field(2)
		assert.Equal(t, arrow.BinaryTypes.String, boundary.Type)
		assert.Equal(t, geoarrow.ExtensionOGCWKT, extName(boundary))
		assert.Equal(t, geoarrow.ExtensionOGCWKB, extName(out.Field(3)))
	})

	t.Run("ignored geometry column disappears", func(t *testing.T) {
		require.NoError(t, m.Defn.SetIgnoredFields([]string{"site"}))
		defer func() { require.NoError(t, m.Defn.SetIgnoredFields(nil)) }()
		out := Schema(m, Options{})
		require.Equal(t, 4, out.NumFields())
		assert.Equal(t, "boundary", out.Field(3).Name)
	})
}

func TestExportRecordSharesColumns(t *testing.T) {
	sch := arrow.NewSchema([]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "count", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: "geometry", Type: arrow.BinaryTypes.Binary, Nullable: true, Metadata: geomMeta(geoarrow.ExtensionOGCWKB)},
	}, nil)
	batch := buildRecord(t, sch, func(rb *array.RecordBuilder) {
		rb.Field(0).(*array.StringBuilder).AppendValues([]string{"a", "", "c"}, []bool{true, false, true})
		rb.Field(1).(*array.Int32Builder).AppendValues([]int32{1, 2, 3}, nil)
		gb := rb.Field(2).(*array.BinaryBuilder)
		gb.Append(wkbPoint(t, 1, 2))
		gb.AppendNull()
		gb.Append(wkbPoint(t, 3, 4))
	})

	m := newMapping(t, sch, schema.Options{})
	require.NoError(t, m.Defn.SetIgnoredFields([]string{"count"}))

	eb, err := Record(batch, m, Options{})
	require.NoError(t, err)
	defer eb.Release()

	rec := eb.Record()
	require.EqualValues(t, 3, rec.NumRows())
	require.EqualValues(t, 2, rec.NumCols())
	assert.Equal(t, "name", rec.Schema().Field(0).Name)
	assert.Equal(t, "geometry", rec.Schema().Field(1).Name)

	// Kept columns are the source arrays themselves, validity included.
	assert.Same(t, batch.Column(0), rec.Column(0))
	assert.Same(t, batch.Column(2), rec.Column(1))
	assert.Equal(t, 1, rec.Column(0).NullN())
}

func TestExportRecordTranslatesWKT(t *testing.T) {
	sch := arrow.NewSchema([]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "geometry", Type: arrow.BinaryTypes.String, Nullable: true, Metadata: geomMeta(geoarrow.ExtensionOGCWKT)},
	}, nil)
	batch := buildRecord(t, sch, func(rb *array.RecordBuilder) {
		rb.Field(0).(*array.StringBuilder).AppendValues([]string{"a", "b", "c", "d"}, nil)
		rb.Field(1).(*array.StringBuilder).AppendValues(
			[]string{"POINT (0 0)", "", "POINT (3 4)", ""},
			[]bool{true, false, true, true})
	})
	m := newMapping(t, sch, schema.Options{})

	eb, err := Record(batch, m, Options{})
	require.NoError(t, err)
	defer eb.Release()

	rec := eb.Record()
	bin, ok := rec.Column(1).(*array.Binary)
	require.True(t, ok)
	require.Equal(t, 4, bin.Len())
	assert.Equal(t, 1, bin.NullN())
	assert.True(t, bin.IsNull(1))

	g, err := wkb.Unmarshal(bin.Value(0))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, g.FlatCoords())
	g, err = wkb.Unmarshal(bin.Value(2))
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, g.FlatCoords())

	// Empty text stays a valid zero-length run.
	assert.False(t, bin.IsNull(3))
	assert.Empty(t, bin.Value(3))

	t.Run("sliced source re-bases validity", func(t *testing.T) {
		sliced := batch.NewSlice(1, 4)
		defer sliced.Release()

		eb, err := Record(sliced, m, Options{})
		require.NoError(t, err)
		defer eb.Release()

		bin := eb.Record().Column(1).(*array.Binary)
		require.Equal(t, 3, bin.Len())
		assert.Equal(t, 1, bin.NullN())
		assert.True(t, bin.IsNull(0))
		g, err := wkb.Unmarshal(bin.Value(1))
		require.NoError(t, err)
		assert.Equal(t, []float64{3, 4}, g.FlatCoords())
		assert.False(t, bin.IsNull(2))
	})
}

func TestExportRecordMalformedWKT(t *testing.T) {
	sch := arrow.NewSchema([]arrow.Field{
		{Name: "geometry", Type: arrow.BinaryTypes.String, Nullable: true, Metadata: geomMeta(geoarrow.ExtensionOGCWKT)},
	}, nil)
	batch := buildRecord(t, sch, func(rb *array.RecordBuilder) {
		rb.Field(0).(*array.StringBuilder).AppendValues([]string{"POINT ("}, nil)
	})
	m := newMapping(t, sch, schema.Options{})

	_, err := Record(batch, m, Options{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExport))
}

func canonicalSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "fid", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "flag", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "count", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		{Name: "ratio", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "tags", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
		{Name: "when", Type: &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}, Nullable: true},
		{Name: "geometry", Type: arrow.BinaryTypes.Binary, Nullable: true, Metadata: geomMeta(geoarrow.ExtensionOGCWKB)},
	}, nil)
}

func canonicalBatches(t *testing.T) (*arrow.Schema, []arrow.Record) {
	t.Helper()
	sch := canonicalSchema()
	b1 := buildRecord(t, sch, func(rb *array.RecordBuilder) {
		rb.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 0, 3}, []bool{true, false, true})
		rb.Field(1).(*array.BooleanBuilder).AppendValues([]bool{true, false, false}, []bool{true, true, false})
		rb.Field(2).(*array.StringBuilder).AppendValues([]string{"alpha", "", "gamma"}, []bool{true, false, true})
		rb.Field(3).(*array.Int32Builder).AppendValues([]int32{10, 20, 0}, []bool{true, true, false})
		rb.Field(4).(*array.Float64Builder).AppendValues([]float64{0.5, 0, 2.25}, []bool{true, false, true})
		tags := rb.Field(5).(*array.ListBuilder)
		tagVals := tags.ValueBuilder().(*array.StringBuilder)
		tags.Append(true)
		tagVals.AppendValues([]string{"a", "b"}, nil)
		tags.AppendNull()
		tags.Append(true)
		rb.Field(6).(*array.TimestampBuilder).AppendValues(
			[]arrow.Timestamp{1000000, 0, 2000000}, []bool{true, false, true})
		gb := rb.Field(7).(*array.BinaryBuilder)
		gb.Append(wkbPoint(t, 1, 2))
		gb.AppendNull()
		gb.Append(wkbPoint(t, 3, 4))
	})
	b2 := buildRecord(t, sch, func(rb *array.RecordBuilder) {
		rb.Field(0).(*array.Int64Builder).AppendValues([]int64{4, 5}, nil)
		rb.Field(1).(*array.BooleanBuilder).AppendValues([]bool{true, true}, nil)
		rb.Field(2).(*array.StringBuilder).AppendValues([]string{"delta", "eps"}, nil)
		rb.Field(3).(*array.Int32Builder).AppendValues([]int32{7, 0}, []bool{true, false})
		rb.Field(4).(*array.Float64Builder).AppendValues([]float64{1, 2}, nil)
		tags := rb.Field(5).(*array.ListBuilder)
		tagVals := tags.ValueBuilder().(*array.StringBuilder)
		tags.Append(true)
		tagVals.AppendValues([]string{"x"}, nil)
		tags.Append(true)
		tagVals.AppendValues([]string{"y", "z"}, nil)
		rb.Field(6).(*array.TimestampBuilder).AppendValues(
			[]arrow.Timestamp{3000000, 4000000}, nil)
		gb := rb.Field(7).(*array.BinaryBuilder)
		gb.AppendNull()
		gb.Append(wkbPoint(t, 5, 6))
	})
	return sch, []arrow.Record{b1, b2}
}

func TestExporterZeroCopy(t *testing.T) {
	sch, recs := canonicalBatches(t)
	empty := buildRecord(t, sch, func(rb *array.RecordBuilder) {})
	cur := newCursor(t, sch, schema.Options{FIDColumn: "fid"}, recs[0], empty, recs[1])

	ex := NewExporter(cur, Options{})
	defer ex.Close()
	require.False(t, ex.Rebuilds())

	ctx := context.Background()
	first, err := ex.Next(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, first.NumRows())
	assert.Same(t, recs[0].Column(2), first.Record().Column(2))
	first.Release()

	// The empty batch between the two is skipped, not returned.
	second, err := ex.Next(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, second.NumRows())
	assert.Same(t, recs[1].Column(7), second.Record().Column(7))
	second.Release()

	_, err = ex.Next(ctx)
	require.Equal(t, io.EOF, err)
}

func TestExporterRebuildEqualsZeroCopy(t *testing.T) {
	sch, recs := canonicalBatches(t)

	fast := NewExporter(newCursor(t, sch, schema.Options{FIDColumn: "fid"}, recs...), Options{})
	defer fast.Close()
	slow := NewExporter(newCursor(t, sch, schema.Options{FIDColumn: "fid"}, recs...),
		Options{ForceNaive: true, BatchRows: 3})
	defer slow.Close()

	require.False(t, fast.Rebuilds())
	require.True(t, slow.Rebuilds())
	require.True(t, fast.Schema().Equal(slow.Schema()),
		"fast schema %s, slow schema %s", fast.Schema(), slow.Schema())

	ctx := context.Background()
	for {
		fb, ferr := fast.Next(ctx)
		sb, serr := slow.Next(ctx)
		if ferr == io.EOF {
			require.Equal(t, io.EOF, serr)
			return
		}
		require.NoError(t, ferr)
		require.NoError(t, serr)
		assert.True(t, array.RecordEqual(fb.Record(), sb.Record()),
			"zero-copy %v, rebuilt %v", fb.Record(), sb.Record())
		fb.Release()
		sb.Release()
	}
}

func TestExporterFilteredRebuild(t *testing.T) {
	sch, recs := canonicalBatches(t)
	cur := newCursor(t, sch, schema.Options{FIDColumn: "fid"}, recs...)
	require.NoError(t, cur.SetAttributeFilter(expr.Gt(expr.Col("count"), expr.Lit(5))))

	ex := NewExporter(cur, Options{})
	defer ex.Close()
	require.True(t, ex.Rebuilds())

	eb, err := ex.Next(context.Background())
	require.NoError(t, err)
	defer eb.Release()

	rec := eb.Record()
	require.EqualValues(t, 3, rec.NumRows())

	fids := rec.Column(0).(*array.Int64)
	assert.Equal(t, int64(1), fids.Value(0))
	assert.True(t, fids.IsNull(1))
	assert.Equal(t, int64(4), fids.Value(2))

	names := rec.Column(2).(*array.String)
	assert.Equal(t, "alpha", names.Value(0))
	assert.True(t, names.IsNull(1))
	assert.Equal(t, "delta", names.Value(2))

	geoms := rec.Column(7).(*array.Binary)
	g, err := wkb.Unmarshal(geoms.Value(0))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, g.FlatCoords())
	assert.True(t, geoms.IsNull(2))

	_, err = ex.Next(context.Background())
	require.Equal(t, io.EOF, err)
}

func TestExporterPartialStructIgnore(t *testing.T) {
	sch := arrow.NewSchema([]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "s", Type: arrow.StructOf(
			arrow.Field{Name: "a", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
			arrow.Field{Name: "b", Type: arrow.BinaryTypes.String, Nullable: true},
		), Nullable: true},
	}, nil)
	batch := buildRecord(t, sch, func(rb *array.RecordBuilder) {
		rb.Field(0).(*array.StringBuilder).AppendValues([]string{"n1", "n2"}, nil)
		sb := rb.Field(1).(*array.StructBuilder)
		for i, v := range []string{"x", "y"} {
			sb.Append(true)
			sb.FieldBuilder(0).(*array.Int32Builder).Append(int32(i + 1))
			sb.FieldBuilder(1).(*array.StringBuilder).Append(v)
		}
	})
	cur := newCursor(t, sch, schema.Options{}, batch)
	require.NoError(t, cur.Definition().SetIgnoredFields([]string{"s.a"}))

	ex := NewExporter(cur, Options{})
	defer ex.Close()

	// An ignore that splits a struct column cannot be compacted zero-copy.
	require.True(t, ex.Rebuilds())
	require.Equal(t, 2, ex.Schema().NumFields())
	assert.Equal(t, "name", ex.Schema().Field(0).Name)
	assert.Equal(t, "s.b", ex.Schema().Field(1).Name)

	eb, err := ex.Next(context.Background())
	require.NoError(t, err)
	defer eb.Release()
	require.EqualValues(t, 2, eb.NumRows())
	sb := eb.Record().Column(1).(*array.String)
	assert.Equal(t, "x", sb.Value(0))
	assert.Equal(t, "y", sb.Value(1))
}

func TestExporterClose(t *testing.T) {
	sch, recs := canonicalBatches(t)
	for _, opts := range []Options{{}, {ForceNaive: true}} {
		ex := NewExporter(newCursor(t, sch, schema.Options{FIDColumn: "fid"}, recs...), opts)
		ex.Close()
		_, err := ex.Next(context.Background())
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeExport))
	}
}

func TestParseGeometryEncoding(t *testing.T) {
	enc, err := ParseGeometryEncoding("")
	require.NoError(t, err)
	assert.Equal(t, EncodeWKB, enc)
	enc, err = ParseGeometryEncoding("source")
	require.NoError(t, err)
	assert.Equal(t, EncodeSource, enc)
	_, err = ParseGeometryEncoding("hex")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestParseMetadataEncoding(t *testing.T) {
	enc, err := ParseMetadataEncoding("geoarrow")
	require.NoError(t, err)
	assert.Equal(t, TagGeoArrow, enc)
	_, err = ParseMetadataEncoding("wkb")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
