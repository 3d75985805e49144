package scan

import (
	"context"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/apache/arrow-go/v18/arrow/decimal256"
	"github.com/apache/arrow-go/v18/arrow/float16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseradata/tessera/pkg/expr"
	"github.com/tesseradata/tessera/pkg/feature"
	"github.com/tesseradata/tessera/pkg/schema"
)

func TestBindColumn(t *testing.T) {
	inner := arrow.StructOf(
		arrow.Field{Name: "c", Type: arrow.BinaryTypes.String, Nullable: true},
	)
	outer := arrow.StructOf(
		arrow.Field{Name: "a", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		arrow.Field{Name: "b", Type: inner, Nullable: true},
	)
	sch := arrow.NewSchema([]arrow.Field{{Name: "s", Type: outer, Nullable: true}}, nil)

	rec := buildRecord(t, sch, func(b *array.RecordBuilder) {
		sb := b.Field(0).(*array.StructBuilder)
		ab := sb.FieldBuilder(0).(*array.Int32Builder)
		ib := sb.FieldBuilder(1).(*array.StructBuilder)
		cb := ib.FieldBuilder(0).(*array.StringBuilder)

		sb.Append(true)
		ab.Append(1)
		ib.Append(true)
		cb.Append("x")

		sb.AppendNull()

		sb.Append(true)
		ab.Append(2)
		ib.AppendNull()
	})

	col, err := bindColumn(rec, []int{0, 1, 0})
	require.NoError(t, err)
	require.True(t, col.ok())

	leaf, ok := col.leaf.(*array.String)
	require.True(t, ok)
	assert.Equal(t, "x", leaf.Value(0))

	assert.False(t, col.isNull(0))
	assert.True(t, col.isNull(1), "outer struct null masks the leaf")
	assert.True(t, col.isNull(2), "inner struct null masks the leaf")

	t.Run("child index out of range", func(t *testing.T) {
		_, err := bindColumn(rec, []int{0, 5})
		assert.Error(t, err)
	})
	t.Run("descending through a non struct", func(t *testing.T) {
		_, err := bindColumn(rec, []int{0, 0, 0})
		assert.Error(t, err)
	})
	t.Run("column index out of range", func(t *testing.T) {
		_, err := bindColumn(rec, []int{7})
		assert.Error(t, err)
	})
}

// scanValues materializes the first feature of a single-column batch.
func scanValues(t *testing.T, field arrow.Field, populate func(b array.Builder)) *feature.Feature {
	t.Helper()
	sch := arrow.NewSchema([]arrow.Field{field}, nil)
	rec := buildRecord(t, sch, func(b *array.RecordBuilder) { populate(b.Field(0)) })
	cur := newTestCursor(t, newTestMapping(t, sch, schema.Options{}), Options{}, rec)
	f, err := cur.Next(context.Background())
	require.NoError(t, err)
	return f
}

func TestScanScalarValues(t *testing.T) {
	t.Run("boolean", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
			func(b array.Builder) { b.(*array.BooleanBuilder).Append(true) })
		assert.Equal(t, int32(1), f.Int32(0))
		assert.True(t, f.Bool(0))
		assert.Equal(t, feature.SubtypeBoolean, f.Definition().Fields[0].Subtype)
	})

	t.Run("int8 widens to integer", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.PrimitiveTypes.Int8, Nullable: true},
			func(b array.Builder) { b.(*array.Int8Builder).Append(-5) })
		assert.Equal(t, int32(-5), f.Int32(0))
	})

	t.Run("uint16 widens to integer", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.PrimitiveTypes.Uint16, Nullable: true},
			func(b array.Builder) { b.(*array.Uint16Builder).Append(65535) })
		assert.Equal(t, int32(65535), f.Int32(0))
	})

	t.Run("uint32 widens to integer64", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.PrimitiveTypes.Uint32, Nullable: true},
			func(b array.Builder) { b.(*array.Uint32Builder).Append(4294967295) })
		assert.Equal(t, int64(4294967295), f.Int64(0))
		assert.Equal(t, feature.FieldTypeInteger64, f.Definition().Fields[0].Type)
	})

	t.Run("uint64 widens to real", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.PrimitiveTypes.Uint64, Nullable: true},
			func(b array.Builder) { b.(*array.Uint64Builder).Append(123) })
		assert.Equal(t, float64(123), f.Float64(0))
		assert.Equal(t, feature.FieldTypeReal, f.Definition().Fields[0].Type)
	})

	t.Run("float16", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.FixedWidthTypes.Float16, Nullable: true},
			func(b array.Builder) { b.(*array.Float16Builder).Append(float16.New(1.5)) })
		assert.Equal(t, 1.5, f.Float64(0))
	})

	t.Run("float32", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.PrimitiveTypes.Float32, Nullable: true},
			func(b array.Builder) { b.(*array.Float32Builder).Append(3.5) })
		assert.Equal(t, 3.5, f.Float64(0))
		assert.Equal(t, feature.SubtypeFloat32, f.Definition().Fields[0].Subtype)
	})

	t.Run("large string", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.BinaryTypes.LargeString, Nullable: true},
			func(b array.Builder) { b.(*array.LargeStringBuilder).Append("big") })
		assert.Equal(t, "big", f.String(0))
	})

	t.Run("binary", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.BinaryTypes.Binary, Nullable: true},
			func(b array.Builder) { b.(*array.BinaryBuilder).Append([]byte{0x01, 0x02}) })
		assert.Equal(t, []byte{0x01, 0x02}, f.Bytes(0))
	})

	t.Run("fixed size binary", func(t *testing.T) {
		dt := &arrow.FixedSizeBinaryType{ByteWidth: 4}
		f := scanValues(t, arrow.Field{Name: "v", Type: dt, Nullable: true},
			func(b array.Builder) { b.(*array.FixedSizeBinaryBuilder).Append([]byte("abcd")) })
		assert.Equal(t, []byte("abcd"), f.Bytes(0))
		assert.Equal(t, 4, f.Definition().Fields[0].Width)
	})

	t.Run("date32", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.FixedWidthTypes.Date32, Nullable: true},
			func(b array.Builder) { b.(*array.Date32Builder).Append(arrow.Date32(19000)) })
		assert.Equal(t, time.Date(2022, 1, 8, 0, 0, 0, 0, time.UTC), f.Time(0))
	})

	t.Run("date64", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.FixedWidthTypes.Date64, Nullable: true},
			func(b array.Builder) { b.(*array.Date64Builder).Append(arrow.Date64(86400000)) })
		assert.Equal(t, time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC), f.Time(0))
	})

	t.Run("time32 milliseconds", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.FixedWidthTypes.Time32ms, Nullable: true},
			func(b array.Builder) { b.(*array.Time32Builder).Append(arrow.Time32(3661001)) })
		assert.Equal(t, time.Date(1970, 1, 1, 1, 1, 1, int(time.Millisecond), time.UTC), f.Time(0))
	})

	t.Run("time64 stays an integer count", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.FixedWidthTypes.Time64ns, Nullable: true},
			func(b array.Builder) { b.(*array.Time64Builder).Append(arrow.Time64(90061000000123)) })
		assert.Equal(t, int64(90061000000123), f.Int64(0))
		assert.Equal(t, feature.FieldTypeInteger64, f.Definition().Fields[0].Type)
	})

	t.Run("timestamp with offset timezone", func(t *testing.T) {
		dt := &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "+03:00"}
		f := scanValues(t, arrow.Field{Name: "v", Type: dt, Nullable: true},
			func(b array.Builder) { b.(*array.TimestampBuilder).Append(arrow.Timestamp(1000000000000)) })
		got := f.Time(0)
		assert.True(t, got.Equal(time.Unix(1000000000, 0)))
		_, offset := got.Zone()
		assert.Equal(t, 3*3600, offset)
	})

	t.Run("timestamp without timezone keeps wall clock as utc", func(t *testing.T) {
		dt := &arrow.TimestampType{Unit: arrow.Second}
		f := scanValues(t, arrow.Field{Name: "v", Type: dt, Nullable: true},
			func(b array.Builder) { b.(*array.TimestampBuilder).Append(arrow.Timestamp(1000000000)) })
		got := f.Time(0)
		assert.Equal(t, time.UTC, got.Location())
		assert.True(t, got.Equal(time.Unix(1000000000, 0)))
	})

	t.Run("decimal128", func(t *testing.T) {
		dt := &arrow.Decimal128Type{Precision: 10, Scale: 2}
		f := scanValues(t, arrow.Field{Name: "v", Type: dt, Nullable: true},
			func(b array.Builder) { b.(*array.Decimal128Builder).Append(decimal128.FromI64(1234)) })
		assert.InDelta(t, 12.34, f.Float64(0), 1e-9)
		assert.Equal(t, 10, f.Definition().Fields[0].Width)
		assert.Equal(t, 2, f.Definition().Fields[0].Precision)
	})

	t.Run("decimal256", func(t *testing.T) {
		dt := &arrow.Decimal256Type{Precision: 20, Scale: 2}
		f := scanValues(t, arrow.Field{Name: "v", Type: dt, Nullable: true},
			func(b array.Builder) { b.(*array.Decimal256Builder).Append(decimal256.FromI64(-550)) })
		assert.InDelta(t, -5.5, f.Float64(0), 1e-9)
	})

	t.Run("always null column", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.Null, Nullable: true},
			func(b array.Builder) { b.(*array.NullBuilder).AppendNull() })
		assert.True(t, f.IsNull(0))
	})

	t.Run("null cell", func(t *testing.T) {
		f := scanValues(t, arrow.Field{Name: "v", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
			func(b array.Builder) { b.(*array.Int32Builder).AppendNull() })
		assert.True(t, f.IsNull(0))
	})
}

func TestScanDictionaryColumn(t *testing.T) {
	dictType := &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int32, ValueType: arrow.BinaryTypes.String}
	sch := arrow.NewSchema([]arrow.Field{{Name: "color", Type: dictType, Nullable: true}}, nil)
	rec := buildRecord(t, sch, func(b *array.RecordBuilder) {
		db := b.Field(0).(*array.BinaryDictionaryBuilder)
		require.NoError(t, db.AppendString("red"))
		require.NoError(t, db.AppendString("green"))
		require.NoError(t, db.AppendString("red"))
		db.AppendNull()
	})

	m := newTestMapping(t, sch, schema.Options{})
	require.Contains(t, m.DomainColumns, "colorDomain")
	cur := newTestCursor(t, m, Options{}, rec)

	ctx := context.Background()
	f, err := cur.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(0), f.Int32(0))

	// The domain materializes from the first batch's dictionary.
	dom := cur.Definition().Domain("colorDomain")
	require.NotNil(t, dom)
	v, ok := dom.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "green", v)

	f, err = cur.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.Int32(0))

	f, err = cur.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(0), f.Int32(0))

	f, err = cur.Next(ctx)
	require.NoError(t, err)
	assert.True(t, f.IsNull(0))
}

func TestScanListValues(t *testing.T) {
	t.Run("integer list with null elements", func(t *testing.T) {
		sch := arrow.NewSchema([]arrow.Field{
			{Name: "v", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32), Nullable: true},
		}, nil)
		rec := buildRecord(t, sch, func(b *array.RecordBuilder) {
			lb := b.Field(0).(*array.ListBuilder)
			vb := lb.ValueBuilder().(*array.Int32Builder)
			lb.Append(true)
			vb.AppendValues([]int32{1, 2, 3}, nil)
			lb.Append(true)
			vb.Append(4)
			vb.AppendNull()
			vb.Append(6)
			lb.AppendNull()
			lb.Append(true)
		})
		cur := newTestCursor(t, newTestMapping(t, sch, schema.Options{}), Options{}, rec)
		ctx := context.Background()

		f, err := cur.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int32{1, 2, 3}, f.Int32List(0))

		f, err = cur.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int32{4, 0, 6}, f.Int32List(0), "null elements read as zero")

		f, err = cur.Next(ctx)
		require.NoError(t, err)
		assert.True(t, f.IsNull(0))

		f, err = cur.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int32{}, f.Int32List(0), "empty list is not null")
	})

	t.Run("boolean list maps to integer list", func(t *testing.T) {
		sch := arrow.NewSchema([]arrow.Field{
			{Name: "v", Type: arrow.ListOf(arrow.FixedWidthTypes.Boolean), Nullable: true},
		}, nil)
		rec := buildRecord(t, sch, func(b *array.RecordBuilder) {
			lb := b.Field(0).(*array.ListBuilder)
			lb.Append(true)
			lb.ValueBuilder().(*array.BooleanBuilder).AppendValues([]bool{true, false}, nil)
		})
		cur := newTestCursor(t, newTestMapping(t, sch, schema.Options{}), Options{}, rec)
		f, err := cur.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int32{1, 0}, f.Int32List(0))
	})

	t.Run("large list of int64", func(t *testing.T) {
		sch := arrow.NewSchema([]arrow.Field{
			{Name: "v", Type: arrow.LargeListOf(arrow.PrimitiveTypes.Int64), Nullable: true},
		}, nil)
		rec := buildRecord(t, sch, func(b *array.RecordBuilder) {
			lb := b.Field(0).(*array.LargeListBuilder)
			lb.Append(true)
			lb.ValueBuilder().(*array.Int64Builder).AppendValues([]int64{10, 20}, nil)
		})
		cur := newTestCursor(t, newTestMapping(t, sch, schema.Options{}), Options{}, rec)
		f, err := cur.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int64{10, 20}, f.Int64List(0))
	})

	t.Run("string list", func(t *testing.T) {
		sch := arrow.NewSchema([]arrow.Field{
			{Name: "v", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
		}, nil)
		rec := buildRecord(t, sch, func(b *array.RecordBuilder) {
			lb := b.Field(0).(*array.ListBuilder)
			vb := lb.ValueBuilder().(*array.StringBuilder)
			lb.Append(true)
			vb.Append("a")
			vb.AppendNull()
			vb.Append("c")
		})
		cur := newTestCursor(t, newTestMapping(t, sch, schema.Options{}), Options{}, rec)
		f, err := cur.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "", "c"}, f.StringList(0))
	})

	t.Run("fixed size list of float64", func(t *testing.T) {
		sch := arrow.NewSchema([]arrow.Field{
			{Name: "v", Type: arrow.FixedSizeListOf(2, arrow.PrimitiveTypes.Float64), Nullable: true},
		}, nil)
		rec := buildRecord(t, sch, func(b *array.RecordBuilder) {
			lb := b.Field(0).(*array.FixedSizeListBuilder)
			vb := lb.ValueBuilder().(*array.Float64Builder)
			lb.Append(true)
			vb.AppendValues([]float64{1.5, 2.5}, nil)
			lb.AppendNull()
		})
		cur := newTestCursor(t, newTestMapping(t, sch, schema.Options{}), Options{}, rec)
		ctx := context.Background()

		f, err := cur.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, []float64{1.5, 2.5}, f.Float64List(0))

		f, err = cur.Next(ctx)
		require.NoError(t, err)
		assert.True(t, f.IsNull(0))
	})
}

func TestScanJSONValues(t *testing.T) {
	t.Run("nested list renders as json", func(t *testing.T) {
		sch := arrow.NewSchema([]arrow.Field{
			{Name: "v", Type: arrow.ListOf(arrow.ListOf(arrow.PrimitiveTypes.Int32)), Nullable: true},
		}, nil)
		rec := buildRecord(t, sch, func(b *array.RecordBuilder) {
			outer := b.Field(0).(*array.ListBuilder)
			inner := outer.ValueBuilder().(*array.ListBuilder)
			vb := inner.ValueBuilder().(*array.Int32Builder)
			outer.Append(true)
			inner.Append(true)
			vb.AppendValues([]int32{1, 2}, nil)
			inner.Append(true)
			vb.Append(3)
			outer.AppendNull()
		})
		m := newTestMapping(t, sch, schema.Options{})
		require.Equal(t, feature.SubtypeJSON, m.Defn.Fields[0].Subtype)
		cur := newTestCursor(t, m, Options{}, rec)
		ctx := context.Background()

		f, err := cur.Next(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, "[[1,2],[3]]", f.String(0))

		f, err = cur.Next(ctx)
		require.NoError(t, err)
		assert.True(t, f.IsNull(0))
	})

	t.Run("map renders as json object", func(t *testing.T) {
		sch := arrow.NewSchema([]arrow.Field{
			{Name: "v", Type: arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int32), Nullable: true},
		}, nil)
		rec := buildRecord(t, sch, func(b *array.RecordBuilder) {
			mb := b.Field(0).(*array.MapBuilder)
			kb := mb.KeyBuilder().(*array.StringBuilder)
			ib := mb.ItemBuilder().(*array.Int32Builder)
			mb.Append(true)
			kb.Append("a")
			ib.Append(1)
			kb.Append("b")
			ib.Append(2)
			mb.AppendNull()
		})
		cur := newTestCursor(t, newTestMapping(t, sch, schema.Options{}), Options{}, rec)
		ctx := context.Background()

		f, err := cur.Next(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":1,"b":2}`, f.String(0))

		f, err = cur.Next(ctx)
		require.NoError(t, err)
		assert.True(t, f.IsNull(0))
	})

	t.Run("list of structs renders as json", func(t *testing.T) {
		elem := arrow.StructOf(
			arrow.Field{Name: "x", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
			arrow.Field{Name: "y", Type: arrow.BinaryTypes.String, Nullable: true},
		)
		sch := arrow.NewSchema([]arrow.Field{
			{Name: "v", Type: arrow.ListOf(elem), Nullable: true},
		}, nil)
		rec := buildRecord(t, sch, func(b *array.RecordBuilder) {
			lb := b.Field(0).(*array.ListBuilder)
			sb := lb.ValueBuilder().(*array.StructBuilder)
			lb.Append(true)
			sb.Append(true)
			sb.FieldBuilder(0).(*array.Int32Builder).Append(1)
			sb.FieldBuilder(1).(*array.StringBuilder).Append("a")
		})
		cur := newTestCursor(t, newTestMapping(t, sch, schema.Options{}), Options{}, rec)
		f, err := cur.Next(context.Background())
		require.NoError(t, err)
		assert.JSONEq(t, `[{"x":1,"y":"a"}]`, f.String(0))
	})
}

func TestScanStructFlattening(t *testing.T) {
	inner := arrow.StructOf(
		arrow.Field{Name: "c", Type: arrow.BinaryTypes.String, Nullable: true},
	)
	outer := arrow.StructOf(
		arrow.Field{Name: "a", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
		arrow.Field{Name: "b", Type: inner, Nullable: true},
	)
	sch := arrow.NewSchema([]arrow.Field{{Name: "s", Type: outer, Nullable: true}}, nil)

	m := newTestMapping(t, sch, schema.Options{})
	require.Len(t, m.Defn.Fields, 2)
	assert.Equal(t, "s.a", m.Defn.Fields[0].Name)
	assert.Equal(t, "s.b.c", m.Defn.Fields[1].Name)

	rec := buildRecord(t, sch, func(b *array.RecordBuilder) {
		sb := b.Field(0).(*array.StructBuilder)
		ab := sb.FieldBuilder(0).(*array.Int32Builder)
		ib := sb.FieldBuilder(1).(*array.StructBuilder)
		cb := ib.FieldBuilder(0).(*array.StringBuilder)

		sb.Append(true)
		ab.Append(1)
		ib.Append(true)
		cb.Append("x")

		sb.AppendNull()

		sb.Append(true)
		ab.Append(2)
		ib.AppendNull()
	})
	cur := newTestCursor(t, m, Options{}, rec)
	ctx := context.Background()

	f, err := cur.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.Int32(0))
	assert.Equal(t, "x", f.String(1))

	f, err = cur.Next(ctx)
	require.NoError(t, err)
	assert.True(t, f.IsNull(0))
	assert.True(t, f.IsNull(1))

	f, err = cur.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.Int32(0))
	assert.True(t, f.IsNull(1))

	// Dotted names resolve in attribute filters too.
	require.NoError(t, cur.Rewind())
	require.NoError(t, cur.SetAttributeFilter(expr.Eq(expr.Col("s.b.c"), expr.Lit("x"))))
	assert.Equal(t, []int64{0}, drainFIDs(t, cur))
}
