package export

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/feature"
	"github.com/tesseradata/tessera/pkg/geoarrow"
)

// rebuilder accumulates materialized features into builder-backed batches.
// Rebuilt batches are shaped by the feature definition rather than the
// source schema: fields flatten to top-level columns of their canonical
// types and geometries always land as binary WKB. On sources that already
// use the canonical flat layout the result matches the zero-copy path
// exactly.
type rebuilder struct {
	defn   *feature.Definition
	schema *arrow.Schema
	rb     *array.RecordBuilder
	rows   int
	cap    int

	fidCol int
	fields []int
	geoms  []int
}

func newRebuilder(defn *feature.Definition, opts Options) *rebuilder {
	r := &rebuilder{
		defn:   defn,
		cap:    opts.BatchRows,
		fidCol: -1,
		fields: make([]int, len(defn.Fields)),
		geoms:  make([]int, len(defn.GeomFields)),
	}
	if r.cap <= 0 {
		r.cap = DefaultBatchRows
	}

	var fields []arrow.Field
	if defn.FIDColumn != "" {
		r.fidCol = 0
		fields = append(fields, arrow.Field{
			Name:     defn.FIDColumn,
			Type:     arrow.PrimitiveTypes.Int64,
			Nullable: true,
		})
	}
	for i, fd := range defn.Fields {
		if fd.Ignored {
			r.fields[i] = -1
			continue
		}
		r.fields[i] = len(fields)
		fields = append(fields, arrow.Field{
			Name:     fd.Name,
			Type:     fieldArrowType(fd),
			Nullable: fd.Nullable,
		})
	}
	tag := opts.MetadataEncoding.wkbTag()
	for i, gd := range defn.GeomFields {
		if gd.Ignored {
			r.geoms[i] = -1
			continue
		}
		r.geoms[i] = len(fields)
		fields = append(fields, arrow.Field{
			Name:     gd.Name,
			Type:     arrow.BinaryTypes.Binary,
			Nullable: gd.Nullable,
			Metadata: arrow.NewMetadata([]string{geoarrow.ExtensionNameKey}, []string{tag}),
		})
	}

	r.schema = arrow.NewSchema(fields, nil)
	r.rb = array.NewRecordBuilder(memory.DefaultAllocator, r.schema)
	return r
}

func (r *rebuilder) append(f *feature.Feature) error {
	if r.fidCol >= 0 {
		b := r.rb.Field(r.fidCol).(*array.Int64Builder)
		if f.FID == feature.NullFID {
			b.AppendNull()
		} else {
			b.Append(f.FID)
		}
	}
	for i := range r.defn.Fields {
		col := r.fields[i]
		if col < 0 {
			continue
		}
		if f.IsNull(i) {
			r.rb.Field(col).AppendNull()
			continue
		}
		appendValue(r.rb.Field(col), f, i)
	}
	for i := range r.defn.GeomFields {
		col := r.geoms[i]
		if col < 0 {
			continue
		}
		b := r.rb.Field(col).(*array.BinaryBuilder)
		g := f.Geometry(i)
		if g == nil {
			b.AppendNull()
			continue
		}
		data, err := wkb.Marshal(g, wkb.NDR)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeExport, "wkb encoding failed during batch rebuild")
		}
		b.Append(data)
	}
	r.rows++
	return nil
}

func (r *rebuilder) flush() *ExportedBatch {
	rec := r.rb.NewRecord()
	r.rows = 0
	return &ExportedBatch{rec: rec}
}

func (r *rebuilder) release() {
	r.rb.Release()
}

func appendValue(b array.Builder, f *feature.Feature, i int) {
	switch bld := b.(type) {
	case *array.BooleanBuilder:
		bld.Append(f.Bool(i))
	case *array.Int16Builder:
		bld.Append(int16(f.Int32(i)))
	case *array.Int32Builder:
		bld.Append(f.Int32(i))
	case *array.Int64Builder:
		bld.Append(f.Int64(i))
	case *array.Float32Builder:
		bld.Append(float32(f.Float64(i)))
	case *array.Float64Builder:
		bld.Append(f.Float64(i))
	case *array.StringBuilder:
		bld.Append(f.String(i))
	case *array.BinaryBuilder:
		bld.Append(f.Bytes(i))
	case *array.Date32Builder:
		bld.Append(arrow.Date32FromTime(f.Time(i)))
	case *array.Time32Builder:
		bld.Append(midnightMillis(f.Time(i)))
	case *array.TimestampBuilder:
		bld.Append(arrow.Timestamp(f.Time(i).UnixMilli()))
	case *array.ListBuilder:
		appendList(bld, f, i)
	default:
		b.AppendNull()
	}
}

func appendList(lb *array.ListBuilder, f *feature.Feature, i int) {
	lb.Append(true)
	switch vb := lb.ValueBuilder().(type) {
	case *array.BooleanBuilder:
		for _, v := range f.Int32List(i) {
			vb.Append(v != 0)
		}
	case *array.Int16Builder:
		for _, v := range f.Int32List(i) {
			vb.Append(int16(v))
		}
	case *array.Int32Builder:
		vb.AppendValues(f.Int32List(i), nil)
	case *array.Int64Builder:
		vb.AppendValues(f.Int64List(i), nil)
	case *array.Float32Builder:
		for _, v := range f.Float64List(i) {
			vb.Append(float32(v))
		}
	case *array.Float64Builder:
		vb.AppendValues(f.Float64List(i), nil)
	case *array.StringBuilder:
		vb.AppendValues(f.StringList(i), nil)
	}
}

// fieldArrowType is the canonical column type of one field definition, the
// inverse of the type mapping applied when the schema was derived.
func fieldArrowType(fd *feature.FieldDefn) arrow.DataType {
	switch fd.Type {
	case feature.FieldTypeInteger:
		switch fd.Subtype {
		case feature.SubtypeBoolean:
			return arrow.FixedWidthTypes.Boolean
		case feature.SubtypeInt16:
			return arrow.PrimitiveTypes.Int16
		}
		return arrow.PrimitiveTypes.Int32
	case feature.FieldTypeInteger64:
		return arrow.PrimitiveTypes.Int64
	case feature.FieldTypeReal:
		if fd.Subtype == feature.SubtypeFloat32 {
			return arrow.PrimitiveTypes.Float32
		}
		return arrow.PrimitiveTypes.Float64
	case feature.FieldTypeString:
		return arrow.BinaryTypes.String
	case feature.FieldTypeBinary:
		return arrow.BinaryTypes.Binary
	case feature.FieldTypeDate:
		return arrow.FixedWidthTypes.Date32
	case feature.FieldTypeTime:
		return arrow.FixedWidthTypes.Time32ms
	case feature.FieldTypeDateTime:
		return &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: timestampZone(fd.TZFlag)}
	case feature.FieldTypeIntegerList:
		switch fd.Subtype {
		case feature.SubtypeBoolean:
			return arrow.ListOf(arrow.FixedWidthTypes.Boolean)
		case feature.SubtypeInt16:
			return arrow.ListOf(arrow.PrimitiveTypes.Int16)
		}
		return arrow.ListOf(arrow.PrimitiveTypes.Int32)
	case feature.FieldTypeInteger64List:
		return arrow.ListOf(arrow.PrimitiveTypes.Int64)
	case feature.FieldTypeRealList:
		if fd.Subtype == feature.SubtypeFloat32 {
			return arrow.ListOf(arrow.PrimitiveTypes.Float32)
		}
		return arrow.ListOf(arrow.PrimitiveTypes.Float64)
	case feature.FieldTypeStringList:
		return arrow.ListOf(arrow.BinaryTypes.String)
	}
	return arrow.BinaryTypes.String
}

// timestampZone renders a timezone flag as the zone string of a timestamp
// type. Unknown and local time carry no zone, everything else is a fixed
// offset in quarter hours around UTC.
func timestampZone(flag int) string {
	switch {
	case flag <= feature.TZFlagLocal:
		return ""
	case flag == feature.TZFlagUTC:
		return "UTC"
	}
	min := (flag - feature.TZFlagUTC) * 15
	sign := "+"
	if min < 0 {
		sign = "-"
		min = -min
	}
	return fmt.Sprintf("%s%02d:%02d", sign, min/60, min%60)
}

// midnightMillis is the time of day in milliseconds, the unit of time32
// columns.
func midnightMillis(t time.Time) arrow.Time32 {
	return arrow.Time32(((t.Hour()*60+t.Minute())*60+t.Second())*1000 + t.Nanosecond()/int(time.Millisecond))
}
