package sink

import (
	"context"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/linkedin/goavro/v2"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/feature"
	jsonpool "github.com/tesseradata/tessera/pkg/json"
	"github.com/tesseradata/tessera/pkg/metrics"
	"github.com/tesseradata/tessera/pkg/observability"
	"github.com/tesseradata/tessera/pkg/pool"
	"github.com/tesseradata/tessera/pkg/scan"
)

// defaultAvroBlockRows is how many rows go into one object container block.
const defaultAvroBlockRows = 4096

// AvroOptions configure an Avro sink.
type AvroOptions struct {
	// Compression names the block codec: "null", "deflate" or "snappy".
	// Empty means no block compression.
	Compression string

	// BlockRows caps the rows buffered into one container block.
	BlockRows int
}

// avroColumn maps one output field to its source in the definition.
type avroColumn struct {
	name     string // sanitized avro field name
	union    string // union member name for non-null values
	fieldIdx int    // attribute index, -1 otherwise
	geomIdx  int    // geometry index, -1 otherwise
	nullable bool
}

// AvroSink streams features into one Avro object container file. Dates
// become days since epoch, times milliseconds since midnight, timestamps
// epoch milliseconds, geometries WKB bytes.
type AvroSink struct {
	ocf   *goavro.OCFWriter
	defn  *feature.Definition
	cw    *countingWriter
	cols  []avroColumn
	batch []interface{}
	cap   int
	rows  int64
}

// NewAvroSink builds the container schema from the definition and writes
// the file header. Ignored fields are left out.
func NewAvroSink(w io.Writer, defn *feature.Definition, opts AvroOptions) (*AvroSink, error) {
	schemaJSON, cols, err := avroSchema(defn)
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(schemaJSON)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExport, "building avro codec")
	}
	compression := opts.Compression
	if compression == "" {
		compression = goavro.CompressionNullLabel
	}
	cw := &countingWriter{w: w}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               cw,
		Codec:           codec,
		CompressionName: compression,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExport, "creating avro container writer")
	}
	rows := opts.BlockRows
	if rows <= 0 {
		rows = defaultAvroBlockRows
	}
	return &AvroSink{ocf: ocf, defn: defn, cw: cw, cols: cols, cap: rows}, nil
}

// Rows returns the number of features written so far.
func (s *AvroSink) Rows() int64 { return s.rows }

// WriteFeature buffers one feature, appending a container block when the
// buffer fills.
func (s *AvroSink) WriteFeature(f *feature.Feature) error {
	native := pool.GetMap()
	for _, col := range s.cols {
		v, err := s.value(f, col)
		if err != nil {
			pool.PutMap(native)
			return err
		}
		switch {
		case !col.nullable:
			native[col.name] = v
		case v == nil:
			native[col.name] = nil
		default:
			native[col.name] = goavro.Union(col.union, v)
		}
	}
	s.batch = append(s.batch, native)
	s.rows++
	if len(s.batch) >= s.cap {
		return s.Flush()
	}
	return nil
}

// Flush appends the buffered rows as one object container block.
func (s *AvroSink) Flush() error {
	if len(s.batch) == 0 {
		return nil
	}
	err := s.ocf.Append(s.batch)
	for _, m := range s.batch {
		pool.PutMap(m.(map[string]interface{}))
	}
	s.batch = s.batch[:0]
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeExport, "appending avro block")
	}
	return nil
}

// Drain writes every remaining feature of the scan and flushes the sink.
func (s *AvroSink) Drain(ctx context.Context, cur *scan.Cursor) error {
	ctx, span := observability.StartSpan(ctx, "sink.avro",
		attribute.String("dataset", s.defn.Name))
	defer span.End()
	timer := metrics.NewTimer("sink_avro")

	for {
		f, err := cur.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			observability.RecordError(span, err)
			return err
		}
		if err := s.WriteFeature(f); err != nil {
			observability.RecordError(span, err)
			return err
		}
	}
	if err := s.Flush(); err != nil {
		observability.RecordError(span, err)
		return err
	}

	metrics.ExportedBytes.WithLabelValues(s.defn.Name, "avro").Add(float64(s.cw.n))
	metrics.ExportLatency.WithLabelValues(s.defn.Name, "avro").
		Observe(float64(timer.Stop().Nanoseconds()))
	span.SetAttributes(attribute.Int64("sink.rows", s.rows))
	return nil
}

// value converts one cell to goavro's native form.
func (s *AvroSink) value(f *feature.Feature, col avroColumn) (interface{}, error) {
	switch {
	case col.geomIdx >= 0:
		g := f.Geometry(col.geomIdx)
		if g == nil {
			return nil, nil
		}
		data, err := wkb.Marshal(g, wkb.NDR)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeExport, "wkb encoding failed for avro output")
		}
		return data, nil
	case col.fieldIdx < 0:
		if f.FID == feature.NullFID {
			return nil, nil
		}
		return f.FID, nil
	}

	i := col.fieldIdx
	if f.IsNull(i) {
		return nil, nil
	}
	fd := s.defn.Fields[i]
	switch fd.Type {
	case feature.FieldTypeInteger:
		if fd.Subtype == feature.SubtypeBoolean {
			return f.Bool(i), nil
		}
		return f.Int32(i), nil
	case feature.FieldTypeInteger64:
		return f.Int64(i), nil
	case feature.FieldTypeReal:
		if fd.Subtype == feature.SubtypeFloat32 {
			return float32(f.Float64(i)), nil
		}
		return f.Float64(i), nil
	case feature.FieldTypeBinary:
		return f.Bytes(i), nil
	case feature.FieldTypeDate:
		return int32(arrow.Date32FromTime(f.Time(i))), nil
	case feature.FieldTypeTime:
		return dayMillis(f.Time(i)), nil
	case feature.FieldTypeDateTime:
		return f.Time(i).UnixMilli(), nil
	case feature.FieldTypeIntegerList:
		return f.Int32List(i), nil
	case feature.FieldTypeInteger64List:
		return f.Int64List(i), nil
	case feature.FieldTypeRealList:
		return f.Float64List(i), nil
	case feature.FieldTypeStringList:
		return f.StringList(i), nil
	default:
		return f.String(i), nil
	}
}

// avroSchema renders the record schema document and the column plan.
func avroSchema(defn *feature.Definition) (string, []avroColumn, error) {
	var (
		fields []map[string]interface{}
		cols   []avroColumn
	)
	add := func(col avroColumn, typ interface{}) {
		spec := map[string]interface{}{"name": col.name, "type": typ}
		if col.nullable {
			spec["type"] = []interface{}{"null", typ}
			spec["default"] = nil
		}
		fields = append(fields, spec)
		cols = append(cols, col)
	}

	if defn.FIDColumn != "" {
		add(avroColumn{
			name: sanitizeAvroName(defn.FIDColumn), union: "long",
			fieldIdx: -1, geomIdx: -1, nullable: true,
		}, "long")
	}
	for i, fd := range defn.Fields {
		if fd.Ignored {
			continue
		}
		union, typ := avroType(fd)
		add(avroColumn{
			name: sanitizeAvroName(fd.Name), union: union,
			fieldIdx: i, geomIdx: -1, nullable: fd.Nullable,
		}, typ)
	}
	for i, g := range defn.GeomFields {
		if g.Ignored {
			continue
		}
		add(avroColumn{
			name: sanitizeAvroName(g.Name), union: "bytes",
			fieldIdx: -1, geomIdx: i, nullable: g.Nullable,
		}, "bytes")
	}

	doc := map[string]interface{}{
		"type":   "record",
		"name":   sanitizeAvroName(defn.Name),
		"fields": fields,
	}
	data, err := jsonpool.Marshal(doc)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeExport, "rendering avro schema")
	}
	return string(data), cols, nil
}

// avroType maps a field to its avro type and union member name. List types
// render as array schemas whose union member is named "array".
func avroType(fd *feature.FieldDefn) (string, interface{}) {
	switch fd.Type {
	case feature.FieldTypeInteger:
		if fd.Subtype == feature.SubtypeBoolean {
			return "boolean", "boolean"
		}
		return "int", "int"
	case feature.FieldTypeInteger64:
		return "long", "long"
	case feature.FieldTypeReal:
		if fd.Subtype == feature.SubtypeFloat32 {
			return "float", "float"
		}
		return "double", "double"
	case feature.FieldTypeBinary:
		return "bytes", "bytes"
	case feature.FieldTypeDate, feature.FieldTypeTime:
		return "int", "int"
	case feature.FieldTypeDateTime:
		return "long", "long"
	case feature.FieldTypeIntegerList:
		return "array", avroArray("int")
	case feature.FieldTypeInteger64List:
		return "array", avroArray("long")
	case feature.FieldTypeRealList:
		return "array", avroArray("double")
	case feature.FieldTypeStringList:
		return "array", avroArray("string")
	default:
		return "string", "string"
	}
}

func avroArray(items string) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": items}
}

// sanitizeAvroName rewrites a field name into the [A-Za-z_][A-Za-z0-9_]*
// shape avro requires, mapping the dots of flattened struct members to
// underscores.
func sanitizeAvroName(name string) string {
	if name == "" {
		return "_"
	}
	out := make([]byte, 0, len(name))
	for _, r := range name {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			r = '_'
		}
		out = append(out, byte(r))
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = append([]byte{'_'}, out...)
	}
	return string(out)
}

// dayMillis is the time of day in milliseconds.
func dayMillis(t time.Time) int32 {
	return int32(((t.Hour()*60+t.Minute())*60+t.Second())*1000 + t.Nanosecond()/int(time.Millisecond))
}
