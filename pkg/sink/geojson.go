package sink

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/feature"
	jsonpool "github.com/tesseradata/tessera/pkg/json"
	"github.com/tesseradata/tessera/pkg/metrics"
	"github.com/tesseradata/tessera/pkg/observability"
	"github.com/tesseradata/tessera/pkg/pool"
	"github.com/tesseradata/tessera/pkg/scan"
)

// GeoJSONSink streams features into one GeoJSON FeatureCollection. The
// first non-ignored geometry field becomes the feature geometry; remaining
// fields land in properties. Output is one feature per line so the files
// diff and stream well.
type GeoJSONSink struct {
	cw      *countingWriter
	defn    *feature.Definition
	geomIdx int
	started bool
	closed  bool
	rows    int64
}

// NewGeoJSONSink prepares a sink writing to w. Datasets without a geometry
// field still export, with every feature geometry null.
func NewGeoJSONSink(w io.Writer, defn *feature.Definition) *GeoJSONSink {
	geomIdx := -1
	for i, g := range defn.GeomFields {
		if !g.Ignored {
			geomIdx = i
			break
		}
	}
	return &GeoJSONSink{cw: &countingWriter{w: w}, defn: defn, geomIdx: geomIdx}
}

// Rows returns the number of features written so far.
func (s *GeoJSONSink) Rows() int64 { return s.rows }

// WriteFeature appends one feature to the collection.
func (s *GeoJSONSink) WriteFeature(f *feature.Feature) error {
	if !s.started {
		if _, err := io.WriteString(s.cw, `{"type":"FeatureCollection","features":[`); err != nil {
			return errors.Wrap(err, errors.ErrorTypeIO, "writing geojson header")
		}
		s.started = true
	}
	sep := ",\n"
	if s.rows == 0 {
		sep = "\n"
	}

	buf := pool.GetByteSlice()
	defer func() { pool.PutByteSlice(buf) }()

	buf = append(buf, sep...)
	buf = append(buf, `{"type":"Feature"`...)

	if s.defn.FIDColumn != "" && f.FID != feature.NullFID {
		buf = append(buf, `,"id":`...)
		buf = strconv.AppendInt(buf, f.FID, 10)
	}

	buf = append(buf, `,"geometry":`...)
	if g := geometryOf(f, s.geomIdx); g != nil {
		data, err := geojson.Marshal(g)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeExport, "geojson geometry encoding failed")
		}
		buf = append(buf, data...)
	} else {
		buf = append(buf, `null`...)
	}

	props := pool.GetMap()
	for i, fd := range s.defn.Fields {
		if fd.Ignored || f.IsNull(i) {
			continue
		}
		props[fd.Name] = propertyValue(f, i, fd)
	}
	data, err := jsonpool.Marshal(props)
	pool.PutMap(props)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeExport, "encoding geojson properties")
	}
	buf = append(buf, `,"properties":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')

	if _, err := s.cw.Write(buf); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "writing geojson feature")
	}
	s.rows++
	return nil
}

// Close terminates the collection. Closing an empty sink still emits a
// well-formed empty FeatureCollection.
func (s *GeoJSONSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	trailer := "\n]}\n"
	if !s.started {
		trailer = `{"type":"FeatureCollection","features":[]}` + "\n"
	}
	if _, err := io.WriteString(s.cw, trailer); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "writing geojson trailer")
	}
	return nil
}

// Drain writes every remaining feature of the scan and closes the sink.
func (s *GeoJSONSink) Drain(ctx context.Context, cur *scan.Cursor) error {
	ctx, span := observability.StartSpan(ctx, "sink.geojson",
		attribute.String("dataset", s.defn.Name))
	defer span.End()
	timer := metrics.NewTimer("sink_geojson")

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
	if err := s.Close(); err != nil {
		observability.RecordError(span, err)
		return err
	}

	metrics.ExportedBytes.WithLabelValues(s.defn.Name, "geojson").Add(float64(s.cw.n))
	metrics.ExportLatency.WithLabelValues(s.defn.Name, "geojson").
		Observe(float64(timer.Stop().Nanoseconds()))
	span.SetAttributes(attribute.Int64("sink.rows", s.rows))
	return nil
}

func geometryOf(f *feature.Feature, idx int) geom.T {
	if idx < 0 {
		return nil
	}
	return f.Geometry(idx)
}

// propertyValue converts one non-null cell to its GeoJSON property form.
// Dates and times render as strings, binary as base64, JSON subtype fields
// embed verbatim when they hold a well-formed document.
func propertyValue(f *feature.Feature, i int, fd *feature.FieldDefn) interface{} {
	switch fd.Type {
	case feature.FieldTypeInteger:
		if fd.Subtype == feature.SubtypeBoolean {
			return f.Bool(i)
		}
		return f.Int32(i)
	case feature.FieldTypeInteger64:
		return f.Int64(i)
	case feature.FieldTypeReal:
		return f.Float64(i)
	case feature.FieldTypeBinary:
		return f.Bytes(i)
	case feature.FieldTypeDate:
		return f.Time(i).Format("2006-01-02")
	case feature.FieldTypeTime:
		return f.Time(i).Format("15:04:05")
	case feature.FieldTypeDateTime:
		return f.Time(i).Format(time.RFC3339)
	case feature.FieldTypeIntegerList:
		return f.Int32List(i)
	case feature.FieldTypeInteger64List:
		return f.Int64List(i)
	case feature.FieldTypeRealList:
		return f.Float64List(i)
	case feature.FieldTypeStringList:
		return f.StringList(i)
	default:
		s := f.String(i)
		if fd.Subtype == feature.SubtypeJSON && jsonpool.Valid([]byte(s)) {
			return jsonpool.RawMessage(s)
		}
		return s
	}
}
