package sink

import (
	"context"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/export"
	"github.com/tesseradata/tessera/pkg/metrics"
	"github.com/tesseradata/tessera/pkg/observability"
)

// ParquetOptions configure a Parquet sink.
type ParquetOptions struct {
	// Compression names the column codec: snappy (the default), zstd,
	// gzip, brotli, lz4 or none.
	Compression string
}

// ParquetSink writes exported batches to a Parquet file. Each batch
// becomes one row group, so the exporter's batch size controls row
// group sizing.
type ParquetSink struct {
	fw     *pqarrow.FileWriter
	cw     *countingWriter
	name   string
	rows   int64
	bytes  int64
	closed bool
}

// NewParquetSink prepares a sink writing batches of the given schema to w.
// The Arrow schema is stored in the file footer so field metadata, the
// geometry extension tag included, survives a round trip.
func NewParquetSink(w io.Writer, sch *arrow.Schema, name string, opts ParquetOptions) (*ParquetSink, error) {
	codec, err := parquetCompression(opts.Compression)
	if err != nil {
		return nil, err
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	cw := &countingWriter{w: w}
	fw, err := pqarrow.NewFileWriter(sch, cw, props, arrowProps)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExport, "creating parquet writer")
	}
	return &ParquetSink{fw: fw, cw: cw, name: name}, nil
}

// Rows returns the number of rows written so far.
func (s *ParquetSink) Rows() int64 { return s.rows }

// WriteBatch writes one exported batch as a row group and releases it.
func (s *ParquetSink) WriteBatch(eb *export.ExportedBatch) error {
	defer eb.Release()
	if err := s.fw.Write(eb.Record()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "writing parquet row group")
	}
	s.rows += eb.NumRows()
	return nil
}

// Close writes the file footer.
func (s *ParquetSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.fw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "finalizing parquet footer")
	}
	s.bytes = s.cw.n
	return nil
}

// Drain writes every remaining batch of the exporter and closes the sink.
// The exporter itself stays open; callers own its lifecycle.
func (s *ParquetSink) Drain(ctx context.Context, exp *export.Exporter) error {
	ctx, span := observability.StartSpan(ctx, "sink.parquet",
		attribute.String("dataset", s.name))
	defer span.End()
	timer := metrics.NewTimer("sink_parquet")

	for {
		eb, err := exp.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			observability.RecordError(span, err)
			return err
		}
		if err := s.WriteBatch(eb); err != nil {
			observability.RecordError(span, err)
			return err
		}
	}
	if err := s.Close(); err != nil {
		observability.RecordError(span, err)
		return err
	}

	metrics.ExportedBytes.WithLabelValues(s.name, "parquet").Add(float64(s.bytes))
	metrics.ExportLatency.WithLabelValues(s.name, "parquet").
		Observe(float64(timer.Stop().Nanoseconds()))
	span.SetAttributes(attribute.Int64("sink.rows", s.rows))
	return nil
}

func parquetCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "lz4":
		return compress.Codecs.Lz4Raw, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed,
			errors.Newf(errors.ErrorTypeConfig, "unknown parquet compression %q", name)
	}
}
