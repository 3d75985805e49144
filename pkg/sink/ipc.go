package sink

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/export"
	"github.com/tesseradata/tessera/pkg/metrics"
	"github.com/tesseradata/tessera/pkg/observability"
)

// IPCOptions configure an IPC sink.
type IPCOptions struct {
	// Stream selects the streaming wire format. The default is the file
	// format, which needs a seekable writer for its footer.
	Stream bool
}

// recordWriter is the shared surface of the two arrow ipc writers.
type recordWriter interface {
	Write(arrow.Record) error
	Close() error
}

// IPCSink writes exported batches back out as an Arrow IPC payload, either
// the seekable file format or the streaming format.
type IPCSink struct {
	wr     recordWriter
	cw     *countingWriter
	ws     io.WriteSeeker // file format only
	name   string
	rows   int64
	bytes  int64
	closed bool
}

// NewIPCSink prepares a sink writing batches of the given schema to w. The
// file format requires w to implement io.WriteSeeker.
func NewIPCSink(w io.Writer, sch *arrow.Schema, name string, opts IPCOptions) (*IPCSink, error) {
	s := &IPCSink{name: name}
	if opts.Stream {
		s.cw = &countingWriter{w: w}
		s.wr = ipc.NewWriter(s.cw, ipc.WithSchema(sch), ipc.WithAllocator(memory.DefaultAllocator))
		return s, nil
	}

	ws, ok := w.(io.WriteSeeker)
	if !ok {
		return nil, errors.New(errors.ErrorTypeConfig, "the ipc file format needs a seekable writer")
	}
	fw, err := ipc.NewFileWriter(ws, ipc.WithSchema(sch), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeExport, "creating ipc file writer")
	}
	s.ws = ws
	s.wr = fw
	return s, nil
}

// Rows returns the number of rows written so far.
func (s *IPCSink) Rows() int64 { return s.rows }

// WriteBatch writes one exported batch and releases it.
func (s *IPCSink) WriteBatch(eb *export.ExportedBatch) error {
	defer eb.Release()
	if err := s.wr.Write(eb.Record()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "writing ipc batch")
	}
	s.rows += eb.NumRows()
	return nil
}

// Close finalizes the payload. The file format writes its footer here.
func (s *IPCSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.wr.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "finalizing ipc payload")
	}
	if s.ws != nil {
		if pos, err := s.ws.Seek(0, io.SeekCurrent); err == nil {
			s.bytes = pos
		}
		return nil
	}
	s.bytes = s.cw.n
	return nil
}

// Drain writes every remaining batch of the exporter and closes the sink.
// The exporter itself stays open; callers own its lifecycle.
func (s *IPCSink) Drain(ctx context.Context, exp *export.Exporter) error {
	ctx, span := observability.StartSpan(ctx, "sink.ipc",
		attribute.String("dataset", s.name),
		attribute.Bool("sink.stream", s.ws == nil))
	defer span.End()
	timer := metrics.NewTimer("sink_ipc")

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

	metrics.ExportedBytes.WithLabelValues(s.name, "ipc").Add(float64(s.bytes))
	metrics.ExportLatency.WithLabelValues(s.name, "ipc").
		Observe(float64(timer.Stop().Nanoseconds()))
	span.SetAttributes(attribute.Int64("sink.rows", s.rows))
	return nil
}
