package export

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/logger"
	"github.com/tesseradata/tessera/pkg/metrics"
	"github.com/tesseradata/tessera/pkg/observability"
	"github.com/tesseradata/tessera/pkg/scan"
)

// Exporter streams the remaining features of a cursor as exported batches.
// The mode is fixed at construction: whole batches are passed through with
// shared columns when no filter is installed and the ignored fields drop
// whole columns, otherwise rows are materialized and rebuilt one by one.
//
// Like the cursor it wraps, an exporter is not safe for concurrent use.
type Exporter struct {
	cur    *scan.Cursor
	proj   *projection
	rb     *rebuilder
	schema *arrow.Schema
	name   string
	lg     *zap.Logger
}

// NewExporter plans the export of cur's features. Filters installed on the
// cursor after this call still apply to the rebuild path but do not change
// the mode decision.
func NewExporter(cur *scan.Cursor, opts Options) *Exporter {
	e := &Exporter{
		cur:  cur,
		name: cur.Definition().Name,
		lg:   logger.Get().With(zap.String("dataset", cur.Definition().Name)),
	}
	proj := newProjection(cur.Mapping(), opts)
	if opts.ForceNaive || cur.Filtered() || !proj.columnAligned {
		e.rb = newRebuilder(cur.Definition(), opts)
		e.schema = e.rb.schema
		e.lg.Debug("export rebuilds batches row by row",
			zap.Bool("forced", opts.ForceNaive),
			zap.Bool("filtered", cur.Filtered()),
			zap.Bool("column_aligned", proj.columnAligned))
	} else {
		e.proj = proj
		e.schema = proj.schema
	}
	return e
}

// Schema returns the schema of the batches Next produces.
func (e *Exporter) Schema() *arrow.Schema { return e.schema }

// Rebuilds reports whether batches are rebuilt row by row instead of
// sharing the source columns.
func (e *Exporter) Rebuilds() bool { return e.rb != nil }

// Next returns the next non-empty exported batch, or nil and io.EOF at end
// of data. The caller releases the batch.
func (e *Exporter) Next(ctx context.Context) (*ExportedBatch, error) {
	if e.proj == nil && e.rb == nil {
		return nil, errors.New(errors.ErrorTypeExport, "exporter is closed")
	}
	ctx, span := observability.StartSpan(ctx, "export.next")
	defer span.End()

	var (
		eb   *ExportedBatch
		err  error
		mode = "zero_copy"
	)
	if e.rb != nil {
		mode = "rebuild"
		eb, err = e.nextRebuilt(ctx)
	} else {
		eb, err = e.nextShared(ctx)
	}
	if err != nil {
		if err != io.EOF {
			observability.RecordError(span, err)
		}
		return nil, err
	}
	metrics.ExportedBatches.WithLabelValues(e.name, mode).Inc()
	span.SetAttributes(
		attribute.String("export.mode", mode),
		attribute.Int64("export.rows", eb.NumRows()),
	)
	return eb, nil
}

// Close releases builder scratch held by the rebuild path. The exporter is
// unusable afterwards; the cursor stays open.
func (e *Exporter) Close() {
	if e.rb != nil {
		e.rb.release()
		e.rb = nil
	}
	e.proj = nil
}

func (e *Exporter) nextShared(ctx context.Context) (*ExportedBatch, error) {
	for {
		rec, err := e.cur.NextBatch(ctx)
		if err != nil {
			return nil, err
		}
		eb, err := project(rec, e.proj)
		rec.Release()
		if err != nil {
			return nil, err
		}
		if eb.NumRows() == 0 {
			eb.Release()
			continue
		}
		return eb, nil
	}
}

func (e *Exporter) nextRebuilt(ctx context.Context) (*ExportedBatch, error) {
	for {
		f, err := e.cur.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := e.rb.append(f); err != nil {
			return nil, err
		}
		if e.rb.rows >= e.rb.cap {
			return e.rb.flush(), nil
		}
	}
	if e.rb.rows == 0 {
		return nil, io.EOF
	}
	return e.rb.flush(), nil
}
