// Package dataset opens columnar datasets and hands their batches to scans.
//
// A dataset is one Arrow IPC payload, either the random-access file format
// or the bare stream format, optionally compressed, addressed by a local
// path or a file://, s3:// or gs:// URI. Open fetches the payload, derives
// the feature definition from its schema, and wires a rewindable batch
// source for cursors. File-format batches decode lazily; streams and remote
// objects are buffered whole first.
package dataset

import (
	"context"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tesseradata/tessera/pkg/compression"
	"github.com/tesseradata/tessera/pkg/feature"
	"github.com/tesseradata/tessera/pkg/logger"
	"github.com/tesseradata/tessera/pkg/observability"
	"github.com/tesseradata/tessera/pkg/scan"
	"github.com/tesseradata/tessera/pkg/schema"
)

// Options configure Open.
type Options struct {
	// Name overrides the dataset name derived from the URI.
	Name string

	// FIDColumn names the feature identifier column when the schema
	// metadata does not.
	FIDColumn string

	// DisableOverrides skips the tessera:schema metadata document.
	DisableOverrides bool

	// CredentialsFile points gs:// fetches at a service account key file
	// instead of application default credentials.
	CredentialsFile string
}

// Dataset is an opened columnar dataset. Cursors share its batch source, so
// at most one cursor should be active at a time; starting a new one rewinds
// the running one.
type Dataset struct {
	name    string
	uri     string
	src     source
	mapping *schema.Mapping
	lg      *zap.Logger
}

// Open loads the dataset at uri and derives its feature definition.
func Open(ctx context.Context, uri string, opts Options) (*Dataset, error) {
	ctx, span := observability.StartSpan(ctx, "dataset.open",
		attribute.String("dataset.uri", uri))
	defer span.End()

	name := opts.Name
	if name == "" {
		name = DeriveName(uri)
	}

	src, err := openSource(ctx, uri, opts)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	m, err := schema.FromArrow(src.Schema(), schema.Options{
		Name:             name,
		FIDColumn:        opts.FIDColumn,
		DisableOverrides: opts.DisableOverrides,
	})
	if err != nil {
		src.Close()
		observability.RecordError(span, err)
		return nil, err
	}

	lg := logger.Get().With(zap.String("dataset", name))
	lg.Info("dataset opened",
		zap.String("uri", uri),
		zap.Int("fields", len(m.Defn.Fields)),
		zap.Int("geometry_fields", len(m.Defn.GeomFields)))

	return &Dataset{name: name, uri: uri, src: src, mapping: m, lg: lg}, nil
}

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.name }

// URI returns the location the dataset was opened from.
func (d *Dataset) URI() string { return d.uri }

// Schema returns the columnar schema shared by all batches.
func (d *Dataset) Schema() *arrow.Schema { return d.src.Schema() }

// Mapping returns the binding between the columnar schema and the feature
// definition.
func (d *Dataset) Mapping() *schema.Mapping { return d.mapping }

// Definition returns the derived feature definition.
func (d *Dataset) Definition() *feature.Definition { return d.mapping.Defn }

// Cursor rewinds the dataset and starts a scan from the first batch.
func (d *Dataset) Cursor(opts scan.Options) (*scan.Cursor, error) {
	if err := d.src.Reset(); err != nil {
		return nil, err
	}
	return scan.NewCursor(d.src, d.mapping, opts)
}

// Close releases the batch source. Cursors created from the dataset must
// not be used afterwards.
func (d *Dataset) Close() error {
	return d.src.Close()
}

// DeriveName names a dataset after the last path element of its URI, minus
// the compression and format extensions.
func DeriveName(uri string) string {
	_, base := compression.Detect(uri)
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	if base == "" {
		return "dataset"
	}
	return base
}
