// Package tessera converts between Arrow record batches and a tabular
// feature model of typed attribute columns plus WKB geometry columns.
//
// Tessera reads GeoArrow-tagged IPC payloads from local files or object
// storage, decodes them row by row into features, filters them, and writes
// the result back out as Arrow IPC, Parquet, Avro, or GeoJSON.
//
// # Architecture
//
// The codec is split into two one-way halves around a shared feature model:
//
// The scan half maps an Arrow schema to a feature definition
// (schema.FromArrow), then walks record batches with a pull cursor
// (scan.Cursor) that materializes one feature per row, skipping rows the
// attribute and spatial filters reject.
//
// The export half re-emits a scanned dataset as record batches
// (export.Exporter), either passing source batches through untouched or
// rebuilding them row by row when filters, ignored fields, or encoding
// changes make pass-through impossible.
//
// # Quick Start
//
// Count the features inside a bounding box:
//
//	import (
//	    "context"
//	    "io"
//
//	    "github.com/tesseradata/tessera/pkg/dataset"
//	    "github.com/tesseradata/tessera/pkg/feature"
//	    "github.com/tesseradata/tessera/pkg/scan"
//	)
//
//	ds, err := dataset.Open(ctx, "s3://bucket/roads.arrow", dataset.Options{})
//	if err != nil {
//	    return err
//	}
//	defer ds.Close()
//
//	cur, err := ds.Cursor(scan.Options{})
//	if err != nil {
//	    return err
//	}
//	if err := cur.SetSpatialFilter(0, feature.Envelope{MinX: -74.3, MinY: 40.5, MaxX: -73.7, MaxY: 40.9}); err != nil {
//	    return err
//	}
//
//	for {
//	    f, err := cur.Next(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    _ = f // one feature per row
//	}
//
// # Key Packages
//
//	pkg/feature   - Field and geometry definitions, features, envelopes
//	pkg/schema    - Arrow schema to feature definition mapping
//	pkg/geoarrow  - Geometry column decoders for the GeoArrow encodings
//	pkg/scan      - Pull cursor with attribute and spatial filtering
//	pkg/expr      - Attribute filter expression tree and evaluation
//	pkg/export    - Record batch export with pass-through and rebuild paths
//	pkg/dataset   - Dataset opening across local file, S3, and GCS sources
//	pkg/sink      - Arrow IPC, Parquet, Avro, and GeoJSON writers
//	pkg/config    - Layered configuration (defaults, YAML file, environment)
//	pkg/errors    - Structured error handling
//	pkg/logger    - Structured logging
//
// # Command Line
//
// The tessera binary wraps the library for inspection and conversion:
//
//	tessera info s3://bucket/roads.arrow --count --extent
//	tessera scan roads.arrow --where "lanes >= 2" --bbox -74.3,40.5,-73.7,40.9
//	tessera convert roads.arrow roads.parquet --parquet-compression zstd
//
// # Configuration
//
// Configuration merges three layers, later layers winning: built-in
// defaults, an optional tessera.yaml, and TESSERA_* environment variables.
// File values support ${VAR_NAME} substitution.
package tessera
