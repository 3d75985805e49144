// Package sink writes scan results out: features go to row-oriented
// formats (Avro object container files, GeoJSON feature collections),
// exported batches go back to columnar payloads (Arrow IPC, Parquet).
// Every sink drains one cursor or exporter into one output stream and
// reports rows and bytes through the export metrics.
package sink

import (
	"io"
	"strings"

	"github.com/tesseradata/tessera/pkg/compression"
	"github.com/tesseradata/tessera/pkg/errors"
)

// Format names an output format.
type Format string

const (
	// FormatAvro is the Avro object container file format.
	FormatAvro Format = "avro"
	// FormatGeoJSON is an RFC 7946 feature collection.
	FormatGeoJSON Format = "geojson"
	// FormatIPC is the random-access columnar file format.
	FormatIPC Format = "ipc"
	// FormatIPCStream is the columnar stream format.
	FormatIPCStream Format = "ipc-stream"
	// FormatParquet is the Parquet columnar file format.
	FormatParquet Format = "parquet"
)

// ParseFormat resolves a format name.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "avro":
		return FormatAvro, nil
	case "geojson", "json":
		return FormatGeoJSON, nil
	case "ipc", "arrow":
		return FormatIPC, nil
	case "ipc-stream", "arrows":
		return FormatIPCStream, nil
	case "parquet":
		return FormatParquet, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "unknown sink format %q", name)
	}
}

// DetectFormat picks a format from the output path extension, looking
// through a trailing compression suffix.
func DetectFormat(path string) (Format, error) {
	_, base := compression.Detect(path)
	base = strings.ToLower(base)
	switch {
	case strings.HasSuffix(base, ".avro"):
		return FormatAvro, nil
	case strings.HasSuffix(base, ".geojson"), strings.HasSuffix(base, ".json"):
		return FormatGeoJSON, nil
	case strings.HasSuffix(base, ".arrows"):
		return FormatIPCStream, nil
	case strings.HasSuffix(base, ".arrow"), strings.HasSuffix(base, ".feather"):
		return FormatIPC, nil
	case strings.HasSuffix(base, ".parquet"):
		return FormatParquet, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "no sink format matches %q", path)
	}
}

// countingWriter tracks bytes written for the export metrics.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
