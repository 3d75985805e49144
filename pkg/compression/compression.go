// Package compression wraps dataset readers and writers in transparent
// stream compression. Algorithms are detected from file extensions, so a
// dataset path like roads.arrows.zst opens as an Arrow stream behind a
// zstandard decoder.
package compression

import (
	"compress/gzip"
	"io"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/tesseradata/tessera/pkg/errors"
)

// Algorithm is a stream compression algorithm.
type Algorithm string

const (
	// None passes data through unchanged.
	None Algorithm = "none"
	// Gzip is the ubiquitous DEFLATE container.
	Gzip Algorithm = "gzip"
	// Zstd favors compression ratio at good speed.
	Zstd Algorithm = "zstd"
	// LZ4 favors speed over ratio.
	LZ4 Algorithm = "lz4"
	// S2 is the snappy-compatible high-throughput format.
	S2 Algorithm = "s2"
)

// Level trades compression speed against ratio for the algorithms that
// support levels.
type Level int

const (
	// Fastest prioritizes throughput.
	Fastest Level = 1
	// Default balances speed and ratio.
	Default Level = 5
	// Best maximizes the ratio.
	Best Level = 9
)

// extensions maps path suffixes to algorithms.
var extensions = map[string]Algorithm{
	".gz":   Gzip,
	".gzip": Gzip,
	".zst":  Zstd,
	".zstd": Zstd,
	".lz4":  LZ4,
	".s2":   S2,
}

// Detect splits a compression extension off the path. It returns the
// detected algorithm and the path without that extension, so the caller can
// go on to interpret the inner format.
func Detect(path string) (Algorithm, string) {
	lower := strings.ToLower(path)
	for ext, alg := range extensions {
		if strings.HasSuffix(lower, ext) {
			return alg, path[:len(path)-len(ext)]
		}
	}
	return None, path
}

// Parse resolves an algorithm name as used in configuration and CLI flags.
func Parse(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(name)) {
	case "", None:
		return None, nil
	case Gzip:
		return Gzip, nil
	case Zstd:
		return Zstd, nil
	case LZ4:
		return LZ4, nil
	case S2:
		return S2, nil
	}
	return None, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm %q", name)
}

// NewReader wraps r in a decompressor for the algorithm. Closing the
// returned reader releases decoder state only; the underlying reader stays
// open and is owned by the caller.
func NewReader(r io.Reader, alg Algorithm) (io.ReadCloser, error) {
	switch alg {
	case None:
		return io.NopCloser(r), nil
	case Gzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "opening gzip stream")
		}
		return gr, nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "opening zstd stream")
		}
		return dec.IOReadCloser(), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm %q", alg)
}

// NewWriter wraps w in a compressor for the algorithm. The returned writer
// must be closed to flush trailing blocks; the underlying writer stays open.
func NewWriter(w io.Writer, alg Algorithm, level Level) (io.WriteCloser, error) {
	switch alg {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		gw, err := gzip.NewWriterLevel(w, gzipLevel(level))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "opening gzip writer")
		}
		return gw, nil
	case Zstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel(level)))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "opening zstd writer")
		}
		return zw, nil
	case LZ4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(lz4Level(level))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeIO, "configuring lz4 writer")
		}
		return lw, nil
	case S2:
		return s2.NewWriter(w), nil
	}
	return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm %q", alg)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func gzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func zstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func lz4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}
