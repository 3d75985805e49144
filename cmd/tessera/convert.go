package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tesseradata/tessera/pkg/compression"
	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/export"
	"github.com/tesseradata/tessera/pkg/logger"
	"github.com/tesseradata/tessera/pkg/sink"
)

func newConvertCmd(a *app) *cobra.Command {
	var df datasetFlags
	var ff filterFlags
	var to, geomEnc, metaEnc, avroCompression, parquetCompression string
	var forceNaive bool
	var batchRows, avroBlockRows int

	cmd := &cobra.Command{
		Use:   "convert <dataset> <output>",
		Short: "Convert a dataset to avro, geojson, ipc, ipc-stream, or parquet",
		Long: `Convert reads a dataset, applies the attribute and spatial filters, and
writes the result in the format named by --to or detected from the output
extension. A .gz/.zst/.lz4/.s2 suffix compresses the output; the seekable
ipc file format cannot be compressed on the fly, use ipc-stream instead.
An output of "-" writes to stdout.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := a.setup()
			if err != nil {
				return err
			}
			defer done()
			ctx := cmd.Context()
			src, dst := args[0], args[1]

			format, err := resolveFormat(to, dst)
			if err != nil {
				return err
			}

			ds, err := df.open(ctx, cfg, src)
			if err != nil {
				return err
			}
			defer ds.Close()

			cur, err := ds.Cursor(scanOptions(cfg))
			if err != nil {
				return err
			}
			if err := ff.apply(cur); err != nil {
				return err
			}

			out, closeOut, err := openOutput(cmd, dst)
			if err != nil {
				return err
			}

			newExporter := func() (*export.Exporter, error) {
				gopt, err := export.ParseGeometryEncoding(pick(geomEnc, cfg.Export.GeometryEncoding))
				if err != nil {
					return nil, err
				}
				mopt, err := export.ParseMetadataEncoding(pick(metaEnc, cfg.Export.MetadataEncoding))
				if err != nil {
					return nil, err
				}
				return export.NewExporter(cur, export.Options{
					GeometryEncoding: gopt,
					MetadataEncoding: mopt,
					ForceNaive:       forceNaive || cfg.Export.ForceNaive,
					BatchRows:        pickInt(batchRows, cfg.Export.BatchRows),
				}), nil
			}

			start := time.Now()
			var rows int64
			switch format {
			case sink.FormatIPC, sink.FormatIPCStream:
				exp, err := newExporter()
				if err != nil {
					return err
				}
				defer exp.Close()
				s, err := sink.NewIPCSink(out, exp.Schema(), ds.Name(),
					sink.IPCOptions{Stream: format == sink.FormatIPCStream})
				if err != nil {
					return err
				}
				if err := s.Drain(ctx, exp); err != nil {
					return err
				}
				rows = s.Rows()
			case sink.FormatParquet:
				exp, err := newExporter()
				if err != nil {
					return err
				}
				defer exp.Close()
				s, err := sink.NewParquetSink(out, exp.Schema(), ds.Name(),
					sink.ParquetOptions{Compression: parquetCompression})
				if err != nil {
					return err
				}
				if err := s.Drain(ctx, exp); err != nil {
					return err
				}
				rows = s.Rows()
			case sink.FormatAvro:
				s, err := sink.NewAvroSink(out, cur.Definition(), sink.AvroOptions{
					Compression: avroCompression,
					BlockRows:   avroBlockRows,
				})
				if err != nil {
					return err
				}
				if err := s.Drain(ctx, cur); err != nil {
					return err
				}
				rows = s.Rows()
			case sink.FormatGeoJSON:
				s := sink.NewGeoJSONSink(out, cur.Definition())
				if err := s.Drain(ctx, cur); err != nil {
					return err
				}
				rows = s.Rows()
			}
			if err := closeOut(); err != nil {
				return err
			}

			logger.Get().Info("conversion completed",
				zap.String("dataset", ds.Name()),
				zap.String("output", dst),
				zap.String("format", string(format)),
				zap.Int64("rows", rows),
				zap.Duration("duration", time.Since(start)))
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d features to %s (%s)\n", rows, dst, format)
			return nil
		},
	}

	df.register(cmd)
	ff.register(cmd)
	cmd.Flags().StringVar(&to, "to", "", "output format: avro, geojson, ipc, ipc-stream, parquet (default: from extension)")
	cmd.Flags().StringVar(&geomEnc, "geometry-encoding", "", "columnar geometry encoding: wkb or source")
	cmd.Flags().StringVar(&metaEnc, "metadata-encoding", "", "columnar extension tag convention: ogc or geoarrow")
	cmd.Flags().BoolVar(&forceNaive, "force-naive", false, "rebuild every columnar batch through a record builder")
	cmd.Flags().IntVar(&batchRows, "batch-rows", 0, "row cap for rebuilt columnar batches (0 = default)")
	cmd.Flags().StringVar(&avroCompression, "avro-compression", "", "avro block compression: null, deflate, snappy")
	cmd.Flags().IntVar(&avroBlockRows, "avro-block-rows", 0, "rows per avro block (0 = default)")
	cmd.Flags().StringVar(&parquetCompression, "parquet-compression", "", "parquet column codec: snappy, zstd, gzip, brotli, lz4, none")
	return cmd
}

func resolveFormat(to, dst string) (sink.Format, error) {
	if to != "" {
		return sink.ParseFormat(to)
	}
	if dst == "-" {
		return "", errors.New(errors.ErrorTypeConfig, `writing to "-" requires --to`)
	}
	return sink.DetectFormat(dst)
}

// openOutput opens the destination, wrapping it in a compressing writer when
// the path carries a compression extension. The returned close function
// flushes and closes everything opened here.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeIO, "creating output file")
	}
	alg, _ := compression.Detect(path)
	if alg == compression.None {
		return f, f.Close, nil
	}
	cw, err := compression.NewWriter(f, alg, compression.Default)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	closer := func() error {
		if err := cw.Close(); err != nil {
			f.Close()
			return errors.Wrap(err, errors.ErrorTypeIO, "flushing compressed output")
		}
		return f.Close()
	}
	return cw, closer, nil
}

func pick(flag, configured string) string {
	if flag != "" {
		return flag
	}
	return configured
}

func pickInt(flag, configured int) int {
	if flag > 0 {
		return flag
	}
	return configured
}
