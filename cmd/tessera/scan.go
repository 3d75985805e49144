package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tesseradata/tessera/pkg/sink"
)

func newScanCmd(a *app) *cobra.Command {
	var df datasetFlags
	var ff filterFlags
	var limit int64
	var countOnly bool

	cmd := &cobra.Command{
		Use:   "scan <dataset>",
		Short: "Stream features as a GeoJSON collection",
		Long: `Scan reads features from a dataset, applies the attribute and spatial
filters, and writes the survivors to stdout as a GeoJSON feature collection,
one feature per line.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := a.setup()
			if err != nil {
				return err
			}
			defer done()
			ctx := cmd.Context()

			ds, err := df.open(ctx, cfg, args[0])
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

			if countOnly {
				n, err := cur.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			}

			gj := sink.NewGeoJSONSink(cmd.OutOrStdout(), cur.Definition())
			if limit <= 0 {
				return gj.Drain(ctx, cur)
			}
			for gj.Rows() < limit {
				f, err := cur.Next(ctx)
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				if err := gj.WriteFeature(f); err != nil {
					return err
				}
			}
			return gj.Close()
		},
	}

	df.register(cmd)
	ff.register(cmd)
	cmd.Flags().Int64Var(&limit, "limit", 0, "stop after this many features (0 = all)")
	cmd.Flags().BoolVar(&countOnly, "count", false, "print the matching feature count instead of features")
	return cmd
}
