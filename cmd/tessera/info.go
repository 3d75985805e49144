package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tesseradata/tessera/pkg/dataset"
	"github.com/tesseradata/tessera/pkg/feature"
	jsonpool "github.com/tesseradata/tessera/pkg/json"
)

type fieldDoc struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	Nullable  bool   `json:"nullable"`
	Width     int    `json:"width,omitempty"`
	Precision int    `json:"precision,omitempty"`
	Alias     string `json:"alias,omitempty"`
	Comment   string `json:"comment,omitempty"`
	Domain    string `json:"domain,omitempty"`
	TZFlag    int    `json:"tz_flag,omitempty"`
}

type geomDoc struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Encoding string      `json:"encoding"`
	Nullable bool        `json:"nullable"`
	HasCRS   bool        `json:"has_crs"`
	Extent   *[4]float64 `json:"extent,omitempty"`
}

type domainDoc struct {
	Name    string           `json:"name"`
	Entries map[int64]string `json:"entries"`
}

type infoDoc struct {
	Name       string      `json:"name"`
	URI        string      `json:"uri"`
	FIDColumn  string      `json:"fid_column,omitempty"`
	Count      *int64      `json:"count,omitempty"`
	Fields     []fieldDoc  `json:"fields"`
	GeomFields []geomDoc   `json:"geometry_fields"`
	Domains    []domainDoc `json:"domains,omitempty"`
}

func buildInfoDoc(ds *dataset.Dataset) *infoDoc {
	defn := ds.Definition()
	doc := &infoDoc{
		Name:      ds.Name(),
		URI:       ds.URI(),
		FIDColumn: defn.FIDColumn,
	}
	for _, fd := range defn.Fields {
		f := fieldDoc{
			Name:      fd.Name,
			Type:      fd.Type.String(),
			Nullable:  fd.Nullable,
			Width:     fd.Width,
			Precision: fd.Precision,
			Alias:     fd.AlternativeName,
			Comment:   fd.Comment,
			Domain:    fd.Domain,
			TZFlag:    fd.TZFlag,
		}
		if fd.Subtype != feature.SubtypeNone {
			f.Subtype = fd.Subtype.String()
		}
		doc.Fields = append(doc.Fields, f)
	}
	for _, gd := range defn.GeomFields {
		doc.GeomFields = append(doc.GeomFields, geomDoc{
			Name:     gd.Name,
			Type:     gd.Type.String(),
			Encoding: gd.Encoding.String(),
			Nullable: gd.Nullable,
			HasCRS:   gd.CRS != "",
		})
	}
	for _, name := range defn.DomainNames() {
		dom := defn.Domain(name)
		entries := make(map[int64]string, len(dom.Entries))
		for _, e := range dom.Entries {
			entries[e.Code] = e.Value
		}
		doc.Domains = append(doc.Domains, domainDoc{Name: name, Entries: entries})
	}
	return doc
}

func printInfoDoc(w io.Writer, doc *infoDoc) {
	fmt.Fprintf(w, "Dataset: %s\n", doc.Name)
	fmt.Fprintf(w, "URI:     %s\n", doc.URI)
	if doc.FIDColumn != "" {
		fmt.Fprintf(w, "FID:     %s\n", doc.FIDColumn)
	}
	if doc.Count != nil {
		fmt.Fprintf(w, "Features: %d\n", *doc.Count)
	}

	fmt.Fprintf(w, "Fields (%d):\n", len(doc.Fields))
	for _, f := range doc.Fields {
		attrs := []string{f.Type}
		if f.Subtype != "" {
			attrs = append(attrs, "subtype="+f.Subtype)
		}
		if f.Width > 0 {
			attrs = append(attrs, fmt.Sprintf("width=%d", f.Width))
		}
		if f.Precision > 0 {
			attrs = append(attrs, fmt.Sprintf("precision=%d", f.Precision))
		}
		if !f.Nullable {
			attrs = append(attrs, "not null")
		}
		if f.Domain != "" {
			attrs = append(attrs, "domain="+f.Domain)
		}
		fmt.Fprintf(w, "  - %s: %s\n", f.Name, strings.Join(attrs, ", "))
	}

	fmt.Fprintf(w, "Geometry fields (%d):\n", len(doc.GeomFields))
	for _, g := range doc.GeomFields {
		attrs := []string{g.Type, g.Encoding}
		if g.HasCRS {
			attrs = append(attrs, "crs")
		}
		if !g.Nullable {
			attrs = append(attrs, "not null")
		}
		fmt.Fprintf(w, "  - %s: %s\n", g.Name, strings.Join(attrs, ", "))
		if g.Extent != nil {
			e := *g.Extent
			fmt.Fprintf(w, "    extent: [%g, %g, %g, %g]\n", e[0], e[1], e[2], e[3])
		}
	}

	for _, d := range doc.Domains {
		fmt.Fprintf(w, "Domain %s (%d entries)\n", d.Name, len(d.Entries))
	}
}

func newInfoCmd(a *app) *cobra.Command {
	var df datasetFlags
	var probe, count, extent, asJSON bool

	cmd := &cobra.Command{
		Use:   "info <dataset>",
		Short: "Describe a dataset's feature schema",
		Args:  cobra.ExactArgs(1),
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

			if probe {
				if err := ds.ProbeGeometryTypes(ctx); err != nil {
					return err
				}
			}

			doc := buildInfoDoc(ds)
			if count || extent {
				cur, err := ds.Cursor(scanOptions(cfg))
				if err != nil {
					return err
				}
				if count {
					n, err := cur.Count(ctx)
					if err != nil {
						return err
					}
					doc.Count = &n
				}
				if extent {
					for i := range doc.GeomFields {
						env, err := cur.Extent(ctx, i, false)
						if err != nil {
							return err
						}
						doc.GeomFields[i].Extent = &[4]float64{env.MinX, env.MinY, env.MaxX, env.MaxY}
					}
				}
			}

			if asJSON {
				return jsonpool.MarshalToWriter(cmd.OutOrStdout(), doc)
			}
			printInfoDoc(cmd.OutOrStdout(), doc)
			return nil
		},
	}

	df.register(cmd)
	cmd.Flags().BoolVar(&probe, "probe", false, "resolve unknown geometry types by reading value headers")
	cmd.Flags().BoolVar(&count, "count", false, "count features")
	cmd.Flags().BoolVar(&extent, "extent", false, "compute geometry extents")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the description as JSON")
	return cmd
}
