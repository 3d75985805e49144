package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tesseradata/tessera/pkg/config"
	"github.com/tesseradata/tessera/pkg/dataset"
	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/expr"
	"github.com/tesseradata/tessera/pkg/feature"
	"github.com/tesseradata/tessera/pkg/scan"
)

// datasetFlags are the flags shared by every command that opens a dataset.
type datasetFlags struct {
	name        string
	fidColumn   string
	noOverrides bool
	credentials string
}

func (df *datasetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&df.name, "name", "", "dataset name override")
	cmd.Flags().StringVar(&df.fidColumn, "fid-column", "", "column holding feature identifiers")
	cmd.Flags().BoolVar(&df.noOverrides, "no-overrides", false, "ignore the tessera:schema metadata document")
	cmd.Flags().StringVar(&df.credentials, "credentials", "", "service account key file for gs:// datasets")
}

func (df *datasetFlags) open(ctx context.Context, cfg *config.Config, uri string) (*dataset.Dataset, error) {
	opts := dataset.Options{
		Name:             df.name,
		FIDColumn:        df.fidColumn,
		DisableOverrides: df.noOverrides || !cfg.Schema.Overrides,
		CredentialsFile:  df.credentials,
	}
	if opts.CredentialsFile == "" {
		opts.CredentialsFile = cfg.Remote.CredentialsFile
	}
	return dataset.Open(ctx, uri, opts)
}

// filterFlags are the flags shared by the scan and convert commands.
type filterFlags struct {
	where     []string
	bbox      string
	geomField string
	ignore    []string
}

func (ff *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&ff.where, "where", nil,
		`attribute filter "field op value" (repeatable, clauses are ANDed)`)
	cmd.Flags().StringVar(&ff.bbox, "bbox", "", "spatial filter minx,miny,maxx,maxy")
	cmd.Flags().StringVar(&ff.geomField, "geom-field", "", "geometry field the bbox filters (default: first)")
	cmd.Flags().StringSliceVar(&ff.ignore, "ignore", nil, "fields to leave out of results")
}

func (ff *filterFlags) apply(cur *scan.Cursor) error {
	if len(ff.ignore) > 0 {
		if err := cur.SetIgnoredFields(ff.ignore); err != nil {
			return err
		}
	}
	if len(ff.where) > 0 {
		node, err := parseWhere(ff.where)
		if err != nil {
			return err
		}
		if err := cur.SetAttributeFilter(node); err != nil {
			return err
		}
	}
	if ff.bbox != "" {
		env, err := parseBBox(ff.bbox)
		if err != nil {
			return err
		}
		idx := 0
		if ff.geomField != "" {
			idx = cur.Definition().GeomFieldIndex(ff.geomField)
			if idx < 0 {
				return errors.Newf(errors.ErrorTypeFilter, "no geometry field named %q", ff.geomField)
			}
		}
		if err := cur.SetSpatialFilter(idx, env); err != nil {
			return err
		}
	}
	return nil
}

// parseWhere builds the conjunction of simple clauses. This is flag syntax,
// not a query language; each clause is "field op value", "field IS NULL",
// or "field IS NOT NULL".
func parseWhere(clauses []string) (expr.Node, error) {
	nodes := make([]expr.Node, 0, len(clauses))
	for _, clause := range clauses {
		n, err := parseClause(clause)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return expr.And(nodes...), nil
}

func parseClause(clause string) (expr.Node, error) {
	parts := strings.SplitN(strings.TrimSpace(clause), " ", 3)
	if len(parts) == 3 && strings.EqualFold(parts[1], "is") {
		col := expr.Col(parts[0])
		switch strings.ToLower(strings.Join(strings.Fields(parts[2]), " ")) {
		case "null":
			return &expr.IsNull{Child: col}, nil
		case "not null":
			return &expr.Not{Child: &expr.IsNull{Child: col}}, nil
		}
		return nil, errors.Newf(errors.ErrorTypeFilter, "cannot parse filter %q", clause)
	}
	if len(parts) != 3 {
		return nil, errors.Newf(errors.ErrorTypeFilter,
			`cannot parse filter %q, want "field op value"`, clause)
	}

	col, val := expr.Col(parts[0]), expr.Lit(parseValue(parts[2]))
	switch parts[1] {
	case "=", "==":
		return expr.Eq(col, val), nil
	case "!=", "<>":
		return expr.Ne(col, val), nil
	case "<":
		return expr.Lt(col, val), nil
	case "<=":
		return expr.Le(col, val), nil
	case ">":
		return expr.Gt(col, val), nil
	case ">=":
		return expr.Ge(col, val), nil
	}
	return nil, errors.Newf(errors.ErrorTypeFilter, "unknown operator %q in filter %q", parts[1], clause)
}

// parseValue picks the most specific literal type the text allows. Quoted
// text always stays a string.
func parseValue(s string) any {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return s
}

func parseBBox(s string) (feature.Envelope, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return feature.Envelope{}, errors.Newf(errors.ErrorTypeFilter,
			"bbox %q needs four comma-separated numbers", s)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return feature.Envelope{}, errors.Newf(errors.ErrorTypeFilter,
				"bbox coordinate %q is not a number", p)
		}
		vals[i] = v
	}
	env := feature.Envelope{MinX: vals[0], MinY: vals[1], MaxX: vals[2], MaxY: vals[3]}
	if env.MinX > env.MaxX || env.MinY > env.MaxY {
		return feature.Envelope{}, errors.Newf(errors.ErrorTypeFilter, "bbox %q has min above max", s)
	}
	return env, nil
}
