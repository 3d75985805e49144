package dataset

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tesseradata/tessera/pkg/feature"
	"github.com/tesseradata/tessera/pkg/geoarrow"
	"github.com/tesseradata/tessera/pkg/observability"
)

// ProbeGeometryTypes resolves geometry fields declared with an unknown type
// by reading value headers across the whole dataset. Binary columns are
// probed through their WKB header, text columns through their leading WKT
// keyword, neither decodes coordinates. A field whose values mix
// irreconcilable types stays unknown and stops being probed. The batch
// source is rewound afterwards.
func (d *Dataset) ProbeGeometryTypes(ctx context.Context) error {
	var pending []int
	for i, g := range d.mapping.Defn.GeomFields {
		if g.Type != feature.GeomTypeUnknown {
			continue
		}
		if g.Encoding == feature.EncodingWKB || g.Encoding == feature.EncodingWKT {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "dataset.probe_geometry_types",
		attribute.String("dataset.name", d.name),
		attribute.Int("probe.fields", len(pending)))
	defer span.End()

	if err := d.src.Reset(); err != nil {
		return err
	}
	acc := make(map[int]feature.GeomType, len(pending))
	for len(pending) > 0 {
		rec, err := d.src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			observability.RecordError(span, err)
			return err
		}
		pending = probeBatch(rec, d.mapping.Defn, pending, acc)
		rec.Release()
	}

	for idx, gt := range acc {
		if gt == feature.GeomTypeUnknown {
			continue
		}
		g := d.mapping.Defn.GeomFields[idx]
		g.Type = gt
		d.lg.Debug("geometry type resolved from data",
			zap.String("field", g.Name), zap.Stringer("type", gt))
	}
	return d.src.Reset()
}

// probeBatch folds one batch's value headers into the accumulated types and
// returns the fields still worth probing. Fields that hit an unprobeable
// value or an irreconcilable mix are settled as unknown.
func probeBatch(rec arrow.Record, defn *feature.Definition, pending []int, acc map[int]feature.GeomType) []int {
	kept := pending[:0]
	for _, idx := range pending {
		g := defn.GeomFields[idx]
		col := columnAt(rec, g.Path)
		if col == nil {
			acc[idx] = feature.GeomTypeUnknown
			continue
		}
		cur := acc[idx]
		ok := true
		for row := 0; row < col.Len() && ok; row++ {
			if col.IsNull(row) {
				continue
			}
			var gt feature.GeomType
			switch arr := col.(type) {
			case *array.Binary:
				gt, ok = geoarrow.ProbeWKBType(arr.Value(row))
			case *array.LargeBinary:
				gt, ok = geoarrow.ProbeWKBType(arr.Value(row))
			case *array.String:
				gt, ok = geoarrow.ProbeWKTType(arr.Value(row))
			case *array.LargeString:
				gt, ok = geoarrow.ProbeWKTType(arr.Value(row))
			default:
				ok = false
			}
			if ok {
				cur, ok = geoarrow.MergeGeomTypes(cur, gt)
			}
		}
		if !ok {
			acc[idx] = feature.GeomTypeUnknown
			continue
		}
		acc[idx] = cur
		kept = append(kept, idx)
	}
	return kept
}

// columnAt walks a column path through struct children, returning nil when
// the path does not resolve.
func columnAt(rec arrow.Record, path []int) arrow.Array {
	if len(path) == 0 || path[0] < 0 || path[0] >= int(rec.NumCols()) {
		return nil
	}
	col := rec.Column(path[0])
	for _, idx := range path[1:] {
		st, ok := col.(*array.Struct)
		if !ok || idx < 0 || idx >= st.NumField() {
			return nil
		}
		col = st.Field(idx)
	}
	return col
}
