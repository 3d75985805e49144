package scan

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/feature"
	"github.com/tesseradata/tessera/pkg/geoarrow"
)

// Extent computes the 2D bounds of one geometry field over the whole
// dataset, independent of any active filters. Results are cached per field.
// A bounding box carried by the dataset-level geo metadata wins over any
// scan; otherwise the batches are walked with the cheapest available path.
// Text-encoded geometry columns require force, since computing their bounds
// means parsing every value. Extent rewinds the cursor.
func (cur *Cursor) Extent(ctx context.Context, geomField int, force bool) (feature.Envelope, error) {
	if geomField < 0 || geomField >= len(cur.defn.GeomFields) {
		return feature.Envelope{}, errors.Newf(errors.ErrorTypeFilter, "geometry field %d out of range", geomField)
	}
	if env, ok := cur.extents[geomField]; ok {
		return env, cur.Rewind()
	}
	g := cur.defn.GeomFields[geomField]

	if cur.mapping.GeoMeta != nil {
		if gc := cur.mapping.GeoMeta.Column(g.Name); gc != nil {
			if env, ok := gc.Envelope(); ok {
				cur.cacheExtent(geomField, env)
				return env, cur.Rewind()
			}
		}
	}

	if g.Encoding == feature.EncodingWKT && !force {
		return feature.Envelope{}, errors.New(errors.ErrorTypeCapability,
			"extent of a text-encoded geometry column requires a forced full scan")
	}

	env, err := cur.scanExtent(ctx, g)
	if err != nil {
		return feature.Envelope{}, err
	}
	cur.cacheExtent(geomField, env)
	return env, nil
}

func (cur *Cursor) cacheExtent(geomField int, env feature.Envelope) {
	if cur.extents == nil {
		cur.extents = make(map[int]feature.Envelope)
	}
	cur.extents[geomField] = env
}

// scanExtent walks every batch accumulating row envelopes. Rows covered by
// the bounding box columns never touch the geometry column; the rest go
// through the encoding-specific envelope scan, which avoids materializing
// geometry values for every encoding but well-known text.
func (cur *Cursor) scanExtent(ctx context.Context, g *feature.GeomFieldDefn) (feature.Envelope, error) {
	if err := cur.Rewind(); err != nil {
		return feature.Envelope{}, err
	}
	// A private decoder: the shared one is bound to the reading position.
	dec := geoarrow.NewDecoder(g.Encoding, g.Type)
	env := feature.NewEnvelope()
	for {
		rec, err := cur.src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return feature.Envelope{}, err
		}
		err = cur.extendFromBatch(&env, rec, g, dec)
		rec.Release()
		if err != nil {
			return feature.Envelope{}, err
		}
	}
	return env, cur.Rewind()
}

func (cur *Cursor) extendFromBatch(env *feature.Envelope, rec arrow.Record, g *feature.GeomFieldDefn, dec *geoarrow.Decoder) error {
	var bbox bboxColumns
	haveBBox := false
	if cur.useBBox && g.BBoxPaths != nil {
		bbox, haveBBox = bindBBoxColumns(rec, g.BBoxPaths)
	}

	col, err := bindColumn(rec, g.Path)
	if err != nil {
		return err
	}
	haveGeom := dec.Bind(col.leaf) == nil

	for row := 0; row < int(rec.NumRows()); row++ {
		if haveBBox {
			if e, ok := bbox.rowEnvelope(row); ok {
				env.Merge(e)
				continue
			}
		}
		if !haveGeom {
			continue
		}
		e, ok, err := dec.RowEnvelope(row)
		if err != nil {
			continue // unreadable rows do not poison the extent
		}
		if ok {
			env.Merge(e)
		}
	}
	return nil
}
