package geoarrow

import (
	"encoding/binary"
	"math"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/feature"
)

// WKBEnvelope computes the 2D bounding box of a well-known-binary geometry
// by walking the byte stream, without materializing a geometry value. Empty
// geometries (including NaN-coded empty points) yield an uninitialized
// envelope.
func WKBEnvelope(data []byte) (feature.Envelope, error) {
	env := feature.NewEnvelope()
	r := wkbScanner{data: data}
	if err := r.scanGeometry(&env, 0); err != nil {
		return feature.NewEnvelope(), err
	}
	return env, nil
}

type wkbScanner struct {
	data []byte
	pos  int
}

func (r *wkbScanner) remaining() int { return len(r.data) - r.pos }

func (r *wkbScanner) scanGeometry(env *feature.Envelope, depth int) error {
	if depth > maxShapeDepth {
		return errors.New(errors.ErrorTypeGeometry, "wkb nesting exceeds maximum depth")
	}
	if r.remaining() < 5 {
		return errors.New(errors.ErrorTypeGeometry, "truncated wkb header")
	}
	var order binary.ByteOrder
	switch r.data[r.pos] {
	case 0:
		order = binary.BigEndian
	case 1:
		order = binary.LittleEndian
	default:
		return errors.Newf(errors.ErrorTypeGeometry, "invalid wkb byte order marker %d", r.data[r.pos])
	}
	r.pos++
	code := order.Uint32(r.data[r.pos:])
	r.pos += 4

	hasZ := code&ewkbZ != 0
	hasM := code&ewkbM != 0
	hasSRID := code&ewkbSRID != 0
	code &^= ewkbZ | ewkbM | ewkbSRID
	gt := feature.GeomType(code)
	hasZ = hasZ || gt.HasZ()
	hasM = hasM || gt.HasM()
	if hasSRID {
		if r.remaining() < 4 {
			return errors.New(errors.ErrorTypeGeometry, "truncated wkb srid")
		}
		r.pos += 4
	}
	dim := 2
	if hasZ {
		dim++
	}
	if hasM {
		dim++
	}

	switch gt.Flatten() {
	case feature.GeomTypePoint:
		return r.scanPoints(env, order, dim, 1)
	case feature.GeomTypeLineString:
		n, err := r.readCount(order)
		if err != nil {
			return err
		}
		return r.scanPoints(env, order, dim, n)
	case feature.GeomTypePolygon:
		rings, err := r.readCount(order)
		if err != nil {
			return err
		}
		for i := 0; i < rings; i++ {
			n, err := r.readCount(order)
			if err != nil {
				return err
			}
			if err := r.scanPoints(env, order, dim, n); err != nil {
				return err
			}
		}
		return nil
	case feature.GeomTypeMultiPoint, feature.GeomTypeMultiLineString,
		feature.GeomTypeMultiPolygon, feature.GeomTypeGeometryCollection:
		n, err := r.readCount(order)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := r.scanGeometry(env, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Newf(errors.ErrorTypeGeometry, "unsupported wkb type code %d", code)
	}
}

func (r *wkbScanner) readCount(order binary.ByteOrder) (int, error) {
	if r.remaining() < 4 {
		return 0, errors.New(errors.ErrorTypeGeometry, "truncated wkb count")
	}
	n := order.Uint32(r.data[r.pos:])
	r.pos += 4
	// Every counted element needs at least 4 more bytes, so a count larger
	// than the remainder is malformed rather than merely big.
	if int64(n) > int64(r.remaining()) {
		return 0, errors.New(errors.ErrorTypeGeometry, "wkb count exceeds buffer")
	}
	return int(n), nil
}

func (r *wkbScanner) scanPoints(env *feature.Envelope, order binary.ByteOrder, dim, n int) error {
	need := n * dim * 8
	if r.remaining() < need {
		return errors.New(errors.ErrorTypeGeometry, "truncated wkb coordinates")
	}
	for i := 0; i < n; i++ {
		x := math.Float64frombits(order.Uint64(r.data[r.pos:]))
		y := math.Float64frombits(order.Uint64(r.data[r.pos+8:]))
		r.pos += dim * 8
		extendFinite(env, x, y)
	}
	return nil
}

// extendFinite merges a coordinate pair, ignoring NaN coded empty points.
func extendFinite(env *feature.Envelope, x, y float64) {
	if math.IsNaN(x) || math.IsNaN(y) {
		return
	}
	env.ExtendXY(x, y)
}

// RowEnvelope computes the 2D bounding box of one row without a full
// geometry decode where the encoding allows it: WKB rows are byte-walked,
// GeoArrow rows scan the coordinate runs directly (first ring per part for
// multipolygons, since hole rings of a valid polygon never extend its box),
// and WKT rows fall back to a full parse. ok is false for null or absent
// cells.
func (d *Decoder) RowEnvelope(row int) (feature.Envelope, bool, error) {
	env := feature.NewEnvelope()
	if d.arr == nil {
		return env, false, errors.New(errors.ErrorTypeInternal, "geometry decoder is not bound to a batch")
	}
	if d.arr.IsNull(row) {
		return env, false, nil
	}
	switch d.encoding {
	case feature.EncodingWKB:
		data := d.bin.Value(row)
		if len(data) == 0 {
			return env, false, nil
		}
		env, err := WKBEnvelope(data)
		return env, err == nil, err
	case feature.EncodingWKT:
		g, err := d.decodeWKT(row)
		if err != nil || g == nil {
			return env, false, err
		}
		return feature.EnvelopeOfGeom(g), true, nil
	case feature.EncodingGeoArrowPoint:
		pos := (d.fsl.Offset() + row) * d.dim
		if d.coordArr.IsNull(pos) {
			return env, false, nil
		}
		extendFinite(&env, d.coords[pos], d.coords[pos+1])
		return env, true, nil
	case feature.EncodingGeoArrowLinestring, feature.EncodingGeoArrowMultipoint:
		start, end := d.lists[0].ValueOffsets(row)
		d.scanPointRun(&env, int(start), int(end-start))
		return env, true, nil
	case feature.EncodingGeoArrowPolygon:
		ringStart, ringEnd := d.lists[0].ValueOffsets(row)
		if ringEnd > ringStart {
			ptStart, ptEnd := d.lists[1].ValueOffsets(int(ringStart))
			d.scanPointRun(&env, int(ptStart), int(ptEnd-ptStart))
		}
		return env, true, nil
	case feature.EncodingGeoArrowMultilinestring:
		partStart, partEnd := d.lists[0].ValueOffsets(row)
		for j := partStart; j < partEnd; j++ {
			ptStart, ptEnd := d.lists[1].ValueOffsets(int(j))
			d.scanPointRun(&env, int(ptStart), int(ptEnd-ptStart))
		}
		return env, true, nil
	case feature.EncodingGeoArrowMultipolygon:
		partStart, partEnd := d.lists[0].ValueOffsets(row)
		for j := partStart; j < partEnd; j++ {
			ringStart, ringEnd := d.lists[1].ValueOffsets(int(j))
			if ringEnd > ringStart {
				ptStart, ptEnd := d.lists[2].ValueOffsets(int(ringStart))
				d.scanPointRun(&env, int(ptStart), int(ptEnd-ptStart))
			}
		}
		return env, true, nil
	default:
		return env, false, errors.Newf(errors.ErrorTypeInternal, "unknown geometry encoding %d", int(d.encoding))
	}
}

func (d *Decoder) scanPointRun(env *feature.Envelope, firstPoint, n int) {
	start := (d.fsl.Offset() + firstPoint) * d.dim
	for i := 0; i < n; i++ {
		extendFinite(env, d.coords[start+i*d.dim], d.coords[start+i*d.dim+1])
	}
}
