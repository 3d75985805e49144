package geoarrow

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/feature"
)

// binaryLike is satisfied by both offset widths of binary arrays.
type binaryLike interface {
	Value(i int) []byte
}

// stringLike is satisfied by both offset widths of string arrays.
type stringLike interface {
	Value(i int) string
}

// Decoder turns one geometry column's cells into geometry values. The
// encoding and dimensionality are fixed at construction, so the per-row path
// never re-branches on type; Bind attaches the decoder to the column's array
// of the current batch and re-validates the nested shape once per batch.
type Decoder struct {
	encoding feature.GeomEncoding
	declared feature.GeomType
	layout   geom.Layout
	stride   int
	depth    int

	arr      arrow.Array
	bin      binaryLike
	str      stringLike
	lists    [3]*array.List
	fsl      *array.FixedSizeList
	coordArr *array.Float64
	coords   []float64
	dim      int
}

// NewDecoder builds a decoder for one geometry column. The declared type
// fixes the coordinate layout; for the GeoArrow encodings it must agree with
// the dimensionality resolved by the classifier.
func NewDecoder(encoding feature.GeomEncoding, declared feature.GeomType) *Decoder {
	layout := declared.Layout()
	return &Decoder{
		encoding: encoding,
		declared: declared,
		layout:   layout,
		stride:   layout.Stride(),
		depth:    listDepth(encoding),
	}
}

func listDepth(encoding feature.GeomEncoding) int {
	switch encoding {
	case feature.EncodingGeoArrowLinestring, feature.EncodingGeoArrowMultipoint:
		return 1
	case feature.EncodingGeoArrowPolygon, feature.EncodingGeoArrowMultilinestring:
		return 2
	case feature.EncodingGeoArrowMultipolygon:
		return 3
	default:
		return 0
	}
}

// Encoding returns the encoding the decoder was built for.
func (d *Decoder) Encoding() feature.GeomEncoding { return d.encoding }

// Declared returns the declared geometry type of the column.
func (d *Decoder) Declared() feature.GeomType { return d.declared }

// Bind attaches the decoder to the column array of a newly loaded batch. A
// shape mismatch against the validated encoding is an internal consistency
// error; callers treat it as a defect and null out the column.
func (d *Decoder) Bind(a arrow.Array) error {
	d.arr = nil
	d.bin = nil
	d.str = nil
	d.lists = [3]*array.List{}
	d.fsl = nil
	d.coordArr = nil
	d.coords = nil

	switch d.encoding {
	case feature.EncodingWKB:
		switch arr := a.(type) {
		case *array.Binary:
			d.bin = arr
		case *array.LargeBinary:
			d.bin = arr
		default:
			return errors.Newf(errors.ErrorTypeInternal, "wkb geometry column bound to %s array", a.DataType())
		}
	case feature.EncodingWKT:
		switch arr := a.(type) {
		case *array.String:
			d.str = arr
		case *array.LargeString:
			d.str = arr
		default:
			return errors.Newf(errors.ErrorTypeInternal, "wkt geometry column bound to %s array", a.DataType())
		}
	default:
		if err := d.bindGeoArrow(a); err != nil {
			return err
		}
	}
	d.arr = a
	return nil
}

func (d *Decoder) bindGeoArrow(a arrow.Array) error {
	cur := a
	for l := 0; l < d.depth; l++ {
		lst, ok := cur.(*array.List)
		if !ok {
			return errors.Newf(errors.ErrorTypeInternal, "%s column: level %d is %s, expected list", d.encoding, l, cur.DataType())
		}
		d.lists[l] = lst
		cur = lst.ListValues()
	}
	fsl, ok := cur.(*array.FixedSizeList)
	if !ok {
		return errors.Newf(errors.ErrorTypeInternal, "%s column: positions are %s, expected fixed_size_list", d.encoding, cur.DataType())
	}
	dim := int(fsl.DataType().(*arrow.FixedSizeListType).Len())
	if dim != d.stride {
		return errors.Newf(errors.ErrorTypeInternal, "%s column: %s implies %d doubles per position, storage has %d", d.encoding, d.declared, d.stride, dim)
	}
	coordArr, ok := fsl.ListValues().(*array.Float64)
	if !ok {
		return errors.Newf(errors.ErrorTypeInternal, "%s column: coordinates are %s, expected float64", d.encoding, fsl.ListValues().DataType())
	}
	d.fsl = fsl
	d.dim = dim
	d.coordArr = coordArr
	d.coords = coordArr.Float64Values()
	return nil
}

// Decode produces the geometry value of one row, or nil for a null cell.
// Malformed well-known bytes/text return a Geometry error; the caller
// decides whether that nulls the row or aborts.
func (d *Decoder) Decode(row int) (geom.T, error) {
	if d.arr == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "geometry decoder is not bound to a batch")
	}
	if d.arr.IsNull(row) {
		return nil, nil
	}
	switch d.encoding {
	case feature.EncodingWKB:
		return d.decodeWKB(row)
	case feature.EncodingWKT:
		return d.decodeWKT(row)
	case feature.EncodingGeoArrowPoint:
		return d.decodePoint(row)
	case feature.EncodingGeoArrowLinestring:
		return d.decodeLineString(row)
	case feature.EncodingGeoArrowPolygon:
		return d.decodePolygon(row)
	case feature.EncodingGeoArrowMultipoint:
		return d.decodeMultiPoint(row)
	case feature.EncodingGeoArrowMultilinestring:
		return d.decodeMultiLineString(row)
	case feature.EncodingGeoArrowMultipolygon:
		return d.decodeMultiPolygon(row)
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal, "unknown geometry encoding %d", int(d.encoding))
	}
}

func (d *Decoder) decodeWKB(row int) (geom.T, error) {
	data := d.bin.Value(row)
	if len(data) == 0 {
		return nil, nil
	}
	g, err := wkb.Unmarshal(data)
	if err != nil {
		// Retry as extended WKB, which carries dimensionality flags in the
		// high bits and an optional SRID.
		if g2, err2 := ewkb.Unmarshal(data); err2 == nil {
			return g2, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeGeometry, "malformed wkb geometry")
	}
	return g, nil
}

func (d *Decoder) decodeWKT(row int) (geom.T, error) {
	s := d.str.Value(row)
	if s == "" {
		return nil, nil
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeGeometry, "malformed wkt geometry")
	}
	return g, nil
}

func (d *Decoder) decodePoint(row int) (geom.T, error) {
	pos := (d.fsl.Offset() + row) * d.dim
	if d.coordArr.IsNull(pos) {
		return nil, nil
	}
	flat := make([]float64, d.stride)
	copy(flat, d.coords[pos:pos+d.dim])
	return geom.NewPointFlat(d.layout, flat), nil
}

func (d *Decoder) decodeLineString(row int) (geom.T, error) {
	start, end := d.lists[0].ValueOffsets(row)
	return geom.NewLineStringFlat(d.layout, d.copyPoints(int(start), int(end-start))), nil
}

func (d *Decoder) decodePolygon(row int) (geom.T, error) {
	ringStart, ringEnd := d.lists[0].ValueOffsets(row)
	flat, ends := d.copyRings(int(ringStart), int(ringEnd))
	return geom.NewPolygonFlat(d.layout, flat, ends), nil
}

func (d *Decoder) decodeMultiPoint(row int) (geom.T, error) {
	start, end := d.lists[0].ValueOffsets(row)
	return geom.NewMultiPointFlat(d.layout, d.copyPoints(int(start), int(end-start))), nil
}

func (d *Decoder) decodeMultiLineString(row int) (geom.T, error) {
	partStart, partEnd := d.lists[0].ValueOffsets(row)
	flat, ends := d.copyRings(int(partStart), int(partEnd))
	return geom.NewMultiLineStringFlat(d.layout, flat, ends), nil
}

func (d *Decoder) decodeMultiPolygon(row int) (geom.T, error) {
	partStart, partEnd := d.lists[0].ValueOffsets(row)
	var flat []float64
	endss := make([][]int, 0, partEnd-partStart)
	for j := partStart; j < partEnd; j++ {
		ringStart, ringEnd := d.lists[1].ValueOffsets(int(j))
		var ends []int
		for k := ringStart; k < ringEnd; k++ {
			ptStart, ptEnd := d.lists[2].ValueOffsets(int(k))
			if n := int(ptEnd - ptStart); n > 0 {
				flat = append(flat, d.copyPoints(int(ptStart), n)...)
			}
			ends = append(ends, len(flat))
		}
		endss = append(endss, ends)
	}
	return geom.NewMultiPolygonFlat(d.layout, flat, endss), nil
}

// copyRings copies a run of rings (or linestring parts), returning the flat
// coordinates and the per-ring end offsets. Empty rings contribute an end
// equal to the previous one.
func (d *Decoder) copyRings(ringStart, ringEnd int) ([]float64, []int) {
	var flat []float64
	var ends []int
	for k := ringStart; k < ringEnd; k++ {
		ptStart, ptEnd := d.lists[d.depth-1].ValueOffsets(k)
		if n := int(ptEnd - ptStart); n > 0 {
			flat = append(flat, d.copyPoints(int(ptStart), n)...)
		}
		ends = append(ends, len(flat))
	}
	return flat, ends
}

// copyPoints copies n positions starting at the given leaf position index
// into freshly allocated flat coordinates at the declared layout.
func (d *Decoder) copyPoints(firstPoint, n int) []float64 {
	if n <= 0 {
		return nil
	}
	start := (d.fsl.Offset() + firstPoint) * d.dim
	dst := make([]float64, n*d.stride)
	copyPointBlock(dst, d.coords[start:start+n*d.dim], n, d.dim, d.stride)
	return dst
}

// copyPointBlock copies n positions of srcDim doubles into a destination of
// dstStride doubles per position. When the strides agree the whole block is
// layout-compatible and copied in one shot; otherwise it falls back to the
// element-wise path, zero-filling slots the source does not carry.
func copyPointBlock(dst, src []float64, n, srcDim, dstStride int) {
	if srcDim == dstStride {
		copy(dst, src)
		return
	}
	w := srcDim
	if dstStride < w {
		w = dstStride
	}
	for i := 0; i < n; i++ {
		copy(dst[i*dstStride:i*dstStride+w], src[i*srcDim:i*srcDim+w])
	}
}

// NormalizeDeclared reconciles a decoded geometry with the column's declared
// type: a LineString is promoted to MultiLineString (and a Polygon to
// MultiPolygon) when the declared type is the multi form, and a geometry
// without Z is promoted to the declared Z layout. The Z promotion fills the
// new physical slot with 0 but fabricates no measurement; it mirrors the
// source convention of flagging 2D data as 3D without synthesizing values.
func NormalizeDeclared(g geom.T, declared feature.GeomType) geom.T {
	if g == nil || declared == feature.GeomTypeUnknown {
		return g
	}
	switch declared.Flatten() {
	case feature.GeomTypeMultiLineString:
		if ls, ok := g.(*geom.LineString); ok {
			g = geom.NewMultiLineStringFlat(ls.Layout(), ls.FlatCoords(), ringEnds(ls.FlatCoords()))
		}
	case feature.GeomTypeMultiPolygon:
		if p, ok := g.(*geom.Polygon); ok {
			g = geom.NewMultiPolygonFlat(p.Layout(), p.FlatCoords(), [][]int{p.Ends()})
		}
	}
	if declared.HasZ() && !feature.GeomTypeOf(g).HasZ() {
		g = promoteLayout(g, declared.Layout())
	}
	return g
}

func ringEnds(flat []float64) []int {
	if len(flat) == 0 {
		return nil
	}
	return []int{len(flat)}
}

// promoteLayout rebuilds a geometry at a wider coordinate layout, keeping
// X/Y (and M where both layouts carry it) and zero-filling new slots.
func promoteLayout(g geom.T, dst geom.Layout) geom.T {
	src := g.Layout()
	if src == dst {
		return g
	}
	switch t := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(dst, remapFlat(t.FlatCoords(), src, dst))
	case *geom.LineString:
		return geom.NewLineStringFlat(dst, remapFlat(t.FlatCoords(), src, dst))
	case *geom.Polygon:
		return geom.NewPolygonFlat(dst, remapFlat(t.FlatCoords(), src, dst), scaleEnds(t.Ends(), src.Stride(), dst.Stride()))
	case *geom.MultiPoint:
		return geom.NewMultiPointFlat(dst, remapFlat(t.FlatCoords(), src, dst))
	case *geom.MultiLineString:
		return geom.NewMultiLineStringFlat(dst, remapFlat(t.FlatCoords(), src, dst), scaleEnds(t.Ends(), src.Stride(), dst.Stride()))
	case *geom.MultiPolygon:
		endss := t.Endss()
		scaled := make([][]int, len(endss))
		for i, ends := range endss {
			scaled[i] = scaleEnds(ends, src.Stride(), dst.Stride())
		}
		return geom.NewMultiPolygonFlat(dst, remapFlat(t.FlatCoords(), src, dst), scaled)
	case *geom.GeometryCollection:
		gc := geom.NewGeometryCollection()
		for _, child := range t.Geoms() {
			gc.MustPush(promoteLayout(child, dst))
		}
		return gc
	default:
		return g
	}
}

func remapFlat(flat []float64, src, dst geom.Layout) []float64 {
	ss, ds := src.Stride(), dst.Stride()
	n := len(flat) / ss
	out := make([]float64, n*ds)
	for i := 0; i < n; i++ {
		out[i*ds] = flat[i*ss]
		out[i*ds+1] = flat[i*ss+1]
		if dz, sz := dst.ZIndex(), src.ZIndex(); dz >= 0 && sz >= 0 {
			out[i*ds+dz] = flat[i*ss+sz]
		}
		if dm, sm := dst.MIndex(), src.MIndex(); dm >= 0 && sm >= 0 {
			out[i*ds+dm] = flat[i*ss+sm]
		}
	}
	return out
}

func scaleEnds(ends []int, srcStride, dstStride int) []int {
	if ends == nil {
		return nil
	}
	out := make([]int, len(ends))
	for i, e := range ends {
		out[i] = e / srcStride * dstStride
	}
	return out
}
