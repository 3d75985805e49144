package feature

import (
	"fmt"
	"math"
	"strings"

	"github.com/twpayne/go-geom"
)

// GeomType identifies a geometry type with its dimensionality, using the ISO
// SQL/MM numeric convention also used by well-known binary: the base type in
// the low digits, +1000 for Z, +2000 for M, +3000 for ZM.
type GeomType uint32

const (
	// GeomTypeUnknown is any geometry type.
	GeomTypeUnknown GeomType = 0
	// GeomTypePoint is a single position.
	GeomTypePoint GeomType = 1
	// GeomTypeLineString is a sequence of positions.
	GeomTypeLineString GeomType = 2
	// GeomTypePolygon is one outer ring plus zero or more hole rings.
	GeomTypePolygon GeomType = 3
	// GeomTypeMultiPoint is a collection of points.
	GeomTypeMultiPoint GeomType = 4
	// GeomTypeMultiLineString is a collection of linestrings.
	GeomTypeMultiLineString GeomType = 5
	// GeomTypeMultiPolygon is a collection of polygons.
	GeomTypeMultiPolygon GeomType = 6
	// GeomTypeGeometryCollection is a heterogeneous collection.
	GeomTypeGeometryCollection GeomType = 7
)

// Flatten strips the Z/M dimensionality, returning the 2D base type.
func (t GeomType) Flatten() GeomType { return t % 1000 }

// HasZ reports whether the type carries a Z dimension.
func (t GeomType) HasZ() bool { d := t / 1000; return d == 1 || d == 3 }

// HasM reports whether the type carries an M dimension.
func (t GeomType) HasM() bool { return t/1000 >= 2 }

// SetZ returns the type with the Z dimension added.
func (t GeomType) SetZ() GeomType {
	if t.HasZ() {
		return t
	}
	return t + 1000
}

// SetM returns the type with the M dimension added.
func (t GeomType) SetM() GeomType {
	if t.HasM() {
		return t
	}
	return t + 2000
}

// MultiType returns the multi-variant of a singular type; multi and
// collection types are returned unchanged.
func (t GeomType) MultiType() GeomType {
	dims := t - t.Flatten()
	switch t.Flatten() {
	case GeomTypePoint:
		return GeomTypeMultiPoint + dims
	case GeomTypeLineString:
		return GeomTypeMultiLineString + dims
	case GeomTypePolygon:
		return GeomTypeMultiPolygon + dims
	default:
		return t
	}
}

// String returns the well-known-text style name of the type.
func (t GeomType) String() string {
	var base string
	switch t.Flatten() {
	case GeomTypeUnknown:
		base = "Geometry"
	case GeomTypePoint:
		base = "Point"
	case GeomTypeLineString:
		base = "LineString"
	case GeomTypePolygon:
		base = "Polygon"
	case GeomTypeMultiPoint:
		base = "MultiPoint"
	case GeomTypeMultiLineString:
		base = "MultiLineString"
	case GeomTypeMultiPolygon:
		base = "MultiPolygon"
	case GeomTypeGeometryCollection:
		base = "GeometryCollection"
	default:
		return fmt.Sprintf("GeomType(%d)", uint32(t))
	}
	switch {
	case t.HasZ() && t.HasM():
		return base + " ZM"
	case t.HasZ():
		return base + " Z"
	case t.HasM():
		return base + " M"
	default:
		return base
	}
}

// GeomTypeFromString parses a well-known-text style type name such as
// "Point" or "MultiPolygon Z", as found in dataset metadata geometry_types
// lists. The second return is false for unrecognized names.
func GeomTypeFromString(s string) (GeomType, bool) {
	base := s
	var dims string
	if i := strings.IndexByte(s, ' '); i >= 0 {
		base, dims = s[:i], strings.TrimSpace(s[i+1:])
	}
	var t GeomType
	switch strings.ToLower(base) {
	case "geometry":
		t = GeomTypeUnknown
	case "point":
		t = GeomTypePoint
	case "linestring":
		t = GeomTypeLineString
	case "polygon":
		t = GeomTypePolygon
	case "multipoint":
		t = GeomTypeMultiPoint
	case "multilinestring":
		t = GeomTypeMultiLineString
	case "multipolygon":
		t = GeomTypeMultiPolygon
	case "geometrycollection":
		t = GeomTypeGeometryCollection
	default:
		return GeomTypeUnknown, false
	}
	switch strings.ToUpper(dims) {
	case "":
	case "Z":
		t = t.SetZ()
	case "M":
		t = t.SetM()
	case "ZM":
		t = t.SetZ().SetM()
	default:
		return GeomTypeUnknown, false
	}
	return t, true
}

// Layout returns the go-geom coordinate layout matching the dimensionality.
func (t GeomType) Layout() geom.Layout {
	switch {
	case t.HasZ() && t.HasM():
		return geom.XYZM
	case t.HasZ():
		return geom.XYZ
	case t.HasM():
		return geom.XYM
	default:
		return geom.XY
	}
}

// GeomTypeOf returns the GeomType of a concrete geometry value, nil-safe.
func GeomTypeOf(g geom.T) GeomType {
	if g == nil {
		return GeomTypeUnknown
	}
	var base GeomType
	switch g.(type) {
	case *geom.Point:
		base = GeomTypePoint
	case *geom.LineString:
		base = GeomTypeLineString
	case *geom.Polygon:
		base = GeomTypePolygon
	case *geom.MultiPoint:
		base = GeomTypeMultiPoint
	case *geom.MultiLineString:
		base = GeomTypeMultiLineString
	case *geom.MultiPolygon:
		base = GeomTypeMultiPolygon
	case *geom.GeometryCollection:
		base = GeomTypeGeometryCollection
	default:
		return GeomTypeUnknown
	}
	switch g.Layout() {
	case geom.XYZ:
		return base.SetZ()
	case geom.XYM:
		return base.SetM()
	case geom.XYZM:
		return base.SetZ().SetM()
	default:
		return base
	}
}

// GeomEncoding identifies how geometry values are serialized inside a
// columnar array. Large-offset string/binary variants resolve to the same
// encoding as their 32-bit counterparts.
type GeomEncoding int

const (
	// EncodingWKB is well-known binary in a binary or large-binary array.
	EncodingWKB GeomEncoding = iota
	// EncodingWKT is well-known text in a string or large-string array.
	EncodingWKT
	// EncodingGeoArrowPoint is a fixed-size list of doubles per position.
	EncodingGeoArrowPoint
	// EncodingGeoArrowLinestring is list<point>.
	EncodingGeoArrowLinestring
	// EncodingGeoArrowPolygon is list<list<point>>.
	EncodingGeoArrowPolygon
	// EncodingGeoArrowMultipoint is list<point>.
	EncodingGeoArrowMultipoint
	// EncodingGeoArrowMultilinestring is list<list<point>>.
	EncodingGeoArrowMultilinestring
	// EncodingGeoArrowMultipolygon is list<list<list<point>>>.
	EncodingGeoArrowMultipolygon
)

// String returns the canonical extension-name spelling of the encoding.
func (e GeomEncoding) String() string {
	switch e {
	case EncodingWKB:
		return "geoarrow.wkb"
	case EncodingWKT:
		return "geoarrow.wkt"
	case EncodingGeoArrowPoint:
		return "geoarrow.point"
	case EncodingGeoArrowLinestring:
		return "geoarrow.linestring"
	case EncodingGeoArrowPolygon:
		return "geoarrow.polygon"
	case EncodingGeoArrowMultipoint:
		return "geoarrow.multipoint"
	case EncodingGeoArrowMultilinestring:
		return "geoarrow.multilinestring"
	case EncodingGeoArrowMultipolygon:
		return "geoarrow.multipolygon"
	default:
		return fmt.Sprintf("encoding(%d)", int(e))
	}
}

// Envelope is a 2D bounding box. Use NewEnvelope for the uninitialized
// state (inverted infinities): merges into it behave as assignment and
// Intersects always fails.
type Envelope struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// NewEnvelope returns an uninitialized envelope ready for merging.
func NewEnvelope() Envelope {
	return Envelope{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
}

// IsInit reports whether the envelope contains at least one point.
func (e Envelope) IsInit() bool { return e.MinX <= e.MaxX && e.MinY <= e.MaxY }

// ExtendXY grows the envelope to include the position (x, y).
func (e *Envelope) ExtendXY(x, y float64) {
	if !e.IsInit() {
		e.MinX, e.MinY, e.MaxX, e.MaxY = x, y, x, y
		return
	}
	e.MinX = math.Min(e.MinX, x)
	e.MinY = math.Min(e.MinY, y)
	e.MaxX = math.Max(e.MaxX, x)
	e.MaxY = math.Max(e.MaxY, y)
}

// Merge grows the envelope to include another envelope.
func (e *Envelope) Merge(o Envelope) {
	if !o.IsInit() {
		return
	}
	e.ExtendXY(o.MinX, o.MinY)
	e.ExtendXY(o.MaxX, o.MaxY)
}

// Intersects reports whether two initialized envelopes overlap, borders
// included.
func (e Envelope) Intersects(o Envelope) bool {
	if !e.IsInit() || !o.IsInit() {
		return false
	}
	return e.MinX <= o.MaxX && e.MaxX >= o.MinX && e.MinY <= o.MaxY && e.MaxY >= o.MinY
}

// EnvelopeOfGeom computes the 2D envelope of a geometry value. A nil or
// empty geometry yields an uninitialized envelope.
func EnvelopeOfGeom(g geom.T) Envelope {
	env := NewEnvelope()
	if g == nil || g.Empty() {
		return env
	}
	b := g.Bounds()
	env.ExtendXY(b.Min(0), b.Min(1))
	env.ExtendXY(b.Max(0), b.Max(1))
	return env
}
