package geoarrow

import (
	"encoding/binary"
	"strings"

	"github.com/tesseradata/tessera/pkg/feature"
)

// Extended-WKB dimensionality flags carried in the high bits of the type
// code; the ISO convention encodes the same thing in the thousands digit.
const (
	ewkbZ    = 0x80000000
	ewkbM    = 0x40000000
	ewkbSRID = 0x20000000
)

// ProbeWKBType reads the 5-byte well-known-binary header and returns the
// geometry type with dimensionality, without parsing coordinates. Inputs
// shorter than 5 bytes, an invalid byte-order marker or an out-of-range type
// code report false.
func ProbeWKBType(data []byte) (feature.GeomType, bool) {
	if len(data) < 5 {
		return feature.GeomTypeUnknown, false
	}
	var code uint32
	switch data[0] {
	case 0:
		code = binary.BigEndian.Uint32(data[1:5])
	case 1:
		code = binary.LittleEndian.Uint32(data[1:5])
	default:
		return feature.GeomTypeUnknown, false
	}
	hasZ := code&ewkbZ != 0
	hasM := code&ewkbM != 0
	code &^= ewkbZ | ewkbM | ewkbSRID
	gt := feature.GeomType(code)
	hasZ = hasZ || gt.HasZ()
	hasM = hasM || gt.HasM()
	base := gt.Flatten()
	if base < feature.GeomTypePoint || base > feature.GeomTypeGeometryCollection {
		return feature.GeomTypeUnknown, false
	}
	if hasZ {
		base = base.SetZ()
	}
	if hasM {
		base = base.SetM()
	}
	return base, true
}

// wktPrefixes is ordered so that longer names match before their prefixes.
var wktPrefixes = []struct {
	name string
	gt   feature.GeomType
}{
	{"GEOMETRYCOLLECTION", feature.GeomTypeGeometryCollection},
	{"MULTILINESTRING", feature.GeomTypeMultiLineString},
	{"MULTIPOLYGON", feature.GeomTypeMultiPolygon},
	{"MULTIPOINT", feature.GeomTypeMultiPoint},
	{"LINESTRING", feature.GeomTypeLineString},
	{"POLYGON", feature.GeomTypePolygon},
	{"POINT", feature.GeomTypePoint},
}

// ProbeWKTType inspects the leading keyword of a well-known-text string and
// returns the geometry type with dimensionality, without parsing
// coordinates.
func ProbeWKTType(s string) (feature.GeomType, bool) {
	s = strings.ToUpper(strings.TrimLeft(s, " \t\r\n"))
	for _, p := range wktPrefixes {
		if !strings.HasPrefix(s, p.name) {
			continue
		}
		rest := strings.TrimLeft(s[len(p.name):], " ")
		gt := p.gt
		switch {
		case strings.HasPrefix(rest, "ZM"):
			gt = gt.SetZ().SetM()
		case strings.HasPrefix(rest, "Z"):
			gt = gt.SetZ()
		case strings.HasPrefix(rest, "M"):
			gt = gt.SetM()
		}
		return gt, true
	}
	return feature.GeomTypeUnknown, false
}

// MergeGeomTypes folds a newly probed geometry type into the type
// accumulated so far when deriving a column type from data. Equal base types
// keep the base; a singular linestring or polygon and its multi counterpart
// promote to the multi form; any other mix is irreconcilable and the second
// return is false, telling the caller to stop probing and declare the column
// type unknown. Z and M flags combine across observations.
func MergeGeomTypes(acc, next feature.GeomType) (feature.GeomType, bool) {
	if acc == feature.GeomTypeUnknown {
		return next, true
	}
	var base feature.GeomType
	af, nf := acc.Flatten(), next.Flatten()
	switch {
	case af == nf:
		base = af
	case af == feature.GeomTypeLineString && nf == feature.GeomTypeMultiLineString,
		af == feature.GeomTypeMultiLineString && nf == feature.GeomTypeLineString:
		base = feature.GeomTypeMultiLineString
	case af == feature.GeomTypePolygon && nf == feature.GeomTypeMultiPolygon,
		af == feature.GeomTypeMultiPolygon && nf == feature.GeomTypePolygon:
		base = feature.GeomTypeMultiPolygon
	default:
		return feature.GeomTypeUnknown, false
	}
	if acc.HasZ() || next.HasZ() {
		base = base.SetZ()
	}
	if acc.HasM() || next.HasM() {
		base = base.SetM()
	}
	return base, true
}
