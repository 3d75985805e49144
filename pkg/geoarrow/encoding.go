// Package geoarrow classifies and decodes the geometry serializations used
// inside Arrow arrays: well-known binary, well-known text, and the six
// GeoArrow exploded-coordinate encodings (point, linestring, polygon,
// multipoint, multilinestring, multipolygon). It also provides the reverse
// WKT-to-WKB translation used by the batch exporter and cheap bounding-box
// scans that avoid full geometry decodes.
package geoarrow

import (
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/tesseradata/tessera/pkg/feature"
)

// ExtensionNameKey is the field metadata key carrying the encoding tag.
const ExtensionNameKey = "ARROW:extension:name"

// Extension tags recognized on geometry columns. The OGC spellings and the
// GeoArrow spellings are interchangeable on input.
const (
	ExtensionOGCWKB  = "ogc.wkb"
	ExtensionWKB     = "geoarrow.wkb"
	ExtensionOGCWKT  = "ogc.wkt"
	ExtensionWKT     = "geoarrow.wkt"
	ExtensionPoint   = "geoarrow.point"
	ExtensionLine    = "geoarrow.linestring"
	ExtensionPolygon = "geoarrow.polygon"
	ExtensionMPoint  = "geoarrow.multipoint"
	ExtensionMLine   = "geoarrow.multilinestring"
	ExtensionMPoly   = "geoarrow.multipolygon"
)

// maxShapeDepth bounds the recursive shape checks; no valid encoding nests
// deeper than multipolygon (3 list levels plus the point list).
const maxShapeDepth = 8

// Validation is the structured result of a shape check.
type Validation struct {
	OK     bool
	Reason string
}

func valid() Validation { return Validation{OK: true} }

func invalid(reason string) Validation { return Validation{Reason: reason} }

// Resolution is the outcome of classifying a geometry column.
type Resolution struct {
	Encoding feature.GeomEncoding
	// Type is the geometry type implied by the encoding, Unknown for the
	// well-known forms, with Z/M dimensionality resolved.
	Type feature.GeomType
}

// ResolveEncoding validates an encoding tag against the columnar storage
// type (unwrapping one level of extension type) and resolves the encoding
// and its dimensionality. A failed Validation carries the expected-vs-actual
// reason; the caller then treats the field as a plain attribute.
func ResolveEncoding(tag string, dt arrow.DataType) (Resolution, Validation) {
	if ext, ok := dt.(arrow.ExtensionType); ok {
		dt = ext.StorageType()
	}
	switch normalizeTag(tag) {
	case ExtensionWKB:
		if id := dt.ID(); id != arrow.BINARY && id != arrow.LARGE_BINARY {
			return Resolution{}, invalid("wkb tag requires binary or large_binary storage, got " + dt.String())
		}
		return Resolution{Encoding: feature.EncodingWKB, Type: feature.GeomTypeUnknown}, valid()
	case ExtensionWKT:
		if id := dt.ID(); id != arrow.STRING && id != arrow.LARGE_STRING {
			return Resolution{}, invalid("wkt tag requires string or large_string storage, got " + dt.String())
		}
		return Resolution{Encoding: feature.EncodingWKT, Type: feature.GeomTypeUnknown}, valid()
	case ExtensionPoint:
		gt, v := pointShape(dt)
		return Resolution{Encoding: feature.EncodingGeoArrowPoint, Type: applyDims(feature.GeomTypePoint, gt)}, v
	case ExtensionLine:
		gt, v := listOfPointShape(dt, 1)
		return Resolution{Encoding: feature.EncodingGeoArrowLinestring, Type: applyDims(feature.GeomTypeLineString, gt)}, v
	case ExtensionPolygon:
		gt, v := listOfPointShape(dt, 2)
		return Resolution{Encoding: feature.EncodingGeoArrowPolygon, Type: applyDims(feature.GeomTypePolygon, gt)}, v
	case ExtensionMPoint:
		gt, v := listOfPointShape(dt, 1)
		return Resolution{Encoding: feature.EncodingGeoArrowMultipoint, Type: applyDims(feature.GeomTypeMultiPoint, gt)}, v
	case ExtensionMLine:
		gt, v := listOfPointShape(dt, 2)
		return Resolution{Encoding: feature.EncodingGeoArrowMultilinestring, Type: applyDims(feature.GeomTypeMultiLineString, gt)}, v
	case ExtensionMPoly:
		gt, v := listOfPointShape(dt, 3)
		return Resolution{Encoding: feature.EncodingGeoArrowMultipolygon, Type: applyDims(feature.GeomTypeMultiPolygon, gt)}, v
	default:
		return Resolution{}, invalid("unrecognized geometry encoding tag " + tag)
	}
}

// normalizeTag folds the OGC spellings and the bare encoding names used in
// dataset-level metadata documents onto the GeoArrow extension names.
func normalizeTag(tag string) string {
	switch strings.ToLower(tag) {
	case "wkb", ExtensionOGCWKB, ExtensionWKB:
		return ExtensionWKB
	case "wkt", ExtensionOGCWKT, ExtensionWKT:
		return ExtensionWKT
	case "point", "linestring", "polygon", "multipoint", "multilinestring", "multipolygon":
		return "geoarrow." + strings.ToLower(tag)
	default:
		return strings.ToLower(tag)
	}
}

// applyDims copies the Z/M dimensionality of the validated point shape onto
// the base type of the encoding.
func applyDims(base, pointType feature.GeomType) feature.GeomType {
	if pointType.HasZ() {
		base = base.SetZ()
	}
	if pointType.HasM() {
		base = base.SetM()
	}
	return base
}

// pointShape checks for fixed_size_list<float64>[2|3|4] and resolves the
// dimensionality: 3 doubles disambiguate Z vs M by the inner field name
// ("xyz" vs "xym"), 4 doubles carry both.
func pointShape(dt arrow.DataType) (feature.GeomType, Validation) {
	fsl, ok := dt.(*arrow.FixedSizeListType)
	if !ok {
		return 0, invalid("point shape requires fixed_size_list, got " + dt.String())
	}
	if fsl.Elem().ID() != arrow.FLOAT64 {
		return 0, invalid("point coordinates must be float64, got " + fsl.Elem().String())
	}
	gt := feature.GeomTypePoint
	switch fsl.Len() {
	case 2:
	case 3:
		if strings.EqualFold(fsl.ElemField().Name, "xym") {
			gt = gt.SetM()
		} else {
			gt = gt.SetZ()
		}
	case 4:
		gt = gt.SetZ().SetM()
	default:
		return 0, invalid("point shape requires 2, 3 or 4 doubles per position")
	}
	return gt, valid()
}

// listOfPointShape checks for `depth` levels of list wrapping a valid point
// shape.
func listOfPointShape(dt arrow.DataType, depth int) (feature.GeomType, Validation) {
	if depth > maxShapeDepth {
		return 0, invalid("list nesting exceeds maximum depth")
	}
	lt, ok := dt.(*arrow.ListType)
	if !ok {
		return 0, invalid("expected list nesting, got " + dt.String())
	}
	if depth == 1 {
		return pointShape(lt.Elem())
	}
	return listOfPointShape(lt.Elem(), depth-1)
}

// IsHandledElemType reports whether a list or map element type can be
// represented by the feature model, either as a typed list or flattened to
// JSON text: booleans, integers, floats, decimals, strings, structs, or a
// nested list/map of the same. Shared between the type mapper and the
// classifier; recursion is depth-bounded.
func IsHandledElemType(dt arrow.DataType, depth int) bool {
	if depth > maxShapeDepth {
		return false
	}
	switch dt.ID() {
	case arrow.BOOL,
		arrow.UINT8, arrow.INT8, arrow.UINT16, arrow.INT16,
		arrow.UINT32, arrow.INT32, arrow.UINT64, arrow.INT64,
		arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64,
		arrow.DECIMAL128, arrow.DECIMAL256,
		arrow.STRING, arrow.LARGE_STRING,
		arrow.STRUCT:
		return true
	case arrow.LIST:
		return IsHandledElemType(dt.(*arrow.ListType).Elem(), depth+1)
	case arrow.LARGE_LIST:
		return IsHandledElemType(dt.(*arrow.LargeListType).Elem(), depth+1)
	case arrow.FIXED_SIZE_LIST:
		return IsHandledElemType(dt.(*arrow.FixedSizeListType).Elem(), depth+1)
	case arrow.MAP:
		mt := dt.(*arrow.MapType)
		return mt.KeyType().ID() == arrow.STRING && IsHandledElemType(mt.ItemType(), depth+1)
	default:
		return false
	}
}
