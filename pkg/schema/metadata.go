package schema

import (
	"encoding/json" // for json.RawMessage only

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/feature"
	jsonpool "github.com/tesseradata/tessera/pkg/json"
)

// GeoMetadataKey is the dataset-level metadata key carrying the geospatial
// column document (the GeoParquet-style "geo" JSON object).
const GeoMetadataKey = "geo"

// GeoMetadata is the parsed geo document: which columns hold geometry, how
// each is encoded, and optional per-column CRS, declared type list, extent
// and covering columns.
type GeoMetadata struct {
	Version       string                `json:"version,omitempty"`
	PrimaryColumn string                `json:"primary_column,omitempty"`
	Columns       map[string]*GeoColumn `json:"columns,omitempty"`
}

// GeoColumn describes one geometry column of the geo document.
type GeoColumn struct {
	// Encoding names the serialization: "WKB", "WKT", a bare GeoArrow shape
	// name ("point", "multipolygon", ...) or a full extension name.
	Encoding string `json:"encoding"`

	// CRS is carried opaquely, either a projjson object or a code string.
	CRS json.RawMessage `json:"crs,omitempty"`

	// GeometryTypes lists the declared types ("Point", "MultiPolygon Z").
	GeometryTypes []string `json:"geometry_types,omitempty"`

	// BBox is the declared extent, 4 elements for XY or 6 for XYZ.
	BBox []float64 `json:"bbox,omitempty"`

	// Covering points at auxiliary bounding-box columns.
	Covering *GeoCovering `json:"covering,omitempty"`
}

// GeoCovering declares auxiliary columns derived from the geometry column.
type GeoCovering struct {
	BBox *GeoCoveringBBox `json:"bbox,omitempty"`
}

// GeoCoveringBBox holds the column name paths (top-level column name followed
// by struct member names) of the four bounding-box component columns.
type GeoCoveringBBox struct {
	XMin []string `json:"xmin"`
	YMin []string `json:"ymin"`
	XMax []string `json:"xmax"`
	YMax []string `json:"ymax"`
}

// ParseGeoMetadata extracts and parses the geo document from schema-level
// metadata. It returns (nil, nil) when the key is absent.
func ParseGeoMetadata(md arrow.Metadata) (*GeoMetadata, error) {
	idx := md.FindKey(GeoMetadataKey)
	if idx < 0 {
		return nil, nil
	}
	var doc GeoMetadata
	if err := jsonpool.Unmarshal([]byte(md.Values()[idx]), &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "malformed geo metadata document")
	}
	return &doc, nil
}

// Column resolves the document entry for a column name, nil-safe.
func (g *GeoMetadata) Column(name string) *GeoColumn {
	if g == nil {
		return nil
	}
	return g.Columns[name]
}

// CRSString returns the crs member as plain text: a JSON string is unquoted,
// an object is returned as its JSON text.
func (c *GeoColumn) CRSString() string {
	if len(c.CRS) == 0 {
		return ""
	}
	var s string
	if err := jsonpool.Unmarshal(c.CRS, &s); err == nil {
		return s
	}
	return string(c.CRS)
}

// Envelope converts the declared bbox into an envelope, consuming only the
// X/Y components of a 6-element XYZ box. The second return is false when no
// usable bbox is declared.
func (c *GeoColumn) Envelope() (feature.Envelope, bool) {
	switch len(c.BBox) {
	case 4:
		return feature.Envelope{MinX: c.BBox[0], MinY: c.BBox[1], MaxX: c.BBox[2], MaxY: c.BBox[3]}, true
	case 6:
		return feature.Envelope{MinX: c.BBox[0], MinY: c.BBox[1], MaxX: c.BBox[3], MaxY: c.BBox[4]}, true
	default:
		return feature.Envelope{}, false
	}
}
