// Package schema derives feature definitions from columnar schemas: the
// attribute type mapping table, struct flattening with dotted names and
// column paths, geometry column classification against the geo metadata
// document and extension names, dictionary-backed coded domains, and the
// declared override document.
package schema

import (
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"go.uber.org/zap"

	"github.com/tesseradata/tessera/pkg/feature"
	"github.com/tesseradata/tessera/pkg/geoarrow"
	"github.com/tesseradata/tessera/pkg/logger"
)

// Options configure FromArrow.
type Options struct {
	// Name names the resulting definition, typically the dataset name.
	Name string

	// FIDColumn names the identifier column when no override document does.
	FIDColumn string

	// DisableOverrides skips the tessera:schema document even when present.
	DisableOverrides bool

	// GeoMeta, when non-nil, replaces the geo document parsed from the
	// schema metadata. Sources that carry the document out of band use this.
	GeoMeta *GeoMetadata
}

// Mapping binds a feature Definition to the columnar schema it derives from.
// It is built once per schema; every batch of the same schema resolves
// through the same column paths.
type Mapping struct {
	Schema *arrow.Schema
	Defn   *feature.Definition

	// FIDColumnIndex is the top-level column index backing feature
	// identifiers, -1 when they are synthesized from the row counter.
	FIDColumnIndex int

	// DomainColumns maps registered domain names to the top-level column
	// index of their dictionary column. Domains are materialized from the
	// dictionary of the first loaded batch, not from the schema.
	DomainColumns map[string]int

	// GeoMeta is the parsed geo document, nil when the dataset has none.
	GeoMeta *GeoMetadata
}

// FromArrow derives a feature Definition from a columnar schema, consuming
// the geo and tessera:schema metadata documents when present. Columns with
// unusable types are dropped with a warning rather than failing the whole
// schema.
func FromArrow(sch *arrow.Schema, opts Options) (*Mapping, error) {
	lg := logger.Get()
	m := &Mapping{
		Schema:         sch,
		Defn:           feature.NewDefinition(opts.Name),
		FIDColumnIndex: -1,
		DomainColumns:  make(map[string]int),
	}

	geoMeta := opts.GeoMeta
	if geoMeta == nil {
		var err error
		geoMeta, err = ParseGeoMetadata(sch.Metadata())
		if err != nil {
			lg.Warn("ignoring malformed geo metadata document", zap.Error(err))
		}
	}
	m.GeoMeta = geoMeta

	var ov *Overrides
	if !opts.DisableOverrides {
		var err error
		ov, err = ParseOverrides(sch.Metadata())
		if err != nil {
			lg.Warn("ignoring malformed schema override document", zap.Error(err))
		}
	}
	fidName := opts.FIDColumn
	if ov != nil && ov.FID != "" {
		fidName = ov.FID
	}

	b := &defnBuilder{
		mapping:   m,
		overrides: ov,
		lg:        lg,
		bboxField: [4]int{-1, -1, -1, -1},
	}
	for i, f := range sch.Fields() {
		if fidName != "" && f.Name == fidName {
			if id := f.Type.ID(); id == arrow.INT32 || id == arrow.INT64 {
				m.FIDColumnIndex = i
				m.Defn.FIDColumn = f.Name
				continue
			}
			lg.Warn("declared identifier column is not an integer column, keeping it as a regular field",
				zap.String("field", f.Name), zap.String("type", f.Type.String()))
		}
		if tag, ok := geometryTag(f, geoMeta); ok {
			res, v := geoarrow.ResolveEncoding(tag, f.Type)
			if v.OK {
				b.addGeomField(f, i, res, geoMeta.Column(f.Name))
				continue
			}
			lg.Warn("column tagged as geometry has an unusable shape, mapping it as an attribute",
				zap.String("field", f.Name), zap.String("tag", tag), zap.String("reason", v.Reason))
		}
		b.createField(f, []int{i})
	}
	b.attachNamedBBoxFields()
	return m, nil
}

// geometryTag returns the encoding tag declaring a column as geometry: the
// geo document entry when present, else the field's extension name when it
// belongs to a geometry namespace.
func geometryTag(f arrow.Field, geoMeta *GeoMetadata) (string, bool) {
	if c := geoMeta.Column(f.Name); c != nil {
		if c.Encoding != "" {
			return c.Encoding, true
		}
		// The document requires an encoding member; tolerate its absence by
		// assuming the default binary encoding.
		return geoarrow.ExtensionWKB, true
	}
	if i := f.Metadata.FindKey(geoarrow.ExtensionNameKey); i >= 0 {
		tag := f.Metadata.Values()[i]
		if strings.HasPrefix(tag, "geoarrow.") || strings.HasPrefix(tag, "ogc.") {
			return tag, true
		}
	}
	return "", false
}

// defnBuilder accumulates fields during the schema walk.
type defnBuilder struct {
	mapping   *Mapping
	overrides *Overrides
	lg        *zap.Logger

	// bboxField holds the definition field indices of the conventional
	// bbox.minx, bbox.miny, bbox.maxx, bbox.maxy float fields.
	bboxField [4]int

	// declaredCovering names geometry fields that carry their own covering
	// declaration, resolvable or not. They never get the conventional
	// bbox fields attached as a fallback.
	declaredCovering map[string]bool
}

// createField maps one column (or flattened struct member) onto zero or more
// field definitions. Top-level dictionary columns with string values become
// coded-domain fields typed after their index; struct columns flatten into
// dotted member fields; everything else goes through the type table.
func (b *defnBuilder) createField(f arrow.Field, path []int) {
	dt := f.Type
	domain := ""
	if dict, ok := dt.(*arrow.DictionaryType); ok && len(path) == 1 {
		if dict.ValueType.ID() == arrow.STRING && isIntegerType(dict.IndexType.ID()) {
			domain = f.Name + "Domain"
			b.mapping.DomainColumns[domain] = path[0]
			dt = dict.IndexType
		} else {
			b.lg.Debug("dropping dictionary column without string values",
				zap.String("field", f.Name), zap.String("type", dt.String()))
			return
		}
	}
	if st, ok := dt.(*arrow.StructType); ok {
		sub := append(append([]int(nil), path...), 0)
		for j, child := range st.Fields() {
			sub[len(sub)-1] = j
			b.createField(arrow.Field{
				Name:     f.Name + "." + child.Name,
				Type:     child.Type,
				Nullable: f.Nullable || child.Nullable,
				Metadata: child.Metadata,
			}, sub)
		}
		return
	}
	b.addField(f, dt, path, domain)
}

// addField runs the type table, merges any declared override and appends the
// definition, remembering conventional bounding-box fields.
func (b *defnBuilder) addField(f arrow.Field, dt arrow.DataType, path []int, domain string) {
	fd := &feature.FieldDefn{
		Name:     f.Name,
		Type:     feature.FieldTypeString,
		Nullable: f.Nullable,
		Domain:   domain,
	}
	if !b.mapType(dt, f.Name, fd) {
		b.lg.Warn("dropping field with unhandled type",
			zap.String("field", f.Name), zap.String("type", dt.String()))
		return
	}
	if ov := b.overrides.For(f.Name); ov != nil {
		b.applyOverride(fd, ov, f.Name)
	}
	if dt.ID() == arrow.FLOAT64 {
		switch f.Name {
		case "bbox.minx":
			b.bboxField[0] = len(b.mapping.Defn.Fields)
		case "bbox.miny":
			b.bboxField[1] = len(b.mapping.Defn.Fields)
		case "bbox.maxx":
			b.bboxField[2] = len(b.mapping.Defn.Fields)
		case "bbox.maxy":
			b.bboxField[3] = len(b.mapping.Defn.Fields)
		}
	}
	fd.Path = append([]int(nil), path...)
	b.mapping.Defn.AddField(fd)
}

// mapType fills Type, Subtype, Width, Precision and TZFlag from the column
// type. It returns false for types the feature model cannot represent.
func (b *defnBuilder) mapType(dt arrow.DataType, name string, fd *feature.FieldDefn) bool {
	switch dt.ID() {
	case arrow.NULL:
		// always-null column, exposed as a string field

	case arrow.BOOL:
		fd.Type, fd.Subtype = feature.FieldTypeInteger, feature.SubtypeBoolean
	case arrow.UINT8, arrow.INT8, arrow.UINT16:
		fd.Type = feature.FieldTypeInteger
	case arrow.INT16:
		fd.Type, fd.Subtype = feature.FieldTypeInteger, feature.SubtypeInt16
	case arrow.INT32:
		fd.Type = feature.FieldTypeInteger
	case arrow.UINT32:
		// widened so the full unsigned range stays exact
		fd.Type = feature.FieldTypeInteger64
	case arrow.INT64:
		fd.Type = feature.FieldTypeInteger64
	case arrow.UINT64:
		fd.Type = feature.FieldTypeReal // potential loss
	case arrow.FLOAT16, arrow.FLOAT32:
		fd.Type, fd.Subtype = feature.FieldTypeReal, feature.SubtypeFloat32
	case arrow.FLOAT64:
		fd.Type = feature.FieldTypeReal

	case arrow.STRING, arrow.LARGE_STRING:
		fd.Type = feature.FieldTypeString
	case arrow.BINARY, arrow.LARGE_BINARY:
		fd.Type = feature.FieldTypeBinary
	case arrow.FIXED_SIZE_BINARY:
		fd.Type = feature.FieldTypeBinary
		fd.Width = dt.(*arrow.FixedSizeBinaryType).ByteWidth

	case arrow.DATE32, arrow.DATE64:
		fd.Type = feature.FieldTypeDate
	case arrow.TIMESTAMP:
		fd.Type = feature.FieldTypeDateTime
		tz := dt.(*arrow.TimestampType).TimeZone
		flag, ok := feature.TZFlagFromTimezone(tz)
		if !ok {
			b.lg.Warn("timestamp column has an unrecognized timezone, treating values as UTC",
				zap.String("field", name), zap.String("timezone", tz))
			flag = feature.TZFlagUTC
		}
		fd.TZFlag = flag
	case arrow.TIME32:
		fd.Type = feature.FieldTypeTime
	case arrow.TIME64:
		// sub-millisecond accuracy does not fit the time type
		fd.Type = feature.FieldTypeInteger64

	case arrow.DECIMAL128, arrow.DECIMAL256:
		dec := dt.(arrow.DecimalType)
		fd.Type = feature.FieldTypeReal
		fd.Width = int(dec.GetPrecision())
		fd.Precision = int(dec.GetScale())

	case arrow.LIST, arrow.LARGE_LIST, arrow.FIXED_SIZE_LIST:
		elem := dt.(arrow.ListLikeType).Elem()
		switch elem.ID() {
		case arrow.BOOL:
			fd.Type, fd.Subtype = feature.FieldTypeIntegerList, feature.SubtypeBoolean
		case arrow.UINT8, arrow.INT8, arrow.UINT16, arrow.INT16, arrow.INT32:
			fd.Type = feature.FieldTypeIntegerList
		case arrow.UINT32, arrow.INT64:
			fd.Type = feature.FieldTypeInteger64List
		case arrow.UINT64:
			fd.Type = feature.FieldTypeRealList // potential loss
		case arrow.FLOAT16, arrow.FLOAT32:
			fd.Type, fd.Subtype = feature.FieldTypeRealList, feature.SubtypeFloat32
		case arrow.FLOAT64, arrow.DECIMAL128, arrow.DECIMAL256:
			fd.Type = feature.FieldTypeRealList
		case arrow.STRING, arrow.LARGE_STRING:
			fd.Type = feature.FieldTypeStringList
		default:
			if !geoarrow.IsHandledElemType(elem, 0) {
				return false
			}
			fd.Type, fd.Subtype = feature.FieldTypeString, feature.SubtypeJSON
		}

	case arrow.MAP:
		if !geoarrow.IsHandledElemType(dt, 0) {
			return false
		}
		fd.Type, fd.Subtype = feature.FieldTypeString, feature.SubtypeJSON

	default:
		return false
	}
	return true
}

// applyOverride merges one declared field refinement. The inferred type
// always wins; the declared subtype applies only on matching types and when
// inference produced none. Width, precision, alternative name and comment
// apply whenever declared.
func (b *defnBuilder) applyOverride(fd *feature.FieldDefn, ov *FieldOverride, name string) {
	if ov.Type != "" {
		if ovType, ok := feature.FieldTypeFromString(ov.Type); ok && ovType == fd.Type {
			ovSub, _ := feature.FieldSubtypeFromString(ov.Subtype)
			if fd.Subtype == feature.SubtypeNone {
				fd.Subtype = ovSub
			} else if ovSub != fd.Subtype {
				b.lg.Debug("declared field subtype differs from the inferred one, keeping the inferred one",
					zap.String("field", name),
					zap.Stringer("inferred", fd.Subtype), zap.String("declared", ov.Subtype))
			}
		} else {
			b.lg.Debug("declared field type differs from the inferred one, keeping the inferred one",
				zap.String("field", name),
				zap.Stringer("inferred", fd.Type), zap.String("declared", ov.Type))
		}
	}
	if ov.Width > 0 {
		fd.Width = ov.Width
	}
	if ov.Precision > 0 {
		fd.Precision = ov.Precision
	}
	if ov.AlternativeName != "" {
		fd.AlternativeName = ov.AlternativeName
	}
	if ov.Comment != "" {
		fd.Comment = ov.Comment
	}
}

// addGeomField appends a geometry field classified by ResolveEncoding,
// refining binary and text encodings from the geo document's declared type
// list and resolving covering columns.
func (b *defnBuilder) addGeomField(f arrow.Field, col int, res geoarrow.Resolution, gc *GeoColumn) {
	gd := &feature.GeomFieldDefn{
		Name:     f.Name,
		Type:     res.Type,
		Nullable: f.Nullable,
		Encoding: res.Encoding,
		Path:     []int{col},
	}
	if gc != nil {
		gd.CRS = gc.CRSString()
		if res.Type == feature.GeomTypeUnknown {
			gd.Type = b.declaredGeomType(f.Name, gc.GeometryTypes)
		}
		if gc.Covering != nil && gc.Covering.BBox != nil {
			if b.declaredCovering == nil {
				b.declaredCovering = make(map[string]bool)
			}
			b.declaredCovering[f.Name] = true
			if paths, ok := b.resolveCoveringPaths(f.Name, gc.Covering.BBox); ok {
				gd.BBoxPaths = paths
			}
		}
	}
	b.mapping.Defn.AddGeomField(gd)
}

// declaredGeomType folds the geometry_types list of the geo document into a
// single type, with the same promotion rules used when probing data.
func (b *defnBuilder) declaredGeomType(field string, names []string) feature.GeomType {
	acc := feature.GeomTypeUnknown
	for _, n := range names {
		gt, ok := feature.GeomTypeFromString(n)
		if !ok {
			b.lg.Warn("ignoring declared geometry type list with unrecognized entry",
				zap.String("field", field), zap.String("type", n))
			return feature.GeomTypeUnknown
		}
		if acc, ok = geoarrow.MergeGeomTypes(acc, gt); !ok {
			return feature.GeomTypeUnknown
		}
	}
	return acc
}

// resolveCoveringPaths maps the four covering name paths to column paths,
// requiring float64 leaves.
func (b *defnBuilder) resolveCoveringPaths(field string, bb *GeoCoveringBBox) (*feature.BBoxColumnPaths, bool) {
	paths := &feature.BBoxColumnPaths{}
	for _, c := range []struct {
		names []string
		dst   *[]int
	}{
		{bb.XMin, &paths.MinX},
		{bb.YMin, &paths.MinY},
		{bb.XMax, &paths.MaxX},
		{bb.YMax, &paths.MaxY},
	} {
		p, ok := b.resolveNamePath(c.names)
		if !ok {
			b.lg.Warn("ignoring covering declaration with unresolvable column path",
				zap.String("field", field), zap.Strings("path", c.names))
			return nil, false
		}
		*c.dst = p
	}
	return paths, true
}

// resolveNamePath maps a metadata name path (top-level column name followed
// by struct member names) to child indices.
func (b *defnBuilder) resolveNamePath(names []string) ([]int, bool) {
	if len(names) == 0 {
		return nil, false
	}
	sch := b.mapping.Schema
	matches := sch.FieldIndices(names[0])
	if len(matches) == 0 {
		return nil, false
	}
	path := []int{matches[0]}
	dt := sch.Field(matches[0]).Type
	for _, n := range names[1:] {
		st, ok := dt.(*arrow.StructType)
		if !ok {
			return nil, false
		}
		fi, ok := st.FieldIdx(n)
		if !ok {
			return nil, false
		}
		path = append(path, fi)
		dt = st.Field(fi).Type
	}
	if dt.ID() != arrow.FLOAT64 {
		return nil, false
	}
	return path, true
}

// attachNamedBBoxFields wires the conventional bbox.minx, bbox.miny,
// bbox.maxx, bbox.maxy fields, when all four are present, to geometry fields
// without a covering declaration of their own. The four stay readable as
// regular attribute fields.
func (b *defnBuilder) attachNamedBBoxFields() {
	for _, i := range b.bboxField {
		if i < 0 {
			return
		}
	}
	fields := b.mapping.Defn.Fields
	paths := &feature.BBoxColumnPaths{
		MinX: fields[b.bboxField[0]].Path,
		MinY: fields[b.bboxField[1]].Path,
		MaxX: fields[b.bboxField[2]].Path,
		MaxY: fields[b.bboxField[3]].Path,
	}
	for _, g := range b.mapping.Defn.GeomFields {
		if g.BBoxPaths == nil && !b.declaredCovering[g.Name] {
			g.BBoxPaths = paths
		}
	}
}

func isIntegerType(id arrow.Type) bool {
	switch id {
	case arrow.UINT8, arrow.INT8, arrow.UINT16, arrow.INT16,
		arrow.UINT32, arrow.INT32, arrow.UINT64, arrow.INT64:
		return true
	default:
		return false
	}
}
