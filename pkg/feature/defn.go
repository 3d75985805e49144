package feature

import (
	"github.com/tesseradata/tessera/pkg/errors"
)

// FieldDefn describes one attribute field of a Definition.
type FieldDefn struct {
	// Name is the exposed field name; for flattened struct members it is the
	// dotted path of source field names.
	Name string

	// Type and Subtype carry the mapped semantic type.
	Type    FieldType
	Subtype FieldSubtype

	// Nullable mirrors the source column nullability.
	Nullable bool

	// Width and Precision carry type-dependent size hints: byte width for
	// fixed-size binary, precision/scale for decimals.
	Width     int
	Precision int

	// AlternativeName and Comment come from schema overrides.
	AlternativeName string
	Comment         string

	// Domain names a coded-value domain registered on the Definition.
	Domain string

	// TZFlag applies to DateTime fields only.
	TZFlag int

	// Path locates the value inside the batch: the first element is the
	// top-level column index, subsequent elements descend struct children.
	Path []int

	// Ignored fields are skipped at decode and stripped at export.
	Ignored bool
}

// GeomFieldDefn describes one geometry field of a Definition.
type GeomFieldDefn struct {
	Name     string
	Type     GeomType
	Nullable bool

	// Encoding is resolved once at schema build and never re-derived.
	Encoding GeomEncoding

	// CRS is carried opaquely (typically projjson or an authority code).
	CRS string

	// Path locates the geometry column, like FieldDefn.Path.
	Path []int

	// BBoxPaths, when non-nil, holds the column paths of the minx, miny,
	// maxx, maxy float columns used for fast spatial filtering.
	BBoxPaths *BBoxColumnPaths

	Ignored bool
}

// BBoxColumnPaths locates the four members of a bounding-box struct column.
type BBoxColumnPaths struct {
	MinX, MinY, MaxX, MaxY []int
}

// CodedEntry is one code/value pair of a coded domain.
type CodedEntry struct {
	Code  int64
	Value string
}

// CodedDomain is an ordered integer-to-string domain built from a
// dictionary-encoded column.
type CodedDomain struct {
	Name    string
	Entries []CodedEntry
}

// Lookup resolves a code to its string value.
func (d *CodedDomain) Lookup(code int64) (string, bool) {
	for _, e := range d.Entries {
		if e.Code == code {
			return e.Value, true
		}
	}
	return "", false
}

// Definition is the feature schema derived from one columnar schema. It is
// built once and then immutable except for ignore flags.
type Definition struct {
	Name       string
	Fields     []*FieldDefn
	GeomFields []*GeomFieldDefn

	// FIDColumn names the column used as feature identifier, empty when
	// identifiers are synthesized from the row counter.
	FIDColumn string

	domains map[string]*CodedDomain
}

// NewDefinition returns an empty definition with the given name.
func NewDefinition(name string) *Definition {
	return &Definition{Name: name, domains: make(map[string]*CodedDomain)}
}

// AddField appends a field definition in encounter order.
func (d *Definition) AddField(f *FieldDefn) { d.Fields = append(d.Fields, f) }

// AddGeomField appends a geometry field definition in encounter order.
func (d *Definition) AddGeomField(g *GeomFieldDefn) { d.GeomFields = append(d.GeomFields, g) }

// FieldIndex returns the index of the named field, or -1.
func (d *Definition) FieldIndex(name string) int {
	for i, f := range d.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// GeomFieldIndex returns the index of the named geometry field, or -1.
func (d *Definition) GeomFieldIndex(name string) int {
	for i, g := range d.GeomFields {
		if g.Name == name {
			return i
		}
	}
	return -1
}

// AddDomain registers a coded-value domain.
func (d *Definition) AddDomain(dom *CodedDomain) {
	if d.domains == nil {
		d.domains = make(map[string]*CodedDomain)
	}
	d.domains[dom.Name] = dom
}

// Domain resolves a registered coded-value domain by name.
func (d *Definition) Domain(name string) *CodedDomain {
	return d.domains[name]
}

// DomainNames lists registered domain names in field order.
func (d *Definition) DomainNames() []string {
	names := make([]string, 0, len(d.domains))
	for _, f := range d.Fields {
		if f.Domain != "" {
			if _, ok := d.domains[f.Domain]; ok {
				names = append(names, f.Domain)
			}
		}
	}
	return names
}

// SetIgnoredFields marks the named attribute and geometry fields as ignored,
// clearing all previous ignore flags first. Unknown names fail without
// changing any flag.
func (d *Definition) SetIgnoredFields(names []string) error {
	for _, name := range names {
		if d.FieldIndex(name) < 0 && d.GeomFieldIndex(name) < 0 {
			return errors.New(errors.ErrorTypeSchema, "cannot ignore unknown field "+name)
		}
	}
	for _, f := range d.Fields {
		f.Ignored = false
	}
	for _, g := range d.GeomFields {
		g.Ignored = false
	}
	for _, name := range names {
		if i := d.FieldIndex(name); i >= 0 {
			d.Fields[i].Ignored = true
		} else if i := d.GeomFieldIndex(name); i >= 0 {
			d.GeomFields[i].Ignored = true
		}
	}
	return nil
}

// HasIgnored reports whether any field or geometry field is ignored.
func (d *Definition) HasIgnored() bool {
	for _, f := range d.Fields {
		if f.Ignored {
			return true
		}
	}
	for _, g := range d.GeomFields {
		if g.Ignored {
			return true
		}
	}
	return false
}
