package schema

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/json"
)

// OverridesKey is the dataset-level metadata key carrying declared field
// refinements that the columnar type system cannot express on its own.
const OverridesKey = "tessera:schema"

// Overrides is the parsed override document.
type Overrides struct {
	// FID names the column to expose as the feature identifier.
	FID string `json:"fid,omitempty"`

	// Columns holds per-field refinements keyed by flattened field name.
	Columns map[string]*FieldOverride `json:"columns,omitempty"`
}

// FieldOverride refines one field definition. The type and subtype are
// advisory: the type inferred from the columnar schema always wins, and the
// declared subtype applies only when the declared type agrees with the
// inferred one.
type FieldOverride struct {
	Type            string `json:"type,omitempty"`
	Subtype         string `json:"subtype,omitempty"`
	Width           int    `json:"width,omitempty"`
	Precision       int    `json:"precision,omitempty"`
	AlternativeName string `json:"alternative_name,omitempty"`
	Comment         string `json:"comment,omitempty"`
}

// ParseOverrides extracts and parses the override document from schema-level
// metadata. It returns (nil, nil) when the key is absent.
func ParseOverrides(md arrow.Metadata) (*Overrides, error) {
	idx := md.FindKey(OverridesKey)
	if idx < 0 {
		return nil, nil
	}
	var doc Overrides
	if err := json.Unmarshal([]byte(md.Values()[idx]), &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "malformed schema override document")
	}
	return &doc, nil
}

// For resolves the override entry for a flattened field name, nil-safe.
func (o *Overrides) For(name string) *FieldOverride {
	if o == nil {
		return nil
	}
	return o.Columns[name]
}
