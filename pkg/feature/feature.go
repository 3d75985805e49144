package feature

import (
	"time"

	"github.com/twpayne/go-geom"
)

// NullFID marks a feature whose identifier has not been assigned.
const NullFID int64 = -1

// Feature is one decoded record: an identifier, positional field values and
// positional geometry values. A nil entry in Values or Geoms is a null.
//
// Value entries use a fixed concrete type per field type: int32 (Integer,
// including boolean-subtyped fields stored as 0/1), int64, float64, string,
// []byte, time.Time (Date, Time, DateTime), and []int32 / []int64 /
// []float64 / []string for the list types.
type Feature struct {
	FID    int64
	Values []any
	Geoms  []geom.T

	defn *Definition
}

// New returns a feature shaped for the definition, all fields null.
func New(defn *Definition) *Feature {
	return &Feature{
		FID:    NullFID,
		Values: make([]any, len(defn.Fields)),
		Geoms:  make([]geom.T, len(defn.GeomFields)),
		defn:   defn,
	}
}

// Definition returns the schema this feature was built against.
func (f *Feature) Definition() *Definition { return f.defn }

// Reset clears the feature for reuse against the same definition.
func (f *Feature) Reset() {
	f.FID = NullFID
	for i := range f.Values {
		f.Values[i] = nil
	}
	for i := range f.Geoms {
		f.Geoms[i] = nil
	}
}

// IsNull reports whether field i holds no value.
func (f *Feature) IsNull(i int) bool {
	return i < 0 || i >= len(f.Values) || f.Values[i] == nil
}

// Int32 returns field i as int32, converting from the other numeric
// storage types; null or non-numeric yields 0.
func (f *Feature) Int32(i int) int32 {
	switch v := f.value(i).(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case float64:
		return int32(v)
	default:
		return 0
	}
}

// Int64 returns field i as int64; null or non-numeric yields 0.
func (f *Feature) Int64(i int) int64 {
	switch v := f.value(i).(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Float64 returns field i as float64; null or non-numeric yields 0.
func (f *Feature) Float64(i int) float64 {
	switch v := f.value(i).(type) {
	case float64:
		return v
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Bool returns a boolean-subtyped integer field as bool.
func (f *Feature) Bool(i int) bool { return f.Int32(i) != 0 }

// String returns field i as string; null or non-string yields "".
func (f *Feature) String(i int) string {
	if v, ok := f.value(i).(string); ok {
		return v
	}
	return ""
}

// Bytes returns a binary field; null yields nil.
func (f *Feature) Bytes(i int) []byte {
	if v, ok := f.value(i).([]byte); ok {
		return v
	}
	return nil
}

// Time returns a date/time/datetime field; null yields the zero time.
func (f *Feature) Time(i int) time.Time {
	if v, ok := f.value(i).(time.Time); ok {
		return v
	}
	return time.Time{}
}

// Int32List returns an integer-list field; null yields nil.
func (f *Feature) Int32List(i int) []int32 {
	if v, ok := f.value(i).([]int32); ok {
		return v
	}
	return nil
}

// Int64List returns an integer64-list field; null yields nil.
func (f *Feature) Int64List(i int) []int64 {
	if v, ok := f.value(i).([]int64); ok {
		return v
	}
	return nil
}

// Float64List returns a real-list field; null yields nil.
func (f *Feature) Float64List(i int) []float64 {
	if v, ok := f.value(i).([]float64); ok {
		return v
	}
	return nil
}

// StringList returns a string-list field; null yields nil.
func (f *Feature) StringList(i int) []string {
	if v, ok := f.value(i).([]string); ok {
		return v
	}
	return nil
}

// Geometry returns geometry field i, nil when null or out of range.
func (f *Feature) Geometry(i int) geom.T {
	if i < 0 || i >= len(f.Geoms) {
		return nil
	}
	return f.Geoms[i]
}

func (f *Feature) value(i int) any {
	if i < 0 || i >= len(f.Values) {
		return nil
	}
	return f.Values[i]
}
