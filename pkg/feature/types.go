// Package feature defines the tabular feature model produced and consumed by
// the Tessera codec: typed field definitions with column paths into nested
// columnar layouts, geometry field definitions with a resolved encoding,
// coded-value domains, and the Feature record itself.
package feature

import (
	"fmt"
	"time"
)

// FieldType is the semantic type of an attribute field.
type FieldType int

const (
	// FieldTypeInteger is a 32-bit signed integer.
	FieldTypeInteger FieldType = iota
	// FieldTypeInteger64 is a 64-bit signed integer.
	FieldTypeInteger64
	// FieldTypeReal is a 64-bit float.
	FieldTypeReal
	// FieldTypeString is UTF-8 text.
	FieldTypeString
	// FieldTypeBinary is an arbitrary byte sequence.
	FieldTypeBinary
	// FieldTypeDate is a calendar date without time of day.
	FieldTypeDate
	// FieldTypeTime is a time of day without date.
	FieldTypeTime
	// FieldTypeDateTime is a date with time of day and timezone flag.
	FieldTypeDateTime
	// FieldTypeIntegerList is a variable-length list of 32-bit integers.
	FieldTypeIntegerList
	// FieldTypeInteger64List is a variable-length list of 64-bit integers.
	FieldTypeInteger64List
	// FieldTypeRealList is a variable-length list of 64-bit floats.
	FieldTypeRealList
	// FieldTypeStringList is a variable-length list of strings.
	FieldTypeStringList
)

// String returns the lower-case name used in logs and metadata documents.
func (t FieldType) String() string {
	switch t {
	case FieldTypeInteger:
		return "integer"
	case FieldTypeInteger64:
		return "integer64"
	case FieldTypeReal:
		return "real"
	case FieldTypeString:
		return "string"
	case FieldTypeBinary:
		return "binary"
	case FieldTypeDate:
		return "date"
	case FieldTypeTime:
		return "time"
	case FieldTypeDateTime:
		return "datetime"
	case FieldTypeIntegerList:
		return "integerlist"
	case FieldTypeInteger64List:
		return "integer64list"
	case FieldTypeRealList:
		return "reallist"
	case FieldTypeStringList:
		return "stringlist"
	default:
		return fmt.Sprintf("fieldtype(%d)", int(t))
	}
}

// IsList reports whether the type is one of the list types.
func (t FieldType) IsList() bool {
	switch t {
	case FieldTypeIntegerList, FieldTypeInteger64List, FieldTypeRealList, FieldTypeStringList:
		return true
	default:
		return false
	}
}

// FieldTypeFromString resolves a type name found in a schema override
// document. The second return is false for unknown names.
func FieldTypeFromString(s string) (FieldType, bool) {
	switch s {
	case "integer":
		return FieldTypeInteger, true
	case "integer64":
		return FieldTypeInteger64, true
	case "real":
		return FieldTypeReal, true
	case "string":
		return FieldTypeString, true
	case "binary":
		return FieldTypeBinary, true
	case "date":
		return FieldTypeDate, true
	case "time":
		return FieldTypeTime, true
	case "datetime":
		return FieldTypeDateTime, true
	case "integerlist":
		return FieldTypeIntegerList, true
	case "integer64list":
		return FieldTypeInteger64List, true
	case "reallist":
		return FieldTypeRealList, true
	case "stringlist":
		return FieldTypeStringList, true
	default:
		return FieldTypeInteger, false
	}
}

// FieldSubtype refines a FieldType without changing its storage class.
type FieldSubtype int

const (
	// SubtypeNone means no refinement.
	SubtypeNone FieldSubtype = iota
	// SubtypeBoolean marks an Integer (or IntegerList) holding 0/1 values.
	SubtypeBoolean
	// SubtypeInt16 marks an Integer whose source range is 16-bit.
	SubtypeInt16
	// SubtypeFloat32 marks a Real whose source precision is 32-bit.
	SubtypeFloat32
	// SubtypeJSON marks a String holding a serialized JSON document.
	SubtypeJSON
)

// String returns the lower-case subtype name.
func (s FieldSubtype) String() string {
	switch s {
	case SubtypeNone:
		return "none"
	case SubtypeBoolean:
		return "boolean"
	case SubtypeInt16:
		return "int16"
	case SubtypeFloat32:
		return "float32"
	case SubtypeJSON:
		return "json"
	default:
		return fmt.Sprintf("subtype(%d)", int(s))
	}
}

// FieldSubtypeFromString resolves a subtype name from an override document.
func FieldSubtypeFromString(s string) (FieldSubtype, bool) {
	switch s {
	case "", "none":
		return SubtypeNone, true
	case "boolean":
		return SubtypeBoolean, true
	case "int16":
		return SubtypeInt16, true
	case "float32":
		return SubtypeFloat32, true
	case "json":
		return SubtypeJSON, true
	default:
		return SubtypeNone, false
	}
}

// Timezone flags for DateTime fields. Offsets are encoded in 15-minute steps
// relative to TZFlagUTC, so +01:00 is 104 and -05:00 is 80.
const (
	// TZFlagUnknown means the source carried no timezone information.
	TZFlagUnknown = 0
	// TZFlagLocal means values are in an unspecified local time.
	TZFlagLocal = 1
	// TZFlagUTC means values are in UTC.
	TZFlagUTC = 100
)

// TZFlagFromTimezone converts a timezone string attached to a timestamp
// column ("UTC", "Etc/UTC", "+HH:MM", "-HH:MM", empty) into a timezone flag.
// The second return is false when the string is non-empty but not
// representable; callers fall back to UTC in that case.
func TZFlagFromTimezone(tz string) (int, bool) {
	if tz == "" {
		return TZFlagUnknown, true
	}
	if tz == "UTC" || tz == "Etc/UTC" || tz == "+00:00" || tz == "-00:00" || tz == "Z" {
		return TZFlagUTC, true
	}
	if len(tz) == 6 && (tz[0] == '+' || tz[0] == '-') && tz[3] == ':' {
		h := int(tz[1]-'0')*10 + int(tz[2]-'0')
		m := int(tz[4]-'0')*10 + int(tz[5]-'0')
		if tz[1] >= '0' && tz[1] <= '9' && tz[2] >= '0' && tz[2] <= '9' &&
			tz[4] >= '0' && tz[4] <= '9' && tz[5] >= '0' && tz[5] <= '9' &&
			h <= 14 && m < 60 && m%15 == 0 {
			steps := (h*60 + m) / 15
			if tz[0] == '-' {
				steps = -steps
			}
			return TZFlagUTC + steps, true
		}
	}
	return TZFlagUTC, false
}

// TZFlagToLocation converts a timezone flag to a fixed *time.Location.
// Unknown and local flags map to time.UTC so that wall-clock components are
// preserved as stored.
func TZFlagToLocation(flag int) *time.Location {
	if flag <= TZFlagLocal {
		return time.UTC
	}
	offsetSec := (flag - TZFlagUTC) * 15 * 60
	if offsetSec == 0 {
		return time.UTC
	}
	return time.FixedZone(tzName(offsetSec), offsetSec)
}

func tzName(offsetSec int) string {
	sign := "+"
	if offsetSec < 0 {
		sign = "-"
		offsetSec = -offsetSec
	}
	return fmt.Sprintf("%s%02d:%02d", sign, offsetSec/3600, (offsetSec/60)%60)
}
