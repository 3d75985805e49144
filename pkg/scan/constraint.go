package scan

import (
	"math"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/tesseradata/tessera/pkg/expr"
	"github.com/tesseradata/tessera/pkg/feature"
)

// fidConstraintField marks a constraint on the feature identifier rather
// than a declared attribute field.
const fidConstraintField = -1

// constraintOp is the operator of one pushed-down conjunct.
type constraintOp uint8

const (
	opEqual constraintOp = iota
	opNotEqual
	opLessThan
	opLessThanOrEqual
	opGreaterThan
	opGreaterThanOrEqual
	opIsNull
	opIsNotNull
)

func constraintOpOf(op expr.Op) constraintOp {
	switch op {
	case expr.OpEqual:
		return opEqual
	case expr.OpNotEqual:
		return opNotEqual
	case expr.OpLessThan:
		return opLessThan
	case expr.OpLessThanOrEqual:
		return opLessThanOrEqual
	case expr.OpGreaterThan:
		return opGreaterThan
	default:
		return opGreaterThanOrEqual
	}
}

// constraint is one conjunct of the attribute filter in batch-evaluable
// form: a single field compared against a pre-coerced constant, or a
// nullity check. Pushed constraints are a necessary condition extracted
// from the predicate; the record-level evaluator stays authoritative for
// the full expression.
type constraint struct {
	fieldIdx int // definition field index, or fidConstraintField
	op       constraintOp

	// vtype is the field type the constant was coerced to.
	vtype feature.FieldType

	intValue  int64
	realValue float64
	// strValue is set for every coerced type; numeric constants keep a text
	// rendering for the case where the stored column is string-typed.
	strValue string

	// Per-batch binding. A bound column with a nil test means the storage
	// type has no batch-level comparison; only the null checks apply and the
	// record evaluator decides the rest.
	col  boundColumn
	test func(row int) bool
}

// compileConstraints extracts pushable conjuncts from the top-level AND
// structure of a predicate. OR branches, column-to-column comparisons and
// date or time typed constants are left to the record evaluator.
func compileConstraints(node expr.Node, defn *feature.Definition) []constraint {
	var out []constraint
	collectConstraints(node, defn, &out)
	return out
}

func collectConstraints(node expr.Node, defn *feature.Definition, out *[]constraint) {
	switch n := node.(type) {
	case *expr.Conjunction:
		if n.Op != expr.ConjunctionAnd {
			return
		}
		for _, child := range n.Children {
			collectConstraints(child, defn, out)
		}

	case *expr.Comparison:
		col, lit, mirrored := splitComparison(n)
		if col == nil || lit == nil {
			return
		}
		fieldIdx, ftype, ok := constraintField(col.Name, defn)
		if !ok {
			return
		}
		op := n.Op
		if mirrored {
			op = op.Mirror()
		}
		c := constraint{fieldIdx: fieldIdx, op: constraintOpOf(op)}
		if !coerceConstant(&c, ftype, lit.Value) {
			return
		}
		*out = append(*out, c)

	case *expr.IsNull:
		if idx, ok := nullityField(n.Child, defn); ok {
			*out = append(*out, constraint{fieldIdx: idx, op: opIsNull})
		}

	case *expr.Not:
		isNull, ok := n.Child.(*expr.IsNull)
		if !ok {
			return
		}
		if idx, ok := nullityField(isNull.Child, defn); ok {
			*out = append(*out, constraint{fieldIdx: idx, op: opIsNotNull})
		}
	}
}

// splitComparison separates a comparison into its column and constant
// sides. mirrored reports that the column was the right operand, which
// requires flipping the ordering operators.
func splitComparison(n *expr.Comparison) (*expr.ColumnRef, *expr.Literal, bool) {
	if col, ok := n.Left.(*expr.ColumnRef); ok {
		lit, ok2 := n.Right.(*expr.Literal)
		if !ok2 {
			return nil, nil, false
		}
		return col, lit, false
	}
	if col, ok := n.Right.(*expr.ColumnRef); ok {
		if lit, ok2 := n.Left.(*expr.Literal); ok2 {
			return col, lit, true
		}
	}
	return nil, nil, false
}

// constraintField resolves a referenced name to a definition field index
// plus the field type driving constant coercion. The identifier
// pseudo-field is typed as a 64-bit integer.
func constraintField(name string, defn *feature.Definition) (int, feature.FieldType, bool) {
	if (defn.FIDColumn != "" && name == defn.FIDColumn) || strings.EqualFold(name, expr.FIDName) {
		return fidConstraintField, feature.FieldTypeInteger64, true
	}
	if idx := defn.FieldIndex(name); idx >= 0 {
		return idx, defn.Fields[idx].Type, true
	}
	return 0, feature.FieldTypeInteger, false
}

// nullityField resolves the operand of a nullity check. The identifier
// pseudo-field is excluded: a row counter is never null.
func nullityField(child expr.Node, defn *feature.Definition) (int, bool) {
	col, ok := child.(*expr.ColumnRef)
	if !ok {
		return 0, false
	}
	idx, _, ok := constraintField(col.Name, defn)
	if !ok || idx == fidConstraintField {
		return 0, false
	}
	return idx, true
}

// coerceConstant converts the literal to the field type's comparison
// domain. Null literals and fields outside the four scalar comparison types
// are not pushed.
func coerceConstant(c *constraint, ftype feature.FieldType, v any) bool {
	if v == nil {
		return false
	}
	switch ftype {
	case feature.FieldTypeInteger, feature.FieldTypeInteger64:
		n, ok := constantInt(v)
		if !ok {
			return false
		}
		c.vtype = ftype
		c.intValue = n
		c.strValue = strconv.FormatInt(n, 10)
		return true
	case feature.FieldTypeReal:
		f, ok := constantFloat(v)
		if !ok {
			return false
		}
		c.vtype = feature.FieldTypeReal
		c.realValue = f
		c.strValue = strconv.FormatFloat(f, 'g', -1, 64)
		return true
	case feature.FieldTypeString:
		s, ok := v.(string)
		if !ok {
			return false
		}
		c.vtype = feature.FieldTypeString
		c.strValue = s
		return true
	default:
		return false
	}
}

// constantInt accepts integer, boolean and integral float constants for an
// integer field. Fractional constants are refused: truncating one would let
// the batch-level test drop rows that < and <> comparisons keep at record
// level.
func constantInt(v any) (int64, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float32:
		return integralFloat(float64(n))
	case float64:
		return integralFloat(n)
	default:
		return 0, false
	}
}

func integralFloat(f float64) (int64, bool) {
	if f != math.Trunc(f) || f >= 1<<63 || f < -(1<<63) {
		return 0, false
	}
	return int64(f), true
}

func constantFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func compareInt(op constraintOp, a, b int64) bool {
	switch op {
	case opEqual:
		return a == b
	case opNotEqual:
		return a != b
	case opLessThan:
		return a < b
	case opLessThanOrEqual:
		return a <= b
	case opGreaterThan:
		return a > b
	default:
		return a >= b
	}
}

func compareFloat(op constraintOp, a, b float64) bool {
	switch op {
	case opEqual:
		return a == b
	case opNotEqual:
		return a != b
	case opLessThan:
		return a < b
	case opLessThanOrEqual:
		return a <= b
	case opGreaterThan:
		return a > b
	default:
		return a >= b
	}
}

func compareString(op constraintOp, a, b string) bool {
	switch op {
	case opEqual:
		return a == b
	case opNotEqual:
		return a != b
	case opLessThan:
		return a < b
	case opLessThanOrEqual:
		return a <= b
	case opGreaterThan:
		return a > b
	default:
		return a >= b
	}
}

// newConstraintTest builds the typed row comparison for a bound column. The
// column value drives the promotion: integer storage compares as integers
// against integer constants and as doubles against real ones, while string
// storage always compares lexically, against the constant's text form for
// numeric constants. A nil result leaves the constraint to its null checks.
func newConstraintTest(c *constraint, arr arrow.Array) func(row int) bool {
	switch a := arr.(type) {
	case *array.Boolean:
		return c.intTest(func(row int) int64 {
			if a.Value(row) {
				return 1
			}
			return 0
		})
	case *array.Int8:
		return c.intTest(func(row int) int64 { return int64(a.Value(row)) })
	case *array.Uint8:
		return c.intTest(func(row int) int64 { return int64(a.Value(row)) })
	case *array.Int16:
		return c.intTest(func(row int) int64 { return int64(a.Value(row)) })
	case *array.Uint16:
		return c.intTest(func(row int) int64 { return int64(a.Value(row)) })
	case *array.Int32:
		return c.intTest(func(row int) int64 { return int64(a.Value(row)) })
	case *array.Uint32:
		return c.intTest(func(row int) int64 { return int64(a.Value(row)) })
	case *array.Int64:
		return c.intTest(a.Value)
	case *array.Uint64:
		return c.floatTest(func(row int) float64 { return float64(a.Value(row)) })
	case *array.Float16:
		return c.floatTest(func(row int) float64 { return float64(a.Value(row).Float32()) })
	case *array.Float32:
		return c.floatTest(func(row int) float64 { return float64(a.Value(row)) })
	case *array.Float64:
		return c.floatTest(a.Value)
	case *array.String:
		return c.strTest(a.Value)
	case *array.LargeString:
		return c.strTest(a.Value)
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		return c.floatTest(func(row int) float64 { return a.Value(row).ToFloat64(scale) })
	case *array.Decimal256:
		scale := a.DataType().(*arrow.Decimal256Type).Scale
		return c.floatTest(func(row int) float64 { return a.Value(row).ToFloat64(scale) })
	case *array.Dictionary:
		// Domain-coded fields expose the dictionary index as their value, so
		// constraints compare against the index too.
		return c.intTest(func(row int) int64 { return int64(a.GetValueIndex(row)) })
	default:
		return nil
	}
}

func (c *constraint) intTest(value func(int) int64) func(int) bool {
	op := c.op
	switch c.vtype {
	case feature.FieldTypeInteger, feature.FieldTypeInteger64:
		want := c.intValue
		return func(row int) bool { return compareInt(op, value(row), want) }
	case feature.FieldTypeReal:
		want := c.realValue
		return func(row int) bool { return compareFloat(op, float64(value(row)), want) }
	case feature.FieldTypeString:
		want := c.strValue
		return func(row int) bool { return compareString(op, strconv.FormatInt(value(row), 10), want) }
	default:
		return nil
	}
}

func (c *constraint) floatTest(value func(int) float64) func(int) bool {
	op := c.op
	switch c.vtype {
	case feature.FieldTypeInteger, feature.FieldTypeInteger64:
		want := float64(c.intValue)
		return func(row int) bool { return compareFloat(op, value(row), want) }
	case feature.FieldTypeReal:
		want := c.realValue
		return func(row int) bool { return compareFloat(op, value(row), want) }
	case feature.FieldTypeString:
		want := c.strValue
		return func(row int) bool {
			return compareString(op, strconv.FormatFloat(value(row), 'g', -1, 64), want)
		}
	default:
		return nil
	}
}

func (c *constraint) strTest(value func(int) string) func(int) bool {
	op := c.op
	want := c.strValue
	return func(row int) bool { return compareString(op, value(row), want) }
}
