// Package expr defines the predicate-tree model consumed by the scan layer
// and a full-record evaluator over decoded features. Trees are built by an
// external query layer (or directly by callers); this package never parses
// query text.
//
// Use type switches to walk a tree:
//
//	switch e := node.(type) {
//	case *expr.Comparison:
//	case *expr.Conjunction:
//	case *expr.Not:
//	case *expr.IsNull:
//	case *expr.ColumnRef:
//	case *expr.Literal:
//	}
package expr

import "fmt"

// FIDName is the reserved column name addressing the feature identifier
// pseudo-field, usable whether or not a physical identifier column exists.
const FIDName = "fid"

// Op is a binary comparison operator.
type Op int

const (
	// OpEqual is =.
	OpEqual Op = iota
	// OpNotEqual is <>.
	OpNotEqual
	// OpLessThan is <.
	OpLessThan
	// OpLessThanOrEqual is <=.
	OpLessThanOrEqual
	// OpGreaterThan is >.
	OpGreaterThan
	// OpGreaterThanOrEqual is >=.
	OpGreaterThanOrEqual
)

// String returns the SQL spelling of the operator.
func (op Op) String() string {
	switch op {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "<>"
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Mirror returns the operator with its operands swapped: < becomes >,
// <= becomes >=; = and <> are symmetric.
func (op Op) Mirror() Op {
	switch op {
	case OpLessThan:
		return OpGreaterThan
	case OpLessThanOrEqual:
		return OpGreaterThanOrEqual
	case OpGreaterThan:
		return OpLessThan
	case OpGreaterThanOrEqual:
		return OpLessThanOrEqual
	default:
		return op
	}
}

// ConjunctionOp distinguishes AND from OR.
type ConjunctionOp int

const (
	// ConjunctionAnd requires all children to hold.
	ConjunctionAnd ConjunctionOp = iota
	// ConjunctionOr requires at least one child to hold.
	ConjunctionOr
)

// Node is implemented by every expression type.
type Node interface {
	isNode()
}

// Comparison is a binary comparison between two operands.
type Comparison struct {
	Op    Op
	Left  Node
	Right Node
}

// Conjunction is an AND/OR over two or more children.
type Conjunction struct {
	Op       ConjunctionOp
	Children []Node
}

// Not negates its child.
type Not struct {
	Child Node
}

// IsNull tests its child for null.
type IsNull struct {
	Child Node
}

// ColumnRef references a field by its schema name. The reserved name
// FIDName addresses the identifier pseudo-field.
type ColumnRef struct {
	Name string
}

// Literal is a typed constant. Supported dynamic types: bool, int, int32,
// int64, float32, float64, string, time.Time. A nil Value is the SQL NULL
// literal.
type Literal struct {
	Value any
}

func (*Comparison) isNode()  {}
func (*Conjunction) isNode() {}
func (*Not) isNode()         {}
func (*IsNull) isNode()      {}
func (*ColumnRef) isNode()   {}
func (*Literal) isNode()     {}

// And builds an AND conjunction.
func And(children ...Node) *Conjunction {
	return &Conjunction{Op: ConjunctionAnd, Children: children}
}

// Or builds an OR conjunction.
func Or(children ...Node) *Conjunction {
	return &Conjunction{Op: ConjunctionOr, Children: children}
}

// Col builds a column reference.
func Col(name string) *ColumnRef { return &ColumnRef{Name: name} }

// Lit builds a literal.
func Lit(v any) *Literal { return &Literal{Value: v} }

// Eq builds left = right.
func Eq(left, right Node) *Comparison {
	return &Comparison{Op: OpEqual, Left: left, Right: right}
}

// Ne builds left <> right.
func Ne(left, right Node) *Comparison {
	return &Comparison{Op: OpNotEqual, Left: left, Right: right}
}

// Lt builds left < right.
func Lt(left, right Node) *Comparison {
	return &Comparison{Op: OpLessThan, Left: left, Right: right}
}

// Le builds left <= right.
func Le(left, right Node) *Comparison {
	return &Comparison{Op: OpLessThanOrEqual, Left: left, Right: right}
}

// Gt builds left > right.
func Gt(left, right Node) *Comparison {
	return &Comparison{Op: OpGreaterThan, Left: left, Right: right}
}

// Ge builds left >= right.
func Ge(left, right Node) *Comparison {
	return &Comparison{Op: OpGreaterThanOrEqual, Left: left, Right: right}
}
