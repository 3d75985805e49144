package expr

import (
	"strings"
	"time"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/feature"
)

// Evaluate runs a predicate tree against a decoded feature. It is the
// correctness boundary: columnar pushdown only pre-filters rows this
// function would reject anyway.
//
// Null handling follows the engine's SQL dialect rather than strict
// three-valued SQL: a null operand fails every comparison except not-equal,
// which it passes. Rows with null fields are therefore excluded by = < <= >
// >= and kept by <>, unless the predicate guards with IS NOT NULL.
func Evaluate(n Node, f *feature.Feature) (bool, error) {
	switch e := n.(type) {
	case *Conjunction:
		return evalConjunction(e, f)
	case *Not:
		v, err := Evaluate(e.Child, f)
		if err != nil {
			return false, err
		}
		return !v, nil
	case *IsNull:
		_, null, err := evalOperand(e.Child, f)
		if err != nil {
			return false, err
		}
		return null, nil
	case *Comparison:
		return evalComparison(e, f)
	default:
		return false, errors.Newf(errors.ErrorTypeFilter, "node %T is not a boolean expression", n)
	}
}

func evalConjunction(e *Conjunction, f *feature.Feature) (bool, error) {
	for _, child := range e.Children {
		v, err := Evaluate(child, f)
		if err != nil {
			return false, err
		}
		if e.Op == ConjunctionAnd && !v {
			return false, nil
		}
		if e.Op == ConjunctionOr && v {
			return true, nil
		}
	}
	// AND saw only trues, OR only falses.
	return e.Op == ConjunctionAnd, nil
}

func evalComparison(e *Comparison, f *feature.Feature) (bool, error) {
	lv, lnull, err := evalOperand(e.Left, f)
	if err != nil {
		return false, err
	}
	rv, rnull, err := evalOperand(e.Right, f)
	if err != nil {
		return false, err
	}
	if lnull || rnull {
		return e.Op == OpNotEqual, nil
	}
	cmp, err := compareValues(lv, rv)
	if err != nil {
		return false, err
	}
	switch e.Op {
	case OpEqual:
		return cmp == 0, nil
	case OpNotEqual:
		return cmp != 0, nil
	case OpLessThan:
		return cmp < 0, nil
	case OpLessThanOrEqual:
		return cmp <= 0, nil
	case OpGreaterThan:
		return cmp > 0, nil
	case OpGreaterThanOrEqual:
		return cmp >= 0, nil
	default:
		return false, errors.Newf(errors.ErrorTypeFilter, "unsupported comparison operator %v", e.Op)
	}
}

// evalOperand resolves a leaf operand to (value, isNull, err).
func evalOperand(n Node, f *feature.Feature) (any, bool, error) {
	switch e := n.(type) {
	case *Literal:
		return e.Value, e.Value == nil, nil
	case *ColumnRef:
		return columnValue(e.Name, f)
	default:
		return nil, false, errors.Newf(errors.ErrorTypeFilter, "operand %T is not a column or literal", n)
	}
}

func columnValue(name string, f *feature.Feature) (any, bool, error) {
	defn := f.Definition()
	if isFIDRef(name, defn) {
		if f.FID == feature.NullFID {
			return nil, true, nil
		}
		return f.FID, false, nil
	}
	idx := defn.FieldIndex(name)
	if idx < 0 {
		return nil, false, errors.New(errors.ErrorTypeFilter, "unknown field "+name)
	}
	if f.IsNull(idx) {
		return nil, true, nil
	}
	return f.Values[idx], false, nil
}

func isFIDRef(name string, defn *feature.Definition) bool {
	if defn.FIDColumn != "" && name == defn.FIDColumn {
		return true
	}
	return strings.EqualFold(name, FIDName)
}

// compareValues orders two non-null values, promoting numeric operands to
// the wider type. Returns <0, 0 or >0.
func compareValues(a, b any) (int, error) {
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return strings.Compare(as, bs), nil
		}
	}
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			return at.Compare(bt), nil
		}
	}
	af, aIsFloat, aok := asNumber(a)
	bf, bIsFloat, bok := asNumber(b)
	if !aok || !bok {
		return 0, errors.Newf(errors.ErrorTypeFilter, "cannot compare %T with %T", a, b)
	}
	if aIsFloat || bIsFloat {
		av, bv := toFloat(a), toFloat(b)
		switch {
		case av < bv:
			return -1, nil
		case av > bv:
			return 1, nil
		default:
			return 0, nil
		}
	}
	switch {
	case af < bf:
		return -1, nil
	case af > bf:
		return 1, nil
	default:
		return 0, nil
	}
}

// asNumber returns the value as int64 plus whether it is floating point.
func asNumber(v any) (int64, bool, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, false, true
		}
		return 0, false, true
	case int:
		return int64(n), false, true
	case int32:
		return int64(n), false, true
	case int64:
		return n, false, true
	case float32:
		return int64(n), true, true
	case float64:
		return int64(n), true, true
	default:
		return 0, false, false
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case bool:
		if n {
			return 1
		}
		return 0
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
