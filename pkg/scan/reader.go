package scan

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/feature"
	jsonpool "github.com/tesseradata/tessera/pkg/json"
)

// boundColumn is one column resolved against a batch: the leaf array plus
// any struct arrays crossed on the way, whose validity shadows the leaf.
type boundColumn struct {
	leaf    arrow.Array
	parents []*array.Struct
}

// bindColumn walks a definition path through the batch columns. Struct
// children come back sliced to the parent offset, so row indices stay
// aligned at every level.
func bindColumn(rec arrow.Record, path []int) (boundColumn, error) {
	if len(path) == 0 || path[0] < 0 || path[0] >= int(rec.NumCols()) {
		return boundColumn{}, errors.Newf(errors.ErrorTypeInternal,
			"column path %v outside batch with %d columns", path, rec.NumCols())
	}
	b := boundColumn{leaf: rec.Column(path[0])}
	for _, idx := range path[1:] {
		st, ok := b.leaf.(*array.Struct)
		if !ok {
			return boundColumn{}, errors.Newf(errors.ErrorTypeInternal,
				"column path %v crosses non-struct %s", path, b.leaf.DataType())
		}
		if idx < 0 || idx >= st.NumField() {
			return boundColumn{}, errors.Newf(errors.ErrorTypeInternal,
				"column path %v outside struct with %d children", path, st.NumField())
		}
		b.parents = append(b.parents, st)
		b.leaf = st.Field(idx)
	}
	return b, nil
}

func (b boundColumn) ok() bool { return b.leaf != nil }

// isNull reports whether the cell is null at any nesting level.
func (b boundColumn) isNull(row int) bool {
	for _, p := range b.parents {
		if p.IsNull(row) {
			return true
		}
	}
	return b.leaf.IsNull(row)
}

// fieldReader materializes one attribute field from batch rows. The read
// closure is chosen once per batch from the storage type, keeping the
// per-row path free of type dispatch.
type fieldReader struct {
	col  boundColumn
	read func(row int) (any, error)
}

func newFieldReader(fd *feature.FieldDefn, col boundColumn) (fieldReader, error) {
	read, err := valueReader(fd, col.leaf)
	if err != nil {
		return fieldReader{}, err
	}
	return fieldReader{col: col, read: read}, nil
}

func (r fieldReader) value(row int) (any, error) {
	if r.read == nil || r.col.isNull(row) {
		return nil, nil
	}
	return r.read(row)
}

// valueReader builds the storage-to-value closure for one field. The
// produced dynamic types follow the feature value contract: int32, int64,
// float64, string, []byte, time.Time and the four list slices.
func valueReader(fd *feature.FieldDefn, arr arrow.Array) (func(row int) (any, error), error) {
	switch a := arr.(type) {
	case *array.Null:
		return func(int) (any, error) { return nil, nil }, nil
	case *array.Boolean:
		return func(row int) (any, error) {
			if a.Value(row) {
				return int32(1), nil
			}
			return int32(0), nil
		}, nil
	case *array.Int8:
		return func(row int) (any, error) { return int32(a.Value(row)), nil }, nil
	case *array.Uint8:
		return func(row int) (any, error) { return int32(a.Value(row)), nil }, nil
	case *array.Int16:
		return func(row int) (any, error) { return int32(a.Value(row)), nil }, nil
	case *array.Uint16:
		return func(row int) (any, error) { return int32(a.Value(row)), nil }, nil
	case *array.Int32:
		return func(row int) (any, error) { return a.Value(row), nil }, nil
	case *array.Uint32:
		return func(row int) (any, error) { return int64(a.Value(row)), nil }, nil
	case *array.Int64:
		return func(row int) (any, error) { return a.Value(row), nil }, nil
	case *array.Uint64:
		return func(row int) (any, error) { return float64(a.Value(row)), nil }, nil
	case *array.Float16:
		return func(row int) (any, error) { return float64(a.Value(row).Float32()), nil }, nil
	case *array.Float32:
		return func(row int) (any, error) { return float64(a.Value(row)), nil }, nil
	case *array.Float64:
		return func(row int) (any, error) { return a.Value(row), nil }, nil
	case *array.String:
		return func(row int) (any, error) { return a.Value(row), nil }, nil
	case *array.LargeString:
		return func(row int) (any, error) { return a.Value(row), nil }, nil
	case *array.Binary:
		return func(row int) (any, error) { return a.Value(row), nil }, nil
	case *array.LargeBinary:
		return func(row int) (any, error) { return a.Value(row), nil }, nil
	case *array.FixedSizeBinary:
		return func(row int) (any, error) { return a.Value(row), nil }, nil
	case *array.Date32:
		return func(row int) (any, error) { return a.Value(row).ToTime(), nil }, nil
	case *array.Date64:
		return func(row int) (any, error) { return a.Value(row).ToTime(), nil }, nil
	case *array.Time32:
		unit := a.DataType().(*arrow.Time32Type).Unit
		return func(row int) (any, error) { return a.Value(row).ToTime(unit), nil }, nil
	case *array.Time64:
		// Sub-millisecond times are exposed as their raw integer count.
		return func(row int) (any, error) { return int64(a.Value(row)), nil }, nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		loc := feature.TZFlagToLocation(fd.TZFlag)
		return func(row int) (any, error) { return a.Value(row).ToTime(unit).In(loc), nil }, nil
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		return func(row int) (any, error) { return a.Value(row).ToFloat64(scale), nil }, nil
	case *array.Decimal256:
		scale := a.DataType().(*arrow.Decimal256Type).Scale
		return func(row int) (any, error) { return a.Value(row).ToFloat64(scale), nil }, nil
	case *array.Dictionary:
		if fd.Type == feature.FieldTypeInteger64 {
			return func(row int) (any, error) { return int64(a.GetValueIndex(row)), nil }, nil
		}
		return func(row int) (any, error) { return int32(a.GetValueIndex(row)), nil }, nil
	case *array.List:
		if fd.Subtype == feature.SubtypeJSON {
			return func(row int) (any, error) { return jsonCell(a, row) }, nil
		}
		return listReader(fd, a.ListValues(), listBounds(a))
	case *array.LargeList:
		if fd.Subtype == feature.SubtypeJSON {
			return func(row int) (any, error) { return jsonCell(a, row) }, nil
		}
		return listReader(fd, a.ListValues(), largeListBounds(a))
	case *array.FixedSizeList:
		if fd.Subtype == feature.SubtypeJSON {
			return func(row int) (any, error) { return jsonCell(a, row) }, nil
		}
		return listReader(fd, a.ListValues(), fixedSizeListBounds(a))
	case *array.Map:
		return func(row int) (any, error) { return jsonCell(a, row) }, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal,
			"field %s: no reader for storage type %s", fd.Name, arr.DataType())
	}
}

func listBounds(a *array.List) func(row int) (int64, int64) {
	return func(row int) (int64, int64) { return a.ValueOffsets(row) }
}

func largeListBounds(a *array.LargeList) func(row int) (int64, int64) {
	return func(row int) (int64, int64) { return a.ValueOffsets(row) }
}

func fixedSizeListBounds(a *array.FixedSizeList) func(row int) (int64, int64) {
	n := int64(a.DataType().(*arrow.FixedSizeListType).Len())
	off := int64(a.Offset())
	return func(row int) (int64, int64) {
		start := (off + int64(row)) * n
		return start, start + n
	}
}

// listReader builds the element-wise reader for one of the four list field
// types. Null elements collapse to the zero value, since list values carry
// no per-element validity.
func listReader(fd *feature.FieldDefn, values arrow.Array, bounds func(int) (int64, int64)) (func(row int) (any, error), error) {
	switch fd.Type {
	case feature.FieldTypeIntegerList:
		elem, err := intElemReader(values)
		if err != nil {
			return nil, err
		}
		return func(row int) (any, error) {
			start, end := bounds(row)
			out := make([]int32, 0, end-start)
			for j := start; j < end; j++ {
				if values.IsNull(int(j)) {
					out = append(out, 0)
					continue
				}
				out = append(out, int32(elem(int(j))))
			}
			return out, nil
		}, nil
	case feature.FieldTypeInteger64List:
		elem, err := intElemReader(values)
		if err != nil {
			return nil, err
		}
		return func(row int) (any, error) {
			start, end := bounds(row)
			out := make([]int64, 0, end-start)
			for j := start; j < end; j++ {
				if values.IsNull(int(j)) {
					out = append(out, 0)
					continue
				}
				out = append(out, elem(int(j)))
			}
			return out, nil
		}, nil
	case feature.FieldTypeRealList:
		elem, err := floatElemReader(values)
		if err != nil {
			return nil, err
		}
		return func(row int) (any, error) {
			start, end := bounds(row)
			out := make([]float64, 0, end-start)
			for j := start; j < end; j++ {
				if values.IsNull(int(j)) {
					out = append(out, 0)
					continue
				}
				out = append(out, elem(int(j)))
			}
			return out, nil
		}, nil
	case feature.FieldTypeStringList:
		elem, err := stringElemReader(values)
		if err != nil {
			return nil, err
		}
		return func(row int) (any, error) {
			start, end := bounds(row)
			out := make([]string, 0, end-start)
			for j := start; j < end; j++ {
				if values.IsNull(int(j)) {
					out = append(out, "")
					continue
				}
				out = append(out, elem(int(j)))
			}
			return out, nil
		}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal,
			"field %s: list storage mapped to non-list type %s", fd.Name, fd.Type)
	}
}

// intElemReader covers every element type the mapper admits into integer
// and wide-integer lists.
func intElemReader(values arrow.Array) (func(j int) int64, error) {
	switch v := values.(type) {
	case *array.Boolean:
		return func(j int) int64 {
			if v.Value(j) {
				return 1
			}
			return 0
		}, nil
	case *array.Int8:
		return func(j int) int64 { return int64(v.Value(j)) }, nil
	case *array.Uint8:
		return func(j int) int64 { return int64(v.Value(j)) }, nil
	case *array.Int16:
		return func(j int) int64 { return int64(v.Value(j)) }, nil
	case *array.Uint16:
		return func(j int) int64 { return int64(v.Value(j)) }, nil
	case *array.Int32:
		return func(j int) int64 { return int64(v.Value(j)) }, nil
	case *array.Uint32:
		return func(j int) int64 { return int64(v.Value(j)) }, nil
	case *array.Int64:
		return v.Value, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal,
			"no integer reading of list elements stored as %s", values.DataType())
	}
}

func floatElemReader(values arrow.Array) (func(j int) float64, error) {
	switch v := values.(type) {
	case *array.Uint64:
		return func(j int) float64 { return float64(v.Value(j)) }, nil
	case *array.Float16:
		return func(j int) float64 { return float64(v.Value(j).Float32()) }, nil
	case *array.Float32:
		return func(j int) float64 { return float64(v.Value(j)) }, nil
	case *array.Float64:
		return v.Value, nil
	case *array.Decimal128:
		scale := v.DataType().(*arrow.Decimal128Type).Scale
		return func(j int) float64 { return v.Value(j).ToFloat64(scale) }, nil
	case *array.Decimal256:
		scale := v.DataType().(*arrow.Decimal256Type).Scale
		return func(j int) float64 { return v.Value(j).ToFloat64(scale) }, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal,
			"no real reading of list elements stored as %s", values.DataType())
	}
}

func stringElemReader(values arrow.Array) (func(j int) string, error) {
	switch v := values.(type) {
	case *array.String:
		return v.Value, nil
	case *array.LargeString:
		return v.Value, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal,
			"no string reading of list elements stored as %s", values.DataType())
	}
}

// jsonCell renders one nested cell as compact JSON text, the value form of
// complex fields mapped to a stringified type.
func jsonCell(arr arrow.Array, row int) (any, error) {
	v, err := jsonValueAt(arr, row)
	if err != nil {
		return nil, err
	}
	data, err := jsonpool.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "rendering nested value")
	}
	return string(data), nil
}

// jsonValueAt converts one cell of a nested column into plain Go values:
// lists become arrays, structs and maps become objects, nulls stay null.
func jsonValueAt(arr arrow.Array, i int) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int8:
		return int64(a.Value(i)), nil
	case *array.Uint8:
		return int64(a.Value(i)), nil
	case *array.Int16:
		return int64(a.Value(i)), nil
	case *array.Uint16:
		return int64(a.Value(i)), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Uint32:
		return int64(a.Value(i)), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Uint64:
		return a.Value(i), nil
	case *array.Float16:
		return float64(a.Value(i).Float32()), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.LargeString:
		return a.Value(i), nil
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		return a.Value(i).ToFloat64(scale), nil
	case *array.Decimal256:
		scale := a.DataType().(*arrow.Decimal256Type).Scale
		return a.Value(i).ToFloat64(scale), nil
	case *array.List:
		start, end := a.ValueOffsets(i)
		return jsonSlice(a.ListValues(), start, end)
	case *array.LargeList:
		start, end := a.ValueOffsets(i)
		return jsonSlice(a.ListValues(), start, end)
	case *array.FixedSizeList:
		n := int64(a.DataType().(*arrow.FixedSizeListType).Len())
		start := (int64(a.Offset()) + int64(i)) * n
		return jsonSlice(a.ListValues(), start, start+n)
	case *array.Struct:
		st := a.DataType().(*arrow.StructType)
		obj := make(map[string]any, a.NumField())
		for k := 0; k < a.NumField(); k++ {
			v, err := jsonValueAt(a.Field(k), i)
			if err != nil {
				return nil, err
			}
			obj[st.Field(k).Name] = v
		}
		return obj, nil
	case *array.Map:
		keys, ok := a.Keys().(*array.String)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeInternal,
				"map keys are %s, expected utf8", a.Keys().DataType())
		}
		start, end := a.ValueOffsets(i)
		items := a.Items()
		obj := make(map[string]any, end-start)
		for j := start; j < end; j++ {
			v, err := jsonValueAt(items, int(j))
			if err != nil {
				return nil, err
			}
			obj[keys.Value(int(j))] = v
		}
		return obj, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeInternal,
			"no JSON rendering of values stored as %s", arr.DataType())
	}
}

func jsonSlice(values arrow.Array, start, end int64) (any, error) {
	out := make([]any, 0, end-start)
	for j := start; j < end; j++ {
		v, err := jsonValueAt(values, int(j))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
