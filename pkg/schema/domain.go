package schema

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/feature"
)

// BuildDomainFromColumn materializes a coded-value domain from the
// dictionary of a column taken from a loaded batch. Codes are the dictionary
// index positions; null dictionary entries are skipped. The schema walk only
// registers domains for string-valued dictionaries, so anything else here is
// a schema/batch disagreement.
func BuildDomainFromColumn(name string, col arrow.Array) (*feature.CodedDomain, error) {
	dict, ok := col.(*array.Dictionary)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeSchema,
			"column backing domain %s is not dictionary-encoded but %s", name, col.DataType())
	}
	values, ok := dict.Dictionary().(*array.String)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeSchema,
			"dictionary values backing domain %s are not strings but %s", name, dict.Dictionary().DataType())
	}
	dom := &feature.CodedDomain{Name: name}
	for i := 0; i < values.Len(); i++ {
		if values.IsNull(i) {
			continue
		}
		dom.Entries = append(dom.Entries, feature.CodedEntry{Code: int64(i), Value: values.Value(i)})
	}
	return dom, nil
}
