package geoarrow

import (
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/tesseradata/tessera/pkg/errors"
)

// defaultWKBSize is the per-row estimate used to presize the shared output
// buffer before the first translation.
const defaultWKBSize = 100

// TranslateWKTColumn builds a binary WKB column from a string WKT column
// (either offset width). Translation streams into one output buffer shared
// by all rows, doubling its capacity as needed up to the maximum 32-bit
// offset; a batch whose cumulative WKB exceeds that cap fails with a "too
// large" Export error rather than returning a corrupt array. The validity
// bitmap is copied bit for bit, re-based when the source array carries a
// nonzero offset. Null and empty cells produce zero-length runs; malformed
// text aborts the whole build.
func TranslateWKTColumn(src arrow.Array) (*array.Binary, error) {
	var vals stringLike
	switch s := src.(type) {
	case *array.String:
		vals = s
	case *array.LargeString:
		vals = s
	default:
		return nil, errors.Newf(errors.ErrorTypeExport, "wkt translation requires a string column, got %s", src.DataType())
	}
	n := src.Len()

	var validity []byte
	if src.NullN() > 0 {
		validity = make([]byte, (n+7)/8)
		bitutil.CopyBitmap(src.Data().Buffers()[0].Bytes(), src.Data().Offset(), n, validity, 0)
	}

	offsets := make([]int32, n+1)
	initial := int64(n) * defaultWKBSize
	if initial > math.MaxInt32 {
		initial = math.MaxInt32
	}
	out := &wkbAppendBuffer{b: make([]byte, 0, initial)}

	for i := 0; i < n; i++ {
		offsets[i] = int32(len(out.b))
		if src.IsNull(i) {
			continue
		}
		s := vals.Value(i)
		if s == "" {
			continue
		}
		g, err := wkt.Unmarshal(s)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeExport, "malformed wkt content during translation")
		}
		if err := wkb.Write(out, wkb.NDR, g); err != nil {
			var tessErr *errors.Error
			if errors.As(err, &tessErr) {
				return nil, tessErr
			}
			return nil, errors.Wrap(err, errors.ErrorTypeExport, "wkb encoding failed during translation")
		}
	}
	offsets[n] = int32(len(out.b))

	bufs := []*memory.Buffer{nil,
		memory.NewBufferBytes(arrow.Int32Traits.CastToBytes(offsets)),
		memory.NewBufferBytes(out.b),
	}
	if validity != nil {
		bufs[0] = memory.NewBufferBytes(validity)
	}
	data := array.NewData(arrow.BinaryTypes.Binary, n, bufs, nil, src.NullN(), 0)
	defer data.Release()
	return array.NewBinaryData(data), nil
}

// wkbAppendBuffer grows by doubling, capped at the maximum representable
// 32-bit offset so the resulting binary array stays well formed.
type wkbAppendBuffer struct {
	b []byte
}

func (w *wkbAppendBuffer) Write(p []byte) (int, error) {
	if len(p) > math.MaxInt32-len(w.b) {
		return 0, errors.New(errors.ErrorTypeExport, "too large wkt content: cumulative wkb exceeds 32-bit offsets")
	}
	if need := len(w.b) + len(p); need > cap(w.b) {
		newCap := 2 * cap(w.b)
		if newCap > math.MaxInt32 {
			newCap = math.MaxInt32
		}
		if newCap < need {
			newCap = need
		}
		grown := make([]byte, len(w.b), newCap)
		copy(grown, w.b)
		w.b = grown
	}
	w.b = append(w.b, p...)
	return len(p), nil
}
