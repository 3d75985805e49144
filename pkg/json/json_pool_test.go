package json

import (
	"bytes"
	stdjson "encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	ID    string   `json:"id"`
	Value float64  `json:"value"`
	Tags  []string `json:"tags"`
}

func TestMarshalRoundTrip(t *testing.T) {
	in := testDoc{ID: "route-7", Value: 42.5, Tags: []string{"paved", "oneway"}}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out testDoc
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)

	// Output stays compatible with the standard library.
	var std testDoc
	require.NoError(t, stdjson.Unmarshal(data, &std))
	assert.Equal(t, in, std)
}

func TestMarshalToWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, MarshalToWriter(&buf, map[string]int{"rows": 3}))
	assert.Equal(t, "{\"rows\":3}\n", buf.String())
}

func TestRawMessageEmbedsVerbatim(t *testing.T) {
	doc := map[string]interface{}{
		"geometry": RawMessage(`{"type":"Point","coordinates":[1,2]}`),
	}
	data, err := Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"geometry":{"type":"Point","coordinates":[1,2]}}`, string(data))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]byte(`{"a":[1,2,3]}`)))
	assert.False(t, Valid([]byte(`{"a":`)))
}

func TestBufferPoolReuse(t *testing.T) {
	buf := GetBuffer()
	buf.WriteString("scratch")
	PutBuffer(buf)

	again := GetBuffer()
	assert.Zero(t, again.Len())
	PutBuffer(again)
}

func BenchmarkMarshal(b *testing.B) {
	doc := testDoc{ID: "route-7", Value: 42.5, Tags: []string{"paved", "oneway"}}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Marshal(doc); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPooledEncoder(b *testing.B) {
	doc := testDoc{ID: "route-7", Value: 42.5, Tags: []string{"paved", "oneway"}}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := GetBuffer()
		enc := GetEncoder(buf)
		if err := enc.Encode(doc); err != nil {
			b.Fatal(err)
		}
		PutEncoder(enc)
		PutBuffer(buf)
	}
}
