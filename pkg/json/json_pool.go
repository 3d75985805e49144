// Package json wraps goccy/go-json behind pooled encoders and buffers. The
// hot paths (schema metadata parsing, GeoJSON and Avro schema rendering)
// marshal many small documents, so encoders and scratch buffers are reused.
package json

import (
	"bytes"
	"io"
	"sync"

	gojson "github.com/goccy/go-json"
)

// RawMessage is a pre-encoded JSON document embedded verbatim.
type RawMessage = gojson.RawMessage

var (
	encoderPool = sync.Pool{
		New: func() interface{} {
			return &pooledEncoder{
				buffer: bytes.NewBuffer(make([]byte, 0, 4096)),
			}
		},
	}
	bufferPool = sync.Pool{
		New: func() interface{} {
			return bytes.NewBuffer(make([]byte, 0, 4096))
		},
	}
)

// pooledEncoder wraps a JSON encoder with a reusable buffer.
type pooledEncoder struct {
	encoder *gojson.Encoder
	buffer  *bytes.Buffer
}

// GetEncoder gets a pooled JSON encoder writing to w.
func GetEncoder(w io.Writer) *gojson.Encoder {
	pe := encoderPool.Get().(*pooledEncoder)
	pe.buffer.Reset()

	pe.encoder = gojson.NewEncoder(w)
	pe.encoder.SetEscapeHTML(false)

	return pe.encoder
}

// PutEncoder returns an encoder to the pool.
func PutEncoder(enc *gojson.Encoder) {
	encoderPool.Put(&pooledEncoder{
		encoder: enc,
		buffer:  bytes.NewBuffer(make([]byte, 0, 4096)),
	})
}

// GetBuffer gets a pooled bytes.Buffer.
func GetBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool.
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 { // Don't pool very large buffers
		return
	}
	bufferPool.Put(buf)
}

// Marshal is a drop-in replacement for encoding/json.Marshal.
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for encoding/json.Unmarshal.
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is a drop-in replacement for encoding/json.MarshalIndent.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Valid reports whether data is a well-formed JSON document.
func Valid(data []byte) bool {
	return gojson.Valid(data)
}

// MarshalToWriter marshals v directly to a writer using a pooled encoder.
// A trailing newline is written after the document.
func MarshalToWriter(w io.Writer, v interface{}) error {
	enc := GetEncoder(w)
	defer PutEncoder(enc)

	return enc.Encode(v)
}
