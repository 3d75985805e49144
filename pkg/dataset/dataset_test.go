package dataset

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/tesseradata/tessera/pkg/compression"
	"github.com/tesseradata/tessera/pkg/errors"
	"github.com/tesseradata/tessera/pkg/feature"
	"github.com/tesseradata/tessera/pkg/geoarrow"
	"github.com/tesseradata/tessera/pkg/scan"
)

func roadsSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "fid", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "geometry", Type: arrow.BinaryTypes.Binary, Nullable: true,
			Metadata: arrow.NewMetadata([]string{geoarrow.ExtensionNameKey}, []string{geoarrow.ExtensionOGCWKB})},
	}, nil)
}

func wkbPoint(t *testing.T, x, y float64) []byte {
	t.Helper()
	data, err := wkb.Marshal(geom.NewPointFlat(geom.XY, []float64{x, y}), wkb.NDR)
	require.NoError(t, err)
	return data
}

func buildRecord(t *testing.T, sch *arrow.Schema, populate func(b *array.RecordBuilder)) arrow.Record {
	t.Helper()
	b := array.NewRecordBuilder(memory.NewGoAllocator(), sch)
	defer b.Release()
	populate(b)
	rec := b.NewRecord()
	t.Cleanup(func() { rec.Release() })
	return rec
}

// roadsBatches builds two batches of the five-road fixture.
func roadsBatches(t *testing.T, sch *arrow.Schema) []arrow.Record {
	t.Helper()
	rec1 := buildRecord(t, sch, func(b *array.RecordBuilder) {
		b.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2, 3}, nil)
		b.Field(1).(*array.StringBuilder).AppendValues([]string{"alpha", "", "gamma"}, []bool{true, false, true})
		gb := b.Field(2).(*array.BinaryBuilder)
		gb.Append(wkbPoint(t, 1, 1))
		gb.AppendNull()
		gb.Append(wkbPoint(t, 3, 3))
	})
	rec2 := buildRecord(t, sch, func(b *array.RecordBuilder) {
		b.Field(0).(*array.Int64Builder).AppendValues([]int64{4, 5}, nil)
		b.Field(1).(*array.StringBuilder).AppendValues([]string{"delta", "epsilon"}, nil)
		gb := b.Field(2).(*array.BinaryBuilder)
		gb.Append(wkbPoint(t, 4, 4))
		gb.Append(wkbPoint(t, 5, 5))
	})
	return []arrow.Record{rec1, rec2}
}

// writeFileIPC writes batches to path in the random-access file format.
func writeFileIPC(t *testing.T, path string, sch *arrow.Schema, recs ...arrow.Record) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(sch), ipc.WithAllocator(memory.NewGoAllocator()))
	require.NoError(t, err)
	for _, rec := range recs {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

// streamIPCBytes serializes batches in the stream format.
func streamIPCBytes(t *testing.T, sch *arrow.Schema, recs ...arrow.Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(sch), ipc.WithAllocator(memory.NewGoAllocator()))
	for _, rec := range recs {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func openRoadsFile(t *testing.T, opts Options) *Dataset {
	t.Helper()
	sch := roadsSchema()
	path := filepath.Join(t.TempDir(), "roads.arrow")
	writeFileIPC(t, path, sch, roadsBatches(t, sch)...)
	if opts.FIDColumn == "" {
		opts.FIDColumn = "fid"
	}
	ds, err := Open(context.Background(), path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return ds
}

func drainFIDs(t *testing.T, cur *scan.Cursor) []int64 {
	t.Helper()
	var fids []int64
	for {
		f, err := cur.Next(context.Background())
		if err == io.EOF {
			return fids
		}
		require.NoError(t, err)
		fids = append(fids, f.FID)
	}
}

func TestOpenFileFormat(t *testing.T) {
	ds := openRoadsFile(t, Options{})

	assert.Equal(t, "roads", ds.Name())
	assert.Equal(t, 3, ds.Schema().NumFields())

	defn := ds.Definition()
	require.Len(t, defn.Fields, 1)
	assert.Equal(t, "name", defn.Fields[0].Name)
	require.Len(t, defn.GeomFields, 1)
	assert.Equal(t, feature.EncodingWKB, defn.GeomFields[0].Encoding)
	assert.Equal(t, "fid", defn.FIDColumn)

	cur, err := ds.Cursor(scan.Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, drainFIDs(t, cur))
}

func TestOpenNameOverride(t *testing.T) {
	ds := openRoadsFile(t, Options{Name: "custom"})
	assert.Equal(t, "custom", ds.Name())
	assert.Equal(t, "custom", ds.Definition().Name)
}

func TestCursorRewinds(t *testing.T) {
	ds := openRoadsFile(t, Options{})

	first, err := ds.Cursor(scan.Options{})
	require.NoError(t, err)
	f, err := first.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.FID)

	// A second cursor starts over even though the first consumed rows.
	second, err := ds.Cursor(scan.Options{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, drainFIDs(t, second))
}

func TestOpenStreamFormat(t *testing.T) {
	sch := roadsSchema()
	data := streamIPCBytes(t, sch, roadsBatches(t, sch)...)
	path := filepath.Join(t.TempDir(), "roads.arrows")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	ds, err := Open(context.Background(), path, Options{FIDColumn: "fid"})
	require.NoError(t, err)
	defer ds.Close()

	assert.Equal(t, "roads", ds.Name())

	// Stream sources rewind by re-reading the payload.
	for i := 0; i < 2; i++ {
		cur, err := ds.Cursor(scan.Options{})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2, 3, 4, 5}, drainFIDs(t, cur))
	}
}

func TestOpenCompressed(t *testing.T) {
	sch := roadsSchema()
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw.arrow")
	writeFileIPC(t, raw, sch, roadsBatches(t, sch)...)
	ipcBytes, err := os.ReadFile(raw)
	require.NoError(t, err)

	for _, tc := range []struct {
		alg compression.Algorithm
		ext string
	}{
		{compression.Gzip, ".gz"},
		{compression.Zstd, ".zst"},
		{compression.LZ4, ".lz4"},
		{compression.S2, ".s2"},
	} {
		t.Run(string(tc.alg), func(t *testing.T) {
			path := filepath.Join(dir, "roads.arrow"+tc.ext)
			f, err := os.Create(path)
			require.NoError(t, err)
			w, err := compression.NewWriter(f, tc.alg, compression.Default)
			require.NoError(t, err)
			_, err = w.Write(ipcBytes)
			require.NoError(t, err)
			require.NoError(t, w.Close())
			require.NoError(t, f.Close())

			ds, err := Open(context.Background(), path, Options{FIDColumn: "fid"})
			require.NoError(t, err)
			defer ds.Close()

			assert.Equal(t, "roads", ds.Name())
			cur, err := ds.Cursor(scan.Options{})
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 2, 3, 4, 5}, drainFIDs(t, cur))
		})
	}
}

func TestOpenFileURI(t *testing.T) {
	sch := roadsSchema()
	path := filepath.Join(t.TempDir(), "roads.arrow")
	writeFileIPC(t, path, sch, roadsBatches(t, sch)...)

	ds, err := Open(context.Background(), "file://"+path, Options{})
	require.NoError(t, err)
	defer ds.Close()
	assert.Equal(t, "roads", ds.Name())
}

func TestOpenUnknownScheme(t *testing.T) {
	_, err := Open(context.Background(), "ftp://host/roads.arrow", Options{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "absent.arrow"), Options{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIO))
}

func TestOpenGarbagePayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.arrow")
	require.NoError(t, os.WriteFile(path, []byte("this is not an ipc payload"), 0o644))

	_, err := Open(context.Background(), path, Options{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestDeriveName(t *testing.T) {
	for uri, want := range map[string]string{
		"roads.arrow":                   "roads",
		"/data/parks.arrow.zst":         "parks",
		"s3://bucket/key/rivers.arrows": "rivers",
		"gs://bucket/lakes.arrow.gz":    "lakes",
		"plain":                         "plain",
		"":                              "dataset",
	} {
		assert.Equal(t, want, DeriveName(uri), "uri %q", uri)
	}
}
