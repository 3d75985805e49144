// Package testutil builds the small geospatial Arrow fixtures shared by
// command and integration tests.
package testutil

import (
	"os"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/tesseradata/tessera/pkg/geoarrow"
)

// PointWKB encodes an XY point as little-endian WKB.
func PointWKB(t *testing.T, x, y float64) []byte {
	t.Helper()
	data, err := wkb.Marshal(geom.NewPointFlat(geom.XY, []float64{x, y}), wkb.NDR)
	require.NoError(t, err)
	return data
}

// RoadsSchema returns the canonical three-column fixture schema: an int64
// fid, a nullable name, and a WKB geometry column tagged ogc.wkb.
func RoadsSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "fid", Type: arrow.PrimitiveTypes.Int64},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "geometry", Type: arrow.BinaryTypes.Binary, Nullable: true,
			Metadata: arrow.NewMetadata([]string{geoarrow.ExtensionNameKey}, []string{geoarrow.ExtensionOGCWKB})},
	}, nil)
}

// BuildRecord runs populate against a fresh record builder for sch and
// returns the batch, released through t.Cleanup.
func BuildRecord(t *testing.T, sch *arrow.Schema, populate func(*array.RecordBuilder)) arrow.Record {
	t.Helper()
	b := array.NewRecordBuilder(memory.NewGoAllocator(), sch)
	defer b.Release()
	populate(b)
	rec := b.NewRecord()
	t.Cleanup(func() { rec.Release() })
	return rec
}

// RoadsBatch builds one batch of the roads fixture. An empty name becomes
// a null cell, a nil point becomes a null geometry.
func RoadsBatch(t *testing.T, fids []int64, names []string, points [][2]float64, nullGeom []bool) arrow.Record {
	t.Helper()
	return BuildRecord(t, RoadsSchema(), func(b *array.RecordBuilder) {
		b.Field(0).(*array.Int64Builder).AppendValues(fids, nil)
		nb := b.Field(1).(*array.StringBuilder)
		for _, name := range names {
			if name == "" {
				nb.AppendNull()
				continue
			}
			nb.Append(name)
		}
		gb := b.Field(2).(*array.BinaryBuilder)
		for i, pt := range points {
			if nullGeom != nil && nullGeom[i] {
				gb.AppendNull()
				continue
			}
			gb.Append(PointWKB(t, pt[0], pt[1]))
		}
	})
}

// WriteIPCFile writes batches to path in the random-access file format.
func WriteIPCFile(t *testing.T, path string, sch *arrow.Schema, recs ...arrow.Record) {
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

// WriteIPCStream writes batches to path in the stream format.
func WriteIPCStream(t *testing.T, path string, sch *arrow.Schema, recs ...arrow.Record) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	w := ipc.NewWriter(f, ipc.WithSchema(sch), ipc.WithAllocator(memory.NewGoAllocator()))
	for _, rec := range recs {
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
}

// RoadsFile writes the five-road fixture to dir as an IPC file and returns
// its path. Row two has a null name, row three a null geometry.
func RoadsFile(t *testing.T, dir, name string) string {
	t.Helper()
	sch := RoadsSchema()
	rec := RoadsBatch(t,
		[]int64{1, 2, 3, 4, 5},
		[]string{"alpha", "", "gamma", "delta", "epsilon"},
		[][2]float64{{1, 1}, {2, 2}, {0, 0}, {4, 4}, {5, 5}},
		[]bool{false, false, true, false, false},
	)
	path := dir + "/" + name
	WriteIPCFile(t, path, sch, rec)
	return path
}
