package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesseradata/tessera/pkg/compression"
	"github.com/tesseradata/tessera/pkg/dataset"
	"github.com/tesseradata/tessera/pkg/scan"
	"github.com/tesseradata/tessera/pkg/testutil"
)

// runCLI executes the root command with a hermetic home directory and
// returns stdout, stderr, and the execution error.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

type featureCollection struct {
	Type     string `json:"type"`
	Features []struct {
		ID       *int64 `json:"id"`
		Geometry *struct {
			Type        string    `json:"type"`
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]any `json:"properties"`
	} `json:"features"`
}

func parseFeatureCollection(t *testing.T, data []byte) featureCollection {
	t.Helper()
	var fc featureCollection
	require.NoError(t, json.Unmarshal(data, &fc))
	require.Equal(t, "FeatureCollection", fc.Type)
	return fc
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Tessera v")
	assert.Contains(t, out, "Go version:")
}

func TestInfoJSON(t *testing.T) {
	path := testutil.RoadsFile(t, t.TempDir(), "roads.arrow")

	out, _, err := runCLI(t, "info", path, "--fid-column", "fid",
		"--json", "--count", "--extent", "--probe")
	require.NoError(t, err)

	var doc infoDoc
	require.NoError(t, json.Unmarshal([]byte(out), &doc))

	assert.Equal(t, "roads", doc.Name)
	assert.Equal(t, "fid", doc.FIDColumn)
	require.NotNil(t, doc.Count)
	assert.Equal(t, int64(5), *doc.Count)

	require.Len(t, doc.Fields, 1)
	assert.Equal(t, "name", doc.Fields[0].Name)
	assert.Equal(t, "string", doc.Fields[0].Type)

	require.Len(t, doc.GeomFields, 1)
	g := doc.GeomFields[0]
	assert.Equal(t, "geometry", g.Name)
	assert.Equal(t, "Point", g.Type) // resolved by --probe
	assert.Equal(t, "geoarrow.wkb", g.Encoding)
	require.NotNil(t, g.Extent)
	assert.Equal(t, [4]float64{1, 1, 5, 5}, *g.Extent)
}

func TestInfoHumanReadable(t *testing.T) {
	path := testutil.RoadsFile(t, t.TempDir(), "roads.arrow")

	out, _, err := runCLI(t, "info", path, "--fid-column", "fid")
	require.NoError(t, err)
	assert.Contains(t, out, "Dataset: roads")
	assert.Contains(t, out, "FID:     fid")
	assert.Contains(t, out, "- name: string")
	assert.Contains(t, out, "Geometry fields (1):")
}

func TestScanCount(t *testing.T) {
	path := testutil.RoadsFile(t, t.TempDir(), "roads.arrow")

	out, _, err := runCLI(t, "scan", path, "--fid-column", "fid",
		"--count", "--where", "fid > 2")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)
}

func TestScanNullFilter(t *testing.T) {
	path := testutil.RoadsFile(t, t.TempDir(), "roads.arrow")

	out, _, err := runCLI(t, "scan", path, "--fid-column", "fid",
		"--count", "--where", "name IS NULL")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestScanBBox(t *testing.T) {
	path := testutil.RoadsFile(t, t.TempDir(), "roads.arrow")

	out, _, err := runCLI(t, "scan", path, "--fid-column", "fid",
		"--count", "--bbox", "0.5,0.5,2.5,2.5")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
}

func TestScanGeoJSON(t *testing.T) {
	path := testutil.RoadsFile(t, t.TempDir(), "roads.arrow")

	out, _, err := runCLI(t, "scan", path, "--fid-column", "fid")
	require.NoError(t, err)

	fc := parseFeatureCollection(t, []byte(out))
	require.Len(t, fc.Features, 5)

	first := fc.Features[0]
	require.NotNil(t, first.ID)
	assert.Equal(t, int64(1), *first.ID)
	require.NotNil(t, first.Geometry)
	assert.Equal(t, "Point", first.Geometry.Type)
	assert.Equal(t, []float64{1, 1}, first.Geometry.Coordinates)
	assert.Equal(t, "alpha", first.Properties["name"])

	// Row two has a null name, row three a null geometry.
	assert.NotContains(t, fc.Features[1].Properties, "name")
	assert.Nil(t, fc.Features[2].Geometry)
}

func TestScanLimit(t *testing.T) {
	path := testutil.RoadsFile(t, t.TempDir(), "roads.arrow")

	out, _, err := runCLI(t, "scan", path, "--fid-column", "fid", "--limit", "2")
	require.NoError(t, err)

	fc := parseFeatureCollection(t, []byte(out))
	assert.Len(t, fc.Features, 2)
}

func TestScanIgnoredField(t *testing.T) {
	path := testutil.RoadsFile(t, t.TempDir(), "roads.arrow")

	out, _, err := runCLI(t, "scan", path, "--fid-column", "fid",
		"--limit", "1", "--ignore", "name")
	require.NoError(t, err)

	fc := parseFeatureCollection(t, []byte(out))
	require.Len(t, fc.Features, 1)
	assert.NotContains(t, fc.Features[0].Properties, "name")
}

func TestConvertGeoJSONFile(t *testing.T) {
	dir := t.TempDir()
	src := testutil.RoadsFile(t, dir, "roads.arrow")
	dst := filepath.Join(dir, "roads.geojson")

	_, errOut, err := runCLI(t, "convert", src, dst, "--fid-column", "fid")
	require.NoError(t, err)
	assert.Contains(t, errOut, "wrote 5 features")

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	fc := parseFeatureCollection(t, data)
	assert.Len(t, fc.Features, 5)
}

func TestConvertGeoJSONCompressed(t *testing.T) {
	dir := t.TempDir()
	src := testutil.RoadsFile(t, dir, "roads.arrow")
	dst := filepath.Join(dir, "roads.geojson.gz")

	_, _, err := runCLI(t, "convert", src, dst, "--fid-column", "fid")
	require.NoError(t, err)

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	r, err := compression.NewReader(f, compression.Gzip)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)

	fc := parseFeatureCollection(t, data)
	assert.Len(t, fc.Features, 5)
}

func TestConvertIPCFiltered(t *testing.T) {
	dir := t.TempDir()
	src := testutil.RoadsFile(t, dir, "roads.arrow")
	dst := filepath.Join(dir, "filtered.arrow")

	_, errOut, err := runCLI(t, "convert", src, dst, "--fid-column", "fid",
		"--where", "fid >= 3")
	require.NoError(t, err)
	assert.Contains(t, errOut, "wrote 3 features")

	ds, err := dataset.Open(context.Background(), dst, dataset.Options{FIDColumn: "fid"})
	require.NoError(t, err)
	defer ds.Close()

	cur, err := ds.Cursor(scan.Options{})
	require.NoError(t, err)
	var fids []int64
	for {
		f, err := cur.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		fids = append(fids, f.FID)
	}
	assert.Equal(t, []int64{3, 4, 5}, fids)
}

func TestConvertParquet(t *testing.T) {
	dir := t.TempDir()
	src := testutil.RoadsFile(t, dir, "roads.arrow")
	dst := filepath.Join(dir, "roads.parquet")

	_, errOut, err := runCLI(t, "convert", src, dst, "--fid-column", "fid",
		"--parquet-compression", "zstd")
	require.NoError(t, err)
	assert.Contains(t, errOut, "wrote 5 features")

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	pf, err := file.NewParquetReader(f)
	require.NoError(t, err)
	defer pf.Close()
	rdr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	require.NoError(t, err)
	tbl, err := rdr.ReadTable(context.Background())
	require.NoError(t, err)
	defer tbl.Release()
	assert.EqualValues(t, 5, tbl.NumRows())
	assert.Len(t, tbl.Schema().FieldIndices("geometry"), 1)
}

func TestConvertStdoutRequiresTo(t *testing.T) {
	dir := t.TempDir()
	src := testutil.RoadsFile(t, dir, "roads.arrow")

	_, _, err := runCLI(t, "convert", src, "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--to")
}

func TestConvertStdoutGeoJSON(t *testing.T) {
	dir := t.TempDir()
	src := testutil.RoadsFile(t, dir, "roads.arrow")

	out, _, err := runCLI(t, "convert", src, "-", "--to", "geojson", "--fid-column", "fid")
	require.NoError(t, err)

	fc := parseFeatureCollection(t, []byte(out))
	assert.Len(t, fc.Features, 5)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tessera.yaml")

	out, _, err := runCLI(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	// A second init without --force refuses to clobber the file.
	_, _, err = runCLI(t, "config", "init", path)
	require.Error(t, err)

	_, _, err = runCLI(t, "config", "init", path, "--force")
	require.NoError(t, err)

	out, _, err = runCLI(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "pushdown: true")
	assert.Contains(t, out, "geometry_encoding: wkb")
}

func TestScanRejectsUnknownColumn(t *testing.T) {
	path := testutil.RoadsFile(t, t.TempDir(), "roads.arrow")

	_, _, err := runCLI(t, "scan", path, "--fid-column", "fid",
		"--count", "--where", "bogus = 1")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "bogus"))
}
