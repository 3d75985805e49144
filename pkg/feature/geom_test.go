package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

func TestGeomTypeDimensions(t *testing.T) {
	pt := GeomTypePoint
	assert.False(t, pt.HasZ())
	assert.False(t, pt.HasM())

	z := pt.SetZ()
	assert.True(t, z.HasZ())
	assert.False(t, z.HasM())
	assert.Equal(t, z, z.SetZ(), "SetZ is idempotent")

	m := pt.SetM()
	assert.False(t, m.HasZ())
	assert.True(t, m.HasM())

	zm := pt.SetZ().SetM()
	assert.True(t, zm.HasZ())
	assert.True(t, zm.HasM())
	assert.Equal(t, zm, pt.SetM().SetZ(), "order does not matter")

	assert.Equal(t, GeomTypePoint, zm.Flatten())
}

func TestGeomTypeMultiType(t *testing.T) {
	assert.Equal(t, GeomTypeMultiPoint, GeomTypePoint.MultiType())
	assert.Equal(t, GeomTypeMultiLineString.SetZ(), GeomTypeLineString.SetZ().MultiType())
	assert.Equal(t, GeomTypeMultiPolygon.SetM(), GeomTypePolygon.SetM().MultiType())
	assert.Equal(t, GeomTypeMultiPolygon, GeomTypeMultiPolygon.MultiType())
	assert.Equal(t, GeomTypeGeometryCollection, GeomTypeGeometryCollection.MultiType())
}

func TestGeomTypeStringRoundTrip(t *testing.T) {
	types := []GeomType{
		GeomTypeUnknown,
		GeomTypePoint,
		GeomTypeLineString.SetZ(),
		GeomTypePolygon.SetM(),
		GeomTypeMultiPoint.SetZ().SetM(),
		GeomTypeMultiLineString,
		GeomTypeMultiPolygon.SetZ(),
		GeomTypeGeometryCollection,
	}
	for _, gt := range types {
		got, ok := GeomTypeFromString(gt.String())
		require.True(t, ok, gt.String())
		assert.Equal(t, gt, got)
	}

	got, ok := GeomTypeFromString("multipolygon z")
	require.True(t, ok)
	assert.Equal(t, GeomTypeMultiPolygon.SetZ(), got)

	_, ok = GeomTypeFromString("Curve")
	assert.False(t, ok)
	_, ok = GeomTypeFromString("Point XYZ")
	assert.False(t, ok)
}

func TestGeomTypeLayout(t *testing.T) {
	assert.Equal(t, geom.XY, GeomTypePoint.Layout())
	assert.Equal(t, geom.XYZ, GeomTypePoint.SetZ().Layout())
	assert.Equal(t, geom.XYM, GeomTypePoint.SetM().Layout())
	assert.Equal(t, geom.XYZM, GeomTypePoint.SetZ().SetM().Layout())
}

func TestGeomTypeOf(t *testing.T) {
	assert.Equal(t, GeomTypeUnknown, GeomTypeOf(nil))
	assert.Equal(t, GeomTypePoint, GeomTypeOf(geom.NewPointFlat(geom.XY, []float64{1, 2})))
	assert.Equal(t, GeomTypeLineString.SetZ(), GeomTypeOf(geom.NewLineStringFlat(geom.XYZ, nil)))
	assert.Equal(t, GeomTypeMultiPolygon.SetM(), GeomTypeOf(geom.NewMultiPolygonFlat(geom.XYM, nil, [][]int{})))
	assert.Equal(t, GeomTypeGeometryCollection, GeomTypeOf(geom.NewGeometryCollection()))
}

func TestEnvelope(t *testing.T) {
	env := NewEnvelope()
	assert.False(t, env.IsInit())

	env.ExtendXY(3, 4)
	assert.True(t, env.IsInit())
	assert.Equal(t, Envelope{MinX: 3, MinY: 4, MaxX: 3, MaxY: 4}, env)

	env.ExtendXY(-1, 10)
	assert.Equal(t, Envelope{MinX: -1, MinY: 4, MaxX: 3, MaxY: 10}, env)

	other := NewEnvelope()
	other.ExtendXY(5, 5)
	env.Merge(other)
	assert.Equal(t, Envelope{MinX: -1, MinY: 4, MaxX: 5, MaxY: 10}, env)

	// Merging an uninitialized envelope changes nothing.
	before := env
	env.Merge(NewEnvelope())
	assert.Equal(t, before, env)
}

func TestEnvelopeIntersects(t *testing.T) {
	a := Envelope{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}
	tests := []struct {
		name string
		b    Envelope
		want bool
	}{
		{"overlap", Envelope{MinX: 5, MinY: 5, MaxX: 15, MaxY: 15}, true},
		{"contained", Envelope{MinX: 2, MinY: 2, MaxX: 3, MaxY: 3}, true},
		{"touching edge", Envelope{MinX: 10, MinY: 0, MaxX: 20, MaxY: 10}, true},
		{"touching corner", Envelope{MinX: 10, MinY: 10, MaxX: 20, MaxY: 20}, true},
		{"disjoint x", Envelope{MinX: 11, MinY: 0, MaxX: 20, MaxY: 10}, false},
		{"disjoint y", Envelope{MinX: 0, MinY: -5, MaxX: 10, MaxY: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.Intersects(tt.b))
			assert.Equal(t, tt.want, tt.b.Intersects(a))
		})
	}

	assert.False(t, a.Intersects(NewEnvelope()))
	assert.False(t, NewEnvelope().Intersects(a))
}

func TestEnvelopeOfGeom(t *testing.T) {
	assert.False(t, EnvelopeOfGeom(nil).IsInit())
	assert.False(t, EnvelopeOfGeom(geom.NewLineStringFlat(geom.XY, nil)).IsInit())

	env := EnvelopeOfGeom(geom.NewLineStringFlat(geom.XY, []float64{1, 2, -3, 8}))
	assert.Equal(t, Envelope{MinX: -3, MinY: 2, MaxX: 1, MaxY: 8}, env)
}
