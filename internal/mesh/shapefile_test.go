package mesh

import (
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func municipalityPolygon() *shp.Polygon {
	return &shp.Polygon{
		NumParts:  1,
		NumPoints: 5,
		Parts:     []int32{0},
		Points: []shp.Point{
			{X: -40.6, Y: -9.5},
			{X: -40.6, Y: -9.0},
			{X: -40.2, Y: -9.0},
			{X: -40.2, Y: -9.5},
			{X: -40.6, Y: -9.5}, // closed ring
		},
	}
}

func TestEncodeWKB_Polygon(t *testing.T) {
	wkb, err := EncodeWKB(municipalityPolygon())
	require.NoError(t, err)
	require.NotNil(t, wkb)

	mp, err := DecodeWKB(wkb)
	require.NoError(t, err)
	assert.Equal(t, 4326, mp.SRID())
	assert.Equal(t, 1, mp.NumPolygons())

	minX, minY := mp.Bounds().Min(0), mp.Bounds().Min(1)
	assert.InDelta(t, -40.6, minX, 1e-9)
	assert.InDelta(t, -9.5, minY, 1e-9)
}

func TestEncodeWKB_MultiPartPolygon(t *testing.T) {
	poly := &shp.Polygon{
		NumParts: 2,
		Parts:    []int32{0, 5},
		Points: []shp.Point{
			{X: -40.0, Y: -9.0},
			{X: -40.0, Y: -8.5},
			{X: -39.5, Y: -8.5},
			{X: -39.5, Y: -9.0},
			{X: -40.0, Y: -9.0},
			{X: -38.0, Y: -9.0},
			{X: -38.0, Y: -8.8},
			{X: -37.8, Y: -8.8},
			{X: -37.8, Y: -9.0},
			{X: -38.0, Y: -9.0},
		},
	}

	wkb, err := EncodeWKB(poly)
	require.NoError(t, err)

	mp, err := DecodeWKB(wkb)
	require.NoError(t, err)
	assert.Equal(t, 2, mp.NumPolygons())
}

func TestEncodeWKB_NonPolygonShapes(t *testing.T) {
	wkb, err := EncodeWKB(&shp.Point{X: -40.0, Y: -9.0})
	require.NoError(t, err)
	assert.Nil(t, wkb)

	wkb, err = EncodeWKB(nil)
	require.NoError(t, err)
	assert.Nil(t, wkb)
}

func TestEncodeWKB_EmptyPolygon(t *testing.T) {
	wkb, err := EncodeWKB(&shp.Polygon{})
	require.NoError(t, err)
	assert.Nil(t, wkb)
}

func TestDecodeWKB_Garbage(t *testing.T) {
	_, err := DecodeWKB([]byte{0xde, 0xad})
	assert.Error(t, err)
}
