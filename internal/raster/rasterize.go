package raster

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// GridRef describes the footprint and resolution of a grid to build.
type GridRef struct {
	Width     int
	Height    int
	OriginX   float64
	OriginY   float64
	PixelSize float64
}

// RefForBounds computes a grid reference covering a bounding box at the
// given pixel scale in meters, converted to degrees at the box's mean
// latitude. Dimensions are clamped to at least one pixel.
func RefForBounds(minX, minY, maxX, maxY, scaleMeters float64) GridRef {
	midLat := (minY + maxY) / 2 * math.Pi / 180
	pixDegLat := scaleMeters / metersPerDegLat
	pixDegLon := scaleMeters / (metersPerDegLon * math.Cos(midLat))
	// Square pixels: take the coarser of the two axes.
	pixelSize := math.Max(pixDegLat, pixDegLon)

	w := int(math.Ceil((maxX - minX) / pixelSize))
	h := int(math.Ceil((maxY - minY) / pixelSize))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return GridRef{Width: w, Height: h, OriginX: minX, OriginY: maxY, PixelSize: pixelSize}
}

// Pixels returns the total pixel count of the reference.
func (r GridRef) Pixels() int64 { return int64(r.Width) * int64(r.Height) }

// Rasterize builds a mask over the reference grid marking pixels whose
// centers fall inside the multipolygon (outer ring containment minus
// holes).
func Rasterize(mp *geom.MultiPolygon, ref GridRef) *Mask {
	m := &Mask{
		Width: ref.Width, Height: ref.Height,
		OriginX: ref.OriginX, OriginY: ref.OriginY,
		PixelSize: ref.PixelSize,
		Cells:     make([]bool, ref.Width*ref.Height),
	}
	if mp == nil {
		return m
	}

	for y := 0; y < ref.Height; y++ {
		lat := ref.OriginY - (float64(y)+0.5)*ref.PixelSize
		for x := 0; x < ref.Width; x++ {
			lon := ref.OriginX + (float64(x)+0.5)*ref.PixelSize
			if multiPolygonContains(mp, geom.Coord{lon, lat}) {
				m.Cells[y*ref.Width+x] = true
			}
		}
	}
	return m
}

func multiPolygonContains(mp *geom.MultiPolygon, p geom.Coord) bool {
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		if poly.NumLinearRings() == 0 {
			continue
		}
		if !xy.IsPointInRing(poly.Layout(), p, poly.LinearRing(0).FlatCoords()) {
			continue
		}
		inHole := false
		for r := 1; r < poly.NumLinearRings(); r++ {
			if xy.IsPointInRing(poly.Layout(), p, poly.LinearRing(r).FlatCoords()) {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}
