// Package raster implements the pixel-level model shared by the detection
// lenses: band grids, normalized-difference math, binary masks, connectivity
// filtering, and geodesic pixel areas. All operations are pure functions
// over row-major float64 slices; NaN marks nodata.
package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// Grid is a single-band raster in geographic coordinates. Origin is the
// top-left corner (west edge, north edge); pixels are square in degrees.
type Grid struct {
	Width     int
	Height    int
	OriginX   float64 // longitude of the west edge
	OriginY   float64 // latitude of the north edge
	PixelSize float64 // degrees per pixel
	Data      []float64
}

// NewGrid allocates a grid filled with NaN.
func NewGrid(width, height int, originX, originY, pixelSize float64) *Grid {
	data := make([]float64, width*height)
	for i := range data {
		data[i] = math.NaN()
	}
	return &Grid{
		Width: width, Height: height,
		OriginX: originX, OriginY: originY,
		PixelSize: pixelSize,
		Data:      data,
	}
}

// At returns the value at column x, row y (row 0 is the northern edge).
func (g *Grid) At(x, y int) float64 { return g.Data[y*g.Width+x] }

// Set writes the value at column x, row y.
func (g *Grid) Set(x, y int, v float64) { g.Data[y*g.Width+x] = v }

// CenterLat returns the latitude of pixel centers in row y.
func (g *Grid) CenterLat(y int) float64 {
	return g.OriginY - (float64(y)+0.5)*g.PixelSize
}

// CenterLon returns the longitude of pixel centers in column x.
func (g *Grid) CenterLon(x int) float64 {
	return g.OriginX + (float64(x)+0.5)*g.PixelSize
}

// SameShape reports whether two grids share dimensions and georeference.
func (g *Grid) SameShape(o *Grid) bool {
	const eps = 1e-9
	return g.Width == o.Width && g.Height == o.Height &&
		math.Abs(g.OriginX-o.OriginX) < eps &&
		math.Abs(g.OriginY-o.OriginY) < eps &&
		math.Abs(g.PixelSize-o.PixelSize) < eps
}

// NormalizedDifference computes (a-b)/(a+b) per pixel. Pixels where either
// input is nodata, or the denominator is zero, become NaN.
func NormalizedDifference(a, b *Grid) (*Grid, error) {
	if !a.SameShape(b) {
		return nil, eris.New("raster: normalized difference on mismatched grids")
	}

	out := NewGrid(a.Width, a.Height, a.OriginX, a.OriginY, a.PixelSize)
	for i := range a.Data {
		av, bv := a.Data[i], b.Data[i]
		if math.IsNaN(av) || math.IsNaN(bv) {
			continue
		}
		denom := av + bv
		if denom == 0 {
			continue
		}
		out.Data[i] = (av - bv) / denom
	}
	return out, nil
}

// Scale multiplies every valid pixel by m and adds off, in place. Used for
// sensor families whose digital numbers need a radiometric rescale before
// index math.
func (g *Grid) Scale(m, off float64) {
	for i, v := range g.Data {
		if !math.IsNaN(v) {
			g.Data[i] = v*m + off
		}
	}
}

// Coarsen aggregates factor×factor pixel blocks by their mean, shrinking
// the grid. Blocks with no valid pixels stay nodata. Factor 1 returns a
// copy.
func Coarsen(g *Grid, factor int) *Grid {
	if factor < 1 {
		factor = 1
	}
	w := (g.Width + factor - 1) / factor
	h := (g.Height + factor - 1) / factor
	out := NewGrid(w, h, g.OriginX, g.OriginY, g.PixelSize*float64(factor))

	for oy := 0; oy < h; oy++ {
		for ox := 0; ox < w; ox++ {
			var sum float64
			var n int
			for dy := 0; dy < factor; dy++ {
				for dx := 0; dx < factor; dx++ {
					x, y := ox*factor+dx, oy*factor+dy
					if x >= g.Width || y >= g.Height {
						continue
					}
					if v := g.At(x, y); !math.IsNaN(v) {
						sum += v
						n++
					}
				}
			}
			if n > 0 {
				out.Set(ox, oy, sum/float64(n))
			}
		}
	}
	return out
}

// Meters per degree of latitude, and of longitude at the equator.
const (
	metersPerDegLat = 110540.0
	metersPerDegLon = 111320.0
)

// PixelAreaHa returns the area in hectares of one pixel centered in row y.
func (g *Grid) PixelAreaHa(y int) float64 {
	lat := g.CenterLat(y) * math.Pi / 180
	wMeters := g.PixelSize * metersPerDegLon * math.Cos(lat)
	hMeters := g.PixelSize * metersPerDegLat
	return wMeters * hMeters / 10000
}

// MaskedMean returns the mean of valid pixels under the mask. ok is false
// when the mask selects no valid pixels.
func MaskedMean(g *Grid, m *Mask) (mean float64, ok bool) {
	if g.Width != m.Width || g.Height != m.Height {
		return 0, false
	}
	var sum float64
	var n int
	for i, v := range g.Data {
		if m.Cells[i] && !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
