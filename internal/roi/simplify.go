package roi

import (
	"math"

	"github.com/twpayne/go-geom"
)

// Simplify applies Douglas-Peucker simplification to every ring of the
// multipolygon with the given tolerance in degrees. Rings that collapse
// below a triangle are dropped; polygons whose outer ring collapses are
// dropped entirely. Simplification always happens before the geometry
// leaves the resolver so downstream payloads stay bounded.
func Simplify(mp *geom.MultiPolygon, tolerance float64) *geom.MultiPolygon {
	if tolerance <= 0 {
		return mp
	}

	out := geom.NewMultiPolygon(geom.XY).SetSRID(mp.SRID())
	for i := 0; i < mp.NumPolygons(); i++ {
		poly := mp.Polygon(i)
		if poly.NumLinearRings() == 0 {
			continue
		}

		outer := simplifyRing(ringCoords(poly.LinearRing(0)), tolerance)
		if outer == nil {
			continue
		}

		simplified := geom.NewPolygon(geom.XY)
		if err := simplified.Push(geom.NewLinearRingFlat(geom.XY, flatten(outer))); err != nil {
			continue
		}
		for r := 1; r < poly.NumLinearRings(); r++ {
			hole := simplifyRing(ringCoords(poly.LinearRing(r)), tolerance)
			if hole == nil {
				continue
			}
			_ = simplified.Push(geom.NewLinearRingFlat(geom.XY, flatten(hole)))
		}

		_ = out.Push(simplified)
	}
	return out
}

// simplifyRing runs Douglas-Peucker over a closed ring. Returns nil when
// the result is no longer a valid ring (fewer than 4 coords including the
// closing point).
func simplifyRing(coords []geom.Coord, tolerance float64) []geom.Coord {
	if len(coords) < 4 {
		return nil
	}

	// Keep the shared first/last point fixed and simplify the open path.
	open := coords[:len(coords)-1]
	kept := douglasPeucker(open, tolerance)
	if len(kept) < 3 {
		return nil
	}
	return append(kept, kept[0])
}

// douglasPeucker keeps the endpoints and recursively retains the point
// farthest from the chord whenever it exceeds the tolerance.
func douglasPeucker(coords []geom.Coord, tolerance float64) []geom.Coord {
	if len(coords) <= 2 {
		return coords
	}

	maxDist := 0.0
	maxIdx := 0
	first, last := coords[0], coords[len(coords)-1]
	for i := 1; i < len(coords)-1; i++ {
		if d := perpendicularDistance(coords[i], first, last); d > maxDist {
			maxDist = d
			maxIdx = i
		}
	}

	if maxDist <= tolerance {
		return []geom.Coord{first, last}
	}

	left := douglasPeucker(coords[:maxIdx+1], tolerance)
	right := douglasPeucker(coords[maxIdx:], tolerance)
	return append(left[:len(left)-1], right...)
}

func perpendicularDistance(p, a, b geom.Coord) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	length := math.Hypot(dx, dy)
	if length == 0 {
		return math.Hypot(p[0]-a[0], p[1]-a[1])
	}
	return math.Abs(dy*p[0]-dx*p[1]+b[0]*a[1]-b[1]*a[0]) / length
}

func ringCoords(ring *geom.LinearRing) []geom.Coord {
	flat := ring.FlatCoords()
	stride := ring.Stride()
	coords := make([]geom.Coord, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		coords = append(coords, geom.Coord{flat[i], flat[i+1]})
	}
	return coords
}

func flatten(coords []geom.Coord) []float64 {
	flat := make([]float64, 0, len(coords)*2)
	for _, c := range coords {
		flat = append(flat, c[0], c[1])
	}
	return flat
}
