// Package roi resolves administrative-unit boundaries into the single
// region-of-interest polygon an analysis runs over.
package roi

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// ROI is a resolved region of interest: the combined, simplified boundary
// of one or more municipalities. Replaced wholesale on each load.
type ROI struct {
	Name       string
	UnitIDs    []int64
	Geometry   *geom.MultiPolygon
	ResolvedAt time.Time
}

// Bounds returns the geographic bounding box of the ROI.
func (r *ROI) Bounds() (minX, minY, maxX, maxY float64) {
	b := r.Geometry.Bounds()
	return b.Min(0), b.Min(1), b.Max(0), b.Max(1)
}

// UnitCount returns the number of administrative units that resolved.
func (r *ROI) UnitCount() int { return len(r.UnitIDs) }

// MarshalGeoJSON encodes the ROI geometry as GeoJSON.
func (r *ROI) MarshalGeoJSON() ([]byte, error) {
	data, err := geojson.Marshal(r.Geometry)
	if err != nil {
		return nil, eris.Wrap(err, "roi: encode geojson")
	}
	return data, nil
}

// FromGeoJSON decodes a cached ROI geometry.
func FromGeoJSON(data []byte) (*geom.MultiPolygon, error) {
	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrap(err, "roi: decode geojson")
	}
	mp, ok := g.(*geom.MultiPolygon)
	if !ok {
		return nil, eris.Errorf("roi: cached geometry is %T, want MultiPolygon", g)
	}
	return mp, nil
}

// CacheKey returns a stable key for an identifier set, independent of
// request order.
func CacheKey(ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = fmt.Sprintf("%d", id)
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("%x", h)
}
