// Package catalog queries a hosted satellite-image catalog and raster
// access service: scene search with cloud filtering, per-band pixel
// retrieval over a region, and historical median composites.
package catalog

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sertao-labs/sentinela/internal/raster"
)

// ErrNoQualifyingScene indicates the search succeeded but nothing in the
// window passed the cloud filter. Callers present this as an empty,
// user-actionable outcome, never as a query error.
var ErrNoQualifyingScene = eris.New("catalog: no qualifying scene")

// ErrGridMismatch indicates the raster service answered with a grid whose
// shape or georeference differs from the requested window. Such a grid
// cannot be combined with masks rasterized over the request.
var ErrGridMismatch = eris.New("catalog: grid does not match requested window")

// Scene is one catalog entry.
type Scene struct {
	ID         string
	Collection string
	AcquiredAt time.Time
	CloudCover float64
}

// Query filters a catalog search.
type Query struct {
	Collection    string
	BBox          [4]float64 // minX, minY, maxX, maxY
	From, To      time.Time
	MaxCloudCover float64
	Limit         int
}

// BandSet holds the fetched band grids of one scene (or composite), keyed
// by band name.
type BandSet map[string]*raster.Grid

// Client is the imagery selector over the catalog service.
type Client interface {
	// Search lists qualifying scenes, most recent first.
	Search(ctx context.Context, q Query) ([]Scene, error)

	// Best returns the most recent qualifying scene, or
	// ErrNoQualifyingScene when the window holds none.
	Best(ctx context.Context, q Query) (*Scene, error)

	// FetchBands retrieves band grids for a scene over the reference grid.
	FetchBands(ctx context.Context, scene Scene, bands []string, ref raster.GridRef) (BandSet, error)

	// BaselineComposite fetches every qualifying scene in the query window
	// and returns the per-pixel median of each band. Used as the "before"
	// state by the vegetation-loss lens.
	BaselineComposite(ctx context.Context, q Query, bands []string, ref raster.GridRef) (BandSet, error)
}
