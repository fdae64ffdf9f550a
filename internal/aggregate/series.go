package aggregate

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sertao-labs/sentinela/internal/lens"
	"github.com/sertao-labs/sentinela/internal/raster"
	"github.com/sertao-labs/sentinela/pkg/catalog"
)

// Point pairs an acquisition timestamp with the ROI-mean index value.
type Point struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// SeriesQuery describes one time-series computation.
type SeriesQuery struct {
	Catalog   catalog.Query
	Lens      lens.Name
	Ref       raster.GridRef
	ROIMask   *raster.Mask
	MaxScenes int
}

// Series computes the mean index over the ROI for each of up to
// MaxScenes recent qualifying scenes, ordered ascending by time. An
// empty window yields an empty series, not an error; individual scene
// failures are skipped.
func Series(ctx context.Context, cat catalog.Client, q SeriesQuery) ([]Point, error) {
	scenes, err := cat.Search(ctx, q.Catalog)
	if err != nil {
		return nil, eris.Wrap(err, "series: search")
	}
	if q.MaxScenes > 0 && len(scenes) > q.MaxScenes {
		scenes = scenes[:q.MaxScenes]
	}

	points := make([]Point, 0, len(scenes))
	for _, scene := range scenes {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "series")
		}

		bands, err := cat.FetchBands(ctx, scene, q.Lens.Bands(), q.Ref)
		if err != nil {
			zap.L().Warn("series: skipping scene",
				zap.String("scene", scene.ID),
				zap.Error(err),
			)
			continue
		}

		index, err := lens.Index(q.Lens, bands)
		if err != nil {
			zap.L().Warn("series: index failed for scene",
				zap.String("scene", scene.ID),
				zap.Error(err),
			)
			continue
		}

		mean, ok := raster.MaskedMean(index, q.ROIMask)
		if !ok {
			continue
		}
		points = append(points, Point{At: scene.AcquiredAt, Value: mean})
	}

	sort.Slice(points, func(i, j int) bool { return points[i].At.Before(points[j].At) })
	return points, nil
}
