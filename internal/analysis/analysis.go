// Package analysis orchestrates one dashboard run: resolve the ROI, pick
// imagery, compute the lens detection, reduce to metrics, and optionally
// sample a time series and request a model audit. All remote failures
// degrade to explicit outcomes; a run never destroys the session's prior
// state.
package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sertao-labs/sentinela/internal/aggregate"
	"github.com/sertao-labs/sentinela/internal/audit"
	"github.com/sertao-labs/sentinela/internal/lens"
	"github.com/sertao-labs/sentinela/internal/raster"
	"github.com/sertao-labs/sentinela/internal/roi"
	"github.com/sertao-labs/sentinela/pkg/catalog"
)

// Request describes one analysis run.
type Request struct {
	ROIName       string    `json:"roi_name"`
	UnitIDs       []int64   `json:"unit_ids"`
	Lens          lens.Name `json:"lens"`
	Preset        string    `json:"preset,omitempty"`
	ReferenceDate time.Time `json:"reference_date"`
	WithSeries    bool      `json:"with_series,omitempty"`
	WithAudit     bool      `json:"with_audit,omitempty"`
}

// SceneInfo is the selected scene's metadata.
type SceneInfo struct {
	ID         string    `json:"id"`
	AcquiredAt time.Time `json:"acquired_at"`
	CloudCover float64   `json:"cloud_cover"`
}

// Result is one run's outcome. NoQualifyingScene marks the
// cloud-free-imagery gap outcome; it is not an error and carries no
// detection.
type Result struct {
	Lens              lens.Name            `json:"lens"`
	ROIName           string               `json:"roi_name"`
	UnitCount         int                  `json:"unit_count"`
	NoQualifyingScene bool                 `json:"no_qualifying_scene,omitempty"`
	Scene             *SceneInfo           `json:"scene,omitempty"`
	Area              aggregate.AreaResult `json:"area"`
	MeanIndex         float64              `json:"mean_index"`
	BaselineMean      float64              `json:"baseline_mean,omitempty"`
	Series            []aggregate.Point    `json:"series,omitempty"`
	Audit             *audit.Assessment    `json:"audit,omitempty"`
	Vis               lens.Vis             `json:"vis"`
	GeneratedAt       time.Time            `json:"generated_at"`

	// Rasters for map display and export; kept in the session, never
	// serialized.
	Index   *raster.Grid `json:"-"`
	Mask    *raster.Mask `json:"-"`
	ROIMask *raster.Mask `json:"-"`
}

// Options configures the runner's windows and budgets.
type Options struct {
	Collection string
	// LandsatCollection serves the burn and permissive-water lenses,
	// whose 30 m sensor needs the radiometric rescale.
	LandsatCollection string
	MaxCloudCover     float64
	LookbackDays      int
	BaselineFromDays  int // days before the reference date the baseline window opens
	BaselineToDays    int // days before the reference date the baseline window closes
	SeriesWindowDays  int
	SeriesMaxScenes   int
	ScaleLadderM      []float64
	Budget            aggregate.Budget

	// DefaultPreset applies when a request names none; Override layers
	// configured thresholds on top of whichever preset wins.
	DefaultPreset string
	Override      lens.Params
}

// Runner executes analysis runs.
type Runner struct {
	resolver *roi.Resolver
	catalog  catalog.Client
	auditor  *audit.Auditor // nil disables audits
	presets  map[string]lens.Params
	opts     Options
}

// NewRunner creates a runner. auditor may be nil.
func NewRunner(resolver *roi.Resolver, cat catalog.Client, auditor *audit.Auditor, presets map[string]lens.Params, opts Options) *Runner {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 30
	}
	if opts.SeriesMaxScenes <= 0 {
		opts.SeriesMaxScenes = 20
	}
	if len(opts.ScaleLadderM) == 0 {
		opts.ScaleLadderM = []float64{10, 30, 50}
	}
	return &Runner{resolver: resolver, catalog: cat, auditor: auditor, presets: presets, opts: opts}
}

// Run executes the full pipeline for one request.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if !req.Lens.Valid() {
		return nil, eris.Errorf("analysis: unknown lens %q", req.Lens)
	}
	preset := req.Preset
	if preset == "" {
		preset = r.opts.DefaultPreset
	}
	params, err := lens.Resolve(r.presets, preset, r.opts.Override)
	if err != nil {
		return nil, err
	}
	if req.ReferenceDate.IsZero() {
		req.ReferenceDate = time.Now().UTC()
	}

	region, err := r.resolver.Resolve(ctx, req.ROIName, req.UnitIDs)
	if err != nil {
		return nil, eris.Wrap(err, "analysis: resolve roi")
	}

	result := &Result{
		Lens:        req.Lens,
		ROIName:     region.Name,
		UnitCount:   region.UnitCount(),
		GeneratedAt: time.Now().UTC(),
	}

	scene, err := r.catalog.Best(ctx, r.sceneQuery(region, req.ReferenceDate, req.Lens))
	if err != nil {
		if errors.Is(err, catalog.ErrNoQualifyingScene) {
			result.NoQualifyingScene = true
			return result, nil
		}
		return nil, eris.Wrap(err, "analysis: select scene")
	}
	result.Scene = &SceneInfo{ID: scene.ID, AcquiredAt: scene.AcquiredAt, CloudCover: scene.CloudCover}

	result.Area = aggregate.Area(ctx, r.ladderFor(req.Lens), r.opts.Budget, region.UnitCount(),
		func(scaleM float64) int64 {
			minX, minY, maxX, maxY := region.Bounds()
			return raster.RefForBounds(minX, minY, maxX, maxY, scaleM).Pixels()
		},
		func(ctx context.Context, scaleM float64) (*raster.Mask, error) {
			det, roiMask, baselineMean, err := r.detect(ctx, region, *scene, req.ReferenceDate, req.Lens, params, scaleM)
			if err != nil {
				return nil, err
			}
			if det.Mask.Width != roiMask.Width || det.Mask.Height != roiMask.Height {
				return nil, eris.Errorf("analysis: detection grid %dx%d does not match region grid %dx%d",
					det.Mask.Width, det.Mask.Height, roiMask.Width, roiMask.Height)
			}
			clipped := det.Mask.And(roiMask)

			// Keep the finest detection that completed for display/export.
			result.Index = det.Index
			result.Mask = clipped
			result.ROIMask = roiMask
			result.Vis = det.Vis
			result.BaselineMean = baselineMean
			if mean, ok := raster.MaskedMean(det.Index, roiMask); ok {
				result.MeanIndex = mean
			}
			return clipped, nil
		})

	if req.WithSeries {
		series, err := r.series(ctx, region, req.ReferenceDate, req.Lens)
		if err != nil {
			// The headline result stands without its chart.
			zap.L().Warn("analysis: series failed", zap.Error(err))
		} else {
			result.Series = series
		}
	}

	if req.WithAudit && r.auditor != nil && result.Area.Status == aggregate.StatusOK {
		assessment, err := r.auditor.Audit(ctx, audit.Finding{
			ROIName:       region.Name,
			Lens:          string(req.Lens),
			ReferenceDate: req.ReferenceDate,
			SceneDate:     scene.AcquiredAt,
			CloudCover:    scene.CloudCover,
			Area:          result.Area,
			MeanIndex:     result.MeanIndex,
			BaselineMean:  result.BaselineMean,
		})
		if err != nil {
			zap.L().Warn("analysis: audit failed", zap.Error(err))
		} else {
			result.Audit = assessment
		}
	}

	return result, nil
}

// detect fetches bands over the ROI's grid at the given scale and runs
// the lens.
func (r *Runner) detect(ctx context.Context, region *roi.ROI, scene catalog.Scene, refDate time.Time, name lens.Name, params lens.Params, scaleM float64) (*lens.Detection, *raster.Mask, float64, error) {
	minX, minY, maxX, maxY := region.Bounds()
	ref := raster.RefForBounds(minX, minY, maxX, maxY, scaleM)
	roiMask := raster.Rasterize(region.Geometry, ref)

	current, err := r.catalog.FetchBands(ctx, scene, name.Bands(), ref)
	if err != nil {
		return nil, nil, 0, err
	}

	var baseline catalog.BandSet
	var baselineMean float64
	if name.NeedsBaseline() {
		baseline, err = r.catalog.BaselineComposite(ctx, r.baselineQuery(region, refDate, name), name.Bands(), ref)
		if err != nil {
			return nil, nil, 0, eris.Wrap(err, "analysis: baseline composite")
		}
		if idx, err := lens.Index(name, baseline); err == nil {
			if mean, ok := raster.MaskedMean(idx, roiMask); ok {
				baselineMean = mean
			}
		}
	}

	det, err := lens.Compute(name, params, current, baseline)
	if err != nil {
		return nil, nil, 0, err
	}
	return det, roiMask, baselineMean, nil
}

func (r *Runner) series(ctx context.Context, region *roi.ROI, refDate time.Time, name lens.Name) ([]aggregate.Point, error) {
	// The series samples at the coarsest ladder rung to stay cheap.
	ladder := r.ladderFor(name)
	scaleM := ladder[len(ladder)-1]
	minX, minY, maxX, maxY := region.Bounds()
	ref := raster.RefForBounds(minX, minY, maxX, maxY, scaleM)

	q := r.sceneQuery(region, refDate, name)
	q.From = refDate.AddDate(0, 0, -r.opts.SeriesWindowDays)

	return aggregate.Series(ctx, r.catalog, aggregate.SeriesQuery{
		Catalog:   q,
		Lens:      name,
		Ref:       ref,
		ROIMask:   raster.Rasterize(region.Geometry, ref),
		MaxScenes: r.opts.SeriesMaxScenes,
	})
}

// coarseSensor reports whether the lens reads the 30 m Landsat sensor
// instead of the 10 m default.
func coarseSensor(name lens.Name) bool {
	return name == lens.Burn || name == lens.WaterTurbid
}

// ladderFor drops rungs finer than the lens's native sensor resolution.
func (r *Runner) ladderFor(name lens.Name) []float64 {
	if !coarseSensor(name) {
		return r.opts.ScaleLadderM
	}
	var ladder []float64
	for _, s := range r.opts.ScaleLadderM {
		if s >= 30 {
			ladder = append(ladder, s)
		}
	}
	if len(ladder) == 0 {
		ladder = []float64{30}
	}
	return ladder
}

func (r *Runner) collectionFor(name lens.Name) string {
	if coarseSensor(name) && r.opts.LandsatCollection != "" {
		return r.opts.LandsatCollection
	}
	return r.opts.Collection
}

func (r *Runner) sceneQuery(region *roi.ROI, refDate time.Time, name lens.Name) catalog.Query {
	minX, minY, maxX, maxY := region.Bounds()
	return catalog.Query{
		Collection:    r.collectionFor(name),
		BBox:          [4]float64{minX, minY, maxX, maxY},
		From:          refDate.AddDate(0, 0, -r.opts.LookbackDays),
		To:            refDate,
		MaxCloudCover: r.opts.MaxCloudCover,
	}
}

func (r *Runner) baselineQuery(region *roi.ROI, refDate time.Time, name lens.Name) catalog.Query {
	q := r.sceneQuery(region, refDate, name)
	q.From = refDate.AddDate(0, 0, -r.opts.BaselineFromDays)
	q.To = refDate.AddDate(0, 0, -r.opts.BaselineToDays)
	return q
}
