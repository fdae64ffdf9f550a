// Package aggregate reduces detection masks to area metrics and index
// time series. Area reduction walks a coarsening scale ladder under a
// pixel and wall-clock budget; running out of budget is reported as a
// distinct unavailable outcome, never as zero.
package aggregate

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sertao-labs/sentinela/internal/raster"
)

// AreaStatus is the outcome of an area reduction.
type AreaStatus string

const (
	// StatusOK means a positive detected area was computed.
	StatusOK AreaStatus = "ok"
	// StatusZero means the reduction ran and found no detections.
	StatusZero AreaStatus = "zero"
	// StatusUnavailable means no rung of the scale ladder completed
	// within budget. Callers must not present this as zero area.
	StatusUnavailable AreaStatus = "unavailable"
)

// AreaResult is the three-state area outcome.
type AreaResult struct {
	Status   AreaStatus `json:"status"`
	Hectares float64    `json:"hectares"`
	// ScaleM is the pixel scale in meters the reduction succeeded at.
	ScaleM float64 `json:"scale_m"`
}

// Budget bounds one area reduction.
type Budget struct {
	MaxPixels int64
	Timeout   time.Duration
	// CoarsenThreshold is the ROI unit count at which the finest ladder
	// rung is skipped outright.
	CoarsenThreshold int
}

// MaskFn computes the ROI-clipped detection mask at the given pixel
// scale. It must honor ctx cancellation.
type MaskFn func(ctx context.Context, scaleM float64) (*raster.Mask, error)

// PixelsFn estimates the grid size at a scale, letting over-budget rungs
// be skipped without fetching anything.
type PixelsFn func(scaleM float64) int64

// Area walks the scale ladder finest-first and returns the first rung
// that completes. Large multi-unit ROIs start one rung coarser.
func Area(ctx context.Context, ladder []float64, budget Budget, unitCount int, pixels PixelsFn, mask MaskFn) AreaResult {
	if len(ladder) == 0 {
		return AreaResult{Status: StatusUnavailable}
	}

	start := 0
	if budget.CoarsenThreshold > 0 && unitCount >= budget.CoarsenThreshold && len(ladder) > 1 {
		start = 1
	}

	for _, scale := range ladder[start:] {
		if budget.MaxPixels > 0 && pixels != nil && pixels(scale) > budget.MaxPixels {
			zap.L().Debug("area: scale over pixel budget", zap.Float64("scale_m", scale))
			continue
		}

		m, err := runWithTimeout(ctx, budget.Timeout, scale, mask)
		if err != nil {
			if ctx.Err() != nil {
				// The caller's context is gone; no coarser rung will help.
				return AreaResult{Status: StatusUnavailable}
			}
			zap.L().Warn("area: reduction failed, trying coarser scale",
				zap.Float64("scale_m", scale),
				zap.Error(err),
			)
			continue
		}

		ha := m.AreaHa()
		status := StatusOK
		if m.Count() == 0 {
			status = StatusZero
		}
		return AreaResult{Status: status, Hectares: ha, ScaleM: scale}
	}

	return AreaResult{Status: StatusUnavailable}
}

func runWithTimeout(ctx context.Context, timeout time.Duration, scale float64, mask MaskFn) (*raster.Mask, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	m, err := mask(ctx, scale)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, eris.Wrapf(err, "area: scale %.0fm exceeded budget", scale)
		}
		return nil, err
	}
	if m == nil {
		return nil, eris.New("area: nil mask")
	}
	return m, nil
}
