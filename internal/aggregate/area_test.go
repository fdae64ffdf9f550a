package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sertao-labs/sentinela/internal/raster"
)

func maskWith(count int) *raster.Mask {
	g := raster.NewGrid(10, 10, 0, 0, 0.0001)
	m := raster.NewMask(g)
	for i := 0; i < count; i++ {
		m.Cells[i] = true
	}
	return m
}

func TestAreaFinestScaleWins(t *testing.T) {
	var tried []float64
	res := Area(context.Background(), []float64{10, 30, 50}, Budget{}, 1, nil,
		func(ctx context.Context, scale float64) (*raster.Mask, error) {
			tried = append(tried, scale)
			return maskWith(4), nil
		})

	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 10.0, res.ScaleM)
	assert.Greater(t, res.Hectares, 0.0)
	assert.Equal(t, []float64{10}, tried)
}

func TestAreaFallsBackToCoarserScale(t *testing.T) {
	res := Area(context.Background(), []float64{10, 30, 50}, Budget{Timeout: 50 * time.Millisecond}, 1, nil,
		func(ctx context.Context, scale float64) (*raster.Mask, error) {
			if scale < 50 {
				// Native-scale reduction blows the budget.
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return maskWith(2), nil
		})

	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 50.0, res.ScaleM)
}

func TestAreaZeroDetectionsIsNotUnavailable(t *testing.T) {
	res := Area(context.Background(), []float64{10}, Budget{}, 1, nil,
		func(ctx context.Context, scale float64) (*raster.Mask, error) {
			return maskWith(0), nil
		})

	assert.Equal(t, StatusZero, res.Status)
	assert.Equal(t, 0.0, res.Hectares)
}

func TestAreaAllRungsFail(t *testing.T) {
	res := Area(context.Background(), []float64{10, 30}, Budget{Timeout: 10 * time.Millisecond}, 1, nil,
		func(ctx context.Context, scale float64) (*raster.Mask, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	assert.Equal(t, StatusUnavailable, res.Status)
	assert.Equal(t, 0.0, res.Hectares)
}

func TestAreaSkipsOverBudgetRungs(t *testing.T) {
	var tried []float64
	res := Area(context.Background(), []float64{10, 30}, Budget{MaxPixels: 1000}, 1,
		func(scale float64) int64 {
			if scale == 10 {
				return 10000
			}
			return 500
		},
		func(ctx context.Context, scale float64) (*raster.Mask, error) {
			tried = append(tried, scale)
			return maskWith(1), nil
		})

	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []float64{30}, tried)
}

func TestAreaLargeROIStartsCoarser(t *testing.T) {
	var tried []float64
	res := Area(context.Background(), []float64{10, 30, 50}, Budget{CoarsenThreshold: 5}, 8, nil,
		func(ctx context.Context, scale float64) (*raster.Mask, error) {
			tried = append(tried, scale)
			return maskWith(1), nil
		})

	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, []float64{30}, tried)
}

func TestAreaCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := Area(ctx, []float64{10, 30}, Budget{}, 1, nil,
		func(ctx context.Context, scale float64) (*raster.Mask, error) {
			return nil, ctx.Err()
		})

	assert.Equal(t, StatusUnavailable, res.Status)
}
