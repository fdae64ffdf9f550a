package catalog

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sertao-labs/sentinela/internal/raster"
)

func gridWith(vs ...float64) *raster.Grid {
	g := raster.NewGrid(len(vs), 1, 0, 0, 0.0001)
	copy(g.Data, vs)
	return g
}

func TestMedianCompositeSkipsNodata(t *testing.T) {
	sets := []BandSet{
		{"B08": gridWith(0.50, math.NaN())},
		{"B08": gridWith(0.60, 0.40)},
		{"B08": gridWith(0.10, math.NaN())},
	}

	out, err := MedianComposite(sets, []string{"B08"})
	require.NoError(t, err)

	// pixel 0: median(0.50, 0.60, 0.10) = 0.50
	assert.InDelta(t, 0.50, out["B08"].Data[0], 1e-9)
	// pixel 1: only one valid observation
	assert.InDelta(t, 0.40, out["B08"].Data[1], 1e-9)
}

func TestMedianCompositeEvenCount(t *testing.T) {
	sets := []BandSet{
		{"B04": gridWith(0.20)},
		{"B04": gridWith(0.40)},
	}
	out, err := MedianComposite(sets, []string{"B04"})
	require.NoError(t, err)
	assert.InDelta(t, 0.30, out["B04"].Data[0], 1e-9)
}

func TestMedianCompositeAllNodata(t *testing.T) {
	sets := []BandSet{
		{"B04": gridWith(math.NaN())},
		{"B04": gridWith(math.NaN())},
	}
	out, err := MedianComposite(sets, []string{"B04"})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(out["B04"].Data[0]))
}

func TestMedianCompositeMissingBand(t *testing.T) {
	sets := []BandSet{{"B04": gridWith(0.2)}}
	_, err := MedianComposite(sets, []string{"B08"})
	assert.Error(t, err)
}
