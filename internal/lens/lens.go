// Package lens implements the change-detection rules: per-lens band math
// over fetched imagery plus the threshold and connectivity policy that
// turns an index raster into a binary detection mask.
package lens

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sertao-labs/sentinela/internal/raster"
	"github.com/sertao-labs/sentinela/pkg/catalog"
)

// Name identifies a detection lens.
type Name string

const (
	VegetationLoss Name = "vegetation-loss"
	Water          Name = "water"
	WaterTurbid    Name = "water-turbid"
	Chlorophyll    Name = "chlorophyll"
	Burn           Name = "burn"
)

// All lists every lens, in display order.
var All = []Name{VegetationLoss, Water, WaterTurbid, Chlorophyll, Burn}

// Valid reports whether n names a known lens.
func (n Name) Valid() bool {
	for _, l := range All {
		if l == n {
			return true
		}
	}
	return false
}

// Sentinel-2 harmonized band names.
const (
	bandGreen   = "B03"
	bandRed     = "B04"
	bandRedEdge = "B05"
	bandNIR     = "B08"
	bandSWIR    = "B11"
)

// Bands returns the band subset the lens needs from the current scene.
func (n Name) Bands() []string {
	switch n {
	case VegetationLoss:
		return []string{bandRed, bandNIR}
	case Water, WaterTurbid:
		return []string{bandGreen, bandSWIR}
	case Chlorophyll:
		return []string{bandGreen, bandRed, bandRedEdge, bandSWIR}
	case Burn:
		return []string{bandNIR, bandSWIR}
	}
	return nil
}

// NeedsBaseline reports whether the lens compares against a historical
// composite. Only vegetation loss does.
func (n Name) NeedsBaseline() bool { return n == VegetationLoss }

// Params are the detection thresholds. Values come from the biome preset
// or config; zero-value fields keep the defaults.
type Params struct {
	VegetationCurrentMax  float64 `yaml:"vegetation_current_max"`
	VegetationBaselineMin float64 `yaml:"vegetation_baseline_min"`
	MinClusterPixels      int     `yaml:"min_cluster_pixels"`
	WaterMin              float64 `yaml:"water_min"`
	WaterTurbidMin        float64 `yaml:"water_turbid_min"`
	BurnMax               float64 `yaml:"burn_max"`
}

// DefaultParams returns the stock thresholds.
func DefaultParams() Params {
	return Params{
		VegetationCurrentMax:  0.2,
		VegetationBaselineMin: 0.45,
		MinClusterPixels:      15,
		WaterMin:              0.0,
		WaterTurbidMin:        -0.1,
		BurnMax:               -0.1,
	}
}

// Vis carries the color-ramp parameters the dashboard renders the index
// with.
type Vis struct {
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Palette []string `json:"palette"`
}

// Detection is the output of one lens run: the continuous index raster,
// the binary mask, and how to render them.
type Detection struct {
	Lens  Name
	Index *raster.Grid
	Mask  *raster.Mask
	Vis   Vis
}

// Compute runs the named lens over the fetched bands. baseline is required
// only for the vegetation-loss lens; other lenses ignore it.
func Compute(n Name, p Params, current, baseline catalog.BandSet) (*Detection, error) {
	switch n {
	case VegetationLoss:
		return vegetationLoss(p, current, baseline)
	case Water:
		return water(n, p.WaterMin, current)
	case WaterTurbid:
		return water(n, p.WaterTurbidMin, current)
	case Chlorophyll:
		return chlorophyll(p, current)
	case Burn:
		return burn(p, current)
	}
	return nil, eris.Errorf("lens: unknown lens %q", n)
}

// Index computes just the continuous index raster for the lens, with no
// thresholding, baseline, or support mask. Time-series sampling uses this
// path.
func Index(n Name, current catalog.BandSet) (*raster.Grid, error) {
	var a, b string
	switch n {
	case VegetationLoss:
		a, b = bandNIR, bandRed
	case Water, WaterTurbid:
		a, b = bandGreen, bandSWIR
	case Chlorophyll:
		a, b = bandRedEdge, bandRed
	case Burn:
		a, b = bandNIR, bandSWIR
	default:
		return nil, eris.Errorf("lens: unknown lens %q", n)
	}

	ga, err := band(current, a)
	if err != nil {
		return nil, err
	}
	gb, err := band(current, b)
	if err != nil {
		return nil, err
	}
	g, err := raster.NormalizedDifference(ga, gb)
	if err != nil {
		return nil, eris.Wrapf(err, "lens: %s index", n)
	}
	return g, nil
}

func band(set catalog.BandSet, name string) (*raster.Grid, error) {
	g, ok := set[name]
	if !ok || g == nil {
		return nil, eris.Errorf("lens: band %s not fetched", name)
	}
	return g, nil
}

// vegetationLoss flags pixels that read bare now but read densely
// vegetated in the historical composite, then drops clusters too small to
// be anything but sensor noise.
func vegetationLoss(p Params, current, baseline catalog.BandSet) (*Detection, error) {
	if baseline == nil {
		return nil, eris.New("lens: vegetation loss requires a baseline composite")
	}

	red, err := band(current, bandRed)
	if err != nil {
		return nil, err
	}
	nir, err := band(current, bandNIR)
	if err != nil {
		return nil, err
	}
	histRed, err := band(baseline, bandRed)
	if err != nil {
		return nil, err
	}
	histNIR, err := band(baseline, bandNIR)
	if err != nil {
		return nil, err
	}

	ndvi, err := raster.NormalizedDifference(nir, red)
	if err != nil {
		return nil, eris.Wrap(err, "lens: current NDVI")
	}
	histNDVI, err := raster.NormalizedDifference(histNIR, histRed)
	if err != nil {
		return nil, eris.Wrap(err, "lens: baseline NDVI")
	}
	if !ndvi.SameShape(histNDVI) {
		return nil, eris.New("lens: current and baseline grids differ in shape")
	}

	bare := raster.LessThan(ndvi, p.VegetationCurrentMax)
	wasForest := raster.GreaterThan(histNDVI, p.VegetationBaselineMin)
	mask := raster.ConnectedFilter(bare.And(wasForest), p.MinClusterPixels)

	return &Detection{
		Lens:  VegetationLoss,
		Index: ndvi,
		Mask:  mask,
		Vis:   Vis{Min: -0.2, Max: 0.8, Palette: []string{"#a52a2a", "#ffff00", "#006400"}},
	}, nil
}

func water(n Name, threshold float64, current catalog.BandSet) (*Detection, error) {
	green, err := band(current, bandGreen)
	if err != nil {
		return nil, err
	}
	swir, err := band(current, bandSWIR)
	if err != nil {
		return nil, err
	}

	ndwi, err := raster.NormalizedDifference(green, swir)
	if err != nil {
		return nil, eris.Wrap(err, "lens: NDWI")
	}

	return &Detection{
		Lens:  n,
		Index: ndwi,
		Mask:  raster.GreaterThan(ndwi, threshold),
		Vis:   Vis{Min: -0.5, Max: 0.5, Palette: []string{"#f5deb3", "#87ceeb", "#00008b"}},
	}, nil
}

// chlorophyll has no threshold of its own: the red-edge index value is the
// continuous output, and the water mask bounds its support. Pixels outside
// water are nodata in the index raster.
func chlorophyll(p Params, current catalog.BandSet) (*Detection, error) {
	waterDet, err := water(Water, p.WaterMin, current)
	if err != nil {
		return nil, err
	}

	red, err := band(current, bandRed)
	if err != nil {
		return nil, err
	}
	redEdge, err := band(current, bandRedEdge)
	if err != nil {
		return nil, err
	}

	ndci, err := raster.NormalizedDifference(redEdge, red)
	if err != nil {
		return nil, eris.Wrap(err, "lens: NDCI")
	}
	for i := range ndci.Data {
		if !waterDet.Mask.Cells[i] {
			ndci.Data[i] = math.NaN()
		}
	}

	return &Detection{
		Lens:  Chlorophyll,
		Index: ndci,
		Mask:  waterDet.Mask,
		Vis:   Vis{Min: -0.1, Max: 0.4, Palette: []string{"#0000ff", "#00ff00", "#ff0000"}},
	}, nil
}

func burn(p Params, current catalog.BandSet) (*Detection, error) {
	nir, err := band(current, bandNIR)
	if err != nil {
		return nil, err
	}
	swir, err := band(current, bandSWIR)
	if err != nil {
		return nil, err
	}

	nbr, err := raster.NormalizedDifference(nir, swir)
	if err != nil {
		return nil, eris.Wrap(err, "lens: NBR")
	}

	return &Detection{
		Lens:  Burn,
		Index: nbr,
		Mask:  raster.LessThan(nbr, p.BurnMax),
		Vis:   Vis{Min: -0.5, Max: 0.5, Palette: []string{"#000000", "#ff4500", "#ffffff"}},
	}, nil
}
