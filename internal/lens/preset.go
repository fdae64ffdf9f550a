package lens

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Built-in biome presets. The caatinga preset lowers both the cluster
// floor and the was-forest cutoff: dry shrubland rarely reaches the NDVI
// a humid forest does, and clearings there are smaller.
var builtinPresets = map[string]Params{
	"caatinga": {
		VegetationBaselineMin: 0.35,
		MinClusterPixels:      10,
	},
	"cerrado": {
		VegetationBaselineMin: 0.40,
	},
}

// LoadPresets reads biome presets from a YAML file and merges them over
// the built-in set. File entries win on name collision.
func LoadPresets(path string) (map[string]Params, error) {
	presets := make(map[string]Params, len(builtinPresets))
	for name, p := range builtinPresets {
		presets[name] = p
	}
	if path == "" {
		return presets, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "lens: read preset file %s", path)
	}
	var fromFile map[string]Params
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return nil, eris.Wrapf(err, "lens: parse preset file %s", path)
	}
	for name, p := range fromFile {
		presets[name] = p
	}
	return presets, nil
}

// Resolve layers thresholds: defaults, then the named preset, then the
// explicit override. Only non-zero fields of a layer apply, which is safe
// here because every default threshold a caller would zero out already is
// zero (the strict water cutoff).
func Resolve(presets map[string]Params, preset string, override Params) (Params, error) {
	p := DefaultParams()
	if preset != "" {
		layer, ok := presets[preset]
		if !ok {
			return Params{}, eris.Errorf("lens: unknown preset %q", preset)
		}
		p = merge(p, layer)
	}
	return merge(p, override), nil
}

func merge(base, over Params) Params {
	if over.VegetationCurrentMax != 0 {
		base.VegetationCurrentMax = over.VegetationCurrentMax
	}
	if over.VegetationBaselineMin != 0 {
		base.VegetationBaselineMin = over.VegetationBaselineMin
	}
	if over.MinClusterPixels != 0 {
		base.MinClusterPixels = over.MinClusterPixels
	}
	if over.WaterMin != 0 {
		base.WaterMin = over.WaterMin
	}
	if over.WaterTurbidMin != 0 {
		base.WaterTurbidMin = over.WaterTurbidMin
	}
	if over.BurnMax != 0 {
		base.BurnMax = over.BurnMax
	}
	return base
}
