package ibge

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Mesh is a municipality boundary as returned by the malhas service.
type Mesh struct {
	MunicipalityID int64
	Geometry       *geom.MultiPolygon
}

// MunicipalityMesh fetches one municipality's boundary mesh as GeoJSON and
// normalizes it to a MultiPolygon. The malhas service answers either a
// FeatureCollection or a bare geometry depending on the format negotiation.
func (c *client) MunicipalityMesh(ctx context.Context, municipalityID int64) (*Mesh, error) {
	u := fmt.Sprintf("%s/municipios/%d?formato=%s&qualidade=%s",
		c.malhasBase, municipalityID,
		url.QueryEscape("application/vnd.geo+json"), c.meshQuality,
	)

	body, err := c.get(ctx, u)
	if err != nil {
		return nil, eris.Wrapf(err, "ibge: fetch mesh %d", municipalityID)
	}

	mp, err := decodeMeshGeoJSON(body)
	if err != nil {
		return nil, eris.Wrapf(err, "ibge: decode mesh %d", municipalityID)
	}

	return &Mesh{MunicipalityID: municipalityID, Geometry: mp}, nil
}

// decodeMeshGeoJSON accepts a FeatureCollection, a Feature, or a bare
// geometry and collects all polygonal parts into one MultiPolygon.
func decodeMeshGeoJSON(body []byte) (*geom.MultiPolygon, error) {
	var geoms []geom.T

	var fc geojson.FeatureCollection
	if err := fc.UnmarshalJSON(body); err == nil && len(fc.Features) > 0 {
		for _, f := range fc.Features {
			if f.Geometry != nil {
				geoms = append(geoms, f.Geometry)
			}
		}
	} else {
		var f geojson.Feature
		if err := f.UnmarshalJSON(body); err == nil && f.Geometry != nil {
			geoms = append(geoms, f.Geometry)
		} else {
			var g geom.T
			if err := geojson.Unmarshal(body, &g); err != nil {
				return nil, eris.Wrap(err, "not a feature collection, feature, or geometry")
			}
			geoms = append(geoms, g)
		}
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for _, g := range geoms {
		switch t := g.(type) {
		case *geom.Polygon:
			if err := mp.Push(t); err != nil {
				return nil, eris.Wrap(err, "push polygon")
			}
		case *geom.MultiPolygon:
			for i := 0; i < t.NumPolygons(); i++ {
				if err := mp.Push(t.Polygon(i)); err != nil {
					return nil, eris.Wrap(err, "push multipolygon part")
				}
			}
		default:
			// Mesh responses carry only polygonal geometry; anything else
			// is a malformed payload.
		}
	}

	if mp.NumPolygons() == 0 {
		return nil, eris.New("no polygonal geometry in response")
	}
	return mp, nil
}
