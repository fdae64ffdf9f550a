// Package mesh loads the IBGE municipal mesh: shapefile archives from the
// geoftp server, parsed and EWKB-encoded into the store, then served as a
// local boundary source so ROI resolution works offline.
package mesh

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sertao-labs/sentinela/internal/store"
)

// Municipality shapefile attribute names (2022 mesh).
const (
	fieldCode = "CD_MUN"
	fieldName = "NM_MUN"
	fieldUF   = "SIGLA_UF"
)

// ParseShapefile reads a municipal mesh shapefile and returns store rows.
// Records with a missing code or an unencodable geometry are skipped.
func ParseShapefile(shpPath string) ([]store.MeshRow, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "mesh: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToUpper(name)] = i
	}

	attr := func(name string) string {
		i, ok := fieldIdx[name]
		if !ok {
			return ""
		}
		return strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
	}

	var rows []store.MeshRow
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		code, err := strconv.ParseInt(attr(fieldCode), 10, 64)
		if err != nil {
			skipped++
			continue
		}

		wkb, err := EncodeWKB(shape)
		if err != nil || wkb == nil {
			skipped++
			continue
		}

		rows = append(rows, store.MeshRow{
			Code: code,
			Name: attr(fieldName),
			UF:   attr(fieldUF),
			WKB:  wkb,
		})
	}

	if skipped > 0 {
		zap.L().Debug("mesh: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	return rows, nil
}

// EncodeWKB converts a shapefile polygon to EWKB bytes with SRID 4326.
// Returns nil, nil for nil or non-polygonal shapes.
func EncodeWKB(shape shp.Shape) ([]byte, error) {
	p, ok := shape.(*shp.Polygon)
	if !ok || p == nil {
		return nil, nil
	}

	mp := polygonToMultiPolygon(p)
	if mp == nil {
		return nil, nil
	}

	data, err := ewkb.Marshal(mp, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "mesh: encode WKB")
	}
	return data, nil
}

// DecodeWKB parses EWKB bytes back into a multipolygon.
func DecodeWKB(data []byte) (*geom.MultiPolygon, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "mesh: decode WKB")
	}
	switch t := g.(type) {
	case *geom.MultiPolygon:
		return t, nil
	case *geom.Polygon:
		mp := geom.NewMultiPolygon(geom.XY).SetSRID(t.SRID())
		if err := mp.Push(t); err != nil {
			return nil, eris.Wrap(err, "mesh: wrap polygon")
		}
		return mp, nil
	}
	return nil, eris.Errorf("mesh: unexpected geometry type %T", g)
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("mesh: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("mesh: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
