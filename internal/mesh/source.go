package mesh

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sertao-labs/sentinela/internal/store"
	"github.com/sertao-labs/sentinela/pkg/ibge"
)

// Source serves municipality boundaries from the locally loaded mesh,
// falling back to the IBGE malhas API for municipalities not yet loaded.
// It satisfies roi.BoundarySource.
type Source struct {
	store    store.Store
	fallback ibge.Client
}

// NewSource creates a boundary source over the store. fallback may be nil,
// in which case unloaded municipalities fail to resolve.
func NewSource(st store.Store, fallback ibge.Client) *Source {
	return &Source{store: st, fallback: fallback}
}

// Boundary returns the municipality's multipolygon.
func (s *Source) Boundary(ctx context.Context, unitID int64) (*geom.MultiPolygon, error) {
	row, err := s.store.GetMesh(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if row != nil {
		return DecodeWKB(row.WKB)
	}

	if s.fallback == nil {
		return nil, eris.Errorf("mesh: municipality %d not loaded", unitID)
	}

	zap.L().Debug("mesh: falling back to malhas API", zap.Int64("municipality", unitID))
	m, err := s.fallback.MunicipalityMesh(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return m.Geometry, nil
}
