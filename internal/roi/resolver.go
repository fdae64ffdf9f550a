package roi

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// ErrNoBoundaries indicates that every requested unit failed to resolve.
// Partial failures are not errors: units that fail are skipped.
var ErrNoBoundaries = eris.New("roi: no boundaries resolved")

// BoundarySource fetches one administrative unit's boundary.
type BoundarySource interface {
	Boundary(ctx context.Context, unitID int64) (*geom.MultiPolygon, error)
}

// Cache stores resolved ROI geometry keyed by identifier set.
type Cache interface {
	GetROI(ctx context.Context, key string) ([]byte, bool, error)
	SetROI(ctx context.Context, key string, geojson []byte, ttl time.Duration) error
}

// Resolver builds ROIs from administrative-unit identifier sets.
type Resolver struct {
	source    BoundarySource
	cache     Cache
	tolerance float64
	ttl       time.Duration
}

// Option configures the resolver.
type Option func(*Resolver)

// WithTolerance sets the simplification tolerance in degrees.
func WithTolerance(deg float64) Option {
	return func(r *Resolver) { r.tolerance = deg }
}

// WithCache enables the ROI cache with the given TTL.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Resolver) { r.cache = c; r.ttl = ttl }
}

// NewResolver creates a resolver over the given boundary source.
func NewResolver(source BoundarySource, opts ...Option) *Resolver {
	r := &Resolver{source: source, tolerance: 0.005}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches each unit's boundary, skipping individual failures,
// combines the survivors into one multipolygon, and simplifies it. Only
// when every unit fails does it return ErrNoBoundaries.
func (r *Resolver) Resolve(ctx context.Context, name string, unitIDs []int64) (*ROI, error) {
	if len(unitIDs) == 0 {
		return nil, eris.New("roi: no unit identifiers")
	}

	key := CacheKey(unitIDs)
	if r.cache != nil {
		if cached, ok := r.cacheGet(ctx, key); ok {
			return &ROI{Name: name, UnitIDs: unitIDs, Geometry: cached, ResolvedAt: time.Now().UTC()}, nil
		}
	}

	combined := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	var resolved []int64
	for _, id := range unitIDs {
		mp, err := r.source.Boundary(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "roi: resolve canceled")
			}
			zap.L().Warn("roi: skipping unit, boundary fetch failed",
				zap.Int64("unit_id", id),
				zap.Error(err),
			)
			continue
		}
		for i := 0; i < mp.NumPolygons(); i++ {
			if err := combined.Push(mp.Polygon(i)); err != nil {
				zap.L().Warn("roi: skipping malformed polygon part",
					zap.Int64("unit_id", id),
					zap.Error(err),
				)
			}
		}
		resolved = append(resolved, id)
	}

	if len(resolved) == 0 || combined.NumPolygons() == 0 {
		return nil, ErrNoBoundaries
	}

	simplified := Simplify(combined, r.tolerance)
	if simplified.NumPolygons() == 0 {
		// Tolerance collapsed everything; fall back to the raw combination
		// rather than returning an empty region.
		simplified = combined
	}

	out := &ROI{
		Name:       name,
		UnitIDs:    resolved,
		Geometry:   simplified,
		ResolvedAt: time.Now().UTC(),
	}

	if r.cache != nil {
		r.cacheSet(ctx, key, out)
	}

	zap.L().Info("roi resolved",
		zap.String("name", name),
		zap.Int("requested", len(unitIDs)),
		zap.Int("resolved", len(resolved)),
		zap.Int("polygons", simplified.NumPolygons()),
	)
	return out, nil
}

func (r *Resolver) cacheGet(ctx context.Context, key string) (*geom.MultiPolygon, bool) {
	data, ok, err := r.cache.GetROI(ctx, key)
	if err != nil || !ok {
		if err != nil {
			zap.L().Debug("roi cache read failed", zap.Error(err))
		}
		return nil, false
	}
	mp, err := FromGeoJSON(data)
	if err != nil {
		zap.L().Debug("roi cache entry corrupt", zap.Error(err))
		return nil, false
	}
	zap.L().Debug("roi cache hit", zap.String("key", shortKey(key)))
	return mp, true
}

func (r *Resolver) cacheSet(ctx context.Context, key string, out *ROI) {
	data, err := out.MarshalGeoJSON()
	if err != nil {
		return
	}
	if err := r.cache.SetROI(ctx, key, data, r.ttl); err != nil {
		zap.L().Debug("roi cache write failed", zap.Error(err))
	}
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return strings.Clone(key)
}
