package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sertao-labs/sentinela/internal/aggregate"
	"github.com/sertao-labs/sentinela/internal/analysis"
	"github.com/sertao-labs/sentinela/internal/audit"
	"github.com/sertao-labs/sentinela/internal/credential"
	"github.com/sertao-labs/sentinela/internal/lens"
	"github.com/sertao-labs/sentinela/internal/mesh"
	"github.com/sertao-labs/sentinela/internal/roi"
	"github.com/sertao-labs/sentinela/internal/store"
	"github.com/sertao-labs/sentinela/pkg/catalog"
	"github.com/sertao-labs/sentinela/pkg/ibge"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "sentinela.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initLocalities() ibge.Client {
	return ibge.NewClient(
		ibge.WithLocalidadesBaseURL(cfg.IBGE.LocalidadesBaseURL),
		ibge.WithMalhasBaseURL(cfg.IBGE.MalhasBaseURL),
		ibge.WithMeshQuality(cfg.IBGE.MeshQuality),
		ibge.WithRateLimit(cfg.IBGE.RateLimitRPS),
	)
}

// initCatalog authenticates against the imagery catalog. A missing or
// malformed credential is a configuration failure: remote-backed commands
// refuse to start rather than retry.
func initCatalog() (catalog.Client, error) {
	sa, err := credential.Load(cfg.Credential.Path)
	if err != nil {
		return nil, eris.Wrap(err, "imagery catalog disabled")
	}
	project := cfg.Project.ID
	if project == "" {
		project = sa.ProjectID
	}
	zap.L().Info("imagery catalog ready",
		zap.String("project", project),
		zap.String("account", sa.ClientEmail))

	return catalog.NewClient(cfg.Catalog.BaseURL,
		catalog.WithRateLimit(cfg.Catalog.RateLimitRPS),
	), nil
}

// initResolver builds the boundary resolver: the store-backed mesh first,
// the live IBGE malhas service as fallback, results cached in the store.
func initResolver(st store.Store, localities ibge.Client) *roi.Resolver {
	opts := []roi.Option{
		roi.WithCache(st, time.Duration(cfg.ROI.CacheTTLHours)*time.Hour),
	}
	if cfg.ROI.SimplifyTolerance > 0 {
		opts = append(opts, roi.WithTolerance(cfg.ROI.SimplifyTolerance))
	}
	return roi.NewResolver(mesh.NewSource(st, localities), opts...)
}

func initPresets() (map[string]lens.Params, error) {
	return lens.LoadPresets(cfg.Lens.PresetFile)
}

func initAuditor() *audit.Auditor {
	if cfg.Anthropic.Key == "" {
		zap.L().Debug("SENTINELA_ANTHROPIC_KEY not set, alert audit disabled")
		return nil
	}
	return audit.NewAuditor(audit.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model)
}

func runnerOptions() analysis.Options {
	return analysis.Options{
		Collection:        cfg.Catalog.Collection,
		LandsatCollection: cfg.Catalog.LandsatCollection,
		MaxCloudCover:     cfg.Catalog.MaxCloudCover,
		LookbackDays:      cfg.Catalog.LookbackDays,
		BaselineFromDays:  cfg.Catalog.BaselineFromDays,
		BaselineToDays:    cfg.Catalog.BaselineToDays,
		SeriesWindowDays:  cfg.Catalog.SeriesWindowDays,
		SeriesMaxScenes:   cfg.Catalog.SeriesMaxScenes,
		ScaleLadderM:      cfg.Aggregate.ScaleLadderM,
		Budget: aggregate.Budget{
			MaxPixels:        cfg.Aggregate.MaxPixels,
			Timeout:          time.Duration(cfg.Aggregate.BudgetSecs) * time.Second,
			CoarsenThreshold: cfg.Aggregate.CoarsenThreshold,
		},
		DefaultPreset: cfg.Lens.Preset,
		Override: lens.Params{
			VegetationCurrentMax:  cfg.Lens.VegetationCurrent,
			VegetationBaselineMin: cfg.Lens.VegetationBaseline,
			MinClusterPixels:      cfg.Lens.MinClusterPixels,
			WaterMin:              cfg.Lens.Water,
			WaterTurbidMin:        cfg.Lens.WaterTurbid,
			BurnMax:               cfg.Lens.Burn,
		},
	}
}

// analysisEnv bundles everything one analysis needs. Callers should defer
// Close().
type analysisEnv struct {
	Store   store.Store
	Service *analysis.Service
}

func (e *analysisEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initAnalysis(ctx context.Context) (*analysisEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	cat, err := initCatalog()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	presets, err := initPresets()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	runner := analysis.NewRunner(
		initResolver(st, initLocalities()),
		cat,
		initAuditor(),
		presets,
		runnerOptions(),
	)
	return &analysisEnv{
		Store:   st,
		Service: analysis.NewService(runner, st),
	}, nil
}
