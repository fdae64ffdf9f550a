package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Project    ProjectConfig    `yaml:"project" mapstructure:"project"`
	IBGE       IBGEConfig       `yaml:"ibge" mapstructure:"ibge"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Lens       LensConfig       `yaml:"lens" mapstructure:"lens"`
	Aggregate  AggregateConfig  `yaml:"aggregate" mapstructure:"aggregate"`
	ROI        ROIConfig        `yaml:"roi" mapstructure:"roi"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Credential CredentialConfig `yaml:"credential" mapstructure:"credential"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ProjectConfig identifies the remote compute project.
type ProjectConfig struct {
	ID string `yaml:"id" mapstructure:"id"`
}

// IBGEConfig configures the IBGE locality and mesh endpoints.
type IBGEConfig struct {
	LocalidadesBaseURL string  `yaml:"localidades_base_url" mapstructure:"localidades_base_url"`
	MalhasBaseURL      string  `yaml:"malhas_base_url" mapstructure:"malhas_base_url"`
	MeshQuality        string  `yaml:"mesh_quality" mapstructure:"mesh_quality"`
	GeoFTPHost         string  `yaml:"geoftp_host" mapstructure:"geoftp_host"`
	GeoFTPMeshDir      string  `yaml:"geoftp_mesh_dir" mapstructure:"geoftp_mesh_dir"`
	RateLimitRPS       float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// CatalogConfig configures the satellite imagery catalog.
type CatalogConfig struct {
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	Collection        string `yaml:"collection" mapstructure:"collection"`
	LandsatCollection string `yaml:"landsat_collection" mapstructure:"landsat_collection"`
	MaxCloudCover     float64 `yaml:"max_cloud_cover" mapstructure:"max_cloud_cover"`
	LookbackDays      int     `yaml:"lookback_days" mapstructure:"lookback_days"`
	BaselineFromDays  int     `yaml:"baseline_from_days" mapstructure:"baseline_from_days"`
	BaselineToDays    int     `yaml:"baseline_to_days" mapstructure:"baseline_to_days"`
	SeriesWindowDays  int     `yaml:"series_window_days" mapstructure:"series_window_days"`
	SeriesMaxScenes   int     `yaml:"series_max_scenes" mapstructure:"series_max_scenes"`
	RateLimitRPS      float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LensConfig overrides detection thresholds. Zero values fall back to the
// lens package defaults; PresetFile optionally loads per-biome presets.
type LensConfig struct {
	PresetFile         string  `yaml:"preset_file" mapstructure:"preset_file"`
	Preset             string  `yaml:"preset" mapstructure:"preset"`
	VegetationCurrent  float64 `yaml:"vegetation_current" mapstructure:"vegetation_current"`
	VegetationBaseline float64 `yaml:"vegetation_baseline" mapstructure:"vegetation_baseline"`
	MinClusterPixels   int     `yaml:"min_cluster_pixels" mapstructure:"min_cluster_pixels"`
	Water              float64 `yaml:"water" mapstructure:"water"`
	WaterTurbid        float64 `yaml:"water_turbid" mapstructure:"water_turbid"`
	Burn               float64 `yaml:"burn" mapstructure:"burn"`
}

// AggregateConfig configures area reduction budgets and the scale ladder.
type AggregateConfig struct {
	ScaleLadderM     []float64 `yaml:"scale_ladder_m" mapstructure:"scale_ladder_m"`
	BudgetSecs       int       `yaml:"budget_secs" mapstructure:"budget_secs"`
	MaxPixels        int64     `yaml:"max_pixels" mapstructure:"max_pixels"`
	CoarsenThreshold int       `yaml:"coarsen_threshold" mapstructure:"coarsen_threshold"`
}

// ROIConfig configures boundary resolution.
type ROIConfig struct {
	SimplifyTolerance float64 `yaml:"simplify_tolerance" mapstructure:"simplify_tolerance"`
	CacheTTLHours     int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds the alert-audit model settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// CredentialConfig points at the service-account credential blob.
type CredentialConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the dashboard API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ExportSecret   string   `yaml:"export_secret" mapstructure:"export_secret"`
	ExportTTLMins  int      `yaml:"export_ttl_mins" mapstructure:"export_ttl_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SENTINELA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "sentinela.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("server.export_ttl_mins", 15)
	v.SetDefault("ibge.localidades_base_url", "https://servicodados.ibge.gov.br/api/v1/localidades")
	v.SetDefault("ibge.malhas_base_url", "https://servicodados.ibge.gov.br/api/v3/malhas")
	v.SetDefault("ibge.mesh_quality", "intermediaria")
	v.SetDefault("ibge.geoftp_host", "geoftp.ibge.gov.br:21")
	v.SetDefault("ibge.geoftp_mesh_dir", "/organizacao_do_territorio/malhas_territoriais/malhas_municipais/municipio_2022/UFs")
	v.SetDefault("ibge.rate_limit_rps", 4)
	v.SetDefault("ibge.timeout_secs", 30)
	v.SetDefault("catalog.collection", "sentinel-2-l2a")
	v.SetDefault("catalog.landsat_collection", "landsat-c2-l2")
	v.SetDefault("catalog.max_cloud_cover", 15)
	v.SetDefault("catalog.lookback_days", 30)
	v.SetDefault("catalog.baseline_from_days", 395) // ~13 months before the reference date
	v.SetDefault("catalog.baseline_to_days", 330)   // ~11 months before the reference date
	v.SetDefault("catalog.series_window_days", 90)
	v.SetDefault("catalog.series_max_scenes", 20)
	v.SetDefault("catalog.rate_limit_rps", 2)
	v.SetDefault("catalog.timeout_secs", 60)
	v.SetDefault("roi.simplify_tolerance", 0.005)
	v.SetDefault("roi.cache_ttl_hours", 24)
	v.SetDefault("aggregate.scale_ladder_m", []float64{10, 30, 50})
	v.SetDefault("aggregate.budget_secs", 45)
	v.SetDefault("aggregate.max_pixels", int64(1e9))
	v.SetDefault("aggregate.coarsen_threshold", 5)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
