// Package store persists analysis runs, the ROI geometry cache, and the
// municipal mesh loaded from the IBGE geoftp shapefiles. Two backends:
// SQLite for single-user desktop use, Postgres for a shared deployment.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// RunStatus tracks an analysis run's lifecycle.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunRequest is what the user asked for.
type RunRequest struct {
	ROIName       string    `json:"roi_name"`
	UnitIDs       []int64   `json:"unit_ids"`
	Lens          string    `json:"lens"`
	Preset        string    `json:"preset,omitempty"`
	ReferenceDate time.Time `json:"reference_date"`
}

// Run is one persisted analysis run. Result holds the serialized
// analysis result once the run completes.
type Run struct {
	ID        string          `json:"id"`
	Request   RunRequest      `json:"request"`
	Status    RunStatus       `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Lens   string    `json:"lens,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// MeshRow is one municipality boundary from the geoftp shapefile,
// geometry as EWKB.
type MeshRow struct {
	Code int64  `json:"code"`
	Name string `json:"name"`
	UF   string `json:"uf"`
	WKB  []byte `json:"-"`
}

// Store defines the persistence interface for the dashboard backend.
// The ROI cache methods satisfy roi.Cache.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, req RunRequest) (*Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus) error
	CompleteRun(ctx context.Context, runID string, result json.RawMessage) error
	FailRun(ctx context.Context, runID string, cause string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// ROI cache
	GetROI(ctx context.Context, key string) ([]byte, bool, error)
	SetROI(ctx context.Context, key string, geojson []byte, ttl time.Duration) error
	DeleteExpiredROIs(ctx context.Context) (int, error)

	// Municipal mesh
	ReplaceMeshes(ctx context.Context, uf string, rows []MeshRow) (int64, error)
	GetMesh(ctx context.Context, code int64) (*MeshRow, error)
	CountMeshes(ctx context.Context, uf string) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
