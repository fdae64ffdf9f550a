package analysis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sertao-labs/sentinela/internal/store"
)

// Service runs analyses and records every run in the store.
type Service struct {
	runner *Runner
	store  store.Store
}

// NewService wraps a runner with run persistence.
func NewService(runner *Runner, st store.Store) *Service {
	return &Service{runner: runner, store: st}
}

// Execute records the run, executes it, and persists either the result or
// the failure cause. The returned run ID identifies the record in both
// cases.
func (s *Service) Execute(ctx context.Context, req Request) (string, *Result, error) {
	rec, err := s.store.CreateRun(ctx, store.RunRequest{
		ROIName:       req.ROIName,
		UnitIDs:       req.UnitIDs,
		Lens:          string(req.Lens),
		Preset:        req.Preset,
		ReferenceDate: req.ReferenceDate,
	})
	if err != nil {
		return "", nil, eris.Wrap(err, "analysis: record run")
	}
	if err := s.store.UpdateRunStatus(ctx, rec.ID, store.RunStatusRunning); err != nil {
		zap.L().Warn("analysis: mark run running", zap.Error(err))
	}

	start := time.Now()
	result, err := s.runner.Run(ctx, req)
	if err != nil {
		if ferr := s.store.FailRun(ctx, rec.ID, err.Error()); ferr != nil {
			zap.L().Warn("analysis: mark run failed", zap.Error(ferr))
		}
		return rec.ID, nil, err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return rec.ID, result, eris.Wrap(err, "analysis: encode result")
	}
	if err := s.store.CompleteRun(ctx, rec.ID, payload); err != nil {
		return rec.ID, result, eris.Wrap(err, "analysis: persist result")
	}

	zap.L().Info("analysis: run complete",
		zap.String("run_id", rec.ID),
		zap.String("lens", string(req.Lens)),
		zap.String("roi", req.ROIName),
		zap.Duration("took", time.Since(start)))
	return rec.ID, result, nil
}
