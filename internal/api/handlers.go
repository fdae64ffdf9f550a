package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sertao-labs/sentinela/internal/aggregate"
	"github.com/sertao-labs/sentinela/internal/analysis"
	"github.com/sertao-labs/sentinela/internal/export"
	"github.com/sertao-labs/sentinela/internal/lens"
	"github.com/sertao-labs/sentinela/internal/store"
	"github.com/sertao-labs/sentinela/pkg/ibge"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.localities.States(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "locality service unavailable")
		return
	}
	writeJSON(w, http.StatusOK, states)
}

// handleMunicipalities lists a state's municipalities, optionally filtered
// by a ?q= accent-insensitive substring.
func (s *Server) handleMunicipalities(w http.ResponseWriter, r *http.Request) {
	uf := strings.ToUpper(chi.URLParam(r, "uf"))

	states, err := s.localities.States(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "locality service unavailable")
		return
	}
	var state *ibge.State
	for i := range states {
		if states[i].Sigla == uf {
			state = &states[i]
			break
		}
	}
	if state == nil {
		writeError(w, http.StatusNotFound, "unknown state "+uf)
		return
	}

	municipalities, err := s.localities.Municipalities(r.Context(), state.ID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "locality service unavailable")
		return
	}
	if q := r.URL.Query().Get("q"); q != "" {
		municipalities = ibge.MatchMunicipalities(municipalities, q)
	}
	writeJSON(w, http.StatusOK, municipalities)
}

func (s *Server) handleLenses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, lens.All)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         sess.ID,
		"created_at": sess.CreatedAt,
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*analysis.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown session")
		return nil, false
	}
	return sess, true
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	resp := map[string]any{"id": sess.ID, "result": nil}
	if area, ok := sess.Area(); ok {
		resp["area"] = map[string]any{"name": area.Name, "unit_ids": area.UnitIDs}
	}
	if result, ok := sess.Result(); ok {
		resp["result"] = result
	}
	writeJSON(w, http.StatusOK, resp)
}

type areaRequest struct {
	Name    string  `json:"name"`
	UnitIDs []int64 `json:"unit_ids"`
}

// handleLoadArea resolves an ROI and installs it as the session's area,
// clearing whatever result the previous area produced.
func (s *Server) handleLoadArea(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req areaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if len(req.UnitIDs) == 0 {
		writeError(w, http.StatusBadRequest, "unit_ids is required")
		return
	}

	region, err := s.resolver.Resolve(r.Context(), req.Name, req.UnitIDs)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "no boundaries resolved")
		return
	}
	geometry, err := region.MarshalGeoJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode geometry")
		return
	}
	sess.SetArea(region)
	minX, minY, maxX, maxY := region.Bounds()
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       region.Name,
		"unit_ids":   region.UnitIDs,
		"unit_count": region.UnitCount(),
		"bbox":       [4]float64{minX, minY, maxX, maxY},
		"geometry":   json.RawMessage(geometry),
	})
}

type analyzeResponse struct {
	RunID  string            `json:"run_id"`
	Result *analysis.Result  `json:"result"`
	Links  map[string]string `json:"links,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req analysis.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if !req.Lens.Valid() {
		writeError(w, http.StatusBadRequest, "unknown lens")
		return
	}
	if len(req.UnitIDs) == 0 {
		// Fall back to the session's loaded area.
		area, loaded := sess.Area()
		if !loaded {
			writeError(w, http.StatusBadRequest, "unit_ids is required (no area loaded)")
			return
		}
		req.UnitIDs = area.UnitIDs
		if req.ROIName == "" {
			req.ROIName = area.Name
		}
	}

	runID, result, err := sess.Run(r.Context(), req)
	if err != nil {
		// The session keeps whatever it was showing before.
		zap.L().Warn("api: analysis failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "analysis failed")
		return
	}
	s.cacheRasters(runID, result)

	resp := analyzeResponse{RunID: runID, Result: result}
	if !result.NoQualifyingScene {
		resp.Links = s.exportLinks(runID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{
		Status: store.RunStatus(q.Get("status")),
		Lens:   q.Get("lens"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad limit")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad offset")
			return
		}
		filter.Offset = n
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// verifyLink checks the signed expires/token pair on a download URL.
func (s *Server) verifyLink(w http.ResponseWriter, r *http.Request, runID, kind string) bool {
	q := r.URL.Query()
	unix, err := strconv.ParseInt(q.Get("expires"), 10, 64)
	if err != nil {
		writeError(w, http.StatusForbidden, "missing or bad expires")
		return false
	}
	err = s.signer.Verify(runID, kind, time.Unix(unix, 0).UTC(), q.Get("token"))
	switch {
	case errors.Is(err, export.ErrLinkExpired):
		writeError(w, http.StatusGone, "link expired")
		return false
	case err != nil:
		writeError(w, http.StatusForbidden, "bad token")
		return false
	}
	return true
}

// completedResult loads a run and decodes its persisted result.
func (s *Server) completedResult(w http.ResponseWriter, r *http.Request, runID string) (*store.Run, *analysis.Result, bool) {
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown run")
		return nil, nil, false
	}
	if run.Status != store.RunStatusComplete {
		writeError(w, http.StatusConflict, "run is not complete")
		return nil, nil, false
	}
	var result analysis.Result
	if err := json.Unmarshal(run.Result, &result); err != nil {
		writeError(w, http.StatusInternalServerError, "decode result")
		return nil, nil, false
	}
	return run, &result, true
}

func (s *Server) handleSeriesCSV(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !s.verifyLink(w, r, runID, "series.csv") {
		return
	}
	_, result, ok := s.completedResult(w, r, runID)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="series.csv"`)
	if err := export.WriteSeriesCSV(w, string(result.Lens), result.Series); err != nil {
		zap.L().Warn("api: write csv", zap.Error(err))
	}
}

func (s *Server) handleReportXLSX(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !s.verifyLink(w, r, runID, "report.xlsx") {
		return
	}
	run, result, ok := s.completedResult(w, r, runID)
	if !ok {
		return
	}

	summary := export.Summary{
		ROIName:       result.ROIName,
		Lens:          string(result.Lens),
		ReferenceDate: run.Request.ReferenceDate,
		Area:          result.Area,
	}
	if result.Scene != nil {
		summary.SceneID = result.Scene.ID
		summary.CloudCover = result.Scene.CloudCover
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="relatorio.xlsx"`)
	if err := export.WriteXLSX(w, summary, result.Series); err != nil {
		zap.L().Warn("api: write xlsx", zap.Error(err))
	}
}

func (s *Server) handleMaskTIFF(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	if !s.verifyLink(w, r, runID, "mask.tif") {
		return
	}
	result, ok := s.cachedRasters(runID)
	if !ok || result.Index == nil {
		// Rasters are held in memory only; old runs lose this export.
		writeError(w, http.StatusGone, "raster no longer available for this run")
		return
	}
	if result.Area.Status == aggregate.StatusUnavailable {
		writeError(w, http.StatusConflict, "run has no raster")
		return
	}

	w.Header().Set("Content-Type", "image/tiff")
	w.Header().Set("Content-Disposition", `attachment; filename="mask.tif"`)
	if err := export.WriteGeoTIFF(w, result.Index, result.Vis); err != nil {
		zap.L().Warn("api: write geotiff", zap.Error(err))
	}
}
