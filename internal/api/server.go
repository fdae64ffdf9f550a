// Package api serves the dashboard HTTP API: locality lookups, session
// analyses, run history, and time-bounded export downloads.
package api

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sertao-labs/sentinela/internal/analysis"
	"github.com/sertao-labs/sentinela/internal/export"
	"github.com/sertao-labs/sentinela/internal/roi"
	"github.com/sertao-labs/sentinela/internal/store"
	"github.com/sertao-labs/sentinela/pkg/ibge"
)

// rasterCacheSize bounds how many runs keep their rasters in memory for
// GeoTIFF download. Older runs lose the .tif export but keep CSV/XLSX,
// which are rebuilt from the persisted result.
const rasterCacheSize = 16

// Server is the dashboard API.
type Server struct {
	localities ibge.Client
	resolver   *roi.Resolver
	sessions   *analysis.Manager
	store      store.Store
	signer     *export.Signer
	origins    []string

	mu      sync.Mutex
	rasters map[string]*analysis.Result
	order   []string
}

// NewServer wires the API over its collaborators.
func NewServer(localities ibge.Client, resolver *roi.Resolver, sessions *analysis.Manager, st store.Store, signer *export.Signer, allowedOrigins []string) *Server {
	return &Server{
		localities: localities,
		resolver:   resolver,
		sessions:   sessions,
		store:      st,
		signer:     signer,
		origins:    allowedOrigins,
		rasters:    make(map[string]*analysis.Result),
	}
}

// Router builds the chi handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// A panicking handler must cost one request, not the process.
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Get("/states", s.handleStates)
		api.Get("/states/{uf}/municipalities", s.handleMunicipalities)
		api.Get("/lenses", s.handleLenses)

		api.Post("/sessions", s.handleCreateSession)
		api.Route("/sessions/{id}", func(sr chi.Router) {
			sr.Get("/", s.handleGetSession)
			sr.Post("/area", s.handleLoadArea)
			sr.Post("/analyze", s.handleAnalyze)
		})

		api.Route("/runs", func(rr chi.Router) {
			rr.Get("/", s.handleListRuns)
			rr.Get("/{id}", s.handleGetRun)
			rr.Get("/{id}/series.csv", s.handleSeriesCSV)
			rr.Get("/{id}/report.xlsx", s.handleReportXLSX)
			rr.Get("/{id}/mask.tif", s.handleMaskTIFF)
		})
	})

	return r
}

// cacheRasters keeps a run's in-memory rasters available for the .tif
// download, evicting the oldest entry past the cap.
func (s *Server) cacheRasters(runID string, result *analysis.Result) {
	if result.Index == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rasters[runID]; !ok {
		s.order = append(s.order, runID)
	}
	s.rasters[runID] = result
	for len(s.order) > rasterCacheSize {
		delete(s.rasters, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Server) cachedRasters(runID string) (*analysis.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rasters[runID]
	return r, ok
}

// exportLinks signs the download URLs for one run.
func (s *Server) exportLinks(runID string) map[string]string {
	links := make(map[string]string, 3)
	for _, kind := range []string{"series.csv", "report.xlsx", "mask.tif"} {
		expiry, token := s.signer.Sign(runID, kind)
		links[kind] = fmt.Sprintf("/api/runs/%s/%s?expires=%d&token=%s", runID, kind, expiry.Unix(), token)
	}
	return links
}
