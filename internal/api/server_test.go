package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sertao-labs/sentinela/internal/aggregate"
	"github.com/sertao-labs/sentinela/internal/analysis"
	"github.com/sertao-labs/sentinela/internal/export"
	"github.com/sertao-labs/sentinela/internal/raster"
	"github.com/sertao-labs/sentinela/internal/roi"
	"github.com/sertao-labs/sentinela/internal/store"
	"github.com/sertao-labs/sentinela/pkg/catalog"
	"github.com/sertao-labs/sentinela/pkg/ibge"
)

type fakeLocalities struct {
	statesErr error
}

func (f *fakeLocalities) States(ctx context.Context) ([]ibge.State, error) {
	if f.statesErr != nil {
		return nil, f.statesErr
	}
	pe := ibge.State{ID: 26, Sigla: "PE", Name: "Pernambuco"}
	ba := ibge.State{ID: 29, Sigla: "BA", Name: "Bahia"}
	return []ibge.State{ba, pe}, nil
}

func (f *fakeLocalities) Municipalities(ctx context.Context, stateID int) ([]ibge.Municipality, error) {
	if stateID != 26 {
		return nil, nil
	}
	return []ibge.Municipality{
		{ID: 2611101, Name: "Petrolina"},
		{ID: 2611606, Name: "Recife"},
	}, nil
}

func (f *fakeLocalities) MunicipalityMesh(ctx context.Context, municipalityID int64) (*ibge.Mesh, error) {
	return nil, eris.New("not served in tests")
}

type fixedBoundary struct{}

func (fixedBoundary) Boundary(ctx context.Context, unitID int64) (*geom.MultiPolygon, error) {
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	poly := geom.NewPolygon(geom.XY)
	if _, err := poly.SetCoords([][]geom.Coord{{
		{-40.52, -9.41}, {-40.50, -9.41}, {-40.50, -9.39}, {-40.52, -9.39}, {-40.52, -9.41},
	}}); err != nil {
		return nil, err
	}
	if err := mp.Push(poly); err != nil {
		return nil, err
	}
	return mp, nil
}

type fakeCatalog struct {
	noScene bool
}

func (f *fakeCatalog) scene() catalog.Scene {
	return catalog.Scene{ID: "S2A_20240910", Collection: "sentinel-2-l2a",
		AcquiredAt: time.Date(2024, 9, 10, 13, 0, 0, 0, time.UTC), CloudCover: 4}
}

func (f *fakeCatalog) Search(ctx context.Context, q catalog.Query) ([]catalog.Scene, error) {
	if f.noScene {
		return nil, nil
	}
	return []catalog.Scene{f.scene()}, nil
}

func (f *fakeCatalog) Best(ctx context.Context, q catalog.Query) (*catalog.Scene, error) {
	if f.noScene {
		return nil, catalog.ErrNoQualifyingScene
	}
	s := f.scene()
	return &s, nil
}

func (f *fakeCatalog) FetchBands(ctx context.Context, scene catalog.Scene, bands []string, ref raster.GridRef) (catalog.BandSet, error) {
	fill := map[string]float64{"B03": 0.3, "B11": 0.1}
	set := make(catalog.BandSet, len(bands))
	for _, b := range bands {
		g := raster.NewGrid(ref.Width, ref.Height, ref.OriginX, ref.OriginY, ref.PixelSize)
		for i := range g.Data {
			g.Data[i] = fill[b]
		}
		set[b] = g
	}
	return set, nil
}

func (f *fakeCatalog) BaselineComposite(ctx context.Context, q catalog.Query, bands []string, ref raster.GridRef) (catalog.BandSet, error) {
	return f.FetchBands(ctx, catalog.Scene{}, bands, ref)
}

const testSecret = "test-export-secret"

func newTestServer(t *testing.T, cat catalog.Client) (*Server, *httptest.Server) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	resolver := roi.NewResolver(fixedBoundary{})
	runner := analysis.NewRunner(resolver, cat, nil, nil, analysis.Options{
		Collection:    "sentinel-2-l2a",
		MaxCloudCover: 20,
		ScaleLadderM:  []float64{50},
		Budget:        aggregate.Budget{MaxPixels: 10_000_000, Timeout: 5 * time.Second, CoarsenThreshold: 30},
	})
	srv := NewServer(
		&fakeLocalities{},
		resolver,
		analysis.NewManager(analysis.NewService(runner, st), 0),
		st,
		export.NewSigner(testSecret, 15*time.Minute),
		[]string{"http://localhost:5173"},
	)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func getJSON(t *testing.T, url string, into any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp
}

func postJSON(t *testing.T, url string, body any, into any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, &fakeCatalog{})
	var body map[string]string
	resp := getJSON(t, ts.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestStatesAndMunicipalities(t *testing.T) {
	_, ts := newTestServer(t, &fakeCatalog{})

	var states []ibge.State
	resp := getJSON(t, ts.URL+"/api/states", &states)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, states, 2)

	var municipalities []ibge.Municipality
	resp = getJSON(t, ts.URL+"/api/states/pe/municipalities", &municipalities)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, municipalities, 2)

	// Accent-insensitive filter.
	resp = getJSON(t, ts.URL+"/api/states/PE/municipalities?q=petro", &municipalities)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, municipalities, 1)
	assert.Equal(t, "Petrolina", municipalities[0].Name)

	resp = getJSON(t, ts.URL+"/api/states/XX/municipalities", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	var created struct {
		ID string `json:"id"`
	}
	resp := postJSON(t, ts.URL+"/api/sessions", nil, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, created.ID)
	return created.ID
}

func analyzeBody() map[string]any {
	return map[string]any{
		"roi_name":       "Petrolina",
		"unit_ids":       []int64{2611101},
		"lens":           "water",
		"reference_date": "2024-09-15T00:00:00Z",
	}
}

func TestLoadArea(t *testing.T) {
	_, ts := newTestServer(t, &fakeCatalog{})
	id := createSession(t, ts)

	var area struct {
		Name      string          `json:"name"`
		UnitCount int             `json:"unit_count"`
		BBox      [4]float64      `json:"bbox"`
		Geometry  json.RawMessage `json:"geometry"`
	}
	resp := postJSON(t, ts.URL+"/api/sessions/"+id+"/area",
		map[string]any{"name": "Petrolina", "unit_ids": []int64{2611101}}, &area)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Petrolina", area.Name)
	assert.Equal(t, 1, area.UnitCount)
	assert.InDelta(t, -40.52, area.BBox[0], 1e-9)
	assert.Contains(t, string(area.Geometry), "MultiPolygon")

	resp = postJSON(t, ts.URL+"/api/sessions/"+id+"/area", map[string]any{"name": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/sessions/nope/area",
		map[string]any{"name": "x", "unit_ids": []int64{1}}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAnalyzeAndDownloads(t *testing.T) {
	_, ts := newTestServer(t, &fakeCatalog{})
	id := createSession(t, ts)

	body := analyzeBody()
	body["with_series"] = true
	var analyzed struct {
		RunID  string            `json:"run_id"`
		Result *analysis.Result  `json:"result"`
		Links  map[string]string `json:"links"`
	}
	resp := postJSON(t, ts.URL+"/api/sessions/"+id+"/analyze", body, &analyzed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, analyzed.RunID)
	require.NotNil(t, analyzed.Result)
	assert.Equal(t, aggregate.StatusOK, analyzed.Result.Area.Status)
	require.Len(t, analyzed.Links, 3)

	// The session now shows the result.
	var sess struct {
		Result *analysis.Result `json:"result"`
	}
	resp = getJSON(t, ts.URL+"/api/sessions/"+id, &sess)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, sess.Result)

	// The run is persisted and listed.
	var run store.Run
	resp = getJSON(t, ts.URL+"/api/runs/"+analyzed.RunID, &run)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, store.RunStatusComplete, run.Status)

	var runs []store.Run
	resp = getJSON(t, ts.URL+"/api/runs?status=complete", &runs)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, runs, 1)

	// CSV download through the signed link.
	csvResp, err := http.Get(ts.URL + analyzed.Links["series.csv"])
	require.NoError(t, err)
	defer csvResp.Body.Close()
	assert.Equal(t, http.StatusOK, csvResp.StatusCode)
	assert.Contains(t, csvResp.Header.Get("Content-Type"), "text/csv")

	// XLSX download.
	xlsxResp, err := http.Get(ts.URL + analyzed.Links["report.xlsx"])
	require.NoError(t, err)
	xlsxResp.Body.Close()
	assert.Equal(t, http.StatusOK, xlsxResp.StatusCode)

	// GeoTIFF download from the in-memory raster cache.
	tifResp, err := http.Get(ts.URL + analyzed.Links["mask.tif"])
	require.NoError(t, err)
	tifResp.Body.Close()
	assert.Equal(t, http.StatusOK, tifResp.StatusCode)
	assert.Equal(t, "image/tiff", tifResp.Header.Get("Content-Type"))
}

func TestAnalyzeRejectsBadRequests(t *testing.T) {
	_, ts := newTestServer(t, &fakeCatalog{})
	id := createSession(t, ts)

	body := analyzeBody()
	body["lens"] = "snow-cover"
	resp := postJSON(t, ts.URL+"/api/sessions/"+id+"/analyze", body, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body = analyzeBody()
	delete(body, "unit_ids")
	resp = postJSON(t, ts.URL+"/api/sessions/"+id+"/analyze", body, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalyzeUsesLoadedArea(t *testing.T) {
	_, ts := newTestServer(t, &fakeCatalog{})
	id := createSession(t, ts)

	// Without a loaded area, unit ids are mandatory.
	body := analyzeBody()
	delete(body, "unit_ids")
	delete(body, "roi_name")
	resp := postJSON(t, ts.URL+"/api/sessions/"+id+"/analyze", body, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/sessions/"+id+"/area",
		map[string]any{"name": "Petrolina", "unit_ids": []int64{2611101}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var analyzed struct {
		Result *analysis.Result `json:"result"`
	}
	resp = postJSON(t, ts.URL+"/api/sessions/"+id+"/analyze", body, &analyzed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, analyzed.Result)
	assert.Equal(t, "Petrolina", analyzed.Result.ROIName)
}

func TestAnalyzeNoQualifyingScene(t *testing.T) {
	_, ts := newTestServer(t, &fakeCatalog{noScene: true})
	id := createSession(t, ts)

	var analyzed struct {
		Result *analysis.Result  `json:"result"`
		Links  map[string]string `json:"links"`
	}
	resp := postJSON(t, ts.URL+"/api/sessions/"+id+"/analyze", analyzeBody(), &analyzed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, analyzed.Result)
	assert.True(t, analyzed.Result.NoQualifyingScene)
	assert.Empty(t, analyzed.Links)
}

type panicCatalog struct{ fakeCatalog }

func (panicCatalog) FetchBands(ctx context.Context, scene catalog.Scene, bands []string, ref raster.GridRef) (catalog.BandSet, error) {
	var empty []float64
	_ = empty[0]
	return nil, nil
}

func TestAnalyzePanicCostsOneRequest(t *testing.T) {
	_, ts := newTestServer(t, &panicCatalog{})
	id := createSession(t, ts)

	resp := postJSON(t, ts.URL+"/api/sessions/"+id+"/analyze", analyzeBody(), nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// The server is still up and the session still answers.
	var body map[string]string
	resp = getJSON(t, ts.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestDownloadLinkTampering(t *testing.T) {
	_, ts := newTestServer(t, &fakeCatalog{})
	id := createSession(t, ts)

	var analyzed struct {
		RunID string            `json:"run_id"`
		Links map[string]string `json:"links"`
	}
	resp := postJSON(t, ts.URL+"/api/sessions/"+id+"/analyze", analyzeBody(), &analyzed)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	link, err := url.Parse(analyzed.Links["series.csv"])
	require.NoError(t, err)

	// Forged token.
	q := link.Query()
	q.Set("token", "AAAA")
	resp2, err := http.Get(ts.URL + link.Path + "?" + q.Encode())
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp2.StatusCode)

	// Missing expires.
	resp3, err := http.Get(ts.URL + link.Path)
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp3.StatusCode)
}

func TestDownloadLinkExpiry(t *testing.T) {
	_, ts := newTestServer(t, &fakeCatalog{})
	id := createSession(t, ts)

	var analyzed struct {
		RunID string `json:"run_id"`
	}
	resp := postJSON(t, ts.URL+"/api/sessions/"+id+"/analyze", analyzeBody(), &analyzed)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A correctly signed but already expired link.
	expired := export.NewSigner(testSecret, -time.Minute)
	expiry, token := expired.Sign(analyzed.RunID, "series.csv")
	u := fmt.Sprintf("%s/api/runs/%s/series.csv?expires=%d&token=%s",
		ts.URL, analyzed.RunID, expiry.Unix(), token)
	resp2, err := http.Get(u)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusGone, resp2.StatusCode)
}

func TestDownloadUnknownRun(t *testing.T) {
	srv, ts := newTestServer(t, &fakeCatalog{})

	expiry, token := srv.signer.Sign("missing", "series.csv")
	u := fmt.Sprintf("%s/api/runs/missing/series.csv?expires=%d&token=%s", ts.URL, expiry.Unix(), token)
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, strings.Contains(body["error"], "unknown run"))
}
