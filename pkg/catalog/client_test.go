package catalog

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sertao-labs/sentinela/internal/raster"
)

func sceneFeature(id string, acquired string, cloud float64) map[string]any {
	return map[string]any{
		"id":         id,
		"collection": "sentinel-2-l2a",
		"properties": map[string]any{
			"datetime":       acquired,
			"eo:cloud_cover": cloud,
		},
	}
}

func TestSearchOrdersMostRecentFirst(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"sentinel-2-l2a"}, req.Collections)
		assert.Equal(t, 15.0, req.Query.CloudCover.LT)

		json.NewEncoder(w).Encode(map[string]any{
			"features": []any{
				sceneFeature("S2_OLD", "2026-05-01T13:00:00Z", 4.0),
				sceneFeature("S2_NEW", "2026-08-10T13:00:00Z", 9.5),
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRateLimit(1000))
	scenes, err := c.Search(context.Background(), Query{
		Collection:    "sentinel-2-l2a",
		From:          time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		To:            time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
		MaxCloudCover: 15,
	})
	require.NoError(t, err)
	require.Len(t, scenes, 2)
	assert.Equal(t, "S2_NEW", scenes[0].ID)
	assert.Equal(t, 9.5, scenes[0].CloudCover)
}

func TestBestEmptyWindow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"features": []any{}})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRateLimit(1000))
	_, err := c.Best(context.Background(), Query{Collection: "sentinel-2-l2a"})
	assert.ErrorIs(t, err, ErrNoQualifyingScene)
}

func TestSearchRetriesTransientStatus(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"features": []any{sceneFeature("S2_A", "2026-08-10T13:00:00Z", 3.0)},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRateLimit(1000))
	scenes, err := c.Search(context.Background(), Query{Collection: "sentinel-2-l2a"})
	require.NoError(t, err)
	assert.Len(t, scenes, 1)
	assert.Equal(t, 2, calls)
}

func bandValues(vs ...float64) []any {
	out := make([]any, len(vs))
	for i, v := range vs {
		if math.IsNaN(v) {
			out[i] = nil
		} else {
			out[i] = v
		}
	}
	return out
}

func TestFetchBands(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/pixels", r.URL.Path)

		var req bandsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "S2_A", req.SceneID)
		assert.Equal(t, []string{"B04", "B08"}, req.Bands)

		json.NewEncoder(w).Encode(map[string]any{
			"width": 2, "height": 1,
			"origin_x": -40.5, "origin_y": -9.0, "pixel_size": 0.0001,
			"bands": map[string]any{
				"B04": bandValues(0.10, math.NaN()),
				"B08": bandValues(0.30, 0.25),
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRateLimit(1000))
	ref := raster.GridRef{Width: 2, Height: 1, OriginX: -40.5, OriginY: -9.0, PixelSize: 0.0001}
	set, err := c.FetchBands(context.Background(), Scene{ID: "S2_A", Collection: "sentinel-2-l2a"}, []string{"B04", "B08"}, ref)
	require.NoError(t, err)

	assert.InDelta(t, 0.10, set["B04"].Data[0], 1e-9)
	assert.True(t, math.IsNaN(set["B04"].Data[1]))
	assert.InDelta(t, 0.25, set["B08"].Data[1], 1e-9)
}

func TestFetchBandsRejectsWrongShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// One column wider than asked for.
		json.NewEncoder(w).Encode(map[string]any{
			"width": 3, "height": 1,
			"origin_x": -40.5, "origin_y": -9.0, "pixel_size": 0.0001,
			"bands": map[string]any{"B04": bandValues(0.1, 0.2, 0.3)},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRateLimit(1000))
	ref := raster.GridRef{Width: 2, Height: 1, OriginX: -40.5, OriginY: -9.0, PixelSize: 0.0001}
	_, err := c.FetchBands(context.Background(), Scene{ID: "S2_A"}, []string{"B04"}, ref)
	assert.ErrorIs(t, err, ErrGridMismatch)
}

func TestFetchBandsRejectsShiftedOrigin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"width": 1, "height": 1,
			"origin_x": -40.4, "origin_y": -9.0, "pixel_size": 0.0001,
			"bands": map[string]any{"B04": bandValues(0.1)},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRateLimit(1000))
	ref := raster.GridRef{Width: 1, Height: 1, OriginX: -40.5, OriginY: -9.0, PixelSize: 0.0001}
	_, err := c.FetchBands(context.Background(), Scene{ID: "S2_A"}, []string{"B04"}, ref)
	assert.ErrorIs(t, err, ErrGridMismatch)
}

func TestFetchBandsTranslatesLandsatBandNames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req bandsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"SR_B5", "SR_B6"}, req.Bands)

		json.NewEncoder(w).Encode(map[string]any{
			"width": 1, "height": 1,
			"origin_x": 0.0, "origin_y": 0.0, "pixel_size": 0.0003,
			"bands": map[string]any{
				"SR_B5": bandValues(20000),
				"SR_B6": bandValues(10000),
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRateLimit(1000))
	ref := raster.GridRef{Width: 1, Height: 1, PixelSize: 0.0003}
	set, err := c.FetchBands(context.Background(), Scene{ID: "LC09_X", Collection: "landsat-c2-l2"}, []string{"B08", "B11"}, ref)
	require.NoError(t, err)

	// Grids come back under the requested names, rescaled.
	assert.InDelta(t, 0.35, set["B08"].Data[0], 1e-6)
	assert.InDelta(t, 0.075, set["B11"].Data[0], 1e-6)
}

func TestFetchBandsAppliesRescale(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"width": 1, "height": 1,
			"origin_x": 0.0, "origin_y": 0.0, "pixel_size": 0.0003,
			"bands": map[string]any{"SR_B5": bandValues(20000)},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRateLimit(1000))
	ref := raster.GridRef{Width: 1, Height: 1, PixelSize: 0.0003}
	set, err := c.FetchBands(context.Background(), Scene{ID: "LC09_X", Collection: "landsat-c2-l2"}, []string{"SR_B5"}, ref)
	require.NoError(t, err)

	// 20000 * 0.0000275 - 0.2 = 0.35
	assert.InDelta(t, 0.35, set["SR_B5"].Data[0], 1e-6)
}

func TestFetchBandsMissingBand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"width": 1, "height": 1, "pixel_size": 0.0001,
			"bands": map[string]any{"B04": bandValues(0.1)},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRateLimit(1000))
	ref := raster.GridRef{Width: 1, Height: 1, PixelSize: 0.0001}
	_, err := c.FetchBands(context.Background(), Scene{ID: "S2_A"}, []string{"B08"}, ref)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing band")
}

func TestBaselineCompositeSkipsUnreadableScene(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			json.NewEncoder(w).Encode(map[string]any{
				"features": []any{
					sceneFeature("S2_GOOD", "2025-07-01T13:00:00Z", 5.0),
					sceneFeature("S2_BROKEN", "2025-06-01T13:00:00Z", 5.0),
				},
			})
		case "/pixels":
			var req bandsRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.SceneID == "S2_BROKEN" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"width": 1, "height": 1, "pixel_size": 0.0001,
				"bands": map[string]any{"B08": bandValues(0.6)},
			})
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, WithRateLimit(1000))
	ref := raster.GridRef{Width: 1, Height: 1, PixelSize: 0.0001}
	set, err := c.BaselineComposite(context.Background(), Query{Collection: "sentinel-2-l2a"}, []string{"B08"}, ref)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, set["B08"].Data[0], 1e-9)
}
