package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sertao-labs/sentinela/internal/raster"
	"github.com/sertao-labs/sentinela/internal/resilience"
)

// Rescale is a linear radiometric rescale applied to fetched digital
// numbers before index math.
type Rescale struct {
	Multiplier float64
	Offset     float64
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithRateLimit sets the requests-per-second limit for catalog calls.
func WithRateLimit(rps float64) Option {
	return func(c *client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithRescale registers a radiometric rescale for a collection. Landsat
// Collection 2 surface reflectance needs one; Sentinel-2 harmonized does
// not.
func WithRescale(collection string, r Rescale) Option {
	return func(c *client) { c.rescales[collection] = r }
}

// WithBandNames registers what a collection calls the bands of the
// Sentinel-2 vocabulary the lenses speak. Unlisted bands pass through
// unchanged.
func WithBandNames(collection string, names map[string]string) Option {
	return func(c *client) { c.bandNames[collection] = names }
}

type client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.Policy
	rescales   map[string]Rescale
	bandNames  map[string]map[string]string
}

// NewClient creates a catalog client for the given base URL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(2, 1),
		retry:      resilience.DefaultPolicy("catalog"),
		rescales: map[string]Rescale{
			// Landsat C2 L2 DN -> surface reflectance.
			"landsat-c2-l2": {Multiplier: 0.0000275, Offset: -0.2},
		},
		bandNames: map[string]map[string]string{
			// OLI equivalents of the Sentinel-2 bands: green, red, NIR,
			// SWIR1. No red-edge band exists on Landsat.
			"landsat-c2-l2": {
				"B03": "SR_B3",
				"B04": "SR_B4",
				"B08": "SR_B5",
				"B11": "SR_B6",
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// searchRequest is the catalog search payload (STAC item search shape).
type searchRequest struct {
	Collections []string   `json:"collections"`
	BBox        [4]float64 `json:"bbox"`
	Datetime    string     `json:"datetime"`
	Query       struct {
		CloudCover struct {
			LT float64 `json:"lt"`
		} `json:"eo:cloud_cover"`
	} `json:"query"`
	Limit int `json:"limit"`
}

type searchResponse struct {
	Features []struct {
		ID         string `json:"id"`
		Collection string `json:"collection"`
		Properties struct {
			Datetime   time.Time `json:"datetime"`
			CloudCover float64   `json:"eo:cloud_cover"`
		} `json:"properties"`
	} `json:"features"`
}

func (c *client) Search(ctx context.Context, q Query) ([]Scene, error) {
	req := searchRequest{
		Collections: []string{q.Collection},
		BBox:        q.BBox,
		Datetime:    fmt.Sprintf("%s/%s", q.From.UTC().Format(time.RFC3339), q.To.UTC().Format(time.RFC3339)),
		Limit:       q.Limit,
	}
	req.Query.CloudCover.LT = q.MaxCloudCover
	if req.Limit == 0 {
		req.Limit = 100
	}

	body, err := c.post(ctx, c.baseURL+"/search", req)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: search")
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "catalog: parse search response")
	}

	scenes := make([]Scene, 0, len(resp.Features))
	for _, f := range resp.Features {
		scenes = append(scenes, Scene{
			ID:         f.ID,
			Collection: f.Collection,
			AcquiredAt: f.Properties.Datetime,
			CloudCover: f.Properties.CloudCover,
		})
	}
	sort.Slice(scenes, func(i, j int) bool { return scenes[i].AcquiredAt.After(scenes[j].AcquiredAt) })

	zap.L().Debug("catalog search",
		zap.String("collection", q.Collection),
		zap.Int("scenes", len(scenes)),
	)
	return scenes, nil
}

func (c *client) Best(ctx context.Context, q Query) (*Scene, error) {
	scenes, err := c.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, ErrNoQualifyingScene
	}
	return &scenes[0], nil
}

// bandsResponse is the raster access payload: per-band row-major values
// over a georeferenced window. null marks nodata.
type bandsResponse struct {
	Width     int                   `json:"width"`
	Height    int                   `json:"height"`
	OriginX   float64               `json:"origin_x"`
	OriginY   float64               `json:"origin_y"`
	PixelSize float64               `json:"pixel_size"`
	Bands     map[string][]*float64 `json:"bands"`
}

type bandsRequest struct {
	SceneID   string   `json:"scene_id"`
	Bands     []string `json:"bands"`
	BBox      [4]float64 `json:"bbox"`
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	PixelSize float64  `json:"pixel_size"`
}

// remoteBands maps the requested band names to what the scene's
// collection calls them.
func (c *client) remoteBands(collection string, bands []string) []string {
	names, ok := c.bandNames[collection]
	if !ok {
		return bands
	}
	out := make([]string, len(bands))
	for i, b := range bands {
		if n, ok := names[b]; ok {
			out[i] = n
		} else {
			out[i] = b
		}
	}
	return out
}

func (c *client) FetchBands(ctx context.Context, scene Scene, bands []string, ref raster.GridRef) (BandSet, error) {
	remote := c.remoteBands(scene.Collection, bands)
	req := bandsRequest{
		SceneID: scene.ID,
		Bands:   remote,
		BBox: [4]float64{
			ref.OriginX,
			ref.OriginY - float64(ref.Height)*ref.PixelSize,
			ref.OriginX + float64(ref.Width)*ref.PixelSize,
			ref.OriginY,
		},
		Width:     ref.Width,
		Height:    ref.Height,
		PixelSize: ref.PixelSize,
	}

	body, err := c.post(ctx, c.baseURL+"/pixels", req)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: fetch bands %s", scene.ID)
	}

	var resp bandsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "catalog: parse bands response")
	}
	if resp.Width != ref.Width || resp.Height != ref.Height {
		return nil, eris.Wrapf(ErrGridMismatch, "catalog: scene %s returned %dx%d, want %dx%d",
			scene.ID, resp.Width, resp.Height, ref.Width, ref.Height)
	}
	if math.Abs(resp.OriginX-ref.OriginX) > ref.PixelSize/2 ||
		math.Abs(resp.OriginY-ref.OriginY) > ref.PixelSize/2 ||
		math.Abs(resp.PixelSize-ref.PixelSize) > ref.PixelSize*1e-6 {
		return nil, eris.Wrapf(ErrGridMismatch, "catalog: scene %s returned a shifted georeference", scene.ID)
	}

	set := make(BandSet, len(bands))
	for i, name := range bands {
		values, ok := resp.Bands[remote[i]]
		if !ok {
			return nil, eris.Errorf("catalog: scene %s missing band %s", scene.ID, remote[i])
		}
		if len(values) != resp.Width*resp.Height {
			return nil, eris.Errorf("catalog: band %s has %d values, want %d", remote[i], len(values), resp.Width*resp.Height)
		}

		g := raster.NewGrid(resp.Width, resp.Height, resp.OriginX, resp.OriginY, resp.PixelSize)
		for j, v := range values {
			if v != nil {
				g.Data[j] = *v
			}
		}
		if rs, ok := c.rescales[scene.Collection]; ok {
			g.Scale(rs.Multiplier, rs.Offset)
		}
		set[name] = g
	}

	return set, nil
}

func (c *client) BaselineComposite(ctx context.Context, q Query, bands []string, ref raster.GridRef) (BandSet, error) {
	scenes, err := c.Search(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: baseline search")
	}
	if len(scenes) == 0 {
		return nil, ErrNoQualifyingScene
	}

	sets := make([]BandSet, 0, len(scenes))
	for _, scene := range scenes {
		set, err := c.FetchBands(ctx, scene, bands, ref)
		if err != nil {
			// One unreadable historical scene does not spoil the composite.
			zap.L().Warn("catalog: skipping baseline scene",
				zap.String("scene", scene.ID),
				zap.Error(err),
			)
			continue
		}
		sets = append(sets, set)
	}
	if len(sets) == 0 {
		return nil, ErrNoQualifyingScene
	}

	return MedianComposite(sets, bands)
}

func (c *client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	return resilience.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limit")
		}

		data, err := json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrap(err, "marshal request")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, eris.Wrap(err, "build request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("status %d", resp.StatusCode)
			if resilience.RetryableStatus(resp.StatusCode) {
				return nil, resilience.Transient(err, resp.StatusCode)
			}
			return nil, err
		}

		return io.ReadAll(resp.Body)
	})
}

// MedianComposite computes the per-pixel, per-band median over scene band
// sets, skipping nodata. Pixels with no valid observation stay nodata.
func MedianComposite(sets []BandSet, bands []string) (BandSet, error) {
	if len(sets) == 0 {
		return nil, eris.New("catalog: empty composite input")
	}

	out := make(BandSet, len(bands))
	for _, name := range bands {
		ref, ok := sets[0][name]
		if !ok {
			return nil, eris.Errorf("catalog: composite missing band %s", name)
		}

		g := raster.NewGrid(ref.Width, ref.Height, ref.OriginX, ref.OriginY, ref.PixelSize)
		samples := make([]float64, 0, len(sets))
		for i := range g.Data {
			samples = samples[:0]
			for _, set := range sets {
				src, ok := set[name]
				if !ok || !src.SameShape(ref) {
					continue
				}
				if v := src.Data[i]; !math.IsNaN(v) {
					samples = append(samples, v)
				}
			}
			if len(samples) > 0 {
				g.Data[i] = median(samples)
			}
		}
		out[name] = g
	}
	return out, nil
}

func median(vs []float64) float64 {
	sort.Float64s(vs)
	n := len(vs)
	if n%2 == 1 {
		return vs[n/2]
	}
	return (vs[n/2-1] + vs[n/2]) / 2
}
