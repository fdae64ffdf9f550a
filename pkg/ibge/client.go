// Package ibge provides a client for the IBGE locality and municipal mesh
// services: state and municipality listings plus boundary polygons.
package ibge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sertao-labs/sentinela/internal/resilience"
)

// State is an IBGE federative unit.
type State struct {
	ID     int    `json:"id"`
	Sigla  string `json:"sigla"`
	Name   string `json:"nome"`
	Region struct {
		ID    int    `json:"id"`
		Sigla string `json:"sigla"`
		Name  string `json:"nome"`
	} `json:"regiao"`
}

// Municipality is an IBGE municipality within a state.
type Municipality struct {
	ID   int64  `json:"id"`
	Name string `json:"nome"`
}

// Client lists localities and fetches municipality boundary meshes.
type Client interface {
	// States lists all federative units ordered by name.
	States(ctx context.Context) ([]State, error)

	// Municipalities lists a state's municipalities ordered by name.
	Municipalities(ctx context.Context, stateID int) ([]Municipality, error)

	// MunicipalityMesh fetches one municipality's boundary as a MultiPolygon.
	MunicipalityMesh(ctx context.Context, municipalityID int64) (*Mesh, error)
}

// Option configures the client.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithLocalidadesBaseURL overrides the localities API base URL.
func WithLocalidadesBaseURL(u string) Option {
	return func(c *client) { c.localidadesBase = u }
}

// WithMalhasBaseURL overrides the mesh API base URL.
func WithMalhasBaseURL(u string) Option {
	return func(c *client) { c.malhasBase = u }
}

// WithMeshQuality sets the mesh detail level (minima, intermediaria, maxima).
func WithMeshQuality(q string) Option {
	return func(c *client) { c.meshQuality = q }
}

// WithRateLimit sets the requests-per-second limit for IBGE calls.
func WithRateLimit(rps float64) Option {
	return func(c *client) { c.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

type client struct {
	httpClient      *http.Client
	localidadesBase string
	malhasBase      string
	meshQuality     string
	limiter         *rate.Limiter
	retry           resilience.Policy
}

// NewClient creates a new IBGE client with the given options.
func NewClient(opts ...Option) Client {
	c := &client{
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		localidadesBase: "https://servicodados.ibge.gov.br/api/v1/localidades",
		malhasBase:      "https://servicodados.ibge.gov.br/api/v3/malhas",
		meshQuality:     "intermediaria",
		limiter:         rate.NewLimiter(4, 1),
		retry:           resilience.DefaultPolicy("ibge"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) States(ctx context.Context) ([]State, error) {
	url := c.localidadesBase + "/estados?orderBy=nome"
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, eris.Wrap(err, "ibge: list states")
	}

	var states []State
	if err := json.Unmarshal(body, &states); err != nil {
		return nil, eris.Wrap(err, "ibge: parse states")
	}
	return states, nil
}

func (c *client) Municipalities(ctx context.Context, stateID int) ([]Municipality, error) {
	url := fmt.Sprintf("%s/estados/%d/municipios?orderBy=nome", c.localidadesBase, stateID)
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, eris.Wrapf(err, "ibge: list municipalities for state %d", stateID)
	}

	var municipalities []Municipality
	if err := json.Unmarshal(body, &municipalities); err != nil {
		return nil, eris.Wrap(err, "ibge: parse municipalities")
	}
	return municipalities, nil
}

// get performs a rate-limited, retried GET and returns the response body.
func (c *client) get(ctx context.Context, url string) ([]byte, error) {
	return resilience.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "rate limit")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, eris.Wrap(err, "build request")
		}
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

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "read body")
		}

		zap.L().Debug("ibge request", zap.String("url", url), zap.Int("bytes", len(body)))
		return body, nil
	})
}
