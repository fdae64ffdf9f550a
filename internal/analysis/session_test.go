package analysis

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sertao-labs/sentinela/internal/lens"
	"github.com/sertao-labs/sentinela/internal/roi"
	"github.com/sertao-labs/sentinela/internal/store"
	"github.com/sertao-labs/sentinela/pkg/catalog"
)

func waterCatalog() *fakeCatalog {
	return &fakeCatalog{
		scene: catalog.Scene{ID: "S2A_20240910", Collection: "sentinel-2-l2a",
			AcquiredAt: time.Date(2024, 9, 10, 13, 0, 0, 0, time.UTC), CloudCover: 4},
		fill: map[string]float64{"B03": 0.3, "B11": 0.1},
	}
}

func waterRequest() Request {
	return Request{
		ROIName:       "Petrolina",
		UnitIDs:       []int64{2611101},
		Lens:          lens.Water,
		ReferenceDate: refDate(),
	}
}

func newTestService(t *testing.T, cat catalog.Client, resolver *roi.Resolver) *Service {
	t.Helper()
	runner := NewRunner(resolver, cat, nil, nil, testOptions())
	return NewService(runner, newTestStore(t))
}

func TestSessionKeepsPriorResultOnFailure(t *testing.T) {
	resolver := roi.NewResolver(&fakeSource{boundary: testBoundary(t)})
	svc := newTestService(t, waterCatalog(), resolver)
	sess := NewSession(svc)

	_, ok := sess.Result()
	assert.False(t, ok)

	_, first, err := sess.Run(context.Background(), waterRequest())
	require.NoError(t, err)

	bad := waterRequest()
	bad.Lens = lens.Name("snow-cover")
	runID, _, err := sess.Run(context.Background(), bad)
	require.Error(t, err)
	require.NotEmpty(t, runID)

	current, ok := sess.Result()
	require.True(t, ok)
	assert.Same(t, first, current)
}

func TestSessionSetAreaClearsResult(t *testing.T) {
	resolver := roi.NewResolver(&fakeSource{boundary: testBoundary(t)})
	sess := NewSession(newTestService(t, waterCatalog(), resolver))

	_, _, err := sess.Run(context.Background(), waterRequest())
	require.NoError(t, err)
	_, ok := sess.Result()
	require.True(t, ok)

	region, err := resolver.Resolve(context.Background(), "Juazeiro", []int64{2918407})
	require.NoError(t, err)
	sess.SetArea(region)

	// The old result belonged to the old area.
	_, ok = sess.Result()
	assert.False(t, ok)
	area, ok := sess.Area()
	require.True(t, ok)
	assert.Equal(t, "Juazeiro", area.Name)
}

func TestManagerGetAndSweep(t *testing.T) {
	resolver := roi.NewResolver(&fakeSource{boundary: testBoundary(t)})
	mgr := NewManager(newTestService(t, waterCatalog(), resolver), time.Minute)

	sess := mgr.Create()
	got, err := mgr.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	_, err = mgr.Get("nope")
	assert.Error(t, err)

	// Fresh session is not idle yet.
	assert.Equal(t, 0, mgr.Sweep())

	sess.mu.Lock()
	sess.lastUsed = time.Now().UTC().Add(-2 * time.Minute)
	sess.mu.Unlock()
	assert.Equal(t, 1, mgr.Sweep())
	_, err = mgr.Get(sess.ID)
	assert.Error(t, err)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "sentinela.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func TestServicePersistsCompletedRun(t *testing.T) {
	resolver := roi.NewResolver(&fakeSource{boundary: testBoundary(t)})
	runner := NewRunner(resolver, waterCatalog(), nil, nil, testOptions())
	st := newTestStore(t)
	svc := NewService(runner, st)

	runID, result, err := svc.Execute(context.Background(), waterRequest())
	require.NoError(t, err)
	require.NotNil(t, result)

	rec, err := st.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusComplete, rec.Status)
	assert.Equal(t, "water", rec.Request.Lens)

	var persisted Result
	require.NoError(t, json.Unmarshal(rec.Result, &persisted))
	assert.Equal(t, result.Area.Hectares, persisted.Area.Hectares)
	assert.Nil(t, persisted.Index)
}

func TestServicePersistsFailure(t *testing.T) {
	resolver := roi.NewResolver(&fakeSource{boundary: testBoundary(t)})
	runner := NewRunner(resolver, waterCatalog(), nil, nil, testOptions())
	st := newTestStore(t)
	svc := NewService(runner, st)

	req := waterRequest()
	req.Lens = lens.Name("snow-cover")
	runID, _, err := svc.Execute(context.Background(), req)
	require.Error(t, err)
	require.NotEmpty(t, runID)

	rec, err := st.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "snow-cover")
}
