package exposure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sunspot/internal/cache"
	"sunspot/internal/types"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeGeometry struct {
	mu      sync.Mutex
	patios  map[string]*types.PatioContext
	failFor map[string]error
}

func (f *fakeGeometry) LoadPatioContext(_ context.Context, id string) (*types.PatioContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[id]; err != nil {
		return nil, err
	}
	pc, ok := f.patios[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundPatio, "patio not found", nil)
	}
	cp := *pc
	return &cp, nil
}

func (f *fakeGeometry) bump(id string) {
	f.mu.Lock()
	f.patios[id].GeometryVersion++
	f.mu.Unlock()
}

// countingWeather counts evaluations: the service resolves weather exactly
// once per fresh calculation.
type countingWeather struct {
	calls   atomic.Int64
	err     error
	weather *types.ProcessedWeather
}

func (w *countingWeather) Resolve(_ context.Context, _ orb.Point, t time.Time) (*types.ProcessedWeather, error) {
	w.calls.Add(1)
	if w.err != nil {
		return nil, w.err
	}
	if w.weather == nil {
		return nil, nil
	}
	out := *w.weather
	out.Timestamp = t
	return &out, nil
}

type fixture struct {
	svc      *Service
	geometry *fakeGeometry
	weather  *countingWeather
	store    *cache.MemoryStore
	clock    *mockClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	geometry := &fakeGeometry{patios: map[string]*types.PatioContext{
		"patio-1": {Patio: northPatio(), Buildings: []types.Building{tower()}, GeometryVersion: 1},
	}}
	weather := &countingWeather{weather: &types.ProcessedWeather{NormalizedCloudCoverPct: 10, ConfidenceLevel: 0.95}}
	store := cache.NewMemoryStore(4)
	clock := &mockClock{now: mustTime("2026-06-21T06:00:00Z")}

	svc, err := NewService(ServiceConfig{
		Engine:             newEngine(t),
		Geometry:           geometry,
		Weather:            weather,
		Cache:              store,
		Clock:              clock,
		ComputationVersion: "v1",
		BatchConcurrency:   4,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, geometry: geometry, weather: weather, store: store, clock: clock}
}

func TestService_CalculateExposureCachesAlignedInstants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := mustTime("2026-06-21T12:00:00Z")

	first, err := f.svc.CalculateExposure(ctx, "patio-1", ts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.weather.calls.Load())
	assert.Equal(t, 1, f.store.Len())

	second, err := f.svc.CalculateExposure(ctx, "patio-1", ts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.weather.calls.Load(), "second call must be served from cache")
	assert.Equal(t, first, second)
}

func TestService_UnalignedInstantsBypassCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := mustTime("2026-06-21T12:03:00Z")

	_, err := f.svc.CalculateExposure(ctx, "patio-1", ts)
	require.NoError(t, err)
	_, err = f.svc.CalculateExposure(ctx, "patio-1", ts)
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.weather.calls.Load())
	assert.Equal(t, 0, f.store.Len())
}

func TestService_RecomputesUnusableEntries(t *testing.T) {
	ctx := context.Background()
	ts := mustTime("2026-06-21T12:00:00Z")

	tests := []struct {
		name  string
		spoil func(f *fixture)
	}{
		{"stale", func(f *fixture) {
			_, err := f.store.MarkStale(ctx, "patio-1", f.clock.Now())
			require.NoError(t, err)
			f.clock.Advance(time.Second)
		}},
		{"expired", func(f *fixture) { f.clock.Advance(DefaultEntryTTL) }},
		{"geometry changed", func(f *fixture) { f.geometry.bump("patio-1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.CalculateExposure(ctx, "patio-1", ts)
			require.NoError(t, err)

			tt.spoil(f)

			_, err = f.svc.CalculateExposure(ctx, "patio-1", ts)
			require.NoError(t, err)
			assert.Equal(t, int64(2), f.weather.calls.Load())

			// The recomputed entry replaced the unusable one.
			entry, ok, err := f.store.Get(ctx, cache.KeyFor("patio-1", ts))
			require.NoError(t, err)
			require.True(t, ok)
			assert.False(t, entry.IsStale)
		})
	}
}

func TestService_ComputationVersionMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := mustTime("2026-06-21T12:00:00Z")

	_, err := f.svc.CalculateExposure(ctx, "patio-1", ts)
	require.NoError(t, err)

	next, err := NewService(ServiceConfig{
		Engine: f.svc.Engine(), Geometry: f.geometry, Weather: f.weather, Cache: f.store,
		Clock: f.clock, ComputationVersion: "v2",
	})
	require.NoError(t, err)
	_, src, err := next.ExposureAt(ctx, f.geometry.patios["patio-1"], ts)
	require.NoError(t, err)
	assert.Equal(t, types.SourceCalculated, src)
}

func TestService_CachedMatchesFreshCalculation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ts := mustTime("2026-06-21T16:00:00Z")

	cached, err := f.svc.CalculateExposure(ctx, "patio-1", ts)
	require.NoError(t, err)

	// Survive a serialization round trip, as the Redis backend does.
	entry, ok, err := f.store.Get(ctx, cache.KeyFor("patio-1", ts))
	require.NoError(t, err)
	require.True(t, ok)
	raw, err := json.Marshal(entry)
	require.NoError(t, err)
	var decoded types.CachedExposure
	require.NoError(t, json.Unmarshal(raw, &decoded))

	fresh, err := f.svc.Evaluate(ctx, f.geometry.patios["patio-1"], ts)
	require.NoError(t, err)

	assert.Equal(t, fresh, cached)
	assert.Equal(t, fresh, decoded.Result)
}

func TestService_WeatherFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.weather.err = errors.New("provider down")

	res, err := f.svc.CalculateExposure(context.Background(), "patio-1", mustTime("2026-06-21T12:00:00Z"))
	require.NoError(t, err)
	assert.Nil(t, res.Weather)
	assert.LessOrEqual(t, res.Confidence, 60.0)
}

func TestService_UnknownPatio(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CalculateExposure(context.Background(), "missing", mustTime("2026-06-21T12:00:00Z"))
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundPatio))

	_, err = f.svc.CalculateExposure(context.Background(), "", mustTime("2026-06-21T12:00:00Z"))
	assert.True(t, types.HasCode(err, types.ErrCodeValidationMissingField))
}

func TestService_CalculateExposureBatch(t *testing.T) {
	f := newFixture(t)
	f.geometry.patios["patio-2"] = &types.PatioContext{Patio: types.Patio{ID: "patio-2", Footprint: rect(5, 20, 15, 24), PolygonQuality: 1}, GeometryVersion: 1}
	f.geometry.patios["broken"] = &types.PatioContext{Patio: types.Patio{ID: "broken", Footprint: orb.Polygon{{{0, 0}, {1, 1}}}}}
	f.geometry.failFor = map[string]error{"db-down": types.NewAppError(types.ErrCodeInternalDB, "connection reset", nil)}

	ids := []string{"patio-1", "broken", "patio-2", "missing", "db-down"}
	res, err := f.svc.CalculateExposureBatch(context.Background(), ids, mustTime("2026-06-21T12:00:00Z"))
	require.NoError(t, err)

	require.Len(t, res.Results, 2)
	assert.Equal(t, "patio-1", res.Results[0].PatioID)
	assert.Equal(t, "patio-2", res.Results[1].PatioID)

	require.Len(t, res.Errors, 3)
	assert.Equal(t, string(types.ErrCodeValidationInvalidGeometry), res.Errors["broken"].Code)
	assert.Equal(t, string(types.ErrCodeNotFoundPatio), res.Errors["missing"].Code)
	assert.Equal(t, string(types.ErrCodeInternalDB), res.Errors["db-down"].Code)
}

func TestService_CalculateExposureBatchTooLarge(t *testing.T) {
	f := newFixture(t)
	ids := make([]string, types.MaxBatchPatios+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i)
	}

	_, err := f.svc.CalculateExposureBatch(context.Background(), ids, time.Now())
	assert.True(t, types.HasCode(err, types.ErrCodeValidationBatchSize))
}

func TestService_ConcurrentCallsAgree(t *testing.T) {
	f := newFixture(t)
	ts := mustTime("2026-06-21T13:00:00Z")

	var wg sync.WaitGroup
	results := make([]types.SunExposureResult, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.CalculateExposure(context.Background(), "patio-1", ts)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
	assert.Equal(t, 1, f.store.Len())
}

// gatedWeather blocks until released and fails if the context it was handed
// has been cancelled by then.
type gatedWeather struct {
	entered chan struct{}
	release chan struct{}
}

func (w *gatedWeather) Resolve(ctx context.Context, _ orb.Point, t time.Time) (*types.ProcessedWeather, error) {
	close(w.entered)
	<-w.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &types.ProcessedWeather{Timestamp: t, NormalizedCloudCoverPct: 5, ConfidenceLevel: 0.9}, nil
}

func TestService_InflightCalculationOutlivesCallerCancel(t *testing.T) {
	f := newFixture(t)
	weather := &gatedWeather{entered: make(chan struct{}), release: make(chan struct{})}
	svc, err := NewService(ServiceConfig{
		Engine: f.svc.Engine(), Geometry: f.geometry, Weather: weather, Cache: f.store,
		Clock: f.clock, ComputationVersion: "v1",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ts := mustTime("2026-06-21T12:00:00Z")
	type outcome struct {
		res types.SunExposureResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, _, err := svc.ExposureAt(ctx, f.geometry.patios["patio-1"], ts)
		done <- outcome{res, err}
	}()

	<-weather.entered
	cancel()
	close(weather.release)

	out := <-done
	require.NoError(t, out.err)
	require.NotNil(t, out.res.Weather, "weather must be resolved under a live context")

	_, ok, err := f.store.Get(context.Background(), cache.KeyFor("patio-1", ts))
	require.NoError(t, err)
	assert.True(t, ok, "result is cached even though the caller went away")
}

func TestNewService_RejectsSubMinuteResolution(t *testing.T) {
	for _, res := range []time.Duration{30 * time.Second, 90 * time.Second, time.Minute + time.Millisecond} {
		_, err := NewService(ServiceConfig{Engine: newEngine(t), Geometry: &fakeGeometry{}, Resolution: res})
		require.Error(t, err, "resolution %v", res)
		assert.True(t, types.HasCode(err, types.ErrCodeValidationInterval))
	}

	svc, err := NewService(ServiceConfig{Engine: newEngine(t), Geometry: &fakeGeometry{}, Resolution: 5 * time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, svc.Resolution())
}

func TestService_ExposureAtReportsCalculationErrors(t *testing.T) {
	f := newFixture(t)
	broken := &types.PatioContext{
		Patio:           types.Patio{ID: "broken", Footprint: orb.Polygon{{{0, 0}, {1, 1}}}},
		GeometryVersion: 1,
	}

	res, src, err := f.svc.ExposureAt(context.Background(), broken, mustTime("2026-06-21T12:00:00Z"))
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeValidationInvalidGeometry))
	assert.Empty(t, src)
	assert.Empty(t, res.PatioID)
}
