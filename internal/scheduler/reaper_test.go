package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sunspot/internal/cache"
	"sunspot/internal/types"
)

type enqueued struct {
	patioIDs []string
	dates    []string
	reason   string
}

type fakeQueue struct {
	mu    sync.Mutex
	calls []enqueued
	err   error
}

func (q *fakeQueue) EnqueueRecompute(_ context.Context, ids, dates []string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.calls = append(q.calls, enqueued{patioIDs: append([]string(nil), ids...), dates: dates, reason: reason})
	return nil
}

type fakeNearby struct {
	ids    []string
	err    error
	radius float64
}

func (n *fakeNearby) ListPatiosNearBuilding(_ context.Context, _ string, radiusM float64) ([]string, error) {
	n.radius = radiusM
	return n.ids, n.err
}

type failingStore struct {
	cache.Store
	err error
}

func (s failingStore) Evict(context.Context, time.Time) (int, error) { return 2, s.err }

func putEntry(t *testing.T, store cache.Store, patioID string, ts, computedAt time.Time, ttl time.Duration) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), cache.KeyFor(patioID, ts), types.CachedExposure{
		Result:             types.SunExposureResult{PatioID: patioID, Timestamp: ts},
		ComputedAt:         computedAt,
		ExpiresAt:          computedAt.Add(ttl),
		ComputationVersion: "v1",
	}))
}

func TestReaper_EvictStale(t *testing.T) {
	store := cache.NewMemoryStore(4)
	recorder := &fakeRecorder{}
	ctx := context.Background()
	t0 := mustTime("2026-06-21T00:00:00Z")

	putEntry(t, store, "patio-a", mustTime("2026-06-21T10:00:00Z"), t0, time.Hour)
	putEntry(t, store, "patio-a", mustTime("2026-06-21T10:10:00Z"), t0, 48*time.Hour)
	putEntry(t, store, "patio-b", mustTime("2026-06-21T10:00:00Z"), t0, 48*time.Hour)
	_, err := store.MarkStale(ctx, "patio-b", t0)
	require.NoError(t, err)

	reaper := NewReaperService(store, recorder, nil)
	n, err := reaper.EvictStale(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 2, recorder.evicted)

	n, err = reaper.EvictStale(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, recorder.evicted)
}

func TestReaper_EvictError(t *testing.T) {
	recorder := &fakeRecorder{}
	reaper := NewReaperService(failingStore{err: errors.New("redis timeout")}, recorder, nil)

	n, err := reaper.EvictStale(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis timeout")
	assert.Equal(t, 2, n, "partial progress is still reported")
	assert.Equal(t, 2, recorder.evicted)
}

func newInvalidation(store cache.Store, q RecomputeQueue, nearby NearbyPatioLister) *InvalidationService {
	return NewInvalidationService(InvalidationConfig{
		Cache:         store,
		Queue:         q,
		Nearby:        nearby,
		Clock:         fixedClock{now: mustTime("2026-06-21T12:00:00Z")},
		Options:       PrecomputeOptions{Location: time.UTC, DaysAhead: 2},
		SearchRadiusM: 300,
	})
}

func TestInvalidation_GeometryChanged(t *testing.T) {
	store := cache.NewMemoryStore(4)
	q := &fakeQueue{}
	ctx := context.Background()
	computed := mustTime("2026-06-21T06:00:00Z")
	ts := mustTime("2026-06-21T14:00:00Z")
	putEntry(t, store, "patio-a", ts, computed, 36*time.Hour)
	putEntry(t, store, "patio-c", ts, computed, 36*time.Hour)

	svc := newInvalidation(store, q, nil)
	require.NoError(t, svc.GeometryChanged(ctx, []string{"patio-a", "patio-b", "patio-a"}, "patio edited"))

	a, ok, err := store.Get(ctx, cache.KeyFor("patio-a", ts))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, a.IsStale)

	c, ok, err := store.Get(ctx, cache.KeyFor("patio-c", ts))
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, c.IsStale)

	require.Len(t, q.calls, 1)
	assert.Equal(t, []string{"patio-a", "patio-b"}, q.calls[0].patioIDs)
	assert.Equal(t, []string{"2026-06-21", "2026-06-22"}, q.calls[0].dates)
	assert.Equal(t, "patio edited", q.calls[0].reason)
}

func TestInvalidation_ChunksLargeBatches(t *testing.T) {
	q := &fakeQueue{}
	ids := make([]string, types.MaxBatchPatios*2+5)
	for i := range ids {
		ids[i] = fmt.Sprintf("patio-%03d", i)
	}

	svc := newInvalidation(cache.NewMemoryStore(4), q, nil)
	require.NoError(t, svc.GeometryChanged(context.Background(), ids, "bulk import"))

	require.Len(t, q.calls, 3)
	assert.Len(t, q.calls[0].patioIDs, types.MaxBatchPatios)
	assert.Len(t, q.calls[1].patioIDs, types.MaxBatchPatios)
	assert.Len(t, q.calls[2].patioIDs, 5)
}

func TestInvalidation_MarksStaleEvenWhenEnqueueFails(t *testing.T) {
	store := cache.NewMemoryStore(4)
	ctx := context.Background()
	ts := mustTime("2026-06-21T14:00:00Z")
	putEntry(t, store, "patio-a", ts, mustTime("2026-06-21T06:00:00Z"), 36*time.Hour)

	svc := newInvalidation(store, &fakeQueue{err: errors.New("throttled")}, nil)
	err := svc.GeometryChanged(ctx, []string{"patio-a"}, "edit")
	require.Error(t, err)

	entry, ok, err := store.Get(ctx, cache.KeyFor("patio-a", ts))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, entry.IsStale)
}

func TestInvalidation_NoQueue(t *testing.T) {
	svc := newInvalidation(cache.NewMemoryStore(4), nil, nil)
	assert.NoError(t, svc.GeometryChanged(context.Background(), []string{"patio-a"}, "edit"))
	assert.NoError(t, svc.GeometryChanged(context.Background(), nil, "edit"))
}

func TestInvalidation_BuildingChanged(t *testing.T) {
	q := &fakeQueue{}
	nearby := &fakeNearby{ids: []string{"patio-x", "patio-y"}}

	svc := newInvalidation(cache.NewMemoryStore(4), q, nearby)
	require.NoError(t, svc.BuildingChanged(context.Background(), "bldg-7"))

	assert.Equal(t, 300.0, nearby.radius)
	require.Len(t, q.calls, 1)
	assert.Equal(t, []string{"patio-x", "patio-y"}, q.calls[0].patioIDs)
	assert.Equal(t, "building:bldg-7", q.calls[0].reason)

	nearby.err = errors.New("db down")
	assert.Error(t, svc.BuildingChanged(context.Background(), "bldg-7"))

	none := newInvalidation(cache.NewMemoryStore(4), q, nil)
	assert.True(t, types.HasCode(none.BuildingChanged(context.Background(), "bldg-7"), types.ErrCodeInternalUnexpected))
}
