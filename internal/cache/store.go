// Package cache stores precomputed exposure results keyed by
// (patio, date, time bucket).
//
// Two backends implement Store: an in-process sharded map and Redis. Both
// treat a Put for an existing key as an idempotent overwrite and never hand
// out references to their internal state.
package cache

import (
	"context"
	"fmt"
	"time"

	"sunspot/internal/types"
)

// DateLayout is the layout of Key.Date.
const DateLayout = "2006-01-02"

// Key addresses one cached exposure. Bucket is the minute of the UTC day.
type Key struct {
	PatioID string
	Date    string
	Bucket  int
}

// KeyFor builds the key for patioID at instant t. Seconds are dropped.
func KeyFor(patioID string, t time.Time) Key {
	t = t.UTC()
	return Key{
		PatioID: patioID,
		Date:    t.Format(DateLayout),
		Bucket:  t.Hour()*60 + t.Minute(),
	}
}

// Time returns the UTC instant the key addresses.
func (k Key) Time() (time.Time, error) {
	day, err := time.Parse(DateLayout, k.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cache key date %q: %w", k.Date, err)
	}
	return day.Add(time.Duration(k.Bucket) * time.Minute), nil
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%04d", k.PatioID, k.Date, k.Bucket)
}

// Aligned reports whether t falls exactly on a bucket boundary for the given
// resolution. Resolutions are measured from UTC midnight.
func Aligned(t time.Time, resolution time.Duration) bool {
	if resolution <= 0 {
		return false
	}
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return t.Sub(midnight)%resolution == 0
}

// Store is the cache collaborator used by the exposure service, the timeline
// generator and the precompute scheduler.
type Store interface {
	// Get returns the entry for key. A missing entry is (nil, false, nil).
	Get(ctx context.Context, key Key) (*types.CachedExposure, bool, error)
	// Put writes entry under key, replacing any previous entry. The entry's
	// ExpiresAt bounds its lifetime.
	Put(ctx context.Context, key Key, entry types.CachedExposure) error
	// MarkStale flags every entry of patioID computed at or before at. Stale
	// entries stay readable until evicted. It returns the number of entries
	// affected where the backend can tell.
	MarkStale(ctx context.Context, patioID string, at time.Time) (int, error)
	// Evict removes expired and stale entries and returns how many went.
	Evict(ctx context.Context, now time.Time) (int, error)
}

// IsUsable reports whether entry can be served in place of a fresh
// calculation.
func IsUsable(entry *types.CachedExposure, now time.Time, computationVersion string, geometryVersion int64) bool {
	if entry == nil {
		return false
	}
	return !entry.IsStale &&
		!entry.IsExpired(now) &&
		entry.ComputationVersion == computationVersion &&
		entry.GeometryVersion == geometryVersion
}

// clone copies entry deeply enough that callers cannot reach shared slices.
func clone(entry types.CachedExposure) types.CachedExposure {
	if entry.Result.Shadows != nil {
		shadows := make([]types.ShadowProjection, len(entry.Result.Shadows))
		copy(shadows, entry.Result.Shadows)
		entry.Result.Shadows = shadows
	}
	if entry.Result.Weather != nil {
		w := *entry.Result.Weather
		entry.Result.Weather = &w
	}
	return entry
}
