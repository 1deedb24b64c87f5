package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sunspot/internal/cache"
	"sunspot/internal/types"
)

// ReaperService physically removes cache entries that can no longer be
// served.
type ReaperService struct {
	cache   cache.Store
	metrics RunRecorder
	logger  *slog.Logger
}

// NewReaperService creates a ReaperService. The metrics parameter may be nil.
func NewReaperService(store cache.Store, metrics RunRecorder, logger *slog.Logger) *ReaperService {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopRunRecorder{}
	}
	return &ReaperService{cache: store, metrics: metrics, logger: logger}
}

// EvictStale deletes every entry that is stale or expired at now and returns
// the number removed.
func (r *ReaperService) EvictStale(ctx context.Context, now time.Time) (int, error) {
	n, err := r.cache.Evict(ctx, now)
	if n > 0 {
		r.metrics.RecordCacheEviction(ctx, n)
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "cache eviction failed",
			"evicted", n,
			"error", err,
		)
		return n, fmt.Errorf("evicting cache entries: %w", err)
	}

	r.logger.InfoContext(ctx, "cache eviction complete",
		"evicted", n,
		"reference_time", now.Format(time.RFC3339),
	)
	return n, nil
}

// RecomputeQueue hands patios to the recompute workers.
// *queue.PrecomputeTrigger implements it.
type RecomputeQueue interface {
	EnqueueRecompute(ctx context.Context, patioIDs []string, dates []string, reason string) error
}

// NearbyPatioLister finds patios whose shadow context includes a building.
//
// SQL: SELECT p.id FROM patios p JOIN buildings b ON b.id = $1
//
//	WHERE ST_DWithin(p.footprint::geography, b.footprint::geography, $2)
type NearbyPatioLister interface {
	ListPatiosNearBuilding(ctx context.Context, buildingID string, radiusM float64) ([]string, error)
}

// InvalidationService reacts to geometry edits: it marks the affected cache
// entries stale and queues a recompute of the upcoming days.
type InvalidationService struct {
	cache   cache.Store
	queue   RecomputeQueue
	nearby  NearbyPatioLister
	clock   types.Clock
	logger  *slog.Logger
	opts    PrecomputeOptions
	radiusM float64
}

// InvalidationConfig wires an InvalidationService. Queue and Nearby are
// optional; without a queue, stale entries are recomputed on next read.
type InvalidationConfig struct {
	Cache   cache.Store
	Queue   RecomputeQueue
	Nearby  NearbyPatioLister
	Clock   types.Clock
	Logger  *slog.Logger
	Options PrecomputeOptions
	// SearchRadiusM must match the engine's building search radius so that
	// every patio shaded by an edited building is found.
	SearchRadiusM float64
}

// NewInvalidationService creates an InvalidationService.
func NewInvalidationService(cfg InvalidationConfig) *InvalidationService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	return &InvalidationService{
		cache:   cfg.Cache,
		queue:   cfg.Queue,
		nearby:  cfg.Nearby,
		clock:   clock,
		logger:  logger,
		opts:    cfg.Options.withDefaults(),
		radiusM: cfg.SearchRadiusM,
	}
}

// GeometryChanged marks every cached entry of patioIDs stale and enqueues
// a recompute in chunks of types.MaxBatchPatios. Marking stale always
// happens first so readers never see pre-edit results, even if the enqueue
// fails.
func (s *InvalidationService) GeometryChanged(ctx context.Context, patioIDs []string, reason string) error {
	ids := dedupe(patioIDs)
	if len(ids) == 0 {
		return nil
	}

	now := s.clock.Now()
	marked := 0
	for _, id := range ids {
		n, err := s.cache.MarkStale(ctx, id, now)
		if err != nil {
			return fmt.Errorf("marking patio %s stale: %w", id, err)
		}
		marked += n
	}
	s.logger.InfoContext(ctx, "cache entries marked stale",
		"patios", len(ids),
		"entries", marked,
		"reason", reason,
	)

	if s.queue == nil {
		return nil
	}
	dates := s.opts.UpcomingDates(now)
	for start := 0; start < len(ids); start += types.MaxBatchPatios {
		end := min(start+types.MaxBatchPatios, len(ids))
		if err := s.queue.EnqueueRecompute(ctx, ids[start:end], dates, reason); err != nil {
			return fmt.Errorf("enqueueing recompute: %w", err)
		}
	}
	return nil
}

// BuildingChanged invalidates every patio within the search radius of the
// edited building.
func (s *InvalidationService) BuildingChanged(ctx context.Context, buildingID string) error {
	if s.nearby == nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "no nearby patio lister configured", nil)
	}
	ids, err := s.nearby.ListPatiosNearBuilding(ctx, buildingID, s.radiusM)
	if err != nil {
		return fmt.Errorf("listing patios near building %s: %w", buildingID, err)
	}
	return s.GeometryChanged(ctx, ids, "building:"+buildingID)
}
