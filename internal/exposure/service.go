package exposure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"sunspot/internal/cache"
	"sunspot/internal/types"
)

// Service defaults.
const (
	DefaultResolution = 10 * time.Minute
	DefaultEntryTTL   = 36 * time.Hour
)

// GeometryStore supplies patios and the buildings around them.
type GeometryStore interface {
	LoadPatioContext(ctx context.Context, patioID string) (*types.PatioContext, error)
}

// WeatherSource resolves the weather at a point and instant. A nil reading
// with a nil error means no data.
type WeatherSource interface {
	Resolve(ctx context.Context, point orb.Point, t time.Time) (*types.ProcessedWeather, error)
}

// Recorder receives per-calculation telemetry.
type Recorder interface {
	ObserveCalculation(ctx context.Context, d time.Duration)
	ObserveCacheLookup(ctx context.Context, hit bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCalculation(context.Context, time.Duration) {}
func (nopRecorder) ObserveCacheLookup(context.Context, bool)          {}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Engine   *Engine
	Geometry GeometryStore
	Weather  WeatherSource
	Cache    cache.Store
	Metrics  Recorder
	Clock    types.Clock
	Logger   *slog.Logger

	// Resolution is the cache bucket width. Only instants on a bucket
	// boundary are read from or written to the cache.
	Resolution time.Duration
	// EntryTTL is how long a written entry stays valid.
	EntryTTL time.Duration
	// ComputationVersion is stamped on every entry; entries from another
	// version are recomputed.
	ComputationVersion string
	// BatchConcurrency bounds CalculateExposureBatch. Zero means GOMAXPROCS.
	BatchConcurrency int
}

// Service serves exposure results cache-first. It is safe for concurrent use.
type Service struct {
	engine   *Engine
	geometry GeometryStore
	weather  WeatherSource
	cache    cache.Store
	metrics  Recorder
	clock    types.Clock
	logger   *slog.Logger

	resolution  time.Duration
	entryTTL    time.Duration
	version     string
	concurrency int

	inflight singleflight.Group
}

// NewService creates a Service. Weather, Cache and Metrics are optional.
// Resolution must be a whole number of minutes since cache keys address
// minute buckets.
func NewService(cfg ServiceConfig) (*Service, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}
	if cfg.Resolution <= 0 {
		cfg.Resolution = DefaultResolution
	}
	if cfg.Resolution%time.Minute != 0 {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInterval,
			"resolution must be a whole number of minutes", nil,
			map[string]any{"resolution": cfg.Resolution.String()})
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = DefaultEntryTTL
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = runtime.GOMAXPROCS(0)
	}
	return &Service{
		engine:      cfg.Engine,
		geometry:    cfg.Geometry,
		weather:     cfg.Weather,
		cache:       cfg.Cache,
		metrics:     metrics,
		clock:       clock,
		logger:      logger,
		resolution:  cfg.Resolution,
		entryTTL:    cfg.EntryTTL,
		version:     cfg.ComputationVersion,
		concurrency: cfg.BatchConcurrency,
	}, nil
}

// Resolution returns the cache bucket width.
func (s *Service) Resolution() time.Duration { return s.resolution }

// Engine returns the underlying calculation engine.
func (s *Service) Engine() *Engine { return s.engine }

// LoadPatio fetches the patio and its surrounding buildings.
func (s *Service) LoadPatio(ctx context.Context, patioID string) (*types.PatioContext, error) {
	if patioID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "patio id is required", nil)
	}
	pc, err := s.geometry.LoadPatioContext(ctx, patioID)
	if err != nil {
		return nil, err
	}
	if pc == nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundPatio, "patio not found", nil,
			map[string]any{"patio_id": patioID})
	}
	return pc, nil
}

// CalculateExposure returns the exposure of patioID at ts.
func (s *Service) CalculateExposure(ctx context.Context, patioID string, ts time.Time) (types.SunExposureResult, error) {
	pc, err := s.LoadPatio(ctx, patioID)
	if err != nil {
		return types.SunExposureResult{}, err
	}
	res, _, err := s.ExposureAt(ctx, pc, ts)
	return res, err
}

// ExposureAt returns the exposure for an already loaded patio, preferring a
// usable cache entry. Stale, expired or version-mismatched entries are
// recomputed and overwritten.
func (s *Service) ExposureAt(ctx context.Context, pc *types.PatioContext, ts time.Time) (types.SunExposureResult, types.PointSource, error) {
	if res, ok := s.Lookup(ctx, pc, ts); ok {
		return *res, types.SourcePrecomputed, nil
	}

	key := fmt.Sprintf("%s|%d|%d", pc.Patio.ID, pc.GeometryVersion, ts.UnixNano())
	v, err, _ := s.inflight.Do(key, func() (any, error) {
		// Detached from the first caller: the result is shared by every
		// waiter on key.
		sharedCtx := context.WithoutCancel(ctx)
		res, err := s.Evaluate(sharedCtx, pc, ts)
		if err != nil {
			return nil, err
		}
		if err := s.Save(sharedCtx, pc, res); err != nil {
			s.logger.WarnContext(sharedCtx, "failed to cache exposure result",
				"patio_id", pc.Patio.ID, "timestamp", ts, "error", err)
		}
		return res, nil
	})
	if err != nil {
		return types.SunExposureResult{}, "", err
	}
	return v.(types.SunExposureResult), types.SourceCalculated, nil
}

// Lookup returns the cached result for pc at ts when a usable entry exists.
// Cache failures are logged and reported as a miss.
func (s *Service) Lookup(ctx context.Context, pc *types.PatioContext, ts time.Time) (*types.SunExposureResult, bool) {
	if s.cache == nil || !cache.Aligned(ts, s.resolution) {
		return nil, false
	}
	entry, ok, err := s.cache.Get(ctx, cache.KeyFor(pc.Patio.ID, ts))
	if err != nil {
		s.logger.WarnContext(ctx, "cache read failed", "patio_id", pc.Patio.ID, "error", err)
		ok = false
	}
	hit := ok && cache.IsUsable(entry, s.clock.Now(), s.version, pc.GeometryVersion)
	s.metrics.ObserveCacheLookup(ctx, hit)
	if !hit {
		return nil, false
	}
	return &entry.Result, true
}

// Evaluate runs a fresh calculation for pc at ts without touching the cache.
// Weather failures degrade to "no weather"; they never fail the calculation.
func (s *Service) Evaluate(ctx context.Context, pc *types.PatioContext, ts time.Time) (types.SunExposureResult, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveCalculation(ctx, time.Since(start)) }()

	in := Input{Patio: pc.Patio, Buildings: pc.Buildings, Timestamp: ts}
	if err := s.engine.Validate(in); err != nil {
		return types.SunExposureResult{}, err
	}

	if s.weather != nil {
		w, err := s.weather.Resolve(ctx, Anchor(pc.Patio), ts)
		if err != nil {
			s.logger.WarnContext(ctx, "weather unavailable, continuing without it",
				"patio_id", pc.Patio.ID, "error", err)
		}
		in.Weather = w
	}
	return s.engine.Calculate(in)
}

// Save writes res to the cache when its timestamp is on a bucket boundary.
func (s *Service) Save(ctx context.Context, pc *types.PatioContext, res types.SunExposureResult) error {
	if s.cache == nil || !cache.Aligned(res.Timestamp, s.resolution) {
		return nil
	}
	now := s.clock.Now()
	return s.cache.Put(ctx, cache.KeyFor(pc.Patio.ID, res.Timestamp), types.CachedExposure{
		Result:             res,
		ComputedAt:         now,
		ExpiresAt:          now.Add(s.entryTTL),
		ComputationVersion: s.version,
		GeometryVersion:    pc.GeometryVersion,
	})
}

// ErrorDetail describes why one patio in a batch failed.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchResult separates successes from failures. Results keep the order of
// the requested ids.
type BatchResult struct {
	Results []types.SunExposureResult `json:"results"`
	Errors  map[string]ErrorDetail    `json:"errors,omitempty"`
}

// CalculateExposureBatch evaluates up to types.MaxBatchPatios patios at the
// same instant with bounded parallelism. A failure on one patio is reported
// in Errors and does not affect the others.
func (s *Service) CalculateExposureBatch(ctx context.Context, patioIDs []string, ts time.Time) (*BatchResult, error) {
	if len(patioIDs) > types.MaxBatchPatios {
		return nil, &types.AppError{
			Code:    types.ErrCodeValidationBatchSize,
			Message: fmt.Sprintf("batch size %d exceeds maximum of %d patios", len(patioIDs), types.MaxBatchPatios),
		}
	}

	var mu sync.Mutex
	results := make([]*types.SunExposureResult, len(patioIDs))
	errorMap := make(map[string]ErrorDetail)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, id := range patioIDs {
		g.Go(func() error {
			res, err := s.CalculateExposure(gCtx, id, ts)
			if err != nil {
				mu.Lock()
				errorMap[id] = errorDetail(err)
				mu.Unlock()
				// Do not propagate; other patios still complete.
				return nil
			}
			results[i] = &res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, &types.AppError{
			Code:    types.ErrCodeInternalUnexpected,
			Message: fmt.Sprintf("batch exposure error: %v", err),
			Err:     err,
		}
	}

	out := &BatchResult{Results: make([]types.SunExposureResult, 0, len(patioIDs))}
	for _, r := range results {
		if r != nil {
			out.Results = append(out.Results, *r)
		}
	}
	if len(errorMap) > 0 {
		out.Errors = errorMap
	}
	return out, nil
}

func errorDetail(err error) ErrorDetail {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return ErrorDetail{Code: string(appErr.Code), Message: appErr.Message}
	}
	return ErrorDetail{Code: string(types.ErrCodeInternalUnexpected), Message: err.Error()}
}

// Policy returns the exposure policy used to classify results.
func (s *Service) Policy() Policy { return s.engine.Policy() }
