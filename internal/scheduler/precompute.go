package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sunspot/internal/cache"
	"sunspot/internal/types"
)

// Precompute defaults.
const (
	DefaultWindowStart = 8 * time.Hour
	DefaultWindowEnd   = 20 * time.Hour
	DefaultResolution  = 10 * time.Minute
	DefaultDaysAhead   = 3
	DefaultMaxRetries  = 3

	// DefaultAbandonAfter is how long a Running schedule may go without
	// finishing before a new run for the same date takes over.
	DefaultAbandonAfter = 2 * time.Hour

	// Patio retries wait RetryBaseDelay, doubling per attempt up to
	// RetryMaxDelay.
	DefaultRetryBaseDelay = 250 * time.Millisecond
	DefaultRetryMaxDelay  = 5 * time.Second

	// progressEvery controls how often in-flight progress is persisted.
	progressEvery = 25
)

// ExposureSource computes and caches single exposures.
// *exposure.Service implements it.
type ExposureSource interface {
	LoadPatio(ctx context.Context, patioID string) (*types.PatioContext, error)
	Lookup(ctx context.Context, pc *types.PatioContext, ts time.Time) (*types.SunExposureResult, bool)
	Evaluate(ctx context.Context, pc *types.PatioContext, ts time.Time) (types.SunExposureResult, error)
	Save(ctx context.Context, pc *types.PatioContext, res types.SunExposureResult) error
}

// PatioLister enumerates every patio eligible for precomputation.
//
// SQL: SELECT id FROM patios WHERE deleted_at IS NULL ORDER BY id
type PatioLister interface {
	ListPatioIDs(ctx context.Context) ([]string, error)
}

// ScheduleRepository persists precomputation runs.
type ScheduleRepository interface {
	// Create inserts a new schedule row.
	Create(ctx context.Context, s *types.PrecomputationSchedule) error
	// Update overwrites the mutable columns (status, counters, failures,
	// timestamps) of an existing schedule.
	Update(ctx context.Context, s *types.PrecomputationSchedule) error
	// LatestForDate returns the most recently created full run for the
	// target date, or nil when there is none.
	LatestForDate(ctx context.Context, targetDate string) (*types.PrecomputationSchedule, error)
}

// RunRecorder emits operator metrics for scheduled work.
type RunRecorder interface {
	RecordPrecomputeRun(ctx context.Context, s types.PrecomputationSchedule, d time.Duration)
	RecordCacheEviction(ctx context.Context, evicted int)
}

type nopRunRecorder struct{}

func (nopRunRecorder) RecordPrecomputeRun(context.Context, types.PrecomputationSchedule, time.Duration) {
}
func (nopRunRecorder) RecordCacheEviction(context.Context, int) {}

// PrecomputeOptions describes which buckets a run fills and how hard it
// works. WindowStart and WindowEnd are wall-clock offsets from local midnight
// in Location; both ends are inclusive.
type PrecomputeOptions struct {
	Location     *time.Location
	WindowStart  time.Duration
	WindowEnd    time.Duration
	Resolution   time.Duration
	DaysAhead    int
	Concurrency  int
	MaxRetries   int
	AbandonAfter time.Duration

	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

func (o PrecomputeOptions) withDefaults() PrecomputeOptions {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.WindowStart == 0 && o.WindowEnd == 0 {
		o.WindowStart, o.WindowEnd = DefaultWindowStart, DefaultWindowEnd
	}
	if o.Resolution <= 0 {
		o.Resolution = DefaultResolution
	}
	if o.DaysAhead <= 0 {
		o.DaysAhead = DefaultDaysAhead
	}
	if o.Concurrency <= 0 {
		o.Concurrency = runtime.GOMAXPROCS(0)
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.AbandonAfter <= 0 {
		o.AbandonAfter = DefaultAbandonAfter
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if o.RetryMaxDelay < o.RetryBaseDelay {
		o.RetryMaxDelay = max(DefaultRetryMaxDelay, o.RetryBaseDelay)
	}
	return o
}

// RetryDelay returns the wait before retry number attempt (1-based).
func (o PrecomputeOptions) RetryDelay(attempt int) time.Duration {
	d := o.RetryBaseDelay
	for i := 1; i < attempt && d < o.RetryMaxDelay; i++ {
		d *= 2
	}
	return min(d, o.RetryMaxDelay)
}

// ParseTimeOfDay parses "HH:MM" into an offset from midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Buckets returns the UTC instants a run for date (YYYY-MM-DD in Location)
// fills. The first bucket is the first cache-aligned instant at or after the
// local window start, so daylight-saving shifts and odd zone offsets never
// produce unaligned keys.
func (o PrecomputeOptions) Buckets(date string) ([]time.Time, error) {
	o = o.withDefaults()
	day, err := time.ParseInLocation(cache.DateLayout, date, o.Location)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDate,
			"target date must be YYYY-MM-DD", err, map[string]any{"target_date": date})
	}
	if o.WindowEnd < o.WindowStart {
		return nil, types.NewAppError(types.ErrCodeValidationTimeWindow,
			"precompute window ends before it starts", nil)
	}

	// time.Date normalizes minute overflow against the wall clock, which
	// keeps 08:00 at 08:00 on transition days.
	wall := func(offset time.Duration) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), 0, int(offset/time.Minute), 0, 0, o.Location).UTC()
	}
	start, end := alignUp(wall(o.WindowStart), o.Resolution), wall(o.WindowEnd)

	var out []time.Time
	for ts := start; !ts.After(end); ts = ts.Add(o.Resolution) {
		out = append(out, ts)
	}
	return out, nil
}

func alignUp(t time.Time, resolution time.Duration) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if off := t.Sub(midnight) % resolution; off != 0 {
		return t.Add(resolution - off)
	}
	return t
}

// UpcomingDates returns today plus the following DaysAhead-1 local dates.
func (o PrecomputeOptions) UpcomingDates(now time.Time) []string {
	o = o.withDefaults()
	local := now.In(o.Location)
	dates := make([]string, o.DaysAhead)
	for i := range dates {
		dates[i] = local.AddDate(0, 0, i).Format(cache.DateLayout)
	}
	return dates
}

// PrecomputeConfig wires a PrecomputeService.
type PrecomputeConfig struct {
	Source    ExposureSource
	Patios    PatioLister
	Schedules ScheduleRepository
	Metrics   RunRecorder
	Clock     types.Clock
	Logger    *slog.Logger
	Options   PrecomputeOptions
}

// PrecomputeService fills the exposure cache ahead of demand.
//
// A run enumerates patios, evaluates every bucket of the daily window with
// bounded parallelism and records the outcome in a PrecomputationSchedule. A
// failing patio is retried and then recorded; it never aborts the run.
// Buckets that already hold a usable entry are skipped, so restarting a
// crashed or cancelled run only fills what is missing.
type PrecomputeService struct {
	source    ExposureSource
	patios    PatioLister
	schedules ScheduleRepository
	metrics   RunRecorder
	clock     types.Clock
	logger    *slog.Logger
	opts      PrecomputeOptions

	sleep func(ctx context.Context, d time.Duration) error
}

// NewPrecomputeService creates a PrecomputeService. Metrics, Clock and Logger
// are optional.
func NewPrecomputeService(cfg PrecomputeConfig) *PrecomputeService {
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
		metrics = nopRunRecorder{}
	}
	return &PrecomputeService{
		source:    cfg.Source,
		patios:    cfg.Patios,
		schedules: cfg.Schedules,
		metrics:   metrics,
		clock:     clock,
		logger:    logger,
		opts:      cfg.Options.withDefaults(),
		sleep:     sleepContext,
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Options returns the effective options after defaults.
func (s *PrecomputeService) Options() PrecomputeOptions { return s.opts }

// RunPrecomputation fills every patio for targetDate. It refuses to start
// while another full run for the same date is live, and takes over runs that
// have been Running for longer than AbandonAfter.
//
// The returned schedule reflects the final state even when an error is
// returned.
func (s *PrecomputeService) RunPrecomputation(ctx context.Context, targetDate string) (*types.PrecomputationSchedule, error) {
	buckets, err := s.opts.Buckets(targetDate)
	if err != nil {
		return nil, err
	}
	if err := s.claimDate(ctx, targetDate); err != nil {
		return nil, err
	}

	sched, err := s.newSchedule(ctx, targetDate, false)
	if err != nil {
		return nil, err
	}

	ids, err := s.patios.ListPatioIDs(ctx)
	if err != nil {
		s.fail(ctx, sched, fmt.Errorf("listing patios: %w", err))
		return sched, err
	}
	return s.run(ctx, sched, ids, buckets)
}

// RunForPatios fills targetDate for the given patios only. It is used for
// targeted recomputes after geometry changes and does not take the per-date
// claim of a full run.
func (s *PrecomputeService) RunForPatios(ctx context.Context, targetDate string, patioIDs []string) (*types.PrecomputationSchedule, error) {
	buckets, err := s.opts.Buckets(targetDate)
	if err != nil {
		return nil, err
	}
	sched, err := s.newSchedule(ctx, targetDate, true)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, sched, dedupe(patioIDs), buckets)
}

// RunUpcoming runs RunPrecomputation for today and the following days in the
// configured zone. A failing date does not stop later dates; cancellation
// does.
func (s *PrecomputeService) RunUpcoming(ctx context.Context, now time.Time) ([]*types.PrecomputationSchedule, error) {
	var (
		out  []*types.PrecomputationSchedule
		errs []error
	)
	for _, date := range s.opts.UpcomingDates(now) {
		sched, err := s.RunPrecomputation(ctx, date)
		if sched != nil {
			out = append(out, sched)
		}
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			s.logger.ErrorContext(ctx, "precompute run failed",
				"target_date", date,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", date, err))
		}
	}
	return out, errors.Join(errs...)
}

// claimDate checks the latest schedule for targetDate. A live Running
// schedule blocks the new run; an abandoned one is closed as Failed.
func (s *PrecomputeService) claimDate(ctx context.Context, targetDate string) error {
	latest, err := s.schedules.LatestForDate(ctx, targetDate)
	if err != nil {
		return fmt.Errorf("loading latest schedule: %w", err)
	}
	if latest == nil || latest.Status.IsTerminal() {
		return nil
	}

	now := s.clock.Now()
	since := latest.CreatedAt
	if latest.StartedAt != nil {
		since = *latest.StartedAt
	}
	if now.Sub(since) < s.opts.AbandonAfter {
		return types.NewAppErrorWithDetails(types.ErrCodeConflictRunActive,
			"a precompute run for this date is already active", nil,
			map[string]any{"schedule_id": latest.ID, "target_date": targetDate})
	}

	s.logger.WarnContext(ctx, "taking over abandoned precompute run",
		"schedule_id", latest.ID,
		"target_date", targetDate,
		"running_since", since,
	)
	latest.Status = types.ScheduleStatusFailed
	latest.ErrorMessage = "abandoned"
	latest.CompletedAt = &now
	return s.schedules.Update(ctx, latest)
}

func (s *PrecomputeService) newSchedule(ctx context.Context, targetDate string, targeted bool) (*types.PrecomputationSchedule, error) {
	sched := &types.PrecomputationSchedule{
		ID:         uuid.NewString(),
		TargetDate: targetDate,
		Status:     types.ScheduleStatusPending,
		Targeted:   targeted,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.schedules.Create(ctx, sched); err != nil {
		return nil, fmt.Errorf("creating schedule: %w", err)
	}
	return sched, nil
}

// run executes a created schedule over ids and buckets.
func (s *PrecomputeService) run(ctx context.Context, sched *types.PrecomputationSchedule, ids []string, buckets []time.Time) (*types.PrecomputationSchedule, error) {
	began := time.Now()
	startedAt := s.clock.Now()
	sched.Status = types.ScheduleStatusRunning
	sched.StartedAt = &startedAt
	sched.PatiosTotal = len(ids)
	if err := s.schedules.Update(ctx, sched); err != nil {
		return sched, fmt.Errorf("starting schedule: %w", err)
	}

	s.logger.InfoContext(ctx, "precompute run started",
		"schedule_id", sched.ID,
		"target_date", sched.TargetDate,
		"patios", len(ids),
		"buckets", len(buckets),
	)

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for _, id := range ids {
		// Cancellation is checked between patios; a cancelled run stops
		// dispatching and lets in-flight patios wind down.
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out := s.precomputePatio(gCtx, id, buckets)
			if out.cancelled {
				return nil
			}

			mu.Lock()
			sched.PatiosProcessed++
			sched.BucketsWritten += out.written
			sched.BucketsSkipped += out.skipped
			sched.RetryCount += out.attempts - 1
			if out.err != nil {
				sched.PatiosFailed++
				sched.Failures = append(sched.Failures, types.PatioFailure{
					PatioID:  id,
					Attempts: out.attempts,
					Error:    out.err.Error(),
				})
			}
			var snapshot *types.PrecomputationSchedule
			if sched.PatiosProcessed%progressEvery == 0 {
				snapshot = copySchedule(sched)
			}
			mu.Unlock()

			if snapshot != nil {
				if err := s.schedules.Update(gCtx, snapshot); err != nil {
					s.logger.WarnContext(gCtx, "failed to persist precompute progress",
						"schedule_id", sched.ID,
						"error", err,
					)
				}
			}
			// Do not propagate error to errgroup; allow other patios to succeed.
			return nil
		})
	}
	_ = g.Wait()

	completedAt := s.clock.Now()
	sched.CompletedAt = &completedAt
	var runErr error
	switch {
	case ctx.Err() != nil:
		runErr = ctx.Err()
		sched.Status = types.ScheduleStatusFailed
		sched.ErrorMessage = "cancelled: " + runErr.Error()
	case sched.PatiosTotal > 0 && sched.PatiosFailed == sched.PatiosTotal:
		sched.Status = types.ScheduleStatusFailed
		sched.ErrorMessage = "every patio failed"
	default:
		sched.Status = types.ScheduleStatusCompleted
	}

	// The final status must be recorded even when the run was cancelled.
	if err := s.schedules.Update(context.WithoutCancel(ctx), sched); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist precompute result",
			"schedule_id", sched.ID,
			"error", err,
		)
		if runErr == nil {
			runErr = fmt.Errorf("finishing schedule: %w", err)
		}
	}

	d := time.Since(began)
	s.metrics.RecordPrecomputeRun(ctx, *sched, d)
	s.logger.InfoContext(ctx, "precompute run finished",
		"schedule_id", sched.ID,
		"target_date", sched.TargetDate,
		"status", sched.Status,
		"patios_processed", sched.PatiosProcessed,
		"patios_failed", sched.PatiosFailed,
		"buckets_written", sched.BucketsWritten,
		"buckets_skipped", sched.BucketsSkipped,
		"retries", sched.RetryCount,
		"duration_ms", d.Milliseconds(),
	)
	return sched, runErr
}

func (s *PrecomputeService) fail(ctx context.Context, sched *types.PrecomputationSchedule, err error) {
	now := s.clock.Now()
	sched.Status = types.ScheduleStatusFailed
	sched.ErrorMessage = err.Error()
	sched.CompletedAt = &now
	if uerr := s.schedules.Update(context.WithoutCancel(ctx), sched); uerr != nil {
		s.logger.ErrorContext(ctx, "failed to persist precompute failure",
			"schedule_id", sched.ID,
			"error", uerr,
		)
	}
	s.metrics.RecordPrecomputeRun(ctx, *sched, 0)
}

type patioOutcome struct {
	written   int
	skipped   int
	attempts  int
	err       error
	cancelled bool
}

// precomputePatio fills the buckets of one patio, retrying from the first
// unfinished bucket on failure.
func (s *PrecomputeService) precomputePatio(ctx context.Context, patioID string, buckets []time.Time) patioOutcome {
	var (
		out  patioOutcome
		next int
	)
	for out.attempts = 1; ; out.attempts++ {
		var err error
		next, err = s.fill(ctx, patioID, buckets, next, &out)
		if err == nil {
			out.err = nil
			return out
		}
		if ctx.Err() != nil {
			out.cancelled = true
			return out
		}
		out.err = err
		if !retryable(err) || out.attempts > s.opts.MaxRetries {
			s.logger.WarnContext(ctx, "patio precompute failed",
				"patio_id", patioID,
				"attempts", out.attempts,
				"error", err,
			)
			return out
		}
		delay := s.opts.RetryDelay(out.attempts)
		s.logger.DebugContext(ctx, "retrying patio precompute",
			"patio_id", patioID,
			"attempt", out.attempts,
			"delay", delay,
			"error", err,
		)
		if s.sleep(ctx, delay) != nil {
			out.cancelled = true
			return out
		}
	}
}

// fill evaluates buckets[from:] and returns the index of the first bucket
// that still needs work.
func (s *PrecomputeService) fill(ctx context.Context, patioID string, buckets []time.Time, from int, out *patioOutcome) (int, error) {
	pc, err := s.source.LoadPatio(ctx, patioID)
	if err != nil {
		return from, err
	}
	for i := from; i < len(buckets); i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		ts := buckets[i]
		if _, ok := s.source.Lookup(ctx, pc, ts); ok {
			out.skipped++
			continue
		}
		res, err := s.source.Evaluate(ctx, pc, ts)
		if err != nil {
			return i, fmt.Errorf("evaluating %s: %w", ts.Format(time.RFC3339), err)
		}
		if err := s.source.Save(ctx, pc, res); err != nil {
			return i, fmt.Errorf("saving %s: %w", ts.Format(time.RFC3339), err)
		}
		out.written++
	}
	return len(buckets), nil
}

// retryable reports whether another attempt could succeed. Bad input and
// missing patios fail the same way every time.
func retryable(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return true
	}
	code := string(appErr.Code)
	return !strings.HasPrefix(code, "validation_") && !strings.HasPrefix(code, "not_found_")
}

func copySchedule(s *types.PrecomputationSchedule) *types.PrecomputationSchedule {
	cp := *s
	cp.Failures = append([]types.PatioFailure(nil), s.Failures...)
	return &cp
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
