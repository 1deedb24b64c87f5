package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"sunspot/internal/types"
)

// ScheduleRepository persists precomputation runs in precompute_schedules.
// Per-patio failures are stored as a JSONB array.
type ScheduleRepository struct {
	db DBTX
}

// NewScheduleRepository creates a ScheduleRepository.
func NewScheduleRepository(db DBTX) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleColumns = `id, target_date, status, targeted, patios_total, patios_processed,
	patios_failed, buckets_written, buckets_skipped, retry_count, failures,
	error_message, started_at, completed_at, created_at`

// Create inserts s.
func (r *ScheduleRepository) Create(ctx context.Context, s *types.PrecomputationSchedule) error {
	failures, err := marshalFailures(s.Failures)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO precompute_schedules (`+scheduleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.ID,
		s.TargetDate,
		string(s.Status),
		s.Targeted,
		s.PatiosTotal,
		s.PatiosProcessed,
		s.PatiosFailed,
		s.BucketsWritten,
		s.BucketsSkipped,
		s.RetryCount,
		failures,
		s.ErrorMessage,
		s.StartedAt,
		s.CompletedAt,
		s.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create precompute schedule", err)
	}
	return nil
}

// Update overwrites the mutable columns of s.
func (r *ScheduleRepository) Update(ctx context.Context, s *types.PrecomputationSchedule) error {
	failures, err := marshalFailures(s.Failures)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE precompute_schedules
		 SET status = $2, patios_total = $3, patios_processed = $4, patios_failed = $5,
		     buckets_written = $6, buckets_skipped = $7, retry_count = $8, failures = $9,
		     error_message = $10, started_at = $11, completed_at = $12
		 WHERE id = $1`,
		s.ID,
		string(s.Status),
		s.PatiosTotal,
		s.PatiosProcessed,
		s.PatiosFailed,
		s.BucketsWritten,
		s.BucketsSkipped,
		s.RetryCount,
		failures,
		s.ErrorMessage,
		s.StartedAt,
		s.CompletedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update precompute schedule", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeNotFoundSchedule, "precompute schedule not found", nil,
			map[string]any{"schedule_id": s.ID})
	}
	return nil
}

// LatestForDate returns the most recent full (non-targeted) run for
// targetDate, or nil.
func (r *ScheduleRepository) LatestForDate(ctx context.Context, targetDate string) (*types.PrecomputationSchedule, error) {
	s, err := scanSchedule(r.db.QueryRow(ctx,
		`SELECT `+scheduleColumns+`
		 FROM precompute_schedules
		 WHERE target_date = $1 AND NOT targeted
		 ORDER BY created_at DESC
		 LIMIT 1`,
		targetDate,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load latest precompute schedule", err)
	}
	return s, nil
}

// GetByID returns one schedule.
func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*types.PrecomputationSchedule, error) {
	s, err := scanSchedule(r.db.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM precompute_schedules WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeNotFoundSchedule, "precompute schedule not found", err,
			map[string]any{"schedule_id": id})
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load precompute schedule", err)
	}
	return s, nil
}

func scanSchedule(row pgx.Row) (*types.PrecomputationSchedule, error) {
	var (
		s        types.PrecomputationSchedule
		status   string
		failures []byte
		errMsg   *string
		started  *time.Time
		finished *time.Time
	)
	if err := row.Scan(
		&s.ID,
		&s.TargetDate,
		&status,
		&s.Targeted,
		&s.PatiosTotal,
		&s.PatiosProcessed,
		&s.PatiosFailed,
		&s.BucketsWritten,
		&s.BucketsSkipped,
		&s.RetryCount,
		&failures,
		&errMsg,
		&started,
		&finished,
		&s.CreatedAt,
	); err != nil {
		return nil, err
	}
	s.Status = types.ScheduleStatus(status)
	s.StartedAt = started
	s.CompletedAt = finished
	if errMsg != nil {
		s.ErrorMessage = *errMsg
	}
	if len(failures) > 0 {
		if err := json.Unmarshal(failures, &s.Failures); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

func marshalFailures(failures []types.PatioFailure) ([]byte, error) {
	if len(failures) == 0 {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(failures)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode schedule failures", err)
	}
	return b, nil
}
