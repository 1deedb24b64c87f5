package db

import (
	"context"
	"time"

	"sunspot/internal/types"
)

// ============================================================
// JobLockRepository
// ============================================================

// JobLockRepository provides distributed locking via the job_locks table so
// that only one scheduled invocation processes a given task window.
type JobLockRepository struct {
	db    DBTX
	clock types.Clock
}

// NewJobLockRepository creates a JobLockRepository. If clock is nil the real
// clock is used.
func NewJobLockRepository(db DBTX, clock types.Clock) *JobLockRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &JobLockRepository{db: db, clock: clock}
}

// Acquire attempts to take lockID for ttl. It returns false when another
// worker holds an unexpired lock. The lockID is typically
// "task_type:timestamp_hour" (e.g. "precompute_exposures:2026-06-21T03").
//
// locked_at and expires_at are computed in Go rather than with interval
// arithmetic in SQL, since Go's duration format ("15m0s") is not a valid
// PostgreSQL interval.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := r.clock.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}

	// One row for a fresh insert or a reclaimed expired lock; zero when the
	// conflict WHERE clause rejected the update.
	return tag.RowsAffected() > 0, nil
}

// Release drops lockID if workerID still holds it.
func (r *JobLockRepository) Release(ctx context.Context, lockID string, workerID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM job_locks WHERE id = $1 AND worker_id = $2`,
		lockID,
		workerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job lock", err)
	}
	return nil
}

// ============================================================
// JobHistoryRepository
// ============================================================

// JobHistoryRepository records executions of scheduled tasks in job_history.
type JobHistoryRepository struct {
	db DBTX
}

// NewJobHistoryRepository creates a JobHistoryRepository.
func NewJobHistoryRepository(db DBTX) *JobHistoryRepository {
	return &JobHistoryRepository{db: db}
}

// Start inserts a running entry and returns its id for Finish.
func (r *JobHistoryRepository) Start(ctx context.Context, jobType string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO job_history (job_type, started_at, status)
		 VALUES ($1, NOW(), 'running')
		 RETURNING id`,
		jobType,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job history entry", err)
	}
	return id, nil
}

// Finish closes entry id with status ("success" or "failed"), the number of
// items handled and the job error, if any.
func (r *JobHistoryRepository) Finish(ctx context.Context, id int64, status string, items int, jobErr error) error {
	var errMsg *string
	if jobErr != nil {
		s := jobErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE job_history
		 SET finished_at = NOW(), status = $2, items_count = $3, error = $4
		 WHERE id = $1`,
		id,
		status,
		items,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job history entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job history entry not found", nil)
	}
	return nil
}
