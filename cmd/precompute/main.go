// Package main is the entrypoint for the Precompute Lambda function.
//
// The Lambda is a small maintenance multiplexer. EventBridge rules send a
// MaintenancePayload naming the task, and the handler routes it:
//
//   - precompute_exposures: fill the exposure cache for today plus the
//     configured days ahead, or for payload.target_date only.
//   - evict_cache: drop expired, stale and superseded cache entries.
//
// Each invocation takes a distributed job lock so that overlapping schedules
// or retries never run the same task twice, and records job history.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"sunspot/internal/app"
	"sunspot/internal/config"
	"sunspot/internal/scheduler"
	"sunspot/internal/types"
)

// lockTTL covers the Lambda's maximum execution time with margin.
const lockTTL = 15 * time.Minute

// PrecomputeRunner runs precomputation for one date or the upcoming window.
type PrecomputeRunner interface {
	RunPrecomputation(ctx context.Context, targetDate string) (*types.PrecomputationSchedule, error)
	RunUpcoming(ctx context.Context, now time.Time) ([]*types.PrecomputationSchedule, error)
}

// CacheReaper evicts dead cache entries.
type CacheReaper interface {
	EvictStale(ctx context.Context, now time.Time) (int, error)
}

// JobLocker abstracts the distributed lock.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Handler holds the dependencies for the precompute Lambda handler function.
type Handler struct {
	Precompute PrecomputeRunner
	Reaper     CacheReaper
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	Logger     *slog.Logger
}

// Handle processes a MaintenancePayload from EventBridge:
//  1. Determine the reference time.
//  2. Acquire the lock "task:YYYY-MM-DDTHH" (plus ":date" for a single-date run).
//  3. Record job start, dispatch, record completion.
//  4. Release the lock.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "precompute handler invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"target_date", payload.TargetDate,
		"worker_id", h.WorkerID,
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	lockID := fmt.Sprintf("%s:%s", payload.Task, now.Truncate(time.Hour).Format("2006-01-02T15"))
	if payload.TargetDate != "" {
		lockID += ":" + payload.TargetDate
	}
	acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, lockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock",
			"lock_id", lockID,
			"error", err,
		)
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock not acquired, another worker is processing",
			"lock_id", lockID,
		)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}
	defer func() {
		if err := h.JobLock.Release(context.WithoutCancel(ctx), lockID, h.WorkerID); err != nil {
			logger.WarnContext(ctx, "failed to release job lock",
				"lock_id", lockID,
				"error", err,
			)
		}
	}()

	jobID, err := h.JobHistory.Start(ctx, taskStr)
	if err != nil {
		// History is best effort; jobID 0 skips Finish.
		logger.ErrorContext(ctx, "failed to start job history",
			"task", taskStr,
			"error", err,
		)
		jobID = 0
	}

	items, execErr := h.dispatch(ctx, payload, now)

	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if jobID != 0 {
		if finishErr := h.JobHistory.Finish(context.WithoutCancel(ctx), jobID, status, items, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"task", taskStr,
				"error", finishErr,
			)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"task", taskStr,
			"error", execErr,
			"items_before_error", items,
		)
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", taskStr, items)
	logger.InfoContext(ctx, result,
		"task", taskStr,
		"items", items,
	)
	return result, nil
}

// dispatch routes a task to its service. For precompute the item count is
// the number of cache entries written.
func (h *Handler) dispatch(ctx context.Context, payload scheduler.MaintenancePayload, now time.Time) (int, error) {
	switch payload.Task {
	case scheduler.TaskPrecomputeExposures:
		if payload.TargetDate != "" {
			sched, err := h.Precompute.RunPrecomputation(ctx, payload.TargetDate)
			if sched == nil {
				return 0, err
			}
			return sched.BucketsWritten, err
		}
		scheds, err := h.Precompute.RunUpcoming(ctx, now)
		written := 0
		for _, s := range scheds {
			written += s.BucketsWritten
		}
		return written, err

	case scheduler.TaskEvictCache:
		return h.Reaper.EvictStale(ctx, now)

	default:
		return 0, fmt.Errorf("unknown task type: %q", payload.Task)
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("Precompute Lambda initializing (cold start)")

	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to wire application", "error", err)
		os.Exit(1)
	}

	workerID := uuid.New().String()
	handler := &Handler{
		Precompute: a.Precompute,
		Reaper:     a.Reaper,
		JobLock:    a.JobLock,
		JobHistory: a.JobHistory,
		WorkerID:   workerID,
		Logger:     logger,
	}

	logger.Info("Precompute Lambda initialized", "worker_id", workerID)
	lambda.Start(handler.Handle)
}
