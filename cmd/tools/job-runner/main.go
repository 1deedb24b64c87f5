// Package main implements the job-runner CLI tool for invoking precompute
// maintenance tasks directly, bypassing the AWS Lambda shim.
//
// This tool is intended for local development, manual backfilling, and
// operational debugging. It constructs a scheduler.MaintenancePayload and runs
// the same lock, history and dispatch flow as cmd/precompute.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --task=precompute_exposures
//	go run ./cmd/tools/job-runner --task=precompute_exposures --target-date=2026-06-22
//	go run ./cmd/tools/job-runner --task=evict_cache --reference-time=2026-06-21T03:00:00Z
//	go run ./cmd/tools/job-runner --dry-run --task=evict_cache
//	go run ./cmd/tools/job-runner --list
//
// Configuration is read the same way as the Lambdas (environment, .env file,
// then SSM for non-local environments).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"

	"sunspot/internal/app"
	"sunspot/internal/config"
	"sunspot/internal/scheduler"
)

// validTasks is the exhaustive set of TaskType values the precompute Lambda
// supports.
var validTasks = map[scheduler.TaskType]string{
	scheduler.TaskPrecomputeExposures: "Fill the exposure cache for today and the days ahead (or --target-date)",
	scheduler.TaskEvictCache:          "Remove expired, stale and superseded cache entries",
}

const lockTTL = 15 * time.Minute

func main() {
	taskFlag := flag.String("task", "", "Task type to execute (e.g., precompute_exposures)")
	refTimeFlag := flag.String("reference-time", "", "Override reference time (RFC3339, e.g., 2026-06-21T03:00:00Z)")
	targetDateFlag := flag.String("target-date", "", "Restrict precompute_exposures to one local date (YYYY-MM-DD)")
	listFlag := flag.Bool("list", false, "List all available task types and exit")
	dryRunFlag := flag.Bool("dry-run", false, "Print the JSON payload without executing")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Invoke precompute maintenance tasks directly, bypassing Lambda.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available task types.\n")
	}
	flag.Parse()

	if *listFlag {
		printAvailableTasks()
		return
	}

	payload, err := buildPayload(*taskFlag, *refTimeFlag, *targetDateFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	if *dryRunFlag {
		printPayload(payload)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := executeTask(ctx, payload, logger)
	if err != nil {
		logger.Error("task execution failed",
			"task", string(payload.Task),
			"error", err,
		)
		os.Exit(1)
	}

	logger.Info("task execution succeeded",
		"task", string(payload.Task),
		"result", result,
	)
}

// buildPayload validates the flags and assembles the payload the Lambda
// would receive from EventBridge.
func buildPayload(task, refTime, targetDate string) (scheduler.MaintenancePayload, error) {
	if task == "" {
		return scheduler.MaintenancePayload{}, fmt.Errorf("--task is required")
	}
	taskType := scheduler.TaskType(task)
	if _, ok := validTasks[taskType]; !ok {
		return scheduler.MaintenancePayload{}, fmt.Errorf("unknown task type %q (see --list)", task)
	}

	payload := scheduler.MaintenancePayload{Task: taskType}
	if refTime != "" {
		t, err := time.Parse(time.RFC3339, refTime)
		if err != nil {
			return scheduler.MaintenancePayload{}, fmt.Errorf("invalid --reference-time %q: expected RFC3339: %w", refTime, err)
		}
		payload.ReferenceTime = &t
	}
	if targetDate != "" {
		if taskType != scheduler.TaskPrecomputeExposures {
			return scheduler.MaintenancePayload{}, fmt.Errorf("--target-date only applies to %s", scheduler.TaskPrecomputeExposures)
		}
		if _, err := time.Parse(time.DateOnly, targetDate); err != nil {
			return scheduler.MaintenancePayload{}, fmt.Errorf("invalid --target-date %q: expected YYYY-MM-DD", targetDate)
		}
		payload.TargetDate = targetDate
	}
	return payload, nil
}

// executeTask wires the application and then mirrors the Lambda handler:
//  1. Acquire the distributed job lock.
//  2. Record job history start.
//  3. Dispatch to the scheduler service.
//  4. Record job history completion and release the lock.
func executeTask(ctx context.Context, payload scheduler.MaintenancePayload, logger *slog.Logger) (string, error) {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return "", fmt.Errorf("loading configuration: %w", err)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return "", fmt.Errorf("wiring application: %w", err)
	}
	defer a.Close()

	workerID := fmt.Sprintf("job-runner-%s", uuid.New().String())

	now := time.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.Info("executing task",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"target_date", payload.TargetDate,
		"worker_id", workerID,
	)

	lockID := fmt.Sprintf("%s:%s", payload.Task, now.Truncate(time.Hour).Format("2006-01-02T15"))
	if payload.TargetDate != "" {
		lockID += ":" + payload.TargetDate
	}
	acquired, err := a.JobLock.Acquire(ctx, lockID, workerID, lockTTL)
	if err != nil {
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}
	logger.Info("job lock acquired", "lock_id", lockID)
	defer func() {
		if err := a.JobLock.Release(context.WithoutCancel(ctx), lockID, workerID); err != nil {
			logger.Warn("failed to release job lock", "lock_id", lockID, "error", err)
		}
	}()

	jobID, err := a.JobHistory.Start(ctx, taskStr)
	if err != nil {
		logger.Warn("failed to record job start (continuing anyway)", "error", err)
		jobID = 0
	}

	var items int
	var execErr error
	switch payload.Task {
	case scheduler.TaskPrecomputeExposures:
		if payload.TargetDate != "" {
			sched, err := a.Precompute.RunPrecomputation(ctx, payload.TargetDate)
			if sched != nil {
				items = sched.BucketsWritten
			}
			execErr = err
		} else {
			scheds, err := a.Precompute.RunUpcoming(ctx, now)
			for _, s := range scheds {
				items += s.BucketsWritten
			}
			execErr = err
		}
	case scheduler.TaskEvictCache:
		items, execErr = a.Reaper.EvictStale(ctx, now)
	}

	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if jobID != 0 {
		if finishErr := a.JobHistory.Finish(context.WithoutCancel(ctx), jobID, status, items, execErr); finishErr != nil {
			logger.Error("failed to record job completion", "job_id", jobID, "error", finishErr)
		}
	}

	if execErr != nil {
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}
	return fmt.Sprintf("task %s complete: %d items processed", taskStr, items), nil
}

// printAvailableTasks writes the sorted list of task types to stdout.
func printAvailableTasks() {
	names := make([]string, 0, len(validTasks))
	for t := range validTasks {
		names = append(names, string(t))
	}
	sort.Strings(names)

	fmt.Println("Available tasks:")
	for _, name := range names {
		fmt.Printf("  %-22s %s\n", name, validTasks[scheduler.TaskType(name)])
	}
}

// printPayload writes the payload as indented JSON, ready for
// `aws lambda invoke --payload`.
func printPayload(payload scheduler.MaintenancePayload) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: marshalling payload: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
