// Package main is the entrypoint for the Precompute Worker Lambda.
//
// The worker consumes RecomputeMessages from the precompute SQS queue. Each
// message names a set of patios and dates whose cached exposures went stale
// after a geometry change; the worker refills the cache for every pair.
//
// Failed records are reported through SQSEventResponse.BatchItemFailures so
// that only they return to the queue. Malformed messages and messages with an
// unusable date are acknowledged and dropped since a retry cannot fix them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"sunspot/internal/app"
	"sunspot/internal/config"
	"sunspot/internal/queue"
	"sunspot/internal/types"
)

// PatioRunner refills the cache for a subset of patios on one date.
type PatioRunner interface {
	RunForPatios(ctx context.Context, targetDate string, patioIDs []string) (*types.PrecomputationSchedule, error)
}

// Handler holds the dependencies for the worker Lambda handler function.
type Handler struct {
	Runner PatioRunner
	Logger *slog.Logger
}

// Handle processes a batch of SQS records and reports per-record failures.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}
	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger().ErrorContext(ctx, "recompute message failed",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}
	return response, nil
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// processMessage returns an error only for failures worth retrying.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	logger := h.logger()

	msg, err := queue.DecodeRecompute(record.Body)
	if err != nil {
		logger.WarnContext(ctx, "dropping malformed recompute message",
			"message_id", record.MessageId,
			"error", err,
		)
		return nil
	}

	logger.InfoContext(ctx, "processing recompute message",
		"message_id", record.MessageId,
		"batch_id", msg.BatchID,
		"reason", msg.Reason,
		"patios", len(msg.PatioIDs),
		"dates", len(msg.Dates),
	)

	var failed []string
	for _, date := range msg.Dates {
		sched, err := h.Runner.RunForPatios(ctx, date, msg.PatioIDs)
		switch {
		case types.HasCode(err, types.ErrCodeValidationInvalidDate):
			logger.WarnContext(ctx, "skipping invalid recompute date",
				"batch_id", msg.BatchID,
				"date", date,
			)
		case err != nil:
			return fmt.Errorf("recompute %s for batch %s: %w", date, msg.BatchID, err)
		case sched != nil && sched.Status == types.ScheduleStatusFailed:
			failed = append(failed, date)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("batch %s: every patio failed on %v", msg.BatchID, failed)
	}
	return nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("Precompute Worker Lambda initializing (cold start)")

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

	handler := &Handler{Runner: a.Precompute, Logger: logger}
	logger.Info("Precompute Worker Lambda initialized")

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime.
	// Usage: echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/precompute-worker
	if cfg.Environment == "local" {
		code := runLocal(context.Background(), handler, os.Stdin, os.Stderr)
		a.Close()
		os.Exit(code)
	}

	lambda.Start(handler.Handle)
}

// runLocal feeds one SQS event read from in through the handler and returns
// the process exit code. Failed records are printed to errOut.
func runLocal(ctx context.Context, handler *Handler, in io.Reader, errOut io.Writer) int {
	logger := handler.logger()
	payload, err := io.ReadAll(in)
	if err != nil || len(payload) == 0 {
		logger.Error("No SQS event on stdin", "error", err)
		return 1
	}
	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		logger.Error("Failed to parse stdin as SQS event", "error", err)
		return 1
	}
	response, _ := handler.Handle(ctx, sqsEvent)
	logger.Info("Handler execution completed",
		"records_processed", len(sqsEvent.Records),
		"failures", len(response.BatchItemFailures),
	)
	if len(response.BatchItemFailures) > 0 {
		respJSON, _ := json.MarshalIndent(response, "", "  ")
		fmt.Fprintln(errOut, string(respJSON))
		return 1
	}
	return 0
}
