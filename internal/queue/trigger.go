// Package queue provides the SQS producer that dispatches targeted exposure
// recomputes to the precompute workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"sunspot/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// PrecomputeTrigger serializes RecomputeMessages onto the precompute queue.
type PrecomputeTrigger struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   *slog.Logger
}

// NewPrecomputeTrigger creates a PrecomputeTrigger for queueURL.
func NewPrecomputeTrigger(client SQSSender, queueURL string, clock types.Clock, logger *slog.Logger) *PrecomputeTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &PrecomputeTrigger{
		client:   client,
		queueURL: queueURL,
		clock:    clock,
		logger:   logger,
	}
}

// EnqueueRecompute asks the workers to refresh patioIDs for each of dates.
// The reason travels both in the body and as a message attribute so it can
// be filtered on without decoding.
func (t *PrecomputeTrigger) EnqueueRecompute(ctx context.Context, patioIDs []string, dates []string, reason string) error {
	if len(patioIDs) == 0 || len(dates) == 0 {
		return nil
	}
	if len(patioIDs) > types.MaxBatchPatios {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationBatchSize,
			fmt.Sprintf("recompute batch of %d patios exceeds maximum of %d", len(patioIDs), types.MaxBatchPatios), nil,
			map[string]any{"count": len(patioIDs)})
	}

	msg := types.RecomputeMessage{
		BatchID:     "recompute_" + uuid.NewString(),
		PatioIDs:    patioIDs,
		Dates:       dates,
		Reason:      reason,
		RequestedAt: t.clock.Now().UTC(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal RecomputeMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"reason": {
				DataType:    aws.String("String"),
				StringValue: aws.String(reason),
			},
		},
	}
	if _, err := t.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to send RecomputeMessage to %s", t.queueURL), err)
	}

	t.logger.InfoContext(ctx, "recompute message sent",
		"queue_url", t.queueURL,
		"batch_id", msg.BatchID,
		"patios", len(patioIDs),
		"dates", dates,
		"reason", reason,
	)
	return nil
}

// DecodeRecompute parses a message body produced by EnqueueRecompute.
func DecodeRecompute(body string) (types.RecomputeMessage, error) {
	var msg types.RecomputeMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return msg, types.NewAppError(types.ErrCodeValidationMissingField, "malformed recompute message", err)
	}
	if len(msg.PatioIDs) == 0 || len(msg.Dates) == 0 {
		return msg, types.NewAppError(types.ErrCodeValidationMissingField, "recompute message needs patio_ids and dates", nil)
	}
	return msg, nil
}
