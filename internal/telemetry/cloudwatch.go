// Package telemetry implements the metric recorders used by the exposure
// service and the scheduled jobs. CloudWatch serves the Lambda deployment;
// Prometheus serves long-running processes and local tooling.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"sunspot/internal/scheduler"
	"sunspot/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

var _ scheduler.RunRecorder = (*CloudWatchRecorder)(nil)

// CloudWatchRecorder publishes precomputation and eviction metrics.
//
// Metrics emitted:
//   - PrecomputeRunDuration: Dims {TargetDate, Status}
//   - PatiosProcessed, PatiosFailed, BucketsWritten: Dims {TargetDate}
//   - CacheEntriesEvicted: Dims {Task}
//
// Publishing failures are logged and never surfaced to the caller.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRecorder creates a recorder publishing under namespace. An
// empty namespace selects types.MetricNamespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{client: client, namespace: namespace, logger: logger}
}

// RecordPrecomputeRun emits the duration and counters of a finished run.
func (r *CloudWatchRecorder) RecordPrecomputeRun(ctx context.Context, s types.PrecomputationSchedule, d time.Duration) {
	dateDim := cwtypes.Dimension{Name: aws.String(types.DimTargetDate), Value: aws.String(s.TargetDate)}
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricPrecomputeRunDuration),
				Value:      aws.Float64(float64(d.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					dateDim,
					{Name: aws.String(types.DimStatus), Value: aws.String(string(s.Status))},
				},
			},
			countDatum(types.MetricPatiosProcessed, s.PatiosProcessed, dateDim),
			countDatum(types.MetricPatiosFailed, s.PatiosFailed, dateDim),
			countDatum(types.MetricBucketsWritten, s.BucketsWritten, dateDim),
		},
	}

	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		r.logger.ErrorContext(ctx, "failed to record precompute metrics",
			"error", err.Error(),
			"target_date", s.TargetDate,
			"status", string(s.Status),
		)
	}
}

// RecordCacheEviction emits the number of entries removed by the reaper.
func (r *CloudWatchRecorder) RecordCacheEviction(ctx context.Context, evicted int) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{
			countDatum(types.MetricCacheEvicted, evicted,
				cwtypes.Dimension{Name: aws.String(types.DimTask), Value: aws.String(string(scheduler.TaskEvictCache))}),
		},
	}

	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		r.logger.ErrorContext(ctx, "failed to record eviction metric",
			"error", err.Error(),
			"evicted", evicted,
		)
	}
}

func countDatum(name string, v int, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(float64(v)),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}
