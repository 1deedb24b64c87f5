package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sunspot/internal/types"
)

// mockCloudWatchClient records PutMetricData calls for verification.
type mockCloudWatchClient struct {
	calls     []*cloudwatch.PutMetricDataInput
	returnErr error
}

func (m *mockCloudWatchClient) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.calls = append(m.calls, params)
	if m.returnErr != nil {
		return nil, m.returnErr
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func dimension(dims []cwtypes.Dimension, name string) string {
	for _, d := range dims {
		if *d.Name == name {
			return *d.Value
		}
	}
	return ""
}

func finishedRun() types.PrecomputationSchedule {
	return types.PrecomputationSchedule{
		TargetDate:      "2026-06-21",
		Status:          types.ScheduleStatusCompleted,
		PatiosTotal:     10,
		PatiosProcessed: 10,
		PatiosFailed:    2,
		BucketsWritten:  584,
	}
}

func TestCloudWatchRecorder_RecordPrecomputeRun(t *testing.T) {
	cw := &mockCloudWatchClient{}
	rec := NewCloudWatchRecorder(cw, "", nil)

	rec.RecordPrecomputeRun(context.Background(), finishedRun(), 90*time.Second)

	require.Len(t, cw.calls, 1)
	input := cw.calls[0]
	assert.Equal(t, types.MetricNamespace, *input.Namespace)
	require.Len(t, input.MetricData, 4)

	duration := input.MetricData[0]
	assert.Equal(t, types.MetricPrecomputeRunDuration, *duration.MetricName)
	assert.Equal(t, 90000.0, *duration.Value)
	assert.Equal(t, cwtypes.StandardUnitMilliseconds, duration.Unit)
	assert.Equal(t, "2026-06-21", dimension(duration.Dimensions, types.DimTargetDate))
	assert.Equal(t, "completed", dimension(duration.Dimensions, types.DimStatus))

	byName := map[string]float64{}
	for _, d := range input.MetricData[1:] {
		byName[*d.MetricName] = *d.Value
		assert.Equal(t, cwtypes.StandardUnitCount, d.Unit)
	}
	assert.Equal(t, map[string]float64{
		types.MetricPatiosProcessed: 10,
		types.MetricPatiosFailed:    2,
		types.MetricBucketsWritten:  584,
	}, byName)
}

func TestCloudWatchRecorder_RecordCacheEviction(t *testing.T) {
	cw := &mockCloudWatchClient{}
	rec := NewCloudWatchRecorder(cw, "SunspotStaging", nil)

	rec.RecordCacheEviction(context.Background(), 37)

	require.Len(t, cw.calls, 1)
	assert.Equal(t, "SunspotStaging", *cw.calls[0].Namespace)
	datum := cw.calls[0].MetricData[0]
	assert.Equal(t, types.MetricCacheEvicted, *datum.MetricName)
	assert.Equal(t, 37.0, *datum.Value)
	assert.Equal(t, "evict_cache", dimension(datum.Dimensions, types.DimTask))
}

func TestCloudWatchRecorder_ErrorIsSwallowed(t *testing.T) {
	cw := &mockCloudWatchClient{returnErr: errors.New("throttled")}
	rec := NewCloudWatchRecorder(cw, "", nil)

	assert.NotPanics(t, func() {
		rec.RecordPrecomputeRun(context.Background(), finishedRun(), time.Second)
		rec.RecordCacheEviction(context.Background(), 1)
	})
	assert.Len(t, cw.calls, 2)
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder(reg)
	ctx := context.Background()

	rec.ObserveCalculation(ctx, 4*time.Millisecond)
	rec.ObserveCalculation(ctx, 7*time.Millisecond)
	rec.ObserveCacheLookup(ctx, true)
	rec.ObserveCacheLookup(ctx, true)
	rec.ObserveCacheLookup(ctx, false)
	rec.RecordPrecomputeRun(ctx, finishedRun(), time.Minute)
	rec.RecordCacheEviction(ctx, 12)

	assert.Equal(t, 1, testutil.CollectAndCount(rec.calculations))
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.runs.WithLabelValues("completed")))
	assert.Equal(t, 8.0, testutil.ToFloat64(rec.patios.WithLabelValues("succeeded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(rec.patios.WithLabelValues("failed")))
	assert.Equal(t, 584.0, testutil.ToFloat64(rec.bucketsWritten))
	assert.Equal(t, 12.0, testutil.ToFloat64(rec.evicted))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 7)
}

func TestPrometheusRecorder_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusRecorder(reg)
	assert.Panics(t, func() { NewPrometheusRecorder(reg) })
}
