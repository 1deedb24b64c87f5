package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"sunspot/internal/exposure"
	"sunspot/internal/scheduler"
	"sunspot/internal/types"
)

var (
	_ exposure.Recorder     = (*PrometheusRecorder)(nil)
	_ scheduler.RunRecorder = (*PrometheusRecorder)(nil)
)

// PrometheusRecorder exposes engine and scheduler metrics on a registry.
type PrometheusRecorder struct {
	calculations   prometheus.Histogram
	cacheLookups   *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	patios         *prometheus.CounterVec
	bucketsWritten prometheus.Counter
	evicted        prometheus.Counter
}

// NewPrometheusRecorder registers the sunspot metrics on reg. Passing
// prometheus.DefaultRegisterer exposes them through promhttp.Handler.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	f := promauto.With(reg)
	return &PrometheusRecorder{
		calculations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sunspot_exposure_calculation_seconds",
			Help:    "Latency of fresh exposure calculations.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sunspot_exposure_cache_lookups_total",
			Help: "Exposure cache lookups by result.",
		}, []string{"result"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sunspot_precompute_runs_total",
			Help: "Finished precomputation runs by final status.",
		}, []string{"status"}),
		runDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sunspot_precompute_run_seconds",
			Help:    "Wall time of precomputation runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		patios: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sunspot_precompute_patios_total",
			Help: "Patios handled by precomputation runs by outcome.",
		}, []string{"outcome"}),
		bucketsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "sunspot_precompute_buckets_written_total",
			Help: "Cache entries written by precomputation runs.",
		}),
		evicted: f.NewCounter(prometheus.CounterOpts{
			Name: "sunspot_cache_evicted_total",
			Help: "Cache entries removed by the reaper.",
		}),
	}
}

func (r *PrometheusRecorder) ObserveCalculation(_ context.Context, d time.Duration) {
	r.calculations.Observe(d.Seconds())
}

func (r *PrometheusRecorder) ObserveCacheLookup(_ context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

func (r *PrometheusRecorder) RecordPrecomputeRun(_ context.Context, s types.PrecomputationSchedule, d time.Duration) {
	r.runs.WithLabelValues(string(s.Status)).Inc()
	r.runDuration.Observe(d.Seconds())
	r.patios.WithLabelValues("succeeded").Add(float64(s.PatiosProcessed - s.PatiosFailed))
	r.patios.WithLabelValues("failed").Add(float64(s.PatiosFailed))
	r.bucketsWritten.Add(float64(s.BucketsWritten))
}

func (r *PrometheusRecorder) RecordCacheEviction(_ context.Context, evicted int) {
	r.evicted.Add(float64(evicted))
}
