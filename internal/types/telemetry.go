package types

// Metric names and dimensions shared by the CloudWatch and Prometheus
// recorders. All components MUST use these constants.
const (
	MetricPrecomputeRunDuration = "PrecomputeRunDuration"
	MetricPatiosProcessed       = "PatiosProcessed"
	MetricPatiosFailed          = "PatiosFailed"
	MetricBucketsWritten        = "BucketsWritten"
	MetricCacheEvicted          = "CacheEntriesEvicted"
	MetricCalculationLatency    = "CalculationLatency"
	MetricCacheHit              = "CacheHit"
	MetricCacheMiss             = "CacheMiss"

	DimTargetDate = "TargetDate"
	DimStatus     = "Status"
	DimTask       = "Task"

	MetricNamespace = "Sunspot"
)
