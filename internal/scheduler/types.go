// Package scheduler drives the background work around the exposure cache:
// precomputing upcoming days, evicting dead entries and reacting to geometry
// changes.
//
// The MaintenancePayload is the JSON structure sent by EventBridge rules to the
// precompute Lambda. The TaskType determines which service handles the event.
package scheduler

import "time"

// TaskType identifies which scheduled service should handle an EventBridge event.
type TaskType string

const (
	TaskPrecomputeExposures TaskType = "precompute_exposures"
	TaskEvictCache          TaskType = "evict_cache"
)

// MaintenancePayload is the JSON payload sent by EventBridge to the precompute
// Lambda:
//
//	{
//	  "task": "precompute_exposures",
//	  "reference_time": "2026-06-21T03:00:00Z",  // optional
//	  "target_date": "2026-06-22"                // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime allows manual invocation to specify a different "now" for
	// deterministic execution and backfilling. If nil, time.Now().UTC() is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
	// TargetDate restricts a precompute task to a single local date
	// (YYYY-MM-DD). Empty means today plus the configured days ahead.
	TargetDate string `json:"target_date,omitempty"`
}
