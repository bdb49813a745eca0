package domain

import "time"

// BackpressureLevel is the derived load signal used to throttle new work.
type BackpressureLevel string

const (
	BackpressureNone     BackpressureLevel = "none"
	BackpressureLight    BackpressureLevel = "light"
	BackpressureModerate BackpressureLevel = "moderate"
	BackpressureHeavy    BackpressureLevel = "heavy"
	BackpressureCritical BackpressureLevel = "critical"
)

// CapacitySnapshot is a point-in-time aggregate over all non-terminal tasks.
// Derived on demand, never stored.
type CapacitySnapshot struct {
	TotalQueued           int               `json:"total_queued"`
	ActiveProcessing      int               `json:"active_processing"`
	CapacityUtilization   float64           `json:"capacity_utilization"`   // percent of MaxQueueSize
	ProcessingUtilization float64           `json:"processing_utilization"` // percent of worker pool
	BackpressureLevel     BackpressureLevel `json:"backpressure_level"`
	AverageWaitTime       time.Duration     `json:"average_wait_time"`
}
