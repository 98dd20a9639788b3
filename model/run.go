package model

import "time"

// RunSpec is one station's test run: request BandwidthMbps for Duration,
// hold the lease for Hold, then release it.
type RunSpec struct {
	StationID     string        `json:"station" yaml:"station"`
	BandwidthMbps float64       `json:"bandwidth_mbps" yaml:"bandwidth_mbps"`
	Duration      time.Duration `json:"duration" yaml:"duration"`
	// Hold defaults to Duration when zero. A hold longer than Duration
	// lets the sweeper expire the lease before the worker releases it.
	Hold time.Duration `json:"hold,omitempty" yaml:"hold"`
	// StartDelay overrides the driver's stagger for this run.
	StartDelay time.Duration `json:"start_delay,omitempty" yaml:"start_delay"`
}

// HoldFor returns the effective hold time.
func (r RunSpec) HoldFor() time.Duration {
	if r.Hold > 0 {
		return r.Hold
	}
	return r.Duration
}

// RunEnding says how an admitted run's lease ended.
type RunEnding string

const (
	// EndingReleased means the worker released the lease itself.
	EndingReleased RunEnding = "released"
	// EndingExpired means the sweeper reclaimed the lease before the
	// worker's release, which then found nothing to free.
	EndingExpired RunEnding = "expired"
)

// RunResult is the record of one RunSpec. AvailableBefore and
// AvailableAfter are best-effort reads around the admission and may
// reflect concurrent runs.
type RunResult struct {
	StationID       string              `json:"station"`
	Success         bool                `json:"success"`
	AccessPointID   string              `json:"selected_ap,omitempty"`
	BandwidthMbps   float64             `json:"bandwidth_mbps"`
	DurationSeconds float64             `json:"duration_seconds"`
	HeldSeconds     float64             `json:"held_seconds,omitempty"`
	RequiredUnits   int                 `json:"required_units,omitempty"`
	QualityClass    int                 `json:"quality_class,omitempty"`
	AvailableBefore int                 `json:"available_units_before,omitempty"`
	AvailableAfter  int                 `json:"available_units_after,omitempty"`
	Ending          RunEnding           `json:"ending,omitempty"`
	Attempts        []AllocationAttempt `json:"attempts"`
	Error           string              `json:"error,omitempty"`
	StartedAt       time.Time           `json:"start_time"`
	EndedAt         time.Time           `json:"end_time"`
}
