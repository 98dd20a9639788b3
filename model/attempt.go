package model

// SignalSample is one (access point, signal strength) observation produced
// by a scan for a single station.
type SignalSample struct {
	AccessPointID string  `json:"access_point_id" yaml:"access_point"`
	SignalDBm     float64 `json:"signal_dbm" yaml:"signal_dbm"`
}

// AttemptOutcome is the result of trying one candidate access point.
type AttemptOutcome string

const (
	AttemptAdmitted AttemptOutcome = "admitted"
	AttemptDenied   AttemptOutcome = "denied"
)

// AllocationAttempt records one candidate tried during an admission request.
//
// AvailableBefore and TotalUnits are a best-effort snapshot taken just before
// the pool was asked; they are diagnostic and not part of the decision.
type AllocationAttempt struct {
	AccessPointID   string         `json:"access_point_id"`
	SignalDBm       float64        `json:"signal_dbm"`
	QualityClass    int            `json:"quality_class"`
	RequiredUnits   int            `json:"required_units"`
	AvailableBefore int            `json:"available_units_before"`
	TotalUnits      int            `json:"total_units"`
	Outcome         AttemptOutcome `json:"outcome"`
	Error           string         `json:"error,omitempty"`
}

// Admitted reports whether this attempt produced the reservation.
func (a AllocationAttempt) Admitted() bool {
	return a.Outcome == AttemptAdmitted
}
