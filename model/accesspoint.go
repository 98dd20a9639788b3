package model

// AccessPointSpec declares an access point and its RB capacity.
type AccessPointSpec struct {
	ID         string `json:"id" yaml:"id"`
	TotalUnits int    `json:"total_units" yaml:"total_units"`
	// Unconstrained marks an access point without RB accounting. It is
	// still admitted through a pool, one whose capacity never runs out.
	Unconstrained bool `json:"unconstrained,omitempty" yaml:"unconstrained"`
}

// StationSpec declares a station and the signal levels it observes, in scan
// order.
type StationSpec struct {
	ID      string         `json:"id" yaml:"id"`
	Signals []SignalSample `json:"signals" yaml:"signals"`
}
