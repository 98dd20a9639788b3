package model

import "time"

// Reservation is one granted allocation of resource blocks to a station at a
// single access point. It is owned by the pool that granted it; callers only
// ever see copies.
type Reservation struct {
	ID            string `json:"id"`
	StationID     string `json:"station_id"`
	AccessPointID string `json:"access_point_id"`

	// Units is the number of resource blocks held.
	Units int `json:"units"`
	// BandwidthMbps is the nominal throughput the lease was sized for.
	BandwidthMbps float64 `json:"bandwidth_mbps"`

	StartTime time.Time `json:"start_time"`
	// EndTime is StartTime plus the requested duration.
	EndTime time.Time `json:"end_time"`

	// PathHandle references the capacity path attached for this lease.
	PathHandle string `json:"path_handle,omitempty"`
}

// Duration returns the planned lifetime of the lease.
func (r Reservation) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// ExpiredAt reports whether the lease deadline has been reached at now.
// A lease with EndTime == now is expired.
func (r Reservation) ExpiredAt(now time.Time) bool {
	return !now.Before(r.EndTime)
}
