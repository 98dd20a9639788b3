// Package types holds the wire messages of the admission service and the
// conversions between them and engine records.
//
// Messages are plain structs carried by the JSON codec registered in
// package nbi; field names use snake_case JSON tags.
package types

import (
	"errors"
	"math"
	"time"

	"github.com/signalsfoundry/rb-admission/core"
	"github.com/signalsfoundry/rb-admission/internal/admission"
	"github.com/signalsfoundry/rb-admission/model"
)

// Candidate is one scanned access point offered by the caller.
type Candidate struct {
	AccessPointID string  `json:"access_point_id"`
	SignalDBm     float64 `json:"signal_dbm"`
}

// AdmitRequest asks for capacity. When Candidates is empty the server runs
// its own scan for StationID.
type AdmitRequest struct {
	StationID       string      `json:"station_id"`
	BandwidthMbps   float64     `json:"bandwidth_mbps"`
	DurationSeconds float64     `json:"duration_seconds"`
	Candidates      []Candidate `json:"candidates,omitempty"`
}

// Reservation is the wire form of a granted lease.
type Reservation struct {
	ID              string    `json:"id"`
	StationID       string    `json:"station_id"`
	AccessPointID   string    `json:"access_point_id"`
	Units           int       `json:"units"`
	BandwidthMbps   float64   `json:"bandwidth_mbps"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	PathHandle      string    `json:"path_handle,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// Attempt is the wire form of one candidate tried.
type Attempt struct {
	AccessPointID   string  `json:"access_point_id"`
	SignalDBm       float64 `json:"signal_dbm"`
	QualityClass    int     `json:"quality_class"`
	RequiredUnits   int     `json:"required_units"`
	AvailableBefore int     `json:"available_before"`
	TotalUnits      int     `json:"total_units"`
	Outcome         string  `json:"outcome"`
	Error           string  `json:"error,omitempty"`
}

// AdmitResponse reports the decision. A denial is a normal response with
// Admitted false and Reason set.
type AdmitResponse struct {
	StationID     string       `json:"station_id"`
	Admitted      bool         `json:"admitted"`
	AccessPointID string       `json:"access_point_id,omitempty"`
	QualityClass  int          `json:"quality_class,omitempty"`
	Units         int          `json:"units,omitempty"`
	Reservation   *Reservation `json:"reservation,omitempty"`
	Attempts      []Attempt    `json:"attempts"`
	Reason        string       `json:"reason,omitempty"`
}

type ReleaseRequest struct {
	AccessPointID string `json:"access_point_id"`
	StationID     string `json:"station_id"`
}

type ReleaseResponse struct {
	Released bool `json:"released"`
}

type GetAccessPointRequest struct {
	AccessPointID string `json:"access_point_id"`
}

// AccessPoint is a consistent snapshot of one pool.
type AccessPoint struct {
	ID             string        `json:"id"`
	TotalUnits     int           `json:"total_units"`
	AvailableUnits int           `json:"available_units"`
	ReservedUnits  int           `json:"reserved_units"`
	Unconstrained  bool          `json:"unconstrained,omitempty"`
	Reservations   []Reservation `json:"reservations"`
}

type ListAccessPointsRequest struct{}

type ListAccessPointsResponse struct {
	AccessPoints []AccessPoint `json:"access_points"`
}

// ListJournalRequest pages a journal by sequence number.
type ListJournalRequest struct {
	AccessPointID string `json:"access_point_id"`
	AfterSeq      uint64 `json:"after_seq,omitempty"`
	Event         string `json:"event,omitempty"`
}

// JournalEntry is the wire form of one journal record.
type JournalEntry struct {
	Seq                    uint64    `json:"seq"`
	Time                   time.Time `json:"time"`
	AccessPointID          string    `json:"access_point_id"`
	StationID              string    `json:"station_id"`
	Event                  string    `json:"event"`
	Units                  int       `json:"units"`
	RemainingUnits         int       `json:"remaining_units"`
	Reason                 string    `json:"reason,omitempty"`
	BandwidthMbps          float64   `json:"bandwidth_mbps,omitempty"`
	PlannedDurationSeconds float64   `json:"planned_duration_seconds,omitempty"`
	ActualDurationSeconds  float64   `json:"actual_duration_seconds,omitempty"`
}

type ListJournalResponse struct {
	Entries []JournalEntry `json:"entries"`
}

var ErrBadDuration = errors.New("duration_seconds must be a positive finite number")

// DurationFromSeconds converts a wire duration.
func DurationFromSeconds(s float64) (time.Duration, error) {
	if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 || s > math.MaxInt64/float64(time.Second) {
		return 0, ErrBadDuration
	}
	return time.Duration(s * float64(time.Second)), nil
}

// CandidatesToModel converts caller-supplied candidates.
func CandidatesToModel(in []Candidate) []model.SignalSample {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.SignalSample, len(in))
	for i, c := range in {
		out[i] = model.SignalSample{AccessPointID: c.AccessPointID, SignalDBm: c.SignalDBm}
	}
	return out
}

// ReservationFromModel converts a lease.
func ReservationFromModel(r model.Reservation) Reservation {
	return Reservation{
		ID:              r.ID,
		StationID:       r.StationID,
		AccessPointID:   r.AccessPointID,
		Units:           r.Units,
		BandwidthMbps:   r.BandwidthMbps,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		PathHandle:      r.PathHandle,
		DurationSeconds: r.Duration().Seconds(),
	}
}

// AttemptFromModel converts one attempt record.
func AttemptFromModel(a model.AllocationAttempt) Attempt {
	return Attempt{
		AccessPointID:   a.AccessPointID,
		SignalDBm:       a.SignalDBm,
		QualityClass:    a.QualityClass,
		RequiredUnits:   a.RequiredUnits,
		AvailableBefore: a.AvailableBefore,
		TotalUnits:      a.TotalUnits,
		Outcome:         string(a.Outcome),
		Error:           a.Error,
	}
}

// AdmitResponseFromOutcome converts a controller outcome.
func AdmitResponseFromOutcome(o *admission.Outcome) *AdmitResponse {
	if o == nil {
		return nil
	}
	resp := &AdmitResponse{
		StationID:     o.StationID,
		Admitted:      o.Admitted,
		AccessPointID: o.AccessPointID,
		QualityClass:  int(o.QualityClass),
		Units:         o.Units,
		Attempts:      make([]Attempt, 0, len(o.Attempts)),
	}
	for _, a := range o.Attempts {
		resp.Attempts = append(resp.Attempts, AttemptFromModel(a))
	}
	if o.Reservation != nil {
		r := ReservationFromModel(*o.Reservation)
		resp.Reservation = &r
	}
	if err := o.Err(); err != nil {
		resp.Reason = err.Error()
	}
	return resp
}

// AccessPointFromSnapshot converts a pool snapshot.
func AccessPointFromSnapshot(s core.PoolSnapshot) AccessPoint {
	ap := AccessPoint{
		ID:             s.AccessPointID,
		TotalUnits:     s.TotalUnits,
		AvailableUnits: s.AvailableUnits,
		ReservedUnits:  s.ReservedUnits(),
		Unconstrained:  s.Unconstrained,
		Reservations:   make([]Reservation, 0, len(s.Reservations)),
	}
	for _, r := range s.Reservations {
		ap.Reservations = append(ap.Reservations, ReservationFromModel(r))
	}
	return ap
}

// JournalEntryFromModel converts one journal record.
func JournalEntryFromModel(e model.JournalEntry) JournalEntry {
	return JournalEntry{
		Seq:                    e.Seq,
		Time:                   e.Time,
		AccessPointID:          e.AccessPointID,
		StationID:              e.StationID,
		Event:                  e.Event.String(),
		Units:                  e.Units,
		RemainingUnits:         e.RemainingUnits,
		Reason:                 e.Reason,
		BandwidthMbps:          e.BandwidthMbps,
		PlannedDurationSeconds: e.Planned.Seconds(),
		ActualDurationSeconds:  e.Actual.Seconds(),
	}
}
