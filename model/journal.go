package model

import (
	"fmt"
	"strings"
	"time"
)

// EventKind is the state transition recorded by a journal entry.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventAdmitted
	EventDenied
	EventExpired
	EventReleased
)

var eventKindNames = map[EventKind]string{
	EventUnknown:  "UNKNOWN",
	EventAdmitted: "ADMITTED",
	EventDenied:   "DENIED",
	EventExpired:  "EXPIRED",
	EventReleased: "RELEASED",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ParseEventKind is the inverse of EventKind.String. Matching is case-insensitive.
func ParseEventKind(s string) (EventKind, error) {
	for k, name := range eventKindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return EventUnknown, fmt.Errorf("unknown event kind %q", s)
}

// MarshalText renders the kind by name so JSON and CSV exports stay readable.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *EventKind) UnmarshalText(b []byte) error {
	parsed, err := ParseEventKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// JournalEntry is one immutable state transition of a single access point's
// pool.
type JournalEntry struct {
	// Seq is the 1-based position of the entry in its journal.
	Seq           uint64    `json:"seq"`
	Time          time.Time `json:"time"`
	AccessPointID string    `json:"access_point_id"`
	StationID     string    `json:"station_id"`
	Event         EventKind `json:"event"`

	// Units is the RB count involved in the transition.
	Units int `json:"units"`
	// RemainingUnits is the pool's available capacity after the event.
	RemainingUnits int `json:"remaining_units"`

	Reason        string        `json:"reason,omitempty"`
	BandwidthMbps float64       `json:"bandwidth_mbps,omitempty"`
	Planned       time.Duration `json:"planned_duration,omitempty"`
	Actual        time.Duration `json:"actual_duration,omitempty"`
}
