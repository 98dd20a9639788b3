// Package report writes run results and access point journals as JSON, CSV
// and into a SQLite archive.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/signalsfoundry/rb-admission/model"
)

// TimestampLayout names exported files, e.g. results_20250101_120000.json.
const TimestampLayout = "20060102_150405"

// JournalRecord is the export form of a journal entry. Durations are in
// seconds.
type JournalRecord struct {
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

func journalRecord(e model.JournalEntry) JournalRecord {
	return JournalRecord{
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

// WriteResultsJSON writes results as an indented JSON array.
func WriteResultsJSON(w io.Writer, results []model.RunResult) error {
	if results == nil {
		results = []model.RunResult{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("report: encode results: %w", err)
	}
	return nil
}

var resultColumns = []string{
	"station", "success", "selected_ap", "bandwidth_mbps", "duration_seconds",
	"held_seconds", "required_units", "quality_class", "available_units_before",
	"available_units_after", "ending", "error", "start_time", "end_time",
	"attempt", "attempt_ap", "attempt_signal_dbm", "attempt_quality_class",
	"attempt_required_units", "attempt_available_before", "attempt_outcome", "attempt_error",
}

// WriteResultsCSV flattens results to one row per attempt. A run with no
// attempts still gets one row with empty attempt columns.
func WriteResultsCSV(w io.Writer, results []model.RunResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(resultColumns); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}
	for _, r := range results {
		base := []string{
			r.StationID,
			strconv.FormatBool(r.Success),
			r.AccessPointID,
			formatFloat(r.BandwidthMbps),
			formatFloat(r.DurationSeconds),
			formatFloat(r.HeldSeconds),
			strconv.Itoa(r.RequiredUnits),
			strconv.Itoa(r.QualityClass),
			strconv.Itoa(r.AvailableBefore),
			strconv.Itoa(r.AvailableAfter),
			string(r.Ending),
			r.Error,
			formatTime(r.StartedAt),
			formatTime(r.EndedAt),
		}
		if len(r.Attempts) == 0 {
			if err := cw.Write(append(base, "", "", "", "", "", "", "", "")); err != nil {
				return fmt.Errorf("report: write csv row: %w", err)
			}
			continue
		}
		for i, a := range r.Attempts {
			row := append(append([]string(nil), base...),
				strconv.Itoa(i+1),
				a.AccessPointID,
				formatFloat(a.SignalDBm),
				strconv.Itoa(a.QualityClass),
				strconv.Itoa(a.RequiredUnits),
				strconv.Itoa(a.AvailableBefore),
				string(a.Outcome),
				a.Error,
			)
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("report: write csv row: %w", err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: flush csv: %w", err)
	}
	return nil
}

// WriteJournalsJSON writes an object keyed by access point ID whose values
// are that access point's entries in journal order.
func WriteJournalsJSON(w io.Writer, journals map[string][]model.JournalEntry) error {
	out := make(map[string][]JournalRecord, len(journals))
	for ap, entries := range journals {
		recs := make([]JournalRecord, 0, len(entries))
		for _, e := range entries {
			recs = append(recs, journalRecord(e))
		}
		out[ap] = recs
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("report: encode journals: %w", err)
	}
	return nil
}

var journalColumns = []string{
	"access_point_id", "seq", "time", "station_id", "event", "units", "remaining_units",
	"reason", "bandwidth_mbps", "planned_duration_seconds", "actual_duration_seconds",
}

// WriteJournalsCSV writes every entry, grouped by access point in ID order.
func WriteJournalsCSV(w io.Writer, journals map[string][]model.JournalEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(journalColumns); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}
	for _, ap := range sortedKeys(journals) {
		for _, e := range journals[ap] {
			if err := cw.Write([]string{
				ap,
				strconv.FormatUint(e.Seq, 10),
				formatTime(e.Time),
				e.StationID,
				e.Event.String(),
				strconv.Itoa(e.Units),
				strconv.Itoa(e.RemainingUnits),
				e.Reason,
				formatFloat(e.BandwidthMbps),
				formatFloat(e.Planned.Seconds()),
				formatFloat(e.Actual.Seconds()),
			}); err != nil {
				return fmt.Errorf("report: write csv row: %w", err)
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("report: flush csv: %w", err)
	}
	return nil
}

// Files lists what SaveRun wrote.
type Files struct {
	ResultsJSON  string
	ResultsCSV   string
	JournalsJSON string
	JournalsCSV  string
}

// SaveRun writes results and journals into dir, creating it if needed. File
// names carry the timestamp of at.
func SaveRun(dir string, at time.Time, results []model.RunResult, journals map[string][]model.JournalEntry) (Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("report: create %s: %w", dir, err)
	}
	stamp := at.Format(TimestampLayout)
	files := Files{
		ResultsJSON:  filepath.Join(dir, "results_"+stamp+".json"),
		ResultsCSV:   filepath.Join(dir, "results_"+stamp+".csv"),
		JournalsJSON: filepath.Join(dir, "journals_"+stamp+".json"),
		JournalsCSV:  filepath.Join(dir, "journals_"+stamp+".csv"),
	}
	writes := []struct {
		path  string
		write func(io.Writer) error
	}{
		{files.ResultsJSON, func(w io.Writer) error { return WriteResultsJSON(w, results) }},
		{files.ResultsCSV, func(w io.Writer) error { return WriteResultsCSV(w, results) }},
		{files.JournalsJSON, func(w io.Writer) error { return WriteJournalsJSON(w, journals) }},
		{files.JournalsCSV, func(w io.Writer) error { return WriteJournalsCSV(w, journals) }},
	}
	for _, wr := range writes {
		if err := writeFile(wr.path, wr.write); err != nil {
			return Files{}, err
		}
	}
	return files, nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("report: close %s: %w", path, cerr)
		}
	}()
	return write(f)
}

func sortedKeys(m map[string][]model.JournalEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
