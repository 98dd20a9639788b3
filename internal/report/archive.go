package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/signalsfoundry/rb-admission/model"
)

// Archive is a SQLite sink for journals and run results. It is an export
// target only; the engine never reads its state back from it.
type Archive struct {
	db   *sql.DB
	path string
}

// OpenArchive creates or opens a SQLite database at path with WAL mode and
// a 5 second busy timeout, and creates the tables if needed.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("archive: %s: %w", p, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS journal (
			access_point_id  TEXT    NOT NULL,
			seq              INTEGER NOT NULL,
			time             TEXT    NOT NULL,
			station_id       TEXT    NOT NULL,
			event            TEXT    NOT NULL,
			units            INTEGER NOT NULL,
			remaining_units  INTEGER NOT NULL,
			reason           TEXT    NOT NULL DEFAULT '',
			bandwidth_mbps   REAL    NOT NULL DEFAULT 0,
			planned_seconds  REAL    NOT NULL DEFAULT 0,
			actual_seconds   REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (access_point_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS run_results (
			run_id      TEXT    NOT NULL,
			idx         INTEGER NOT NULL,
			station_id  TEXT    NOT NULL,
			success     INTEGER NOT NULL,
			selected_ap TEXT    NOT NULL DEFAULT '',
			units       INTEGER NOT NULL DEFAULT 0,
			ending      TEXT    NOT NULL DEFAULT '',
			error       TEXT    NOT NULL DEFAULT '',
			attempts    TEXT    NOT NULL DEFAULT '[]',
			started_at  TEXT    NOT NULL,
			PRIMARY KEY (run_id, idx)
		)`,
	}
	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("archive: create table: %w", err)
		}
	}
	return &Archive{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Path returns the database file path.
func (a *Archive) Path() string {
	return a.path
}

// AppendJournal stores entries. Entries already archived, keyed by access
// point and sequence number, are skipped, so callers may re-export a whole
// journal. It returns the number of rows inserted.
func (a *Archive) AppendJournal(ctx context.Context, entries []model.JournalEntry) (int, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO journal
		(access_point_id, seq, time, station_id, event, units, remaining_units, reason, bandwidth_mbps, planned_seconds, actual_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("archive: prepare journal insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range entries {
		res, err := stmt.ExecContext(ctx,
			e.AccessPointID, e.Seq, e.Time.UTC().Format(time.RFC3339Nano), e.StationID, e.Event.String(),
			e.Units, e.RemainingUnits, e.Reason, e.BandwidthMbps, e.Planned.Seconds(), e.Actual.Seconds(),
		)
		if err != nil {
			return 0, fmt.Errorf("archive: insert journal %s#%d: %w", e.AccessPointID, e.Seq, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("archive: commit: %w", err)
	}
	return inserted, nil
}

// Journal returns the archived entries of accessPointID in sequence order.
func (a *Archive) Journal(ctx context.Context, accessPointID string) ([]model.JournalEntry, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT seq, time, station_id, event, units, remaining_units, reason, bandwidth_mbps, planned_seconds, actual_seconds
		FROM journal WHERE access_point_id = ? ORDER BY seq`, accessPointID)
	if err != nil {
		return nil, fmt.Errorf("archive: query journal: %w", err)
	}
	defer rows.Close()

	var entries []model.JournalEntry
	for rows.Next() {
		var (
			e               model.JournalEntry
			ts, event       string
			planned, actual float64
		)
		if err := rows.Scan(&e.Seq, &ts, &e.StationID, &event, &e.Units, &e.RemainingUnits, &e.Reason, &e.BandwidthMbps, &planned, &actual); err != nil {
			return nil, fmt.Errorf("archive: scan journal: %w", err)
		}
		if e.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("archive: parse time %q: %w", ts, err)
		}
		if e.Event, err = model.ParseEventKind(event); err != nil {
			return nil, fmt.Errorf("archive: %w", err)
		}
		e.AccessPointID = accessPointID
		e.Planned = secondsToDuration(planned)
		e.Actual = secondsToDuration(actual)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: iterate journal: %w", err)
	}
	return entries, nil
}

// AppendResults stores the results of one batch under runID.
func (a *Archive) AppendResults(ctx context.Context, runID string, results []model.RunResult) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	defer tx.Rollback()

	for i, r := range results {
		attempts, err := json.Marshal(r.Attempts)
		if err != nil {
			return fmt.Errorf("archive: encode attempts: %w", err)
		}
		success := 0
		if r.Success {
			success = 1
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO run_results
			(run_id, idx, station_id, success, selected_ap, units, ending, error, attempts, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, i, r.StationID, success, r.AccessPointID, r.RequiredUnits, string(r.Ending), r.Error,
			string(attempts), r.StartedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("archive: insert result %s/%d: %w", runID, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

// CountResults returns how many results are stored for runID, and how
// many of them were admitted.
func (a *Archive) CountResults(ctx context.Context, runID string) (total, admitted int, err error) {
	err = a.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0) FROM run_results WHERE run_id = ?`, runID,
	).Scan(&total, &admitted)
	if err != nil {
		return 0, 0, fmt.Errorf("archive: count results: %w", err)
	}
	return total, admitted, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
