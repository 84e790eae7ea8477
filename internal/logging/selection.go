package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// #region log-selection
// LogSelection writes a selection entry to the selection_log table.
func LogSelection(db *sql.DB, entry SelectionEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO selection_log (run_id, epoch, action, aggregate, previous, version_id, record_json, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.Epoch,
		entry.Action,
		nullIfNaN(entry.Aggregate),
		nullIfNaN(entry.Previous),
		nullIfEmpty(entry.VersionID),
		nullIfEmpty(entry.RecordJSON),
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log selection: %w", err)
	}
	return nil
}

// EntryFor builds the log row for one selector decision.
func EntryFor(runID string, rec SelectionRecord, versionID string) (SelectionEntry, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return SelectionEntry{}, fmt.Errorf("marshal selection record: %w", err)
	}
	e := SelectionEntry{
		RunID:      runID,
		Epoch:      rec.Epoch,
		Action:     rec.Action,
		Aggregate:  math.NaN(),
		Previous:   math.NaN(),
		VersionID:  versionID,
		RecordJSON: string(raw),
		Reason:     rec.Reason,
	}
	if rec.Aggregate != nil {
		e.Aggregate = *rec.Aggregate
	}
	if rec.Previous != nil {
		e.Previous = *rec.Previous
	}
	return e, nil
}

// #endregion log-selection

// #region list-selections
// ListSelections returns the selection log of a run in epoch order.
func ListSelections(db *sql.DB, runID string) ([]SelectionEntry, error) {
	rows, err := db.Query(
		`SELECT run_id, epoch, action, aggregate, previous, version_id, record_json, reason, created_at
		 FROM selection_log WHERE run_id = ? ORDER BY epoch, id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list selections: %w", err)
	}
	defer rows.Close()

	var out []SelectionEntry
	for rows.Next() {
		var e SelectionEntry
		var agg, prev sql.NullFloat64
		var version, record, reason sql.NullString
		var created string
		if err := rows.Scan(&e.RunID, &e.Epoch, &e.Action, &agg, &prev, &version, &record, &reason, &created); err != nil {
			return nil, fmt.Errorf("scan selection: %w", err)
		}
		e.Aggregate = floatOrNaN(agg)
		e.Previous = floatOrNaN(prev)
		e.VersionID = version.String
		e.RecordJSON = record.String
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-selections

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfNaN(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// #endregion helpers
