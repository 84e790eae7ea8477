package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/csdgan/trainer/internal/eval"
	"github.com/csdgan/trainer/internal/gan"
	"github.com/csdgan/trainer/internal/selector"
	"github.com/csdgan/trainer/internal/trainer"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	config_json  TEXT,
	baseline     REAL,
	error        TEXT,
	started_at   TEXT NOT NULL,
	finished_at  TEXT
);

CREATE TABLE IF NOT EXISTS epochs (
	run_id       TEXT NOT NULL,
	epoch        INTEGER NOT NULL,
	loss_g       REAL,
	loss_d       REAL,
	stats_json   TEXT NOT NULL,
	PRIMARY KEY (run_id, epoch),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS evaluations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	epoch        INTEGER NOT NULL,
	size         INTEGER NOT NULL,
	score        REAL,
	error        TEXT,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	version_id   TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	epoch        INTEGER NOT NULL,
	score        REAL NOT NULL,
	snapshot     BLOB NOT NULL,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS best_checkpoint (
	run_id       TEXT PRIMARY KEY,
	version_id   TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id),
	FOREIGN KEY (version_id) REFERENCES checkpoints(version_id)
);

CREATE TABLE IF NOT EXISTS selection_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	epoch        INTEGER NOT NULL,
	action       TEXT NOT NULL,
	aggregate    REAL,
	previous     REAL,
	version_id   TEXT,
	record_json  TEXT,
	reason       TEXT,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// #region store-struct
// Store persists runs, their history and their best checkpoints in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region runs
// CreateRun inserts a running run.
func (s *Store) CreateRun(run RunRecord) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = "running"
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, status, config_json, baseline, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.Status, nullIfEmpty(run.ConfigJSON), nullIfNaN(run.Baseline),
		run.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the terminal status of a run.
func (s *Store) FinishRun(runID, status, errMsg string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		status, nullIfEmpty(errMsg), time.Now().UTC().Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetRun reads one run.
func (s *Store) GetRun(runID string) (RunRecord, error) {
	rows, err := s.db.Query(runSelect+` WHERE run_id = ?`, runID)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return RunRecord{}, err
	}
	if len(runs) == 0 {
		return RunRecord{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return runs[0], nil
}

// ListRuns returns the most recent runs.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(runSelect+` ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return scanRuns(rows)
}

const runSelect = `SELECT run_id, status, config_json, baseline, error, started_at, finished_at FROM runs`

func scanRuns(rows *sql.Rows) ([]RunRecord, error) {
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var cfg, errMsg, finished sql.NullString
		var baseline sql.NullFloat64
		var started string
		if err := rows.Scan(&r.RunID, &r.Status, &cfg, &baseline, &errMsg, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.ConfigJSON = cfg.String
		r.Baseline = floatOrNaN(baseline)
		r.Error = errMsg.String
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion runs

// #region epochs
// RecordEpoch stores one epoch summary.
func (s *Store) RecordEpoch(runID string, stats trainer.EpochStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal epoch stats: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO epochs (run_id, epoch, loss_g, loss_d, stats_json) VALUES (?, ?, ?, ?, ?)`,
		runID, stats.Epoch, nullIfNaN(stats.GeneratorLoss), nullIfNaN(stats.DiscriminatorLoss), string(raw),
	)
	if err != nil {
		return fmt.Errorf("insert epoch: %w", err)
	}
	return nil
}

// ListEpochs returns the epochs of a run in order.
func (s *Store) ListEpochs(runID string) ([]EpochRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, epoch, loss_g, loss_d, stats_json FROM epochs WHERE run_id = ? ORDER BY epoch`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list epochs: %w", err)
	}
	defer rows.Close()

	var out []EpochRecord
	for rows.Next() {
		var e EpochRecord
		var lg, ld sql.NullFloat64
		if err := rows.Scan(&e.RunID, &e.Epoch, &lg, &ld, &e.StatsJSON); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		e.LossG = floatOrNaN(lg)
		e.LossD = floatOrNaN(ld)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion epochs

// #region evaluations
// RecordEvaluation stores every size of one evaluation in a single transaction.
func (s *Store) RecordEvaluation(runID string, res eval.Result) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, sc := range res.Scores() {
		_, err := tx.Exec(
			`INSERT INTO evaluations (run_id, epoch, size, score, error) VALUES (?, ?, ?, ?, ?)`,
			runID, res.Epoch, sc.Size, nullIfNaN(sc.Score), nullIfEmpty(sc.Err),
		)
		if err != nil {
			return fmt.Errorf("insert evaluation: %w", err)
		}
	}
	return tx.Commit()
}

// ListEvaluations returns the scores of a run ordered by epoch, then size.
func (s *Store) ListEvaluations(runID string) ([]EvaluationRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, epoch, size, score, error FROM evaluations WHERE run_id = ? ORDER BY epoch, size`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []EvaluationRecord
	for rows.Next() {
		var e EvaluationRecord
		var score sql.NullFloat64
		var errMsg sql.NullString
		if err := rows.Scan(&e.RunID, &e.Epoch, &e.Size, &score, &errMsg); err != nil {
			return nil, fmt.Errorf("scan evaluation: %w", err)
		}
		e.Score = floatOrNaN(score)
		e.Error = errMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion evaluations

// #region checkpoints
// CommitCheckpoint inserts a checkpoint and makes it the run's best atomically.
func (s *Store) CommitCheckpoint(runID string, cp *selector.Checkpoint) error {
	if cp == nil || cp.Snapshot == nil {
		return fmt.Errorf("commit checkpoint: %w", gan.ErrBadSnapshot)
	}
	blob, err := cp.Snapshot.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO checkpoints (version_id, run_id, epoch, score, snapshot, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		cp.VersionID, runID, cp.Epoch, cp.Score, blob, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO best_checkpoint (run_id, version_id) VALUES (?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET version_id = excluded.version_id`,
		runID, cp.VersionID,
	)
	if err != nil {
		return fmt.Errorf("set best: %w", err)
	}

	return tx.Commit()
}

// BestCheckpoint loads the best checkpoint of a run. An empty runID means the most
// recently started run that has one.
func (s *Store) BestCheckpoint(runID string) (CheckpointRecord, error) {
	var versionID string
	var err error
	if runID == "" {
		err = s.db.QueryRow(
			`SELECT b.version_id FROM best_checkpoint b JOIN runs r ON r.run_id = b.run_id
			 ORDER BY r.rowid DESC LIMIT 1`,
		).Scan(&versionID)
	} else {
		err = s.db.QueryRow(`SELECT version_id FROM best_checkpoint WHERE run_id = ?`, runID).Scan(&versionID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return CheckpointRecord{}, fmt.Errorf("best checkpoint of run %q: %w", runID, ErrNotFound)
	}
	if err != nil {
		return CheckpointRecord{}, fmt.Errorf("get best: %w", err)
	}
	return s.GetCheckpoint(versionID)
}

// GetCheckpoint loads and decodes one checkpoint.
func (s *Store) GetCheckpoint(versionID string) (CheckpointRecord, error) {
	var rec CheckpointRecord
	var blob []byte
	var created string
	var active int
	err := s.db.QueryRow(
		`SELECT c.version_id, c.run_id, c.epoch, c.score, c.snapshot, c.created_at,
		        EXISTS (SELECT 1 FROM best_checkpoint b WHERE b.version_id = c.version_id)
		 FROM checkpoints c WHERE c.version_id = ?`, versionID,
	).Scan(&rec.VersionID, &rec.RunID, &rec.Epoch, &rec.Score, &blob, &created, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return CheckpointRecord{}, fmt.Errorf("checkpoint %s: %w", versionID, ErrNotFound)
	}
	if err != nil {
		return CheckpointRecord{}, fmt.Errorf("get checkpoint %s: %w", versionID, err)
	}

	snap := &gan.Snapshot{}
	if err := snap.UnmarshalBinary(blob); err != nil {
		return CheckpointRecord{}, fmt.Errorf("checkpoint %s: %w", versionID, err)
	}
	rec.Snapshot = snap
	rec.BlobSize = len(blob)
	rec.Active = active == 1
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return rec, nil
}

// ListCheckpoints returns the checkpoints of a run, newest first, without snapshots.
func (s *Store) ListCheckpoints(runID string) ([]CheckpointRecord, error) {
	rows, err := s.db.Query(
		`SELECT c.version_id, c.run_id, c.epoch, c.score, length(c.snapshot), c.created_at,
		        EXISTS (SELECT 1 FROM best_checkpoint b WHERE b.version_id = c.version_id)
		 FROM checkpoints c WHERE c.run_id = ? ORDER BY c.epoch DESC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointRecord
	for rows.Next() {
		var rec CheckpointRecord
		var created string
		var active int
		if err := rows.Scan(&rec.VersionID, &rec.RunID, &rec.Epoch, &rec.Score, &rec.BlobSize, &created, &active); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		rec.Active = active == 1
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion checkpoints

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
