package store

import (
	"errors"
	"time"

	"github.com/csdgan/trainer/internal/gan"
)

var ErrNotFound = errors.New("store: not found")

// #region run-record
// RunRecord is one training run.
type RunRecord struct {
	RunID      string
	Status     string
	ConfigJSON string
	Baseline   float64 // NaN when not measured
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
}

// #endregion run-record

// #region epoch-record
// EpochRecord is the summary of one training epoch. StatsJSON holds the full
// trainer.EpochStats including per-layer norms.
type EpochRecord struct {
	RunID     string
	Epoch     int
	LossG     float64
	LossD     float64
	StatsJSON string
}

// #endregion epoch-record

// #region evaluation-record
// EvaluationRecord is one (epoch, size) score. Score is NaN for a failed fit.
type EvaluationRecord struct {
	RunID string
	Epoch int
	Size  int
	Score float64
	Error string
}

// #endregion evaluation-record

// #region checkpoint-record
// CheckpointRecord is a persisted best-so-far generator. Snapshot is only decoded by
// the single-checkpoint getters.
type CheckpointRecord struct {
	VersionID string
	RunID     string
	Epoch     int
	Score     float64
	BlobSize  int
	Active    bool
	CreatedAt time.Time
	Snapshot  *gan.Snapshot
}

// #endregion checkpoint-record
