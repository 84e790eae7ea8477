package store

import (
	"context"
	"errors"

	"github.com/csdgan/trainer/internal/eval"
	"github.com/csdgan/trainer/internal/logging"
	"github.com/csdgan/trainer/internal/orchestrator"
	"github.com/csdgan/trainer/internal/selector"
	"github.com/csdgan/trainer/internal/trainer"
)

// #region observer
// Observer records a run into the store as the orchestrator reports it.
type Observer struct {
	store   *Store
	reducer selector.Reducer
}

// Observer returns an orchestrator observer writing to s. reducer is recorded in the
// selection log.
func (s *Store) Observer(reducer selector.Reducer) *Observer {
	return &Observer{store: s, reducer: reducer}
}

func (o *Observer) RunStarted(_ context.Context, run orchestrator.RunInfo) error {
	return o.store.CreateRun(RunRecord{
		RunID:      run.ID,
		ConfigJSON: string(run.Config),
		Baseline:   run.Baseline,
		StartedAt:  run.StartedAt,
	})
}

func (o *Observer) EpochFinished(_ context.Context, runID string, stats trainer.EpochStats) error {
	return o.store.RecordEpoch(runID, stats)
}

// Evaluated stores the scores, the promoted checkpoint if any, and the decision row.
func (o *Observer) Evaluated(_ context.Context, runID string, res eval.Result, d selector.Decision) error {
	var errs []error
	if err := o.store.RecordEvaluation(runID, res); err != nil {
		errs = append(errs, err)
	}
	if d.Promoted {
		if err := o.store.CommitCheckpoint(runID, d.Best); err != nil {
			errs = append(errs, err)
		}
	}
	version := ""
	if d.Best != nil {
		version = d.Best.VersionID
	}
	entry, err := logging.EntryFor(runID, logging.NewSelectionRecord(res, d, o.reducer), version)
	if err == nil {
		err = logging.LogSelection(o.store.DB(), entry)
	}
	if err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (o *Observer) RunFinished(_ context.Context, runID string, status orchestrator.Status, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return o.store.FinishRun(runID, string(status), msg)
}

// #endregion observer

var _ orchestrator.Observer = (*Observer)(nil)
