package selector

import (
	"errors"
	"fmt"

	"github.com/csdgan/trainer/internal/gan"
)

var ErrUnknownReducer = errors.New("selector: unknown reducer")

// #region reducer
// Reducer collapses per-size scores into one aggregate.
type Reducer string

const (
	// ReduceLargest takes the score of the largest evaluated size.
	ReduceLargest Reducer = "largest"
	// ReduceMean averages the finite scores.
	ReduceMean Reducer = "mean"
	// ReduceMax takes the best finite score.
	ReduceMax Reducer = "max"
)

// Valid reports whether r is a known reducer.
func (r Reducer) Valid() bool {
	switch r {
	case ReduceLargest, ReduceMean, ReduceMax:
		return true
	}
	return false
}

// #endregion reducer

// #region selector-config
// Config holds the selection policy.
type Config struct {
	Reducer Reducer `json:"reducer"`
}

// DefaultConfig judges checkpoints by their largest sample size.
func DefaultConfig() Config {
	return Config{Reducer: ReduceLargest}
}

func (c Config) validate() error {
	if !c.Reducer.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownReducer, c.Reducer)
	}
	return nil
}

// #endregion selector-config

// #region checkpoint
// Checkpoint is an immutable best-so-far generator. It is never modified after it is
// published.
type Checkpoint struct {
	VersionID string
	Epoch     int
	Score     float64
	Snapshot  *gan.Snapshot
}

// #endregion checkpoint

// #region decision
// Action is the outcome of considering one evaluation.
type Action string

const (
	ActionPromote Action = "promote"
	ActionHold    Action = "hold"
)

// Decision is the output of Consider.
type Decision struct {
	Promoted  bool
	Action    Action
	Reason    string
	Aggregate float64 // NaN when no size produced a score
	Previous  float64 // NaN before the first promotion
	Best      *Checkpoint
}

// #endregion decision
