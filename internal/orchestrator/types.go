package orchestrator

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/csdgan/trainer/internal/dataset"
	"github.com/csdgan/trainer/internal/eval"
	"github.com/csdgan/trainer/internal/gan"
	"github.com/csdgan/trainer/internal/labels"
	"github.com/csdgan/trainer/internal/selector"
	"github.com/csdgan/trainer/internal/trainer"
	"gonum.org/v1/gonum/mat"
)

// #endregion

var (
	ErrConfig       = errors.New("orchestrator: invalid config")
	ErrNoCheckpoint = errors.New("orchestrator: no evaluation produced a finite score")
	ErrAlreadyRan   = errors.New("orchestrator: already trained")
)

// #region config

// Config is the outer-loop policy.
type Config struct {
	Epochs    int             // epochs are numbered 0..Epochs-1
	EvalEvery int             // evaluate after every N epochs and after the last one
	Patience  int             // stop after N evaluations without promotion; 0 disables
	Baseline  bool            // score the classifier on real training rows first
	Seed      int64           // seeds evaluation workers
	Run       json.RawMessage // recorded with the run
}

// DefaultConfig evaluates after every epoch with early stopping off.
func DefaultConfig(epochs int) Config {
	return Config{Epochs: epochs, EvalEvery: 1}
}

func (c Config) validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be positive", ErrConfig)
	}
	if c.EvalEvery <= 0 {
		return fmt.Errorf("%w: eval cadence must be positive", ErrConfig)
	}
	if c.Patience < 0 {
		return fmt.Errorf("%w: patience must not be negative", ErrConfig)
	}
	return nil
}

// #endregion

// #region status

// Status is the terminal state of a run.
type Status string

const (
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusStoppedEarly Status = "stopped_early"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// #endregion

// #region interfaces

// Provider supplies training batches and the real holdout set.
type Provider interface {
	Batches(epoch int) ([]dataset.Batch, error)
	Holdout() (*mat.Dense, []int)
	Distribution() labels.Distribution
}

// trainingSet is implemented by providers that can expose their real training rows.
type trainingSet interface {
	Train() (*mat.Dense, []int)
}

// RunInfo describes a starting run.
type RunInfo struct {
	ID        string
	StartedAt time.Time
	Config    json.RawMessage
	Baseline  float64 // NaN when not measured
}

// Observer is notified as a run progresses. Errors are logged and never stop training.
type Observer interface {
	RunStarted(ctx context.Context, run RunInfo) error
	EpochFinished(ctx context.Context, runID string, stats trainer.EpochStats) error
	Evaluated(ctx context.Context, runID string, res eval.Result, d selector.Decision) error
	RunFinished(ctx context.Context, runID string, status Status, runErr error) error
}

// #endregion

// #region outcome

// Outcome is what a run hands back.
type Outcome struct {
	RunID        string
	Status       Status
	Baseline     float64
	Best         *selector.Checkpoint
	History      []trainer.EpochStats
	Evaluations  []eval.Result
	Generator    *gan.Generator // rebuilt from Best, nil when there is none
	StoppedEarly bool
}

// #endregion
