package eval

import (
	"errors"
	"math"

	"github.com/csdgan/trainer/internal/classifier"
	"github.com/csdgan/trainer/internal/labels"
)

var (
	ErrCodecBypassed = errors.New("eval: generated records violate the layout")
	ErrBadSize       = errors.New("eval: sample sizes must be positive")
	ErrNoHoldout     = errors.New("eval: holdout set is empty")
)

// #region eval-config
// Config controls one evaluation pass.
type Config struct {
	Sizes       []int               `json:"sizes"`
	BatchSize   int                 `json:"batch_size"` // generation chunk; 0 generates each size at once
	Mode        labels.SamplingMode `json:"mode"`
	Grid        classifier.Grid     `json:"grid"`
	Folds       int                 `json:"folds"`
	Parallelism int                 `json:"parallelism"`
	SimplexTol  float64             `json:"simplex_tol"`
	Seed        int64               `json:"seed"`
}

// DefaultConfig evaluates 90 to 1440 synthetic rows with proportional labels.
func DefaultConfig() Config {
	return Config{
		Sizes:       []int{90, 180, 360, 720, 1440},
		Mode:        labels.SamplingProportional,
		Grid:        classifier.DefaultGrid(),
		Folds:       5,
		Parallelism: 1,
		SimplexTol:  1e-6,
	}
}

// #endregion eval-config

// #region eval-result
// SizeScore is the holdout score of a classifier trained on Size synthetic rows.
// A NaN Score means the fit or score failed; Err says why.
type SizeScore struct {
	Size  int     `json:"size"`
	Score float64 `json:"score"`
	Err   string  `json:"error,omitempty"`
}

// Result is the outcome of one evaluation, ordered like the requested sizes.
type Result struct {
	Epoch  int
	scores []SizeScore
}

// NewResult copies scores into a Result.
func NewResult(epoch int, scores []SizeScore) Result {
	return Result{Epoch: epoch, scores: append([]SizeScore(nil), scores...)}
}

// Scores returns a copy of the per-size scores.
func (r Result) Scores() []SizeScore {
	return append([]SizeScore(nil), r.scores...)
}

// Values returns the scores alone, NaN for missing entries.
func (r Result) Values() []float64 {
	out := make([]float64, len(r.scores))
	for i, s := range r.scores {
		out[i] = s.Score
	}
	return out
}

// Missing counts NaN entries.
func (r Result) Missing() int {
	n := 0
	for _, s := range r.scores {
		if math.IsNaN(s.Score) {
			n++
		}
	}
	return n
}

// #endregion eval-result
