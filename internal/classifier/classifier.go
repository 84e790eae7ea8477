package classifier

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// #region errors
var (
	ErrEmptyData   = errors.New("classifier: no training rows")
	ErrShape       = errors.New("classifier: rows and labels disagree")
	ErrSingleClass = errors.New("classifier: training labels contain a single class")
	ErrEmptyGrid   = errors.New("classifier: parameter grid is empty")
	ErrWrongModel  = errors.New("classifier: model was not produced by this classifier")
)

// #endregion errors

// #region types

// Params is one point of the hyperparameter grid.
type Params struct {
	Tol     float64 `json:"tol"`
	C       float64 `json:"C"`
	L1Ratio float64 `json:"l1_ratio"`
}

// Grid is the cartesian product searched by Fit.
type Grid struct {
	Tol     []float64 `json:"tol"`
	C       []float64 `json:"C"`
	L1Ratio []float64 `json:"l1_ratio"`
}

// DefaultGrid is a single point: tol 1e-9, C 0.5, pure L2.
func DefaultGrid() Grid {
	return Grid{Tol: []float64{1e-9}, C: []float64{0.5}, L1Ratio: []float64{0}}
}

// Combos expands the grid in tol, C, l1_ratio order.
func (g Grid) Combos() []Params {
	var out []Params
	for _, tol := range g.Tol {
		for _, c := range g.C {
			for _, l1 := range g.L1Ratio {
				out = append(out, Params{Tol: tol, C: c, L1Ratio: l1})
			}
		}
	}
	return out
}

// Model is a fitted classifier.
type Model interface {
	Params() Params
}

// Classifier fits on (x, y) with a grid search over folds-fold cross validation and
// scores a fitted model on held-out data. Score is accuracy in [0, 1].
type Classifier interface {
	Fit(ctx context.Context, x *mat.Dense, y []int, grid Grid, folds int) (Model, error)
	Score(model Model, x *mat.Dense, y []int) (float64, error)
}

// #endregion types

// #region helpers

// Accuracy is the fraction of matching entries.
func Accuracy(pred, truth []int) (float64, error) {
	if len(pred) != len(truth) {
		return 0, fmt.Errorf("%w: %d predictions, %d labels", ErrShape, len(pred), len(truth))
	}
	if len(truth) == 0 {
		return 0, ErrEmptyData
	}
	hits := 0
	for i := range pred {
		if pred[i] == truth[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(truth)), nil
}

func checkData(x *mat.Dense, y []int) error {
	if x == nil || len(y) == 0 {
		return ErrEmptyData
	}
	if r, _ := x.Dims(); r != len(y) {
		return fmt.Errorf("%w: %d rows, %d labels", ErrShape, r, len(y))
	}
	return nil
}

// StratifiedFolds deals the rows of each class round-robin into k folds and returns the
// row indices of each fold. Each class starts one fold after the previous class.
func StratifiedFolds(y []int, k int) [][]int {
	folds := make([][]int, k)
	next := make(map[int]int)
	for i, c := range y {
		f, ok := next[c]
		if !ok {
			f = len(next) % k
		}
		folds[f] = append(folds[f], i)
		next[c] = (f + 1) % k
	}
	return folds
}

// #endregion helpers
