package classifier

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// #region helpers

// blobs draws n rows per class around three well separated centres.
func blobs(n int, seed int64) (*mat.Dense, []int) {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(3*n, 2, nil)
	y := make([]int, 3*n)
	for k := 0; k < 3; k++ {
		cx, cy := 3*math.Cos(2*math.Pi*float64(k)/3), 3*math.Sin(2*math.Pi*float64(k)/3)
		for i := 0; i < n; i++ {
			r := k*n + i
			x.Set(r, 0, cx+rng.NormFloat64()*0.5)
			x.Set(r, 1, cy+rng.NormFloat64()*0.5)
			y[r] = k
		}
	}
	return x, y
}

// #endregion helpers

// #region fit-tests
func TestFitSeparatesBlobs(t *testing.T) {
	x, y := blobs(30, 1)
	testX, testY := blobs(20, 2)
	lr := LogisticRegression{}
	m, err := lr.Fit(context.Background(), x, y, DefaultGrid(), 5)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	score, err := lr.Score(m, testX, testY)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score < 0.95 {
		t.Fatalf("accuracy %v on separable data", score)
	}
}

func TestGridSearchPrefersWeakerPenalty(t *testing.T) {
	x, y := blobs(30, 3)
	grid := Grid{Tol: []float64{1e-6}, C: []float64{1e-4, 10}, L1Ratio: []float64{1}}
	m, err := LogisticRegression{Parallelism: 4}.Fit(context.Background(), x, y, grid, 5)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if m.Params().C != 10 {
		t.Fatalf("selected %+v", m.Params())
	}
}

func TestL1PenaltyZeroesWeights(t *testing.T) {
	x, y := blobs(30, 4)
	grid := Grid{Tol: []float64{1e-9}, C: []float64{1e-3}, L1Ratio: []float64{1}}
	m, err := LogisticRegression{MaxIter: 100}.Fit(context.Background(), x, y, grid, 5)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	w := m.(*LogisticModel).weights
	if mat.Norm(w, 1) != 0 {
		t.Fatalf("expected all-zero weights, got %v", mat.Formatted(w))
	}
}

func TestFitErrors(t *testing.T) {
	x, y := blobs(5, 5)
	lr := LogisticRegression{}
	ctx := context.Background()

	if _, err := lr.Fit(ctx, x, y[:3], DefaultGrid(), 5); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
	if _, err := lr.Fit(ctx, x, make([]int, len(y)), DefaultGrid(), 5); !errors.Is(err, ErrSingleClass) {
		t.Fatalf("expected ErrSingleClass, got %v", err)
	}
	if _, err := lr.Fit(ctx, x, y, Grid{}, 5); !errors.Is(err, ErrEmptyGrid) {
		t.Fatalf("expected ErrEmptyGrid, got %v", err)
	}
	if _, err := lr.Fit(ctx, nil, nil, DefaultGrid(), 5); !errors.Is(err, ErrEmptyData) {
		t.Fatalf("expected ErrEmptyData, got %v", err)
	}
	if _, err := (LogisticRegression{Classes: 2}).Fit(ctx, x, y, DefaultGrid(), 5); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for label out of range, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := lr.Fit(cancelled, x, y, DefaultGrid(), 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type foreignModel struct{}

func (foreignModel) Params() Params { return Params{} }

func TestScoreRejectsForeignModel(t *testing.T) {
	x, y := blobs(2, 6)
	if _, err := (LogisticRegression{}).Score(foreignModel{}, x, y); !errors.Is(err, ErrWrongModel) {
		t.Fatalf("expected ErrWrongModel, got %v", err)
	}
}

// #endregion fit-tests

// #region helper-tests
func TestStratifiedFoldsBalanceClasses(t *testing.T) {
	_, y := blobs(10, 7)
	folds := StratifiedFolds(y, 5)
	seen := 0
	for fi, idx := range folds {
		counts := make([]int, 3)
		for _, r := range idx {
			counts[y[r]]++
		}
		for k, c := range counts {
			if c != 2 {
				t.Fatalf("fold %d class %d has %d rows", fi, k, c)
			}
		}
		seen += len(idx)
	}
	if seen != 30 {
		t.Fatalf("folds cover %d rows", seen)
	}
}

func TestAccuracy(t *testing.T) {
	got, err := Accuracy([]int{0, 1, 2, 2}, []int{0, 1, 1, 2})
	if err != nil || got != 0.75 {
		t.Fatalf("accuracy = %v, %v", got, err)
	}
	if _, err := Accuracy([]int{1}, nil); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestGridCombos(t *testing.T) {
	g := Grid{Tol: []float64{1e-4, 1e-6}, C: []float64{0.5, 1}, L1Ratio: []float64{0, 0.5, 1}}
	if n := len(g.Combos()); n != 12 {
		t.Fatalf("combos = %d", n)
	}
}

// #endregion helper-tests
