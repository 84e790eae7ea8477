package classifier

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// #region model

// LogisticModel is a fitted multinomial logistic regression.
type LogisticModel struct {
	params  Params
	weights *mat.Dense // features x classes
	bias    []float64
	iters   int
}

func (m *LogisticModel) Params() Params { return m.params }

// Iterations is the number of proximal steps taken.
func (m *LogisticModel) Iterations() int { return m.iters }

// Predict returns the most probable class of every row.
func (m *LogisticModel) Predict(x *mat.Dense) ([]int, error) {
	rows, cols := x.Dims()
	if f, _ := m.weights.Dims(); f != cols {
		return nil, fmt.Errorf("%w: %d features, model has %d", ErrShape, cols, f)
	}
	var logits mat.Dense
	logits.Mul(x, m.weights)
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		row := logits.RawRowView(r)
		best := 0
		for k := range row {
			if row[k]+m.bias[k] > row[best]+m.bias[best] {
				best = k
			}
		}
		out[r] = best
	}
	return out, nil
}

// #endregion model

// #region classifier

// LogisticRegression is an elastic-net multinomial logistic regression fitted by
// proximal gradient descent. The objective is the mean cross-entropy plus
// (0.5*(1-l1)*|W|^2 + l1*|W|_1) / (C*n); the bias is not penalised.
type LogisticRegression struct {
	Classes     int // 0 means max(y)+1
	MaxIter     int // 0 means 500
	Parallelism int // concurrent CV fits; 0 means 1
}

// Fit searches grid by stratified k-fold accuracy and refits the best point on all rows.
// A single-point grid skips cross validation.
func (lr LogisticRegression) Fit(ctx context.Context, x *mat.Dense, y []int, grid Grid, folds int) (Model, error) {
	if err := checkData(x, y); err != nil {
		return nil, err
	}
	combos := grid.Combos()
	if len(combos) == 0 {
		return nil, ErrEmptyGrid
	}
	k := lr.classes(y)
	for _, c := range y {
		if c < 0 || c >= k {
			return nil, fmt.Errorf("%w: label %d outside [0, %d)", ErrShape, c, k)
		}
	}
	if distinctCount(y) < 2 {
		return nil, ErrSingleClass
	}

	best := combos[0]
	if len(combos) > 1 {
		var err error
		if best, err = lr.search(ctx, x, y, k, combos, folds); err != nil {
			return nil, err
		}
	}
	return lr.fit(ctx, x, y, k, best)
}

// Score is the accuracy of model on (x, y).
func (lr LogisticRegression) Score(model Model, x *mat.Dense, y []int) (float64, error) {
	m, ok := model.(*LogisticModel)
	if !ok {
		return 0, ErrWrongModel
	}
	if err := checkData(x, y); err != nil {
		return 0, err
	}
	pred, err := m.Predict(x)
	if err != nil {
		return 0, err
	}
	return Accuracy(pred, y)
}

func (lr LogisticRegression) classes(y []int) int {
	if lr.Classes > 0 {
		return lr.Classes
	}
	k := 0
	for _, c := range y {
		k = max(k, c+1)
	}
	return k
}

// search returns the grid point with the best mean fold accuracy; ties keep the earlier point.
func (lr LogisticRegression) search(ctx context.Context, x *mat.Dense, y []int, k int, combos []Params, folds int) (Params, error) {
	n := len(y)
	folds = min(max(folds, 2), n)
	split := StratifiedFolds(y, folds)
	scores := make([][]float64, len(combos))
	for i := range scores {
		scores[i] = make([]float64, folds)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(lr.Parallelism, 1))
	for ci, p := range combos {
		for fi := range split {
			g.Go(func() error {
				trX, trY, teX, teY := foldData(x, y, split, fi)
				if distinctCount(trY) < 2 || len(teY) == 0 {
					scores[ci][fi] = math.NaN()
					return nil
				}
				m, err := lr.fit(gctx, trX, trY, k, p)
				if err != nil {
					return err
				}
				pred, err := m.Predict(teX)
				if err != nil {
					return err
				}
				scores[ci][fi], err = Accuracy(pred, teY)
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Params{}, err
	}

	best, bestScore := 0, math.Inf(-1)
	for ci, fs := range scores {
		var sum float64
		var cnt int
		for _, s := range fs {
			if !math.IsNaN(s) {
				sum += s
				cnt++
			}
		}
		if cnt > 0 && sum/float64(cnt) > bestScore {
			best, bestScore = ci, sum/float64(cnt)
		}
	}
	return combos[best], nil
}

// #endregion classifier

// #region solver
func (lr LogisticRegression) fit(ctx context.Context, x *mat.Dense, y []int, k int, p Params) (*LogisticModel, error) {
	if p.C <= 0 {
		return nil, fmt.Errorf("classifier: C must be positive, got %v", p.C)
	}
	if p.L1Ratio < 0 || p.L1Ratio > 1 {
		return nil, fmt.Errorf("classifier: l1_ratio must be in [0, 1], got %v", p.L1Ratio)
	}
	maxIter := lr.MaxIter
	if maxIter <= 0 {
		maxIter = 500
	}
	n, d := x.Dims()
	alpha := 1 / (p.C * float64(n))
	l1 := alpha * p.L1Ratio
	l2 := alpha * (1 - p.L1Ratio)

	// Lipschitz bound of the mean softmax cross-entropy gradient.
	var maxSq float64
	for r := 0; r < n; r++ {
		row := x.RawRowView(r)
		sq := 1.0
		for _, v := range row {
			sq += v * v
		}
		maxSq = max(maxSq, sq)
	}
	step := 1 / (0.5*maxSq + l2)

	w := mat.NewDense(d, k, nil)
	b := make([]float64, k)
	probs := mat.NewDense(n, k, nil)
	var grad mat.Dense
	gb := make([]float64, k)
	iters := 0
	for iters < maxIter {
		if iters%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		iters++

		probs.Mul(x, w)
		for r := 0; r < n; r++ {
			row := probs.RawRowView(r)
			for j := range row {
				row[j] += b[j]
			}
			softmaxInPlace(row)
			row[y[r]] -= 1
		}
		grad.Mul(x.T(), probs)
		grad.Scale(1/float64(n), &grad)
		for j := range gb {
			gb[j] = 0
		}
		for r := 0; r < n; r++ {
			for j, v := range probs.RawRowView(r) {
				gb[j] += v / float64(n)
			}
		}

		var change float64
		for i := 0; i < d; i++ {
			wr := w.RawRowView(i)
			gr := grad.RawRowView(i)
			for j := range wr {
				next := wr[j] - step*(gr[j]+l2*wr[j])
				next = softThreshold(next, step*l1)
				change = max(change, math.Abs(next-wr[j]))
				wr[j] = next
			}
		}
		for j := range b {
			next := b[j] - step*gb[j]
			change = max(change, math.Abs(next-b[j]))
			b[j] = next
		}
		if change <= p.Tol {
			break
		}
	}
	return &LogisticModel{params: p, weights: w, bias: b, iters: iters}, nil
}

func softmaxInPlace(v []float64) {
	m := math.Inf(-1)
	for _, x := range v {
		m = max(m, x)
	}
	var sum float64
	for i, x := range v {
		v[i] = math.Exp(x - m)
		sum += v[i]
	}
	for i := range v {
		v[i] /= sum
	}
}

func softThreshold(v, t float64) float64 {
	switch {
	case v > t:
		return v - t
	case v < -t:
		return v + t
	default:
		return 0
	}
}

func foldData(x *mat.Dense, y []int, split [][]int, test int) (*mat.Dense, []int, *mat.Dense, []int) {
	var trIdx []int
	for fi, idx := range split {
		if fi != test {
			trIdx = append(trIdx, idx...)
		}
	}
	trX, trY := rowsOf(x, y, trIdx)
	teX, teY := rowsOf(x, y, split[test])
	return trX, trY, teX, teY
}

func rowsOf(x *mat.Dense, y []int, idx []int) (*mat.Dense, []int) {
	if len(idx) == 0 {
		return nil, nil
	}
	_, d := x.Dims()
	out := mat.NewDense(len(idx), d, nil)
	ys := make([]int, len(idx))
	for i, r := range idx {
		copy(out.RawRowView(i), x.RawRowView(r))
		ys[i] = y[r]
	}
	return out, ys
}

func distinctCount(y []int) int {
	seen := make(map[int]struct{})
	for _, c := range y {
		seen[c] = struct{}{}
	}
	return len(seen)
}

// #endregion solver
