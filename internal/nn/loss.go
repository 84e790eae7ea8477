package nn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	logFloor = -100
	probEps  = 1e-12
)

// BCE is the mean binary cross-entropy of pred against a constant target, with the
// log terms floored at -100. The returned gradient is dL/dpred for the same mean.
func BCE(pred *mat.Dense, target float64) (float64, *mat.Dense) {
	rows, cols := pred.Dims()
	n := float64(rows * cols)
	grad := mat.NewDense(rows, cols, nil)
	var loss float64
	for r := 0; r < rows; r++ {
		p := pred.RawRowView(r)
		g := grad.RawRowView(r)
		for j, v := range p {
			loss -= target*math.Max(math.Log(v), logFloor) + (1-target)*math.Max(math.Log(1-v), logFloor)
			pc := math.Min(math.Max(v, probEps), 1-probEps)
			g[j] = (pc - target) / (pc * (1 - pc)) / n
		}
	}
	return loss / n, grad
}

// Mean is the average of all entries.
func Mean(m *mat.Dense) float64 {
	rows, cols := m.Dims()
	if rows*cols == 0 {
		return math.NaN()
	}
	return mat.Sum(m) / float64(rows*cols)
}
