package dataset

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Scaler standardises selected columns to zero mean and unit variance. Statistics use
// the population variance; constant columns get unit scale.
type Scaler struct {
	Columns []int     `json:"columns"`
	Mean    []float64 `json:"mean"`
	Scale   []float64 `json:"scale"`
}

// FitScaler computes column statistics over the given rows of x.
func FitScaler(x *mat.Dense, rows, columns []int) *Scaler {
	s := &Scaler{
		Columns: append([]int(nil), columns...),
		Mean:    make([]float64, len(columns)),
		Scale:   make([]float64, len(columns)),
	}
	vals := make([]float64, len(rows))
	for k, c := range columns {
		for i, r := range rows {
			vals[i] = x.At(r, c)
		}
		mean, variance := stat.PopMeanVariance(vals, nil)
		s.Mean[k] = mean
		s.Scale[k] = math.Sqrt(variance)
		if s.Scale[k] == 0 || math.IsNaN(s.Scale[k]) {
			s.Scale[k] = 1
		}
	}
	return s
}

// Transform standardises x in place.
func (s *Scaler) Transform(x *mat.Dense) {
	rows, _ := x.Dims()
	for r := 0; r < rows; r++ {
		row := x.RawRowView(r)
		for k, c := range s.Columns {
			row[c] = (row[c] - s.Mean[k]) / s.Scale[k]
		}
	}
}

// Inverse undoes Transform in place.
func (s *Scaler) Inverse(x *mat.Dense) {
	rows, _ := x.Dims()
	for r := 0; r < rows; r++ {
		row := x.RawRowView(r)
		for k, c := range s.Columns {
			row[c] = row[c]*s.Scale[k] + s.Mean[k]
		}
	}
}
