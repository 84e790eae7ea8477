package labels

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// #region distribution

// Distribution is the class balance of the conditioning label.
type Distribution struct {
	classes []string
	probs   []float64
}

// NewDistribution normalises weights over classes. Weights must be finite, non-negative
// and not all zero.
func NewDistribution(classes []string, weights []float64) (Distribution, error) {
	if len(classes) == 0 {
		return Distribution{}, ErrEmptyLabelSet
	}
	if len(classes) != len(weights) {
		return Distribution{}, fmt.Errorf("%w: %d weights for %d classes", ErrBadWeights, len(weights), len(classes))
	}
	var total float64
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return Distribution{}, fmt.Errorf("%w: %v", ErrBadWeights, weights)
		}
		total += w
	}
	if total <= 0 {
		return Distribution{}, fmt.Errorf("%w: weights sum to zero", ErrBadWeights)
	}
	probs := make([]float64, len(weights))
	for i, w := range weights {
		probs[i] = w / total
	}
	return Distribution{classes: append([]string(nil), classes...), probs: probs}, nil
}

// FromLabels counts observed conditioning labels.
func FromLabels(enc *Encoder, values []string) (Distribution, error) {
	counts := make([]float64, len(enc.Classes()))
	for _, v := range values {
		j, err := enc.Index(v)
		if err != nil {
			return Distribution{}, err
		}
		counts[j]++
	}
	return NewDistribution(enc.Classes(), counts)
}

// FromOneHot averages the conditioning block of one-hot rows.
func FromOneHot(enc *Encoder, m *mat.Dense) (Distribution, error) {
	rows, cols := m.Dims()
	if cols != enc.Width() {
		return Distribution{}, fmt.Errorf("%w: got %d, want %d", ErrWidthMismatch, cols, enc.Width())
	}
	k := len(enc.Classes())
	means := make([]float64, k)
	for r := 0; r < rows; r++ {
		row := m.RawRowView(r)
		for j := 0; j < k; j++ {
			means[j] += row[enc.offsets[0]+j]
		}
	}
	return NewDistribution(enc.Classes(), means)
}

// Classes returns the class names in distribution order.
func (d Distribution) Classes() []string {
	return append([]string(nil), d.classes...)
}

// Probs returns a copy of the normalised probabilities.
func (d Distribution) Probs() []float64 {
	return append([]float64(nil), d.probs...)
}

// Len is the number of classes.
func (d Distribution) Len() int {
	return len(d.probs)
}

// #endregion distribution

// #region allocate

// Allocate splits n into per-class counts proportional to the distribution using the
// largest-remainder method. Counts always sum to n.
func (d Distribution) Allocate(n int) []int {
	counts := make([]int, len(d.probs))
	if n <= 0 {
		return counts
	}
	type rem struct {
		idx  int
		frac float64
	}
	rems := make([]rem, len(d.probs))
	assigned := 0
	for i, p := range d.probs {
		exact := p * float64(n)
		counts[i] = int(math.Floor(exact))
		assigned += counts[i]
		rems[i] = rem{idx: i, frac: exact - float64(counts[i])}
	}
	sort.SliceStable(rems, func(a, b int) bool { return rems[a].frac > rems[b].frac })
	for i := 0; assigned < n; i++ {
		counts[rems[i%len(rems)].idx]++
		assigned++
	}
	return counts
}

// #endregion allocate

// #region draw

// Draw samples n class indices independently.
func (d Distribution) Draw(n int, rng *rand.Rand) []int {
	cdf := make([]float64, len(d.probs))
	var acc float64
	for i, p := range d.probs {
		acc += p
		cdf[i] = acc
	}
	out := make([]int, n)
	for i := range out {
		u := rng.Float64() * acc
		j := sort.SearchFloat64s(cdf, u)
		if j >= len(cdf) {
			j = len(cdf) - 1
		}
		out[i] = j
	}
	return out
}

// Sample returns n class indices using the given mode.
func (d Distribution) Sample(n int, rng *rand.Rand, mode SamplingMode) ([]int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("labels: sample size must be positive, got %d", n)
	}
	switch mode {
	case SamplingRandom:
		return d.Draw(n, rng), nil
	case SamplingProportional, "":
		counts := d.Allocate(n)
		out := make([]int, 0, n)
		for j, c := range counts {
			for k := 0; k < c; k++ {
				out = append(out, j)
			}
		}
		rng.Shuffle(len(out), func(a, b int) { out[a], out[b] = out[b], out[a] })
		return out, nil
	default:
		return nil, fmt.Errorf("labels: unknown sampling mode %q", mode)
	}
}

// #endregion draw

// OneHot expands class indices into an n x width one-hot matrix.
func OneHot(idx []int, width int) (*mat.Dense, error) {
	if len(idx) == 0 || width <= 0 {
		return nil, ErrEmptyLabelSet
	}
	out := mat.NewDense(len(idx), width, nil)
	for r, j := range idx {
		if j < 0 || j >= width {
			return nil, fmt.Errorf("%w: class index %d", ErrUnseenLabel, j)
		}
		out.Set(r, j, 1)
	}
	return out, nil
}
