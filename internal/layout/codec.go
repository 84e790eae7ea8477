package layout

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// #region activation

// Activation is applied to continuous columns.
type Activation string

const (
	ActivationNone Activation = "none"
	ActivationTanh Activation = "tanh"
)

// #endregion activation

// #region codec

// Codec turns raw generator output into well-formed records: continuous columns pass
// through the configured activation, every categorical group goes through its own softmax.
type Codec struct {
	layout     *Layout
	activation Activation
}

// NewCodec binds a layout to a continuous activation. An empty activation means none.
func NewCodec(l *Layout, activation Activation) (*Codec, error) {
	if l == nil {
		return nil, ErrEmptyLayout
	}
	switch activation {
	case "":
		activation = ActivationNone
	case ActivationNone, ActivationTanh:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActivation, activation)
	}
	return &Codec{layout: l, activation: activation}, nil
}

// Layout returns the bound layout.
func (c *Codec) Layout() *Layout {
	return c.layout
}

// Activation returns the continuous activation.
func (c *Codec) Activation() Activation {
	return c.activation
}

// Apply transforms one raw vector. The input is not modified.
func (c *Codec) Apply(raw []float64) ([]float64, error) {
	if len(raw) != c.layout.Width() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWidthMismatch, len(raw), c.layout.Width())
	}
	out := make([]float64, len(raw))
	c.applyRow(raw, out)
	return out, nil
}

// ApplyBatch transforms every row of a raw batch into a new matrix.
func (c *Codec) ApplyBatch(raw *mat.Dense) (*mat.Dense, error) {
	rows, cols := raw.Dims()
	if cols != c.layout.Width() {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWidthMismatch, cols, c.layout.Width())
	}
	out := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		c.applyRow(raw.RawRowView(r), out.RawRowView(r))
	}
	return out, nil
}

func (c *Codec) applyRow(raw, out []float64) {
	for i, col := range c.layout.columns {
		if col.Kind != Continuous {
			continue
		}
		if c.activation == ActivationTanh {
			out[i] = math.Tanh(raw[i])
		} else {
			out[i] = raw[i]
		}
	}
	for _, g := range c.layout.groups {
		softmax(raw[g.Lo:g.Hi], out[g.Lo:g.Hi])
	}
}

// Backward maps the gradient w.r.t. codec output back to the raw input, given the
// codec output of the same forward pass.
func (c *Codec) Backward(out, gradOut *mat.Dense) *mat.Dense {
	rows, cols := out.Dims()
	gradIn := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		y := out.RawRowView(r)
		g := gradOut.RawRowView(r)
		dx := gradIn.RawRowView(r)
		for i, col := range c.layout.columns {
			if col.Kind != Continuous {
				continue
			}
			if c.activation == ActivationTanh {
				dx[i] = g[i] * (1 - y[i]*y[i])
			} else {
				dx[i] = g[i]
			}
		}
		for _, grp := range c.layout.groups {
			var dot float64
			for i := grp.Lo; i < grp.Hi; i++ {
				dot += g[i] * y[i]
			}
			for i := grp.Lo; i < grp.Hi; i++ {
				dx[i] = y[i] * (g[i] - dot)
			}
		}
	}
	return gradIn
}

// #endregion codec

// #region simplex

// CheckSimplex verifies that every categorical group of every row is non-negative and
// sums to one within tol.
func (l *Layout) CheckSimplex(batch *mat.Dense, tol float64) error {
	rows, cols := batch.Dims()
	if cols != l.Width() {
		return fmt.Errorf("%w: got %d, want %d", ErrWidthMismatch, cols, l.Width())
	}
	for r := 0; r < rows; r++ {
		row := batch.RawRowView(r)
		for _, g := range l.groups {
			var sum float64
			for i := g.Lo; i < g.Hi; i++ {
				if row[i] < -tol || math.IsNaN(row[i]) {
					return fmt.Errorf("%w: row %d group %d has entry %v", ErrNotSimplex, r, g.ID, row[i])
				}
				sum += row[i]
			}
			if math.Abs(sum-1) > tol {
				return fmt.Errorf("%w: row %d group %d sums to %v", ErrNotSimplex, r, g.ID, sum)
			}
		}
	}
	return nil
}

// #endregion simplex

// #region helpers
func softmax(in, out []float64) {
	maxV := math.Inf(-1)
	for _, v := range in {
		if v > maxV {
			maxV = v
		}
	}
	var sum float64
	for i, v := range in {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
}

// #endregion helpers
