package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// #region initializer

// Initializer fills a parameter matrix.
type Initializer interface {
	Initialize(m *mat.Dense, rng *rand.Rand)
	Name() string
}

// Uniform draws from U(-Range, Range).
type Uniform struct {
	Range float64
}

func (u Uniform) Initialize(m *mat.Dense, rng *rand.Rand) {
	raw := m.RawMatrix().Data
	for i := range raw {
		raw[i] = (rng.Float64()*2 - 1) * u.Range
	}
}

func (u Uniform) Name() string { return "uniform" }

// #endregion initializer

// #region dense

// Dense is a fully connected layer y = act(x·W + b). Gradients accumulate across
// Backward calls until ZeroGrad.
type Dense struct {
	name  string
	act   Activation
	W     *mat.Dense // in x out
	B     *mat.Dense // 1 x out
	GradW *mat.Dense
	GradB *mat.Dense
}

// Trace holds the tensors of one forward pass so Backward can run later,
// after other forward passes through the same layer.
type Trace struct {
	in, pre, out *mat.Dense
}

// NewDense allocates a zeroed layer.
func NewDense(name string, in, out int, act Activation) *Dense {
	return &Dense{
		name:  name,
		act:   act,
		W:     mat.NewDense(in, out, nil),
		B:     mat.NewDense(1, out, nil),
		GradW: mat.NewDense(in, out, nil),
		GradB: mat.NewDense(1, out, nil),
	}
}

// Name is the registry name of the layer.
func (d *Dense) Name() string { return d.name }

// Activation returns the layer non-linearity.
func (d *Dense) Activation() Activation { return d.act }

// Dims returns (fan-in, fan-out).
func (d *Dense) Dims() (int, int) { return d.W.Dims() }

// Forward computes the layer output for a batch.
func (d *Dense) Forward(x *mat.Dense) (*mat.Dense, Trace, error) {
	rows, cols := x.Dims()
	in, out := d.W.Dims()
	if cols != in {
		return nil, Trace{}, fmt.Errorf("nn: layer %s input width %d, want %d", d.name, cols, in)
	}
	pre := mat.NewDense(rows, out, nil)
	pre.Mul(x, d.W)
	bias := d.B.RawRowView(0)
	post := mat.NewDense(rows, out, nil)
	for r := 0; r < rows; r++ {
		p := pre.RawRowView(r)
		y := post.RawRowView(r)
		for j := range p {
			p[j] += bias[j]
			y[j] = d.act.Apply(p[j])
		}
	}
	return post, Trace{in: x, pre: pre, out: post}, nil
}

// Backward returns dL/dx for the traced pass. With accumulate set, dL/dW and dL/db are
// added to the layer gradients; otherwise the parameters' gradients are left untouched.
func (d *Dense) Backward(tr Trace, gradOut *mat.Dense, accumulate bool) *mat.Dense {
	rows, out := gradOut.Dims()
	gp := mat.NewDense(rows, out, nil)
	for r := 0; r < rows; r++ {
		g := gradOut.RawRowView(r)
		p := tr.pre.RawRowView(r)
		y := tr.out.RawRowView(r)
		dst := gp.RawRowView(r)
		for j := range g {
			dst[j] = g[j] * d.act.Derivative(p[j], y[j])
		}
	}

	if accumulate {
		var gw mat.Dense
		gw.Mul(tr.in.T(), gp)
		d.GradW.Add(d.GradW, &gw)
		gb := d.GradB.RawRowView(0)
		for r := 0; r < rows; r++ {
			for j, v := range gp.RawRowView(r) {
				gb[j] += v
			}
		}
	}

	in, _ := d.W.Dims()
	gradIn := mat.NewDense(rows, in, nil)
	gradIn.Mul(gp, d.W.T())
	return gradIn
}

// ZeroGrad clears accumulated gradients.
func (d *Dense) ZeroGrad() {
	d.GradW.Zero()
	d.GradB.Zero()
}

// Params returns the parameter matrices in a fixed order.
func (d *Dense) Params() []*mat.Dense { return []*mat.Dense{d.W, d.B} }

// Grads returns the gradient matrices aligned with Params.
func (d *Dense) Grads() []*mat.Dense { return []*mat.Dense{d.GradW, d.GradB} }

// #endregion dense
