package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var ErrParamShape = errors.New("nn: parameter shape mismatch")

// #region network

// Network is an ordered stack of dense layers. The stack doubles as the layer registry
// that norm reporting and snapshots walk.
type Network struct {
	layers []*Dense
}

// NewNetwork builds widths[0] -> widths[1] -> ... -> widths[n-1]. Every layer but the last
// uses hidden; the last uses output. Layers are named prefix.0, prefix.1, ...
func NewNetwork(prefix string, widths []int, hidden, output Activation) (*Network, error) {
	if len(widths) < 2 {
		return nil, fmt.Errorf("nn: network %s needs at least input and output widths", prefix)
	}
	for i, w := range widths {
		if w <= 0 {
			return nil, fmt.Errorf("nn: network %s width %d at index %d", prefix, w, i)
		}
	}
	n := &Network{}
	for i := 0; i+1 < len(widths); i++ {
		act := hidden
		if i == len(widths)-2 {
			act = output
		}
		n.layers = append(n.layers, NewDense(fmt.Sprintf("%s.%d", prefix, i), widths[i], widths[i+1], act))
	}
	return n, nil
}

// Layers returns the registry in forward order.
func (n *Network) Layers() []*Dense {
	return append([]*Dense(nil), n.layers...)
}

// InputWidth is the fan-in of the first layer.
func (n *Network) InputWidth() int {
	in, _ := n.layers[0].Dims()
	return in
}

// OutputWidth is the fan-out of the last layer.
func (n *Network) OutputWidth() int {
	_, out := n.layers[len(n.layers)-1].Dims()
	return out
}

// Init fills every weight matrix with init. Biases keep the usual fully connected
// default, U(-1/sqrt(fan_in), 1/sqrt(fan_in)).
func (n *Network) Init(init Initializer, rng *rand.Rand) {
	for _, l := range n.layers {
		init.Initialize(l.W, rng)
		in, _ := l.Dims()
		Uniform{Range: 1 / math.Sqrt(float64(in))}.Initialize(l.B, rng)
	}
}

// Forward runs the stack and returns one trace per layer.
func (n *Network) Forward(x *mat.Dense) (*mat.Dense, []Trace, error) {
	traces := make([]Trace, len(n.layers))
	out := x
	for i, l := range n.layers {
		var err error
		out, traces[i], err = l.Forward(out)
		if err != nil {
			return nil, nil, err
		}
	}
	return out, traces, nil
}

// Backward walks the traces in reverse and returns dL/dx of the network input.
func (n *Network) Backward(traces []Trace, gradOut *mat.Dense, accumulate bool) *mat.Dense {
	g := gradOut
	for i := len(n.layers) - 1; i >= 0; i-- {
		g = n.layers[i].Backward(traces[i], g, accumulate)
	}
	return g
}

// ZeroGrad clears every layer's gradients.
func (n *Network) ZeroGrad() {
	for _, l := range n.layers {
		l.ZeroGrad()
	}
}

// Params flattens layer parameters in registry order.
func (n *Network) Params() []*mat.Dense {
	var out []*mat.Dense
	for _, l := range n.layers {
		out = append(out, l.Params()...)
	}
	return out
}

// Grads flattens layer gradients aligned with Params.
func (n *Network) Grads() []*mat.Dense {
	var out []*mat.Dense
	for _, l := range n.layers {
		out = append(out, l.Grads()...)
	}
	return out
}

// #endregion network

// #region params

// CopyParams deep-copies the parameters in registry order.
func (n *Network) CopyParams() [][]float64 {
	params := n.Params()
	out := make([][]float64, len(params))
	for i, p := range params {
		out[i] = append([]float64(nil), p.RawMatrix().Data...)
	}
	return out
}

// LoadParams overwrites the parameters from a CopyParams result.
func (n *Network) LoadParams(values [][]float64) error {
	params := n.Params()
	if len(values) != len(params) {
		return fmt.Errorf("%w: %d tensors, want %d", ErrParamShape, len(values), len(params))
	}
	for i, p := range params {
		raw := p.RawMatrix().Data
		if len(values[i]) != len(raw) {
			return fmt.Errorf("%w: tensor %d has %d values, want %d", ErrParamShape, i, len(values[i]), len(raw))
		}
		copy(raw, values[i])
	}
	return nil
}

// #endregion params

// #region norms

// LayerNorm is the L2 norm of one layer's weights and gradients (bias included).
type LayerNorm struct {
	Layer  string  `json:"layer"`
	Weight float64 `json:"weight"`
	Grad   float64 `json:"grad"`
}

// LayerNorms reports per-layer norms in registry order.
func (n *Network) LayerNorms() []LayerNorm {
	out := make([]LayerNorm, len(n.layers))
	for i, l := range n.layers {
		out[i] = LayerNorm{
			Layer:  l.Name(),
			Weight: L2(l.Params()...),
			Grad:   L2(l.Grads()...),
		}
	}
	return out
}

// WeightNorm is the L2 norm over all parameters.
func (n *Network) WeightNorm() float64 { return L2(n.Params()...) }

// GradNorm is the L2 norm over all gradients.
func (n *Network) GradNorm() float64 { return L2(n.Grads()...) }

// L2 is the Euclidean norm of the concatenation of ms.
func L2(ms ...*mat.Dense) float64 {
	var sum float64
	for _, m := range ms {
		for _, v := range m.RawMatrix().Data {
			sum += v * v
		}
	}
	return math.Sqrt(sum)
}

// Finite reports whether every entry of every matrix is finite.
func Finite(ms ...*mat.Dense) bool {
	for _, m := range ms {
		for _, v := range m.RawMatrix().Data {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// #endregion norms
