package nn

import (
	"fmt"
	"math"
)

// Activation is an element-wise non-linearity. Derivative receives both the
// pre-activation and the activation output so each function can use the cheaper one.
type Activation interface {
	Apply(x float64) float64
	Derivative(pre, post float64) float64
	Name() string
}

// LeakyReLU passes positives through and scales negatives by Slope.
type LeakyReLU struct {
	Slope float64
}

func (l LeakyReLU) Apply(x float64) float64 {
	if x > 0 {
		return x
	}
	return x * l.Slope
}

func (l LeakyReLU) Derivative(pre, _ float64) float64 {
	if pre > 0 {
		return 1
	}
	return l.Slope
}

func (l LeakyReLU) Name() string { return "leaky_relu" }

// Sigmoid squashes to (0, 1).
type Sigmoid struct{}

func (Sigmoid) Apply(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func (Sigmoid) Derivative(_, post float64) float64 { return post * (1 - post) }

func (Sigmoid) Name() string { return "sigmoid" }

// Tanh squashes to (-1, 1).
type Tanh struct{}

func (Tanh) Apply(x float64) float64 { return math.Tanh(x) }

func (Tanh) Derivative(_, post float64) float64 { return 1 - post*post }

func (Tanh) Name() string { return "tanh" }

// Identity is the linear activation.
type Identity struct{}

func (Identity) Apply(x float64) float64 { return x }

func (Identity) Derivative(_, _ float64) float64 { return 1 }

func (Identity) Name() string { return "identity" }

// ActivationByName resolves a configured hidden-layer non-linearity.
func ActivationByName(name string, slope float64) (Activation, error) {
	switch name {
	case "", "leaky_relu":
		return LeakyReLU{Slope: slope}, nil
	case "relu":
		return LeakyReLU{Slope: 0}, nil
	case "tanh":
		return Tanh{}, nil
	case "sigmoid":
		return Sigmoid{}, nil
	case "identity":
		return Identity{}, nil
	default:
		return nil, fmt.Errorf("nn: unknown activation %q", name)
	}
}
