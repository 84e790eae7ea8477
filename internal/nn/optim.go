package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// #region adam

// AdamConfig holds the optimizer hyperparameters.
type AdamConfig struct {
	LR          float64 `json:"lr"`
	Beta1       float64 `json:"beta1"`
	Beta2       float64 `json:"beta2"`
	Epsilon     float64 `json:"epsilon"`
	WeightDecay float64 `json:"weight_decay"`
}

// DefaultAdam is the usual GAN setting: lr 2e-4, betas (0.5, 0.999).
func DefaultAdam() AdamConfig {
	return AdamConfig{LR: 2e-4, Beta1: 0.5, Beta2: 0.999, Epsilon: 1e-8}
}

// Adam keeps first and second moment estimates per parameter tensor.
type Adam struct {
	cfg AdamConfig
	m   []*mat.Dense
	v   []*mat.Dense
	t   int
}

// NewAdam allocates moments shaped like params.
func NewAdam(cfg AdamConfig, params []*mat.Dense) *Adam {
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1e-8
	}
	a := &Adam{cfg: cfg}
	for _, p := range params {
		r, c := p.Dims()
		a.m = append(a.m, mat.NewDense(r, c, nil))
		a.v = append(a.v, mat.NewDense(r, c, nil))
	}
	return a
}

// Config returns the hyperparameters.
func (a *Adam) Config() AdamConfig { return a.cfg }

// Steps is the number of updates applied so far.
func (a *Adam) Steps() int { return a.t }

// Step applies one bias-corrected update. Weight decay is added to the gradient (L2 form).
func (a *Adam) Step(params, grads []*mat.Dense) error {
	if len(params) != len(a.m) || len(grads) != len(a.m) {
		return fmt.Errorf("%w: optimizer holds %d tensors, got %d params and %d grads", ErrParamShape, len(a.m), len(params), len(grads))
	}
	a.t++
	c1 := 1 - math.Pow(a.cfg.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.cfg.Beta2, float64(a.t))
	for i, p := range params {
		pw := p.RawMatrix().Data
		gw := grads[i].RawMatrix().Data
		mw := a.m[i].RawMatrix().Data
		vw := a.v[i].RawMatrix().Data
		if len(gw) != len(pw) {
			return fmt.Errorf("%w: tensor %d", ErrParamShape, i)
		}
		for j := range pw {
			g := gw[j] + a.cfg.WeightDecay*pw[j]
			mw[j] = a.cfg.Beta1*mw[j] + (1-a.cfg.Beta1)*g
			vw[j] = a.cfg.Beta2*vw[j] + (1-a.cfg.Beta2)*g*g
			pw[j] -= a.cfg.LR * (mw[j] / c1) / (math.Sqrt(vw[j]/c2) + a.cfg.Epsilon)
		}
	}
	return nil
}

// #endregion adam
