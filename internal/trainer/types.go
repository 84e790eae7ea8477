package trainer

import (
	"errors"
	"fmt"
	"time"

	"github.com/csdgan/trainer/internal/nn"
)

// #region errors
var (
	ErrNoBatches  = errors.New("trainer: epoch has no batches")
	ErrEmptyBatch = errors.New("trainer: batch has no rows")
	ErrDiverged   = errors.New("trainer: training diverged")
)

// DivergenceError reports a non-finite loss or gradient norm. It is fatal for the run.
type DivergenceError struct {
	Epoch   int
	Step    int
	Phase   State
	Network string
	Value   float64
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("trainer: %s diverged at epoch %d step %d (%s): %v", e.Network, e.Epoch, e.Step, e.Phase, e.Value)
}

func (e *DivergenceError) Unwrap() error { return ErrDiverged }

// #endregion errors

// #region state

// State is the position of the trainer inside one adversarial step.
type State string

const (
	AwaitingBatch     State = "awaiting_batch"
	DiscriminatorReal State = "discriminator_real"
	DiscriminatorFake State = "discriminator_fake"
	DiscriminatorOpt  State = "discriminator_opt"
	GeneratorStep     State = "generator_step"
)

// #endregion state

// #region epoch-stats

// EpochStats is one history entry. Losses are means over the epoch's steps; norms and
// discriminator outputs come from the last step.
type EpochStats struct {
	Epoch             int            `json:"epoch"`
	Steps             int            `json:"steps"`
	GeneratorLoss     float64        `json:"loss_g"`
	DiscriminatorLoss float64        `json:"loss_d"`
	GeneratorGrad     float64        `json:"grad_norm_g"`
	DiscriminatorGrad float64        `json:"grad_norm_d"`
	GeneratorWeight   float64        `json:"weight_norm_g"`
	DiscrimWeight     float64        `json:"weight_norm_d"`
	GeneratorLayers   []nn.LayerNorm `json:"layers_g"`
	DiscrimLayers     []nn.LayerNorm `json:"layers_d"`
	DReal             float64        `json:"d_real"`
	DFake             float64        `json:"d_fake"`
	DFakeAfter        float64        `json:"d_fake_after"`
	Duration          time.Duration  `json:"duration"`
}

func (s EpochStats) clone() EpochStats {
	s.GeneratorLayers = append([]nn.LayerNorm(nil), s.GeneratorLayers...)
	s.DiscrimLayers = append([]nn.LayerNorm(nil), s.DiscrimLayers...)
	return s
}

// #endregion epoch-stats
