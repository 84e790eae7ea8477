package gan

import (
	"fmt"
	"math/rand"

	"github.com/csdgan/trainer/internal/nn"
	"gonum.org/v1/gonum/mat"
)

// #region config

// DiscriminatorConfig describes the discriminator network.
type DiscriminatorConfig struct {
	RecordDim        int           `json:"record_dim"`
	LabelDim         int           `json:"label_dim"`
	Hidden           []int         `json:"hidden"`
	LeakySlope       float64       `json:"leaky_slope"`
	HiddenActivation string        `json:"hidden_activation"`
	InitRange        float64       `json:"init_range"`
	Adam             nn.AdamConfig `json:"adam"`
	Seed             int64         `json:"seed"`
}

// DefaultDiscriminatorConfig is one hidden layer of 32 with LeakyReLU(0.2).
func DefaultDiscriminatorConfig(recordDim, labelDim int) DiscriminatorConfig {
	return DiscriminatorConfig{
		RecordDim:  recordDim,
		LabelDim:   labelDim,
		Hidden:     []int{32},
		LeakySlope: 0.2,
		InitRange:  0.5,
		Adam:       nn.DefaultAdam(),
	}
}

// #endregion config

// #region phase

// Phase is the position of the discriminator inside one update transaction.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRealDone
	PhaseFakeDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRealDone:
		return "real-done"
	case PhaseFakeDone:
		return "fake-done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// #endregion phase

// #region discriminator

// Judgement is one forward pass of the discriminator, kept for a later backward pass.
type Judgement struct {
	Output  *mat.Dense // n x 1 probabilities of "real"
	records *mat.Dense
	traces  []nn.Trace
	owner   *Discriminator
	version int
}

// Mean is the average "real" probability of the batch.
func (j *Judgement) Mean() float64 { return nn.Mean(j.Output) }

// Update summarises one completed transaction.
type Update struct {
	LossReal float64
	LossFake float64
	Loss     float64
	GradNorm float64
}

// Discriminator scores (record, label) pairs. One update is the three calls
// TrainOneStepReal, TrainOneStepFake, CombineAndUpdateOpt, in that order; their
// gradients accumulate until the combined step. Not safe for concurrent use.
type Discriminator struct {
	cfg     DiscriminatorConfig
	net     *nn.Network
	opt     *nn.Adam
	phase   Phase
	version int

	lossReal float64
	lossFake float64
	dReal    float64
	dFake    float64
}

// NewDiscriminator builds and initialises a discriminator.
func NewDiscriminator(cfg DiscriminatorConfig) (*Discriminator, error) {
	if cfg.RecordDim <= 0 || cfg.LabelDim <= 0 {
		return nil, fmt.Errorf("%w: record dim %d, label dim %d", ErrConfig, cfg.RecordDim, cfg.LabelDim)
	}
	if cfg.InitRange <= 0 {
		return nil, fmt.Errorf("%w: init range %v", ErrConfig, cfg.InitRange)
	}
	hidden, err := nn.ActivationByName(cfg.HiddenActivation, cfg.LeakySlope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.Hidden = append([]int(nil), cfg.Hidden...)
	widths := append([]int{cfg.RecordDim + cfg.LabelDim}, cfg.Hidden...)
	widths = append(widths, 1)
	net, err := nn.NewNetwork("discriminator", widths, hidden, nn.Sigmoid{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	net.Init(nn.Uniform{Range: cfg.InitRange}, rand.New(rand.NewSource(cfg.Seed)))
	return &Discriminator{cfg: cfg, net: net, opt: nn.NewAdam(cfg.Adam, net.Params())}, nil
}

// Config returns the configuration.
func (d *Discriminator) Config() DiscriminatorConfig { return d.cfg }

// Layers exposes the layer registry.
func (d *Discriminator) Layers() []*nn.Dense { return d.net.Layers() }

// Network exposes the underlying network for norm reporting.
func (d *Discriminator) Network() *nn.Network { return d.net }

// Phase reports the transaction position.
func (d *Discriminator) Phase() Phase { return d.phase }

// DReal is the mean output on the last real batch.
func (d *Discriminator) DReal() float64 { return d.dReal }

// DFake is the mean output on the last fake batch of the real/fake update.
func (d *Discriminator) DFake() float64 { return d.dFake }

// Discriminate scores records under labels. It never changes the update phase.
func (d *Discriminator) Discriminate(records, labels *mat.Dense) (*Judgement, error) {
	rr, rc := records.Dims()
	lr, lc := labels.Dims()
	if rr == 0 || rr != lr {
		return nil, fmt.Errorf("%w: %d record rows, %d label rows", ErrShape, rr, lr)
	}
	if rc != d.cfg.RecordDim || lc != d.cfg.LabelDim {
		return nil, fmt.Errorf("%w: records %d (want %d), labels %d (want %d)", ErrShape, rc, d.cfg.RecordDim, lc, d.cfg.LabelDim)
	}
	var in mat.Dense
	in.Augment(records, labels)
	out, traces, err := d.net.Forward(&in)
	if err != nil {
		return nil, err
	}
	return &Judgement{Output: out, records: records, traces: traces, owner: d, version: d.version}, nil
}

// TrainOneStepReal opens a transaction: clears gradients and accumulates the loss of
// j against target "real".
func (d *Discriminator) TrainOneStepReal(j *Judgement) (float64, error) {
	if err := d.expect(PhaseIdle, j); err != nil {
		return 0, err
	}
	d.net.ZeroGrad()
	loss, grad := nn.BCE(j.Output, 1)
	d.net.Backward(j.traces, grad, true)
	d.lossReal = loss
	d.dReal = j.Mean()
	d.phase = PhaseRealDone
	return loss, nil
}

// TrainOneStepFake accumulates the loss of j against target "fake".
func (d *Discriminator) TrainOneStepFake(j *Judgement) (float64, error) {
	if err := d.expect(PhaseRealDone, j); err != nil {
		return 0, err
	}
	loss, grad := nn.BCE(j.Output, 0)
	d.net.Backward(j.traces, grad, true)
	d.lossFake = loss
	d.dFake = j.Mean()
	d.phase = PhaseFakeDone
	return loss, nil
}

// CombineAndUpdateOpt applies one optimizer step with the accumulated gradients and
// closes the transaction. Judgements made before it are stale afterwards.
func (d *Discriminator) CombineAndUpdateOpt() (Update, error) {
	if d.phase != PhaseFakeDone {
		return Update{}, fmt.Errorf("%w: combine in phase %s, want %s", ErrProtocolOrder, d.phase, PhaseFakeDone)
	}
	u := Update{
		LossReal: d.lossReal,
		LossFake: d.lossFake,
		Loss:     d.lossReal + d.lossFake,
		GradNorm: d.net.GradNorm(),
	}
	if err := d.opt.Step(d.net.Params(), d.net.Grads()); err != nil {
		return Update{}, err
	}
	d.version++
	d.phase = PhaseIdle
	return u, nil
}

// Abort drops a half-finished transaction without touching the parameters.
func (d *Discriminator) Abort() {
	d.net.ZeroGrad()
	d.phase = PhaseIdle
}

func (d *Discriminator) expect(want Phase, j *Judgement) error {
	if d.phase != want {
		return fmt.Errorf("%w: phase %s, want %s", ErrProtocolOrder, d.phase, want)
	}
	return d.checkJudgement(j)
}

func (d *Discriminator) checkJudgement(j *Judgement) error {
	if j == nil || j.owner != d {
		return ErrForeignJudgement
	}
	if j.version != d.version {
		return fmt.Errorf("%w: made at version %d, now %d", ErrStaleJudgement, j.version, d.version)
	}
	return nil
}

// inputGradient back-propagates the loss of j against target into the record columns
// of the discriminator input, leaving parameter gradients alone.
func (d *Discriminator) inputGradient(j *Judgement, target float64) (*mat.Dense, error) {
	if d.phase != PhaseIdle {
		return nil, fmt.Errorf("%w: generator step in phase %s", ErrProtocolOrder, d.phase)
	}
	if err := d.checkJudgement(j); err != nil {
		return nil, err
	}
	_, grad := nn.BCE(j.Output, target)
	gradIn := d.net.Backward(j.traces, grad, false)
	rows, _ := gradIn.Dims()
	out := mat.NewDense(rows, d.cfg.RecordDim, nil)
	out.Copy(gradIn.Slice(0, rows, 0, d.cfg.RecordDim))
	return out, nil
}

// #endregion discriminator
