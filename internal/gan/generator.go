package gan

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/csdgan/trainer/internal/layout"
	"github.com/csdgan/trainer/internal/nn"
	"gonum.org/v1/gonum/mat"
)

// #region errors
var (
	ErrConfig           = errors.New("gan: invalid network config")
	ErrShape            = errors.New("gan: batch shape mismatch")
	ErrProtocolOrder    = errors.New("gan: discriminator update called out of order")
	ErrStaleJudgement   = errors.New("gan: judgement was made before the last discriminator update")
	ErrSampleMismatch   = errors.New("gan: judgement does not belong to this sample")
	ErrForeignJudgement = errors.New("gan: judgement was made by another discriminator")
)

// #endregion errors

// #region config

// NoiseKind selects the latent distribution.
type NoiseKind string

const (
	NoiseNormal  NoiseKind = "normal"
	NoiseUniform NoiseKind = "uniform"
)

// GeneratorConfig describes the generator network.
type GeneratorConfig struct {
	NoiseDim         int               `json:"noise_dim"`
	LabelDim         int               `json:"label_dim"`
	Hidden           []int             `json:"hidden"`
	LeakySlope       float64           `json:"leaky_slope"`
	HiddenActivation string            `json:"hidden_activation"`
	InitRange        float64           `json:"init_range"`
	Noise            NoiseKind         `json:"noise"`
	Activation       layout.Activation `json:"activation"`
	Adam             nn.AdamConfig     `json:"adam"`
	Seed             int64             `json:"seed"`
}

// DefaultGeneratorConfig is three hidden layers of 32 with LeakyReLU(0.2).
func DefaultGeneratorConfig(noiseDim, labelDim int) GeneratorConfig {
	return GeneratorConfig{
		NoiseDim:   noiseDim,
		LabelDim:   labelDim,
		Hidden:     []int{32, 32, 32},
		LeakySlope: 0.2,
		InitRange:  0.5,
		Noise:      NoiseNormal,
		Activation: layout.ActivationNone,
		Adam:       nn.DefaultAdam(),
	}
}

func (c GeneratorConfig) validate() error {
	if c.NoiseDim <= 0 {
		return fmt.Errorf("%w: noise dim %d", ErrConfig, c.NoiseDim)
	}
	if c.LabelDim <= 0 {
		return fmt.Errorf("%w: label dim %d", ErrConfig, c.LabelDim)
	}
	switch c.Noise {
	case "", NoiseNormal, NoiseUniform:
	default:
		return fmt.Errorf("%w: noise %q", ErrConfig, c.Noise)
	}
	if c.InitRange <= 0 {
		return fmt.Errorf("%w: init range %v", ErrConfig, c.InitRange)
	}
	if _, err := nn.ActivationByName(c.HiddenActivation, c.LeakySlope); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

// #endregion config

// #region generator

// Generator maps (noise, label) to records shaped by a layout codec.
type Generator struct {
	cfg   GeneratorConfig
	net   *nn.Network
	codec *layout.Codec
	opt   *nn.Adam
	rng   *rand.Rand
}

// Sample is one generated batch plus what backpropagation needs.
type Sample struct {
	Noise   *mat.Dense
	Labels  *mat.Dense
	Records *mat.Dense
	traces  []nn.Trace
}

// Rows is the batch size.
func (s *Sample) Rows() int {
	r, _ := s.Records.Dims()
	return r
}

// NewGenerator builds and initialises a generator whose output conforms to l.
func NewGenerator(cfg GeneratorConfig, l *layout.Layout) (*Generator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	codec, err := layout.NewCodec(l, cfg.Activation)
	if err != nil {
		return nil, fmt.Errorf("gan: generator codec: %w", err)
	}
	cfg.Activation = codec.Activation()
	if cfg.Noise == "" {
		cfg.Noise = NoiseNormal
	}
	cfg.Hidden = append([]int(nil), cfg.Hidden...)

	widths := append([]int{cfg.NoiseDim + cfg.LabelDim}, cfg.Hidden...)
	widths = append(widths, l.Width())
	hidden, _ := nn.ActivationByName(cfg.HiddenActivation, cfg.LeakySlope)
	net, err := nn.NewNetwork("generator", widths, hidden, nn.Identity{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	net.Init(nn.Uniform{Range: cfg.InitRange}, rng)

	return &Generator{
		cfg:   cfg,
		net:   net,
		codec: codec,
		opt:   nn.NewAdam(cfg.Adam, net.Params()),
		rng:   rng,
	}, nil
}

// Config returns the normalised configuration.
func (g *Generator) Config() GeneratorConfig { return g.cfg }

// Layout is the output layout.
func (g *Generator) Layout() *layout.Layout { return g.codec.Layout() }

// Layers exposes the layer registry.
func (g *Generator) Layers() []*nn.Dense { return g.net.Layers() }

// Network exposes the underlying network for norm reporting.
func (g *Generator) Network() *nn.Network { return g.net }

// SampleNoise draws an n x NoiseDim latent batch from the generator's own RNG.
func (g *Generator) SampleNoise(n int) *mat.Dense {
	return sampleNoise(g.rng, g.cfg.Noise, n, g.cfg.NoiseDim)
}

func sampleNoise(rng *rand.Rand, kind NoiseKind, n, dim int) *mat.Dense {
	m := mat.NewDense(n, dim, nil)
	raw := m.RawMatrix().Data
	for i := range raw {
		if kind == NoiseUniform {
			raw[i] = rng.Float64()*2 - 1
		} else {
			raw[i] = rng.NormFloat64()
		}
	}
	return m
}

// Generate runs the network on noise and one-hot labels and applies the codec.
func (g *Generator) Generate(noise, labels *mat.Dense) (*Sample, error) {
	nr, nc := noise.Dims()
	lr, lc := labels.Dims()
	if nr == 0 || nr != lr {
		return nil, fmt.Errorf("%w: %d noise rows, %d label rows", ErrShape, nr, lr)
	}
	if nc != g.cfg.NoiseDim || lc != g.cfg.LabelDim {
		return nil, fmt.Errorf("%w: noise %d (want %d), labels %d (want %d)", ErrShape, nc, g.cfg.NoiseDim, lc, g.cfg.LabelDim)
	}
	var in mat.Dense
	in.Augment(noise, labels)
	raw, traces, err := g.net.Forward(&in)
	if err != nil {
		return nil, err
	}
	records, err := g.codec.ApplyBatch(raw)
	if err != nil {
		return nil, err
	}
	return &Sample{Noise: noise, Labels: labels, Records: records, traces: traces}, nil
}

// TrainOneStep takes one optimizer step against target "real". j must be the current
// discriminator's judgement of s.Records, made after its update for this batch.
// The discriminator's parameter gradients are not modified.
func (g *Generator) TrainOneStep(j *Judgement, s *Sample, d *Discriminator) (float64, error) {
	if j == nil {
		return 0, ErrForeignJudgement
	}
	if s == nil || j.records != s.Records {
		return 0, ErrSampleMismatch
	}
	gradRecords, err := d.inputGradient(j, 1)
	if err != nil {
		return 0, err
	}
	g.net.ZeroGrad()
	gradRaw := g.codec.Backward(s.Records, gradRecords)
	g.net.Backward(s.traces, gradRaw, true)
	loss, _ := nn.BCE(j.Output, 1)
	if err := g.opt.Step(g.net.Params(), g.net.Grads()); err != nil {
		return 0, err
	}
	return loss, nil
}

// Snapshot returns a frozen deep copy of the parameters.
func (g *Generator) Snapshot() *Snapshot {
	return &Snapshot{
		Config: g.cfg,
		Layout: g.codec.Layout().Columns(),
		Params: g.net.CopyParams(),
	}
}

// #endregion generator
