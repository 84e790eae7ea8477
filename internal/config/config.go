package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/csdgan/trainer/internal/classifier"
	"github.com/csdgan/trainer/internal/dataset"
	"github.com/csdgan/trainer/internal/eval"
	"github.com/csdgan/trainer/internal/gan"
	"github.com/csdgan/trainer/internal/labels"
	"github.com/csdgan/trainer/internal/layout"
	"github.com/csdgan/trainer/internal/nn"
	"github.com/csdgan/trainer/internal/orchestrator"
	"github.com/csdgan/trainer/internal/selector"
	"github.com/csdgan/trainer/internal/trainer"
)

var ErrInvalid = errors.New("config: invalid")

// #region config-types

// Config is the top-level JSON structure for one training run.
type Config struct {
	Description string          `json:"description"`
	Data        DataConfig      `json:"data"`
	Model       ModelConfig     `json:"model"`
	Train       TrainConfig     `json:"train"`
	Eval        EvalConfig      `json:"eval"`
	Selection   SelectionConfig `json:"selection"`
	Services    ServicesConfig  `json:"services"`
}

// DataConfig locates the CSV and says how to split it.
type DataConfig struct {
	Path         string          `json:"path"`
	Label        string          `json:"label"`
	Fields       []dataset.Field `json:"fields,omitempty"`
	TestFraction float64         `json:"test_fraction"`
	TestSize     int             `json:"test_size,omitempty"` // row count, overrides test_fraction
	BatchSize    int             `json:"batch_size"`          // 0 trains on the full set each step
	Shuffle      bool            `json:"shuffle"`
	Seed         int64           `json:"seed"`
}

// AdamConfig mirrors nn.AdamConfig with JSON tags.
type AdamConfig struct {
	LR          float64 `json:"lr"`
	Beta1       float64 `json:"beta1"`
	Beta2       float64 `json:"beta2"`
	WeightDecay float64 `json:"weight_decay"`
}

// ModelConfig describes both networks.
type ModelConfig struct {
	NoiseDim            int        `json:"noise_dim"`
	GeneratorHidden     []int      `json:"generator_hidden"`
	DiscriminatorHidden []int      `json:"discriminator_hidden"`
	HiddenActivation    string     `json:"hidden_activation"`
	LeakySlope          float64    `json:"leaky_slope"`
	InitRange           float64    `json:"init_range"`
	Noise               string     `json:"noise"`
	Activation          string     `json:"activation"` // continuous output columns
	GeneratorAdam       AdamConfig `json:"generator_adam"`
	DiscriminatorAdam   AdamConfig `json:"discriminator_adam"`
	Seed                int64      `json:"seed"`
}

// TrainConfig is the outer loop policy.
type TrainConfig struct {
	Epochs     int  `json:"epochs"`
	EvalEvery  int  `json:"eval_every"`
	Patience   int  `json:"patience"`
	PrintEvery int  `json:"print_every"`
	Baseline   bool `json:"baseline"`
}

// EvalConfig mirrors eval.Config with a flattened classifier grid.
type EvalConfig struct {
	Sizes       []int     `json:"sizes"`
	BatchSize   int       `json:"batch_size"`
	Mode        string    `json:"mode"`
	Tol         []float64 `json:"tol"`
	C           []float64 `json:"C"`
	L1Ratio     []float64 `json:"l1_ratio"`
	Folds       int       `json:"folds"`
	Parallelism int       `json:"parallelism"`
	MaxIter     int       `json:"max_iter"`
	SimplexTol  float64   `json:"simplex_tol"`
	Seed        int64     `json:"seed"`
}

// SelectionConfig mirrors selector.Config.
type SelectionConfig struct {
	Reducer string `json:"reducer"`
}

// ServicesConfig holds the endpoints a run talks to. Empty values disable the service.
type ServicesConfig struct {
	DB            string `json:"db"`
	ScorerAddr    string `json:"scorer_addr"`
	ScorerTimeout string `json:"scorer_timeout"`
	MetricsAddr   string `json:"metrics_addr"`
	NATSURL       string `json:"nats_url"`
	NATSPrefix    string `json:"nats_prefix"`
	OTLPEndpoint  string `json:"otlp_endpoint"`
}

// #endregion config-types

// #region defaults

// Default is the wine setup: 64 noise dims, one hidden layer of 32 in each network,
// Adam at 2e-4 and full-batch steps.
func Default() Config {
	adam := AdamConfig{LR: 2e-4, Beta1: 0.5, Beta2: 0.999}
	grid := classifier.DefaultGrid()
	return Config{
		Data: DataConfig{
			Label:        "class",
			TestFraction: 0.5,
			Seed:         999,
		},
		Model: ModelConfig{
			NoiseDim:            64,
			GeneratorHidden:     []int{32},
			DiscriminatorHidden: []int{32},
			HiddenActivation:    "leaky_relu",
			LeakySlope:          0.2,
			InitRange:           0.5,
			Noise:               string(gan.NoiseNormal),
			Activation:          string(layout.ActivationNone),
			GeneratorAdam:       adam,
			DiscriminatorAdam:   adam,
			Seed:                999,
		},
		Train: TrainConfig{
			Epochs:     10000,
			EvalEvery:  1000,
			PrintEvery: 1000,
			Baseline:   true,
		},
		Eval: EvalConfig{
			Sizes:       []int{90, 180, 360, 720, 1440},
			Mode:        string(labels.SamplingProportional),
			Tol:         grid.Tol,
			C:           grid.C,
			L1Ratio:     grid.L1Ratio,
			Folds:       5,
			Parallelism: 1,
			SimplexTol:  1e-6,
			Seed:        999,
		},
		Selection: SelectionConfig{Reducer: string(selector.ReduceLargest)},
		Services: ServicesConfig{
			DB:            "csdgan.db",
			ScorerTimeout: "30s",
			NATSPrefix:    "csdgan",
		},
	}
}

// #endregion defaults

// #region loader

// Load reads path over the defaults and applies environment overrides.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.ApplyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Parse decodes a config recorded with a run. Environment overrides are not applied.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyEnv overrides service endpoints from the environment.
func (c *Config) ApplyEnv() {
	c.Services.DB = envOr("CSDGAN_DB", c.Services.DB)
	c.Services.ScorerAddr = envOr("CSDGAN_SCORER_ADDR", c.Services.ScorerAddr)
	c.Services.MetricsAddr = envOr("CSDGAN_METRICS_ADDR", c.Services.MetricsAddr)
	c.Services.NATSURL = envOr("NATS_URL", c.Services.NATSURL)
	c.Services.OTLPEndpoint = envOr("OTEL_EXPORTER_OTLP_ENDPOINT", c.Services.OTLPEndpoint)
}

// Validate checks the fields no downstream constructor sees before training starts.
func (c *Config) Validate() error {
	if c.Data.Path == "" {
		return fmt.Errorf("%w: data path is empty", ErrInvalid)
	}
	if c.Data.Label == "" {
		return fmt.Errorf("%w: label column is empty", ErrInvalid)
	}
	switch {
	case c.Data.TestSize < 0:
		return fmt.Errorf("%w: test size %d", ErrInvalid, c.Data.TestSize)
	case c.Data.TestSize == 0 && (c.Data.TestFraction <= 0 || c.Data.TestFraction >= 1):
		return fmt.Errorf("%w: test fraction %v", ErrInvalid, c.Data.TestFraction)
	}
	if c.Model.NoiseDim <= 0 {
		return fmt.Errorf("%w: noise dim %d", ErrInvalid, c.Model.NoiseDim)
	}
	if _, err := nn.ActivationByName(c.Model.HiddenActivation, c.Model.LeakySlope); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch layout.Activation(c.Model.Activation) {
	case "", layout.ActivationNone, layout.ActivationTanh:
	default:
		return fmt.Errorf("%w: output activation %q", ErrInvalid, c.Model.Activation)
	}
	if c.Train.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be positive", ErrInvalid)
	}
	if c.Train.EvalEvery <= 0 {
		return fmt.Errorf("%w: eval_every must be positive", ErrInvalid)
	}
	if c.Train.Patience < 0 {
		return fmt.Errorf("%w: patience must not be negative", ErrInvalid)
	}
	if len(c.Eval.Sizes) == 0 {
		return fmt.Errorf("%w: no evaluation sizes", ErrInvalid)
	}
	for _, s := range c.Eval.Sizes {
		if s <= 0 {
			return fmt.Errorf("%w: evaluation size %d", ErrInvalid, s)
		}
	}
	if !labels.SamplingMode(c.Eval.Mode).Valid() {
		return fmt.Errorf("%w: sampling mode %q", ErrInvalid, c.Eval.Mode)
	}
	if len(c.Eval.Tol) == 0 || len(c.Eval.C) == 0 || len(c.Eval.L1Ratio) == 0 {
		return fmt.Errorf("%w: classifier grid has an empty axis", ErrInvalid)
	}
	if !selector.Reducer(c.Selection.Reducer).Valid() {
		return fmt.Errorf("%w: reducer %q", ErrInvalid, c.Selection.Reducer)
	}
	if _, err := c.ScorerTimeout(); err != nil {
		return fmt.Errorf("%w: scorer timeout: %v", ErrInvalid, err)
	}
	return nil
}

// JSON is the canonical encoding recorded with each run.
func (c *Config) JSON() json.RawMessage {
	data, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	return data
}

// #endregion loader

// #region converters

// ToOptions converts the data section to dataset options.
func (c *Config) ToOptions() dataset.Options {
	return dataset.Options{
		Schema:       dataset.Schema{Label: c.Data.Label, Fields: c.Data.Fields},
		TestFraction: c.Data.TestFraction,
		TestSize:     c.Data.TestSize,
		BatchSize:    c.Data.BatchSize,
		Shuffle:      c.Data.Shuffle,
		Seed:         c.Data.Seed,
	}
}

func (a AdamConfig) toAdam() nn.AdamConfig {
	out := nn.DefaultAdam()
	out.LR = a.LR
	out.Beta1 = a.Beta1
	out.Beta2 = a.Beta2
	out.WeightDecay = a.WeightDecay
	return out
}

// ToGeneratorConfig converts the model section for a generator conditioned on labelDim classes.
func (c *Config) ToGeneratorConfig(labelDim int) gan.GeneratorConfig {
	return gan.GeneratorConfig{
		NoiseDim:         c.Model.NoiseDim,
		LabelDim:         labelDim,
		Hidden:           append([]int(nil), c.Model.GeneratorHidden...),
		LeakySlope:       c.Model.LeakySlope,
		HiddenActivation: c.Model.HiddenActivation,
		InitRange:        c.Model.InitRange,
		Noise:            gan.NoiseKind(c.Model.Noise),
		Activation:       layout.Activation(c.Model.Activation),
		Adam:             c.Model.GeneratorAdam.toAdam(),
		Seed:             c.Model.Seed,
	}
}

// ToDiscriminatorConfig converts the model section for records of width recordDim.
func (c *Config) ToDiscriminatorConfig(recordDim, labelDim int) gan.DiscriminatorConfig {
	return gan.DiscriminatorConfig{
		RecordDim:        recordDim,
		LabelDim:         labelDim,
		Hidden:           append([]int(nil), c.Model.DiscriminatorHidden...),
		LeakySlope:       c.Model.LeakySlope,
		HiddenActivation: c.Model.HiddenActivation,
		InitRange:        c.Model.InitRange,
		Adam:             c.Model.DiscriminatorAdam.toAdam(),
		Seed:             c.Model.Seed + 1,
	}
}

// ToTrainerConfig converts the progress logging settings.
func (c *Config) ToTrainerConfig() trainer.Config {
	return trainer.Config{PrintEvery: c.Train.PrintEvery, Epochs: c.Train.Epochs}
}

// ToOrchestratorConfig converts the outer loop policy and records the whole config.
func (c *Config) ToOrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		Epochs:    c.Train.Epochs,
		EvalEvery: c.Train.EvalEvery,
		Patience:  c.Train.Patience,
		Baseline:  c.Train.Baseline,
		Seed:      c.Eval.Seed,
		Run:       c.JSON(),
	}
}

// ToEvalConfig converts the evaluation section.
func (c *Config) ToEvalConfig() eval.Config {
	return eval.Config{
		Sizes:     append([]int(nil), c.Eval.Sizes...),
		BatchSize: c.Eval.BatchSize,
		Mode:      labels.SamplingMode(c.Eval.Mode),
		Grid: classifier.Grid{
			Tol:     append([]float64(nil), c.Eval.Tol...),
			C:       append([]float64(nil), c.Eval.C...),
			L1Ratio: append([]float64(nil), c.Eval.L1Ratio...),
		},
		Folds:       c.Eval.Folds,
		Parallelism: c.Eval.Parallelism,
		SimplexTol:  c.Eval.SimplexTol,
		Seed:        c.Eval.Seed,
	}
}

// ToClassifier is the in-process logistic regression used when no scorer is configured.
func (c *Config) ToClassifier() classifier.LogisticRegression {
	return classifier.LogisticRegression{MaxIter: c.Eval.MaxIter, Parallelism: c.Eval.Parallelism}
}

// ToSelectorConfig converts the selection section.
func (c *Config) ToSelectorConfig() selector.Config {
	return selector.Config{Reducer: selector.Reducer(c.Selection.Reducer)}
}

// ScorerTimeout parses the remote scorer deadline. Empty means no deadline.
func (c *Config) ScorerTimeout() (time.Duration, error) {
	if c.Services.ScorerTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Services.ScorerTimeout)
}

// #endregion converters

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
