package trainer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/csdgan/trainer/internal/dataset"
	"github.com/csdgan/trainer/internal/gan"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// #region trainer-struct

// Config controls progress logging.
type Config struct {
	PrintEvery int // log an epoch summary every N epochs; 0 disables
	Epochs     int // total epochs, used only to label the last epoch in logs
}

// Trainer owns one generator/discriminator pair and advances them one adversarial step
// per batch. It is driven from a single goroutine.
type Trainer struct {
	cfg     Config
	gen     *gan.Generator
	disc    *gan.Discriminator
	state   State
	history *History
	log     *zap.Logger
	tracer  trace.Tracer
}

// New wires a trainer. A nil logger discards output.
func New(cfg Config, gen *gan.Generator, disc *gan.Discriminator, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{
		cfg:     cfg,
		gen:     gen,
		disc:    disc,
		state:   AwaitingBatch,
		history: &History{},
		log:     logger.Named("trainer"),
		tracer:  otel.Tracer("github.com/csdgan/trainer/internal/trainer"),
	}
}

// State reports the current position in the adversarial step.
func (t *Trainer) State() State { return t.state }

// History is the per-epoch record.
func (t *Trainer) History() *History { return t.history }

// Generator is the live generator. Callers that hand it to other goroutines must
// snapshot it first.
func (t *Trainer) Generator() *gan.Generator { return t.gen }

// Discriminator is the live discriminator.
func (t *Trainer) Discriminator() *gan.Discriminator { return t.disc }

// #endregion trainer-struct

// #region run-epoch

type stepStats struct {
	lossG, lossD float64
	dFakeAfter   float64
}

// RunEpoch runs one adversarial step per batch and appends the epoch to the history.
func (t *Trainer) RunEpoch(ctx context.Context, epoch int, batches []dataset.Batch) (EpochStats, error) {
	if len(batches) == 0 {
		return EpochStats{}, fmt.Errorf("%w: epoch %d", ErrNoBatches, epoch)
	}
	_, span := t.tracer.Start(ctx, "trainer.RunEpoch", trace.WithAttributes(
		attribute.Int("epoch", epoch),
		attribute.Int("steps", len(batches)),
	))
	defer span.End()

	start := time.Now()
	var sumG, sumD float64
	var last stepStats
	for step, b := range batches {
		if err := ctx.Err(); err != nil {
			return EpochStats{}, err
		}
		if b.Records == nil || b.Rows() == 0 {
			return EpochStats{}, fmt.Errorf("%w: epoch %d step %d", ErrEmptyBatch, epoch, step)
		}
		st, err := t.step(epoch, step, b)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			t.disc.Abort()
			t.state = AwaitingBatch
			return EpochStats{}, err
		}
		sumG += st.lossG
		sumD += st.lossD
		last = st
	}

	gNet, dNet := t.gen.Network(), t.disc.Network()
	stats := EpochStats{
		Epoch:             epoch,
		Steps:             len(batches),
		GeneratorLoss:     sumG / float64(len(batches)),
		DiscriminatorLoss: sumD / float64(len(batches)),
		GeneratorGrad:     gNet.GradNorm(),
		DiscriminatorGrad: dNet.GradNorm(),
		GeneratorWeight:   gNet.WeightNorm(),
		DiscrimWeight:     dNet.WeightNorm(),
		GeneratorLayers:   gNet.LayerNorms(),
		DiscrimLayers:     dNet.LayerNorms(),
		DReal:             t.disc.DReal(),
		DFake:             t.disc.DFake(),
		DFakeAfter:        last.dFakeAfter,
		Duration:          time.Since(start),
	}
	t.history.Append(stats)
	span.SetAttributes(
		attribute.Float64("loss_g", stats.GeneratorLoss),
		attribute.Float64("loss_d", stats.DiscriminatorLoss),
	)

	if t.cfg.PrintEvery > 0 && (epoch%t.cfg.PrintEvery == 0 || epoch == t.cfg.Epochs-1) {
		t.log.Info("epoch",
			zap.Int("epoch", epoch),
			zap.Float64("loss_d", stats.DiscriminatorLoss),
			zap.Float64("loss_g", stats.GeneratorLoss),
			zap.Float64("d_real", stats.DReal),
			zap.Float64("d_fake", stats.DFake),
			zap.Float64("d_fake_after", stats.DFakeAfter),
		)
	}
	return stats, nil
}

// #endregion run-epoch

// #region step

// step is one pass through the state machine:
// real update, fake update, combined optimizer step, generator step.
func (t *Trainer) step(epoch, step int, b dataset.Batch) (stepStats, error) {
	diverged := func(network string, v float64) error {
		return &DivergenceError{Epoch: epoch, Step: step, Phase: t.state, Network: network, Value: v}
	}

	t.state = DiscriminatorReal
	rj, err := t.disc.Discriminate(b.Records, b.Labels)
	if err != nil {
		return stepStats{}, fmt.Errorf("discriminate real: %w", err)
	}
	if _, err := t.disc.TrainOneStepReal(rj); err != nil {
		return stepStats{}, err
	}

	t.state = DiscriminatorFake
	sample, err := t.gen.Generate(t.gen.SampleNoise(b.Rows()), b.Labels)
	if err != nil {
		return stepStats{}, fmt.Errorf("generate: %w", err)
	}
	fj, err := t.disc.Discriminate(sample.Records, b.Labels)
	if err != nil {
		return stepStats{}, fmt.Errorf("discriminate fake: %w", err)
	}
	if _, err := t.disc.TrainOneStepFake(fj); err != nil {
		return stepStats{}, err
	}

	t.state = DiscriminatorOpt
	if g := t.disc.Network().GradNorm(); !finite(g) {
		return stepStats{}, diverged("discriminator", g)
	}
	upd, err := t.disc.CombineAndUpdateOpt()
	if err != nil {
		return stepStats{}, err
	}
	if !finite(upd.Loss) {
		return stepStats{}, diverged("discriminator", upd.Loss)
	}

	t.state = GeneratorStep
	aj, err := t.disc.Discriminate(sample.Records, b.Labels)
	if err != nil {
		return stepStats{}, fmt.Errorf("discriminate generator batch: %w", err)
	}
	lossG, err := t.gen.TrainOneStep(aj, sample, t.disc)
	if err != nil {
		return stepStats{}, err
	}
	if !finite(lossG) {
		return stepStats{}, diverged("generator", lossG)
	}
	if g := t.gen.Network().GradNorm(); !finite(g) {
		return stepStats{}, diverged("generator", g)
	}

	t.state = AwaitingBatch
	return stepStats{lossG: lossG, lossD: upd.Loss, dFakeAfter: aj.Mean()}, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// #endregion step
