package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/csdgan/trainer/internal/eval"
	"github.com/csdgan/trainer/internal/gan"
	"github.com/csdgan/trainer/internal/labels"
	"github.com/csdgan/trainer/internal/selector"
	"github.com/csdgan/trainer/internal/trainer"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// #endregion

// #region orchestrator-struct

// Orchestrator owns the outer epoch loop: train, evaluate on cadence, keep the best
// checkpoint, stop.
type Orchestrator struct {
	cfg       Config
	trainer   *trainer.Trainer
	evaluator *eval.Evaluator
	selector  *selector.Selector
	observers []Observer
	log       *zap.Logger
	tracer    trace.Tracer
	ran       bool
}

// #endregion

// #region constructor

// New wires an orchestrator. A nil logger discards output.
func New(cfg Config, tr *trainer.Trainer, ev *eval.Evaluator, sel *selector.Selector, logger *zap.Logger, observers ...Observer) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if tr == nil || ev == nil || sel == nil {
		return nil, fmt.Errorf("%w: trainer, evaluator and selector are required", ErrConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		trainer:   tr,
		evaluator: ev,
		selector:  sel,
		observers: observers,
		log:       logger.Named("orchestrator"),
		tracer:    otel.Tracer("github.com/csdgan/trainer/internal/orchestrator"),
	}, nil
}

// #endregion

// #region train

// Train runs the configured number of epochs against p. The Outcome is returned on
// error too, carrying the history up to the failure. An Orchestrator trains once.
func (o *Orchestrator) Train(ctx context.Context, p Provider) (*Outcome, error) {
	if o.ran {
		return nil, ErrAlreadyRan
	}
	o.ran = true
	runID := uuid.New().String()
	log := o.log.With(zap.String("run_id", runID))
	ctx, span := o.tracer.Start(ctx, "orchestrator.Train", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.epochs", o.cfg.Epochs),
	))
	defer span.End()

	out := &Outcome{RunID: runID, Status: StatusRunning, Baseline: math.NaN()}
	testX, testY := p.Holdout()
	dist := p.Distribution()

	if o.cfg.Baseline {
		if ts, ok := p.(trainingSet); ok {
			x, y := ts.Train()
			score, err := o.evaluator.Baseline(ctx, x, y, testX, testY)
			if err != nil {
				log.Warn("baseline failed", zap.Error(err))
			} else {
				out.Baseline = score
				log.Info("baseline", zap.Float64("score", score))
			}
		}
	}
	o.notify(log, func(obs Observer) error {
		return obs.RunStarted(ctx, RunInfo{ID: runID, StartedAt: time.Now().UTC(), Config: o.cfg.Run, Baseline: out.Baseline})
	})

	err := o.loop(ctx, log, runID, p, testX, testY, dist, out)
	out.History = o.trainer.History().Entries()
	out.Best = o.selector.Best()

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		out.Status = StatusCancelled
	case err != nil:
		out.Status = StatusFailed
	case out.StoppedEarly:
		out.Status = StatusStoppedEarly
	default:
		out.Status = StatusCompleted
	}

	if err == nil {
		if out.Best == nil {
			err = fmt.Errorf("run %s: %w", runID, ErrNoCheckpoint)
		} else if out.Generator, err = gan.NewGeneratorFromSnapshot(out.Best.Snapshot, o.cfg.Seed); err != nil {
			err = fmt.Errorf("run %s: rebuild best generator: %w", runID, err)
		}
		if err != nil {
			out.Status = StatusFailed
		}
	}

	o.notify(log, func(obs Observer) error {
		return obs.RunFinished(context.WithoutCancel(ctx), runID, out.Status, err)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("run failed", zap.String("status", string(out.Status)), zap.Error(err))
		return out, err
	}

	log.Info("run finished",
		zap.String("status", string(out.Status)),
		zap.Int("epochs", len(out.History)),
		zap.Int("best_epoch", out.Best.Epoch),
		zap.Float64("best_score", out.Best.Score),
	)
	return out, nil
}

func (o *Orchestrator) loop(ctx context.Context, log *zap.Logger, runID string, p Provider, testX *mat.Dense, testY []int, dist labels.Distribution, out *Outcome) error {
	stale := 0
	for epoch := 0; epoch < o.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run %s epoch %d: %w", runID, epoch, err)
		}
		batches, err := p.Batches(epoch)
		if err != nil {
			return fmt.Errorf("run %s epoch %d: batches: %w", runID, epoch, err)
		}
		stats, err := o.trainer.RunEpoch(ctx, epoch, batches)
		if err != nil {
			return fmt.Errorf("run %s epoch %d: %w", runID, epoch, err)
		}
		o.notify(log, func(obs Observer) error { return obs.EpochFinished(ctx, runID, stats) })

		if (epoch+1)%o.cfg.EvalEvery != 0 && epoch != o.cfg.Epochs-1 {
			continue
		}

		snap := o.trainer.Generator().Snapshot()
		res, err := o.evaluator.Evaluate(ctx, eval.FromSnapshot(snap), nil, testX, testY, dist)
		if err != nil {
			return fmt.Errorf("run %s epoch %d: evaluate: %w", runID, epoch, err)
		}
		res.Epoch = epoch
		out.Evaluations = append(out.Evaluations, res)

		d := o.selector.Consider(res, epoch, snap)
		log.Info("evaluated",
			zap.Int("epoch", epoch),
			zap.Float64s("scores", res.Values()),
			zap.Float64("score", d.Aggregate),
			zap.String("action", string(d.Action)),
			zap.String("reason", d.Reason),
		)
		o.notify(log, func(obs Observer) error { return obs.Evaluated(ctx, runID, res, d) })

		if d.Promoted {
			stale = 0
			continue
		}
		stale++
		if o.cfg.Patience > 0 && stale >= o.cfg.Patience {
			log.Info("early stop", zap.Int("epoch", epoch), zap.Int("patience", o.cfg.Patience))
			out.StoppedEarly = true
			return nil
		}
	}
	return nil
}

// #endregion

// #region observers

func (o *Orchestrator) notify(log *zap.Logger, fn func(Observer) error) {
	for _, obs := range o.observers {
		if err := fn(obs); err != nil {
			log.Warn("observer failed", zap.String("observer", fmt.Sprintf("%T", obs)), zap.Error(err))
		}
	}
}

// #endregion
