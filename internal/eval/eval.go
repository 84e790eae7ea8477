package eval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/csdgan/trainer/internal/classifier"
	"github.com/csdgan/trainer/internal/gan"
	"github.com/csdgan/trainer/internal/labels"
	"github.com/csdgan/trainer/internal/layout"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// #region sampler

// Sampler produces one record per class index.
type Sampler interface {
	GenerateFor(idx []int, chunk int) (*mat.Dense, error)
	Layout() *layout.Layout
}

// Source builds an independent sampler for one evaluation worker.
type Source func(seed int64) (Sampler, error)

// FromSnapshot rebuilds a frozen generator per worker, never sharing the live one.
func FromSnapshot(s *gan.Snapshot) Source {
	return func(seed int64) (Sampler, error) {
		return gan.NewGeneratorFromSnapshot(s, seed)
	}
}

type releaser interface {
	Release(ctx context.Context, model classifier.Model) error
}

// #endregion sampler

// #region evaluator

// Evaluator measures how well a classifier trained on synthetic rows scores on real
// holdout rows, at several synthetic sample sizes.
//
// The seed of size i is Seed+i*7919 at every evaluation, so successive checkpoints are
// scored on the same sampled labels and noise and differ only in their parameters.
type Evaluator struct {
	cfg    Config
	clf    classifier.Classifier
	log    *zap.Logger
	tracer trace.Tracer
}

// NewEvaluator wires an evaluator. A nil logger discards output.
func NewEvaluator(cfg Config, clf classifier.Classifier, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &Evaluator{
		cfg:    cfg,
		clf:    clf,
		log:    logger.Named("eval"),
		tracer: otel.Tracer("github.com/csdgan/trainer/internal/eval"),
	}
}

// Config returns the evaluator configuration.
func (e *Evaluator) Config() Config { return e.cfg }

// Evaluate scores every size. sizes nil means the configured sizes. Fit or score
// failures become NaN entries; a record that breaks the layout is fatal.
func (e *Evaluator) Evaluate(ctx context.Context, src Source, sizes []int, testX *mat.Dense, testY []int, dist labels.Distribution) (Result, error) {
	if sizes == nil {
		sizes = e.cfg.Sizes
	}
	if len(sizes) == 0 {
		return Result{}, fmt.Errorf("%w: no sizes", ErrBadSize)
	}
	for _, s := range sizes {
		if s <= 0 {
			return Result{}, fmt.Errorf("%w: %d", ErrBadSize, s)
		}
	}
	if testX == nil || len(testY) == 0 {
		return Result{}, ErrNoHoldout
	}

	ctx, span := e.tracer.Start(ctx, "eval.Evaluate", trace.WithAttributes(
		attribute.IntSlice("eval.sizes", sizes),
		attribute.String("eval.mode", string(e.cfg.Mode)),
	))
	defer span.End()

	scores := make([]SizeScore, len(sizes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for i, size := range sizes {
		g.Go(func() error {
			s, err := e.evaluateSize(gctx, src, i, size, testX, testY, dist)
			scores[i] = s
			return err
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	return NewResult(0, scores), nil
}

func (e *Evaluator) evaluateSize(ctx context.Context, src Source, i, size int, testX *mat.Dense, testY []int, dist labels.Distribution) (SizeScore, error) {
	ctx, span := e.tracer.Start(ctx, "eval.size", trace.WithAttributes(attribute.Int("eval.size", size)))
	defer span.End()

	seed := e.cfg.Seed + int64(i)*7919
	sampler, err := src(seed)
	if err != nil {
		return SizeScore{}, fmt.Errorf("eval sampler: %w", err)
	}
	idx, err := dist.Sample(size, rand.New(rand.NewSource(seed)), e.cfg.Mode)
	if err != nil {
		return SizeScore{}, fmt.Errorf("eval labels: %w", err)
	}
	records, err := sampler.GenerateFor(idx, e.cfg.BatchSize)
	if err != nil {
		return SizeScore{}, fmt.Errorf("eval generate %d: %w", size, err)
	}
	if err := sampler.Layout().CheckSimplex(records, e.cfg.SimplexTol); err != nil {
		return SizeScore{}, fmt.Errorf("%w: size %d: %v", ErrCodecBypassed, size, err)
	}

	out := SizeScore{Size: size, Score: math.NaN()}
	model, err := e.clf.Fit(ctx, records, idx, e.cfg.Grid, e.cfg.Folds)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return SizeScore{}, ctxErr
		}
		out.Err = "fit: " + err.Error()
		e.log.Warn("fit failed", zap.Int("size", size), zap.Error(err))
		span.RecordError(err)
		return out, nil
	}
	if r, ok := e.clf.(releaser); ok {
		defer func() {
			if err := r.Release(context.WithoutCancel(ctx), model); err != nil {
				e.log.Warn("release failed", zap.Int("size", size), zap.Error(err))
			}
		}()
	}

	score, err := e.clf.Score(model, testX, testY)
	switch {
	case err != nil:
		out.Err = "score: " + err.Error()
		e.log.Warn("score failed", zap.Int("size", size), zap.Error(err))
		span.RecordError(err)
	case math.IsNaN(score) || math.IsInf(score, 0):
		out.Err = "score: non-finite"
		e.log.Warn("non-finite score", zap.Int("size", size), zap.Float64("score", score))
	default:
		out.Score = score
		span.SetAttributes(attribute.Float64("eval.score", score))
	}
	return out, nil
}

// Baseline is the holdout score of the classifier trained on real rows.
func (e *Evaluator) Baseline(ctx context.Context, trainX *mat.Dense, trainY []int, testX *mat.Dense, testY []int) (float64, error) {
	ctx, span := e.tracer.Start(ctx, "eval.Baseline")
	defer span.End()

	model, err := e.clf.Fit(ctx, trainX, trainY, e.cfg.Grid, e.cfg.Folds)
	if err != nil {
		span.RecordError(err)
		return math.NaN(), fmt.Errorf("baseline fit: %w", err)
	}
	if r, ok := e.clf.(releaser); ok {
		defer r.Release(context.WithoutCancel(ctx), model)
	}
	score, err := e.clf.Score(model, testX, testY)
	if err != nil {
		span.RecordError(err)
		return math.NaN(), fmt.Errorf("baseline score: %w", err)
	}
	return score, nil
}

// IsFatal reports whether err from Evaluate must stop training.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// #endregion evaluator
