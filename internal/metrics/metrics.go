package metrics

import (
	"context"
	"math"
	"strconv"

	"github.com/csdgan/trainer/internal/eval"
	"github.com/csdgan/trainer/internal/orchestrator"
	"github.com/csdgan/trainer/internal/selector"
	"github.com/csdgan/trainer/internal/trainer"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "csdgan"

// #region collector
// Collector exports training progress as Prometheus metrics. It implements
// orchestrator.Observer.
type Collector struct {
	epochs     prometheus.Counter
	loss       *prometheus.GaugeVec
	gradNorm   *prometheus.GaugeVec
	weightNorm *prometheus.GaugeVec
	dOutput    *prometheus.GaugeVec
	epochTime  prometheus.Histogram
	score      *prometheus.GaugeVec
	missing    prometheus.Counter
	aggregate  prometheus.Gauge
	best       prometheus.Gauge
	promotions prometheus.Counter
	runs       *prometheus.CounterVec
	baseline   prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "epochs_total", Help: "Training epochs completed.",
		}),
		loss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "loss", Help: "Mean loss of the last epoch.",
		}, []string{"network"}),
		gradNorm: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "grad_norm", Help: "Gradient L2 norm after the last step.",
		}, []string{"network"}),
		weightNorm: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "weight_norm", Help: "Parameter L2 norm after the last epoch.",
		}, []string{"network"}),
		dOutput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "discriminator_output", Help: "Mean discriminator output on the last batch.",
		}, []string{"input"}),
		epochTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "epoch_seconds", Help: "Wall time per epoch.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		score: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "eval_score", Help: "Holdout score per synthetic sample size.",
		}, []string{"size"}),
		missing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "eval_missing_total", Help: "Sizes whose fit or score failed.",
		}),
		aggregate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "eval_aggregate", Help: "Reduced score of the last evaluation.",
		}),
		best: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "best_score", Help: "Score of the current best checkpoint.",
		}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "promotions_total", Help: "Checkpoints promoted to best.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "runs_total", Help: "Finished runs by status.",
		}, []string{"status"}),
		baseline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "baseline_score", Help: "Holdout score of the classifier trained on real rows.",
		}),
	}
	for _, col := range []prometheus.Collector{
		c.epochs, c.loss, c.gradNorm, c.weightNorm, c.dOutput, c.epochTime,
		c.score, c.missing, c.aggregate, c.best, c.promotions, c.runs, c.baseline,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// #endregion collector

// #region observer
func (c *Collector) RunStarted(_ context.Context, run orchestrator.RunInfo) error {
	c.baseline.Set(run.Baseline)
	c.best.Set(math.NaN())
	return nil
}

func (c *Collector) EpochFinished(_ context.Context, _ string, s trainer.EpochStats) error {
	c.epochs.Inc()
	c.loss.WithLabelValues("generator").Set(s.GeneratorLoss)
	c.loss.WithLabelValues("discriminator").Set(s.DiscriminatorLoss)
	c.gradNorm.WithLabelValues("generator").Set(s.GeneratorGrad)
	c.gradNorm.WithLabelValues("discriminator").Set(s.DiscriminatorGrad)
	c.weightNorm.WithLabelValues("generator").Set(s.GeneratorWeight)
	c.weightNorm.WithLabelValues("discriminator").Set(s.DiscrimWeight)
	c.dOutput.WithLabelValues("real").Set(s.DReal)
	c.dOutput.WithLabelValues("fake").Set(s.DFake)
	c.dOutput.WithLabelValues("fake_after").Set(s.DFakeAfter)
	c.epochTime.Observe(s.Duration.Seconds())
	return nil
}

func (c *Collector) Evaluated(_ context.Context, _ string, res eval.Result, d selector.Decision) error {
	for _, s := range res.Scores() {
		c.score.WithLabelValues(strconv.Itoa(s.Size)).Set(s.Score)
		if math.IsNaN(s.Score) {
			c.missing.Inc()
		}
	}
	c.aggregate.Set(d.Aggregate)
	if d.Promoted {
		c.promotions.Inc()
	}
	if d.Best != nil {
		c.best.Set(d.Best.Score)
	}
	return nil
}

func (c *Collector) RunFinished(_ context.Context, _ string, status orchestrator.Status, _ error) error {
	c.runs.WithLabelValues(string(status)).Inc()
	return nil
}

// #endregion observer

var _ orchestrator.Observer = (*Collector)(nil)
