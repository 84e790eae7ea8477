package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/csdgan/trainer/internal/classifier"
	"github.com/csdgan/trainer/internal/config"
	"github.com/csdgan/trainer/internal/dataset"
	"github.com/csdgan/trainer/internal/eval"
	"github.com/csdgan/trainer/internal/gan"
	"github.com/csdgan/trainer/internal/metrics"
	"github.com/csdgan/trainer/internal/notify"
	"github.com/csdgan/trainer/internal/orchestrator"
	"github.com/csdgan/trainer/internal/remote"
	"github.com/csdgan/trainer/internal/selector"
	"github.com/csdgan/trainer/internal/store"
	"github.com/csdgan/trainer/internal/telemetry"
	"github.com/csdgan/trainer/internal/trainer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// #region main
func main() {
	cfgPath := flag.String("config", "", "path to the run config JSON")
	epochs := flag.Int("epochs", 0, "override train.epochs")
	flag.Parse()

	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	logger, err := zapConfig.Build()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if *epochs > 0 {
		cfg.Train.Epochs = *epochs
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.InitTracer(ctx, "csdgan-train", cfg.Services.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize telemetry", zap.Error(err))
	} else {
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				logger.Error("failed to shutdown telemetry", zap.Error(err))
			}
		}()
	}

	out, err := run(ctx, cfg, logger)
	if err != nil {
		logger.Error("training failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
	fmt.Printf("run %s %s: best epoch %d score %.4f (version %s)\n",
		out.RunID, out.Status, out.Best.Epoch, out.Best.Score, out.Best.VersionID)
}

// #endregion main

// #region run

// run assembles the pipeline from cfg and trains once. Every optional service is
// attached as an orchestrator observer.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*orchestrator.Outcome, error) {
	table, err := dataset.LoadCSV(cfg.Data.Path)
	if err != nil {
		return nil, err
	}
	ds, err := dataset.Build(table, cfg.ToOptions())
	if err != nil {
		return nil, fmt.Errorf("build dataset: %w", err)
	}
	logger.Info("dataset ready",
		zap.String("path", cfg.Data.Path),
		zap.Strings("classes", ds.Distribution().Classes()),
		zap.Int("record_width", ds.Layout().Width()),
	)

	st, err := store.NewStore(cfg.Services.DB)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	observers := []orchestrator.Observer{st.Observer(selector.Reducer(cfg.Selection.Reducer))}

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}
	observers = append(observers, collector)
	if cfg.Services.MetricsAddr != "" {
		srv := serveMetrics(cfg.Services.MetricsAddr, reg, logger)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				logger.Error("metrics server shutdown", zap.Error(err))
			}
		}()
	}

	if cfg.Services.NATSURL != "" {
		nc, err := notify.Connect(cfg.Services.NATSURL)
		if err != nil {
			logger.Error("failed to connect to NATS", zap.Error(err))
		} else {
			defer nc.Close()
			observers = append(observers, notify.New(nc, cfg.Services.NATSPrefix))
		}
	}

	clf, closeClf, err := newClassifier(cfg)
	if err != nil {
		return nil, err
	}
	defer closeClf()

	labelDim := ds.Distribution().Len()
	gen, err := gan.NewGenerator(cfg.ToGeneratorConfig(labelDim), ds.Layout())
	if err != nil {
		return nil, err
	}
	disc, err := gan.NewDiscriminator(cfg.ToDiscriminatorConfig(ds.Layout().Width(), labelDim))
	if err != nil {
		return nil, err
	}
	sel, err := selector.NewSelector(cfg.ToSelectorConfig())
	if err != nil {
		return nil, err
	}
	orch, err := orchestrator.New(
		cfg.ToOrchestratorConfig(),
		trainer.New(cfg.ToTrainerConfig(), gen, disc, logger),
		eval.NewEvaluator(cfg.ToEvalConfig(), clf, logger),
		sel,
		logger,
		observers...,
	)
	if err != nil {
		return nil, err
	}
	return orch.Train(ctx, ds)
}

// newClassifier dials the remote scorer when one is configured and falls back to the
// in-process logistic regression.
func newClassifier(cfg *config.Config) (classifier.Classifier, func(), error) {
	if cfg.Services.ScorerAddr == "" {
		return cfg.ToClassifier(), func() {}, nil
	}
	timeout, err := cfg.ScorerTimeout()
	if err != nil {
		return nil, nil, err
	}
	c, err := remote.NewClient(cfg.Services.ScorerAddr, timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("connect scorer %s: %w", cfg.Services.ScorerAddr, err)
	}
	return c, func() { c.Close() }, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}

// #endregion run
