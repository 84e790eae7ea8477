package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/csdgan/trainer/internal/config"
	"github.com/csdgan/trainer/internal/dataset"
	"github.com/csdgan/trainer/internal/gan"
	"github.com/csdgan/trainer/internal/labels"
	"github.com/csdgan/trainer/internal/store"
	_ "modernc.org/sqlite"
)

// #region main

func main() {
	dbPath := flag.String("db", envOr("CSDGAN_DB", ""), "path to the runs database")
	runID := flag.String("run", "", "run whose best checkpoint to use (default: latest run)")
	version := flag.String("version", "", "use this checkpoint instead of a run's best")
	rows := flag.Int("rows", 360, "number of rows to generate")
	mode := flag.String("mode", string(labels.SamplingProportional), "label sampling: proportional or random")
	seed := flag.Int64("seed", 999, "sampling seed")
	outPath := flag.String("out", "", "output CSV (default stdout)")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: generate --db path/to/csdgan.db [--run id | --version id] [--rows N] [--mode proportional|random] [--out file.csv]")
		os.Exit(2)
	}

	st, err := store.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	var w io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "create %s: %v\n", *outPath, err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	req := request{RunID: *runID, Version: *version, Rows: *rows, Mode: labels.SamplingMode(*mode), Seed: *seed}
	if err := generate(st, req, w); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region generate

type request struct {
	RunID   string
	Version string
	Rows    int
	Mode    labels.SamplingMode
	Seed    int64
}

// generate rebuilds the run's dataset from its recorded config so generated records
// are decoded with the same label encoder and scaler the generator was trained against.
func generate(st *store.Store, req request, w io.Writer) error {
	if !req.Mode.Valid() {
		return fmt.Errorf("unknown sampling mode %q", req.Mode)
	}
	var cp store.CheckpointRecord
	var err error
	if req.Version != "" {
		cp, err = st.GetCheckpoint(req.Version)
	} else {
		cp, err = st.BestCheckpoint(req.RunID)
	}
	if err != nil {
		return err
	}

	run, err := st.GetRun(cp.RunID)
	if err != nil {
		return err
	}
	cfg, err := config.Parse([]byte(run.ConfigJSON))
	if err != nil {
		return fmt.Errorf("run %s: %w", run.RunID, err)
	}
	table, err := dataset.LoadCSV(cfg.Data.Path)
	if err != nil {
		return err
	}
	ds, err := dataset.Build(table, cfg.ToOptions())
	if err != nil {
		return fmt.Errorf("rebuild dataset: %w", err)
	}

	out, err := gan.GenerateDataset(cp.Snapshot, req.Rows, ds.Distribution(), req.Mode, req.Seed)
	if err != nil {
		return fmt.Errorf("generate from %s: %w", cp.VersionID, err)
	}
	records, err := ds.Decode(out.Records, out.Labels)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "checkpoint %s (run %s, epoch %d, score %.4f): %d rows\n",
		cp.VersionID, cp.RunID, cp.Epoch, cp.Score, len(records))
	return dataset.WriteCSV(w, ds.Header(), records)
}

// #endregion generate

// #region helpers

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
