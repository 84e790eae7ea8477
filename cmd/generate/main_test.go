package main

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/csdgan/trainer/internal/config"
	"github.com/csdgan/trainer/internal/dataset"
	"github.com/csdgan/trainer/internal/gan"
	"github.com/csdgan/trainer/internal/labels"
	"github.com/csdgan/trainer/internal/selector"
	"github.com/csdgan/trainer/internal/store"
)

// #region helpers

// seedStore records one run whose best checkpoint is an untrained generator.
func seedStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(3))
	var b strings.Builder
	b.WriteString("x,y,kind\n")
	for i := 0; i < 60; i++ {
		k := i % 3
		fmt.Fprintf(&b, "%.4f,%.4f,%c\n", float64(k)*2+rng.NormFloat64()*0.3, -float64(k)+rng.NormFloat64()*0.3, 'a'+k)
	}
	csvPath := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(csvPath, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	cfg := config.Default()
	cfg.Data = config.DataConfig{Path: csvPath, Label: "kind", TestFraction: 0.3, Seed: 1}
	cfg.Model.NoiseDim = 4
	cfg.Model.GeneratorHidden = []int{8}

	table, err := dataset.LoadCSV(csvPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ds, err := dataset.Build(table, cfg.ToOptions())
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	g, err := gan.NewGenerator(cfg.ToGeneratorConfig(ds.Distribution().Len()), ds.Layout())
	if err != nil {
		t.Fatalf("generator: %v", err)
	}

	st, err := store.NewStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.CreateRun(store.RunRecord{RunID: "run-1", ConfigJSON: string(cfg.JSON())}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	cp := &selector.Checkpoint{VersionID: "v-1", Epoch: 4, Score: 0.8, Snapshot: g.Snapshot()}
	if err := st.CommitCheckpoint("run-1", cp); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return st
}

// #endregion helpers

// #region generate-tests
func TestGenerate_DecodesBestCheckpoint(t *testing.T) {
	st := seedStore(t)
	var buf bytes.Buffer
	req := request{Rows: 30, Mode: labels.SamplingProportional, Seed: 1}
	if err := generate(st, req, &buf); err != nil {
		t.Fatalf("generate: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if len(rows) != 31 {
		t.Fatalf("got %d lines, want header + 30", len(rows))
	}
	if strings.Join(rows[0], ",") != "x,y,kind" {
		t.Fatalf("header = %v", rows[0])
	}
	counts := map[string]int{}
	for _, r := range rows[1:] {
		counts[r[2]]++
	}
	if counts["a"] != 10 || counts["b"] != 10 || counts["c"] != 10 {
		t.Fatalf("label counts = %v", counts)
	}
}

func TestGenerate_ByVersion(t *testing.T) {
	st := seedStore(t)
	var buf bytes.Buffer
	if err := generate(st, request{Version: "v-1", Rows: 5, Mode: labels.SamplingRandom, Seed: 2}, &buf); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 6 {
		t.Fatalf("got %d lines", lines)
	}
}

func TestGenerate_Errors(t *testing.T) {
	st := seedStore(t)
	var buf bytes.Buffer
	if err := generate(st, request{Version: "missing", Rows: 5, Mode: labels.SamplingRandom}, &buf); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := generate(st, request{RunID: "other", Rows: 5, Mode: labels.SamplingRandom}, &buf); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := generate(st, request{Rows: 5, Mode: "stratified"}, &buf); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
	if err := generate(st, request{Rows: 0, Mode: labels.SamplingRandom}, &buf); err == nil {
		t.Fatal("expected an error for zero rows")
	}
}

// #endregion generate-tests
