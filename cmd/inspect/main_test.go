package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/csdgan/trainer/internal/eval"
	"github.com/csdgan/trainer/internal/gan"
	"github.com/csdgan/trainer/internal/layout"
	"github.com/csdgan/trainer/internal/logging"
	"github.com/csdgan/trainer/internal/selector"
	"github.com/csdgan/trainer/internal/store"
)

// #region helpers
func seedStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	l, err := layout.New([]layout.Column{layout.ContinuousColumn("a")})
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	cfg := gan.DefaultGeneratorConfig(2, 2)
	cfg.Hidden = []int{4}
	g, err := gan.NewGenerator(cfg, l)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}

	if err := st.CreateRun(store.RunRecord{RunID: "run-0001-abcd", ConfigJSON: `{"description":"x"}`, Baseline: 0.9}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	res := eval.NewResult(0, []eval.SizeScore{{Size: 90, Score: 0.7}, {Size: 180, Score: math.NaN(), Err: "fit: degenerate"}})
	if err := st.RecordEvaluation("run-0001-abcd", res); err != nil {
		t.Fatalf("record evaluation: %v", err)
	}
	cp := &selector.Checkpoint{VersionID: "ver-0001-abcd", Epoch: 0, Score: 0.7, Snapshot: g.Snapshot()}
	if err := st.CommitCheckpoint("run-0001-abcd", cp); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := logging.LogSelection(st.DB(), logging.SelectionEntry{
		RunID: "run-0001-abcd", Epoch: 0, Action: "promote", Aggregate: 0.7, Previous: math.NaN(),
		VersionID: "ver-0001-abcd", Reason: "first finite score",
	}); err != nil {
		t.Fatalf("log selection: %v", err)
	}
	if err := st.FinishRun("run-0001-abcd", "completed", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := st.CreateRun(store.RunRecord{RunID: "run-0002-efgh", Baseline: math.NaN()}); err != nil {
		t.Fatalf("create run: %v", err)
	}
	return st
}

// #endregion helpers

// #region list-tests
func TestListMode_Table(t *testing.T) {
	st := seedStore(t)
	var buf bytes.Buffer
	if err := runListMode(&buf, st, 10, false); err != nil {
		t.Fatalf("list: %v", err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got:\n%s", out)
	}
	// chronological order
	if !strings.HasPrefix(lines[2], "run-0001") || !strings.HasPrefix(lines[3], "run-0002") {
		t.Fatalf("rows out of order:\n%s", out)
	}
	if !strings.Contains(lines[2], "0.7000") || !strings.Contains(lines[2], "completed") {
		t.Fatalf("first run row = %q", lines[2])
	}
}

func TestListMode_JSON(t *testing.T) {
	st := seedStore(t)
	var buf bytes.Buffer
	if err := runListMode(&buf, st, 10, true); err != nil {
		t.Fatalf("list: %v", err)
	}
	var rows []listRow
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 2 || rows[1].BestScore != nil || rows[1].Baseline != nil {
		t.Fatalf("rows = %+v", rows)
	}
	if rows[0].BestEpoch == nil || *rows[0].BestEpoch != 0 || *rows[0].Baseline != 0.9 {
		t.Fatalf("first row = %+v", rows[0])
	}
}

// #endregion list-tests

// #region detail-tests
func TestDetailMode_JSON(t *testing.T) {
	st := seedStore(t)
	var buf bytes.Buffer
	if err := runDetailMode(&buf, st, "run-0001-abcd", true); err != nil {
		t.Fatalf("detail: %v", err)
	}
	var out detailOutput
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Evaluations) != 1 || out.Evaluations[0].Scores[180] != nil || *out.Evaluations[0].Scores[90] != 0.7 {
		t.Fatalf("evaluations = %+v", out.Evaluations)
	}
	if len(out.Checkpoints) != 1 || !out.Checkpoints[0].Active {
		t.Fatalf("checkpoints = %+v", out.Checkpoints)
	}
	if len(out.Selections) != 1 || out.Selections[0].Previous != nil {
		t.Fatalf("selections = %+v", out.Selections)
	}
	if out.FinishedAt == "" || len(out.Config) == 0 {
		t.Fatalf("detail = %+v", out)
	}
}

func TestDetailMode_Table(t *testing.T) {
	st := seedStore(t)
	var buf bytes.Buffer
	if err := runDetailMode(&buf, st, "run-0001-abcd", false); err != nil {
		t.Fatalf("detail: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Status:    completed", "* ver-0001", "promote", "0.7000"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestDetailMode_UnknownRun(t *testing.T) {
	st := seedStore(t)
	if err := runDetailMode(&bytes.Buffer{}, st, "nope", false); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// #endregion detail-tests
