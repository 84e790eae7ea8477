package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/csdgan/trainer/internal/logging"
	"github.com/csdgan/trainer/internal/store"
	_ "modernc.org/sqlite"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to csdgan.db")
	last := flag.Int("last", 20, "show N most recent runs")
	runID := flag.String("run", "", "show single run detail")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/csdgan.db [--last N] [--run id] [--json]")
		os.Exit(2)
	}

	st, err := store.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if *runID != "" {
		err = runDetailMode(os.Stdout, st, *runID, *jsonOut)
	} else {
		err = runListMode(os.Stdout, st, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID     string   `json:"run_id"`
	Status    string   `json:"status"`
	Baseline  *float64 `json:"baseline"`
	BestScore *float64 `json:"best_score"`
	BestEpoch *int     `json:"best_epoch"`
	StartedAt string   `json:"started_at"`
	Error     string   `json:"error,omitempty"`
}

func runListMode(w io.Writer, st *store.Store, last int, jsonOut bool) error {
	runs, err := st.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	// store returns newest first, reverse for chronological
	rows := make([]listRow, len(runs))
	for i, r := range runs {
		lr := listRow{
			RunID:     r.RunID,
			Status:    r.Status,
			Baseline:  finite(r.Baseline),
			StartedAt: r.StartedAt.Format("2006-01-02T15:04:05Z"),
			Error:     r.Error,
		}
		best, err := st.BestCheckpoint(r.RunID)
		switch {
		case err == nil:
			lr.BestScore = finite(best.Score)
			lr.BestEpoch = &best.Epoch
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		rows[len(runs)-1-i] = lr
	}

	if jsonOut {
		return printJSON(w, rows)
	}
	fmt.Fprintf(w, "%-10s  %-13s  %8s  %8s  %6s  %s\n",
		"Run", "Status", "Baseline", "Best", "Epoch", "Started")
	fmt.Fprintf(w, "%-10s+-%-13s+-%8s+-%8s+-%6s+-%s\n",
		"----------", "-------------", "--------", "--------", "------", "--------------------")
	for _, r := range rows {
		epoch := "-"
		if r.BestEpoch != nil {
			epoch = fmt.Sprint(*r.BestEpoch)
		}
		fmt.Fprintf(w, "%-10s  %-13s  %8s  %8s  %6s  %s\n",
			shortID(r.RunID), r.Status, fmtScore(r.Baseline), fmtScore(r.BestScore), epoch, r.StartedAt)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	RunID       string          `json:"run_id"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Baseline    *float64        `json:"baseline"`
	StartedAt   string          `json:"started_at"`
	FinishedAt  string          `json:"finished_at,omitempty"`
	Epochs      int             `json:"epochs"`
	LastLossG   *float64        `json:"last_loss_g"`
	LastLossD   *float64        `json:"last_loss_d"`
	Evaluations []evaluationRow `json:"evaluations"`
	Checkpoints []checkpointRow `json:"checkpoints"`
	Selections  []selectionRow  `json:"selections"`
	Config      json.RawMessage `json:"config,omitempty"`
}

type evaluationRow struct {
	Epoch  int              `json:"epoch"`
	Scores map[int]*float64 `json:"scores"`
}

type checkpointRow struct {
	VersionID string  `json:"version_id"`
	Epoch     int     `json:"epoch"`
	Score     float64 `json:"score"`
	BlobSize  int     `json:"blob_size"`
	Active    bool    `json:"active"`
}

type selectionRow struct {
	Epoch     int      `json:"epoch"`
	Action    string   `json:"action"`
	Aggregate *float64 `json:"aggregate"`
	Previous  *float64 `json:"previous"`
	Reason    string   `json:"reason"`
}

func runDetailMode(w io.Writer, st *store.Store, runID string, jsonOut bool) error {
	out, sizes, err := loadDetail(st, runID)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(w, out)
	}

	fmt.Fprintf(w, "Run:       %s\n", out.RunID)
	fmt.Fprintf(w, "Status:    %s\n", out.Status)
	if out.Error != "" {
		fmt.Fprintf(w, "Error:     %s\n", out.Error)
	}
	fmt.Fprintf(w, "Started:   %s\n", out.StartedAt)
	fmt.Fprintf(w, "Finished:  %s\n", out.FinishedAt)
	fmt.Fprintf(w, "Baseline:  %s\n", fmtScore(out.Baseline))
	fmt.Fprintf(w, "Epochs:    %d (last loss G %s, D %s)\n", out.Epochs, fmtScore(out.LastLossG), fmtScore(out.LastLossD))

	fmt.Fprintf(w, "\nEvaluations:\n  %6s", "Epoch")
	for _, s := range sizes {
		fmt.Fprintf(w, "  %8d", s)
	}
	fmt.Fprintln(w)
	for _, e := range out.Evaluations {
		fmt.Fprintf(w, "  %6d", e.Epoch)
		for _, s := range sizes {
			fmt.Fprintf(w, "  %8s", fmtScore(e.Scores[s]))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\nCheckpoints:\n")
	for _, c := range out.Checkpoints {
		marker := " "
		if c.Active {
			marker = "*"
		}
		fmt.Fprintf(w, "  %s %-10s  epoch %6d  score %.4f  %d bytes\n", marker, shortID(c.VersionID), c.Epoch, c.Score, c.BlobSize)
	}

	fmt.Fprintf(w, "\nSelections:\n")
	for _, s := range out.Selections {
		fmt.Fprintf(w, "  %6d  %-7s  %8s  %s\n", s.Epoch, s.Action, fmtScore(s.Aggregate), s.Reason)
	}
	return nil
}

func loadDetail(st *store.Store, runID string) (detailOutput, []int, error) {
	run, err := st.GetRun(runID)
	if err != nil {
		return detailOutput{}, nil, err
	}
	out := detailOutput{
		RunID:     run.RunID,
		Status:    run.Status,
		Error:     run.Error,
		Baseline:  finite(run.Baseline),
		StartedAt: run.StartedAt.Format("2006-01-02T15:04:05Z"),
	}
	if !run.FinishedAt.IsZero() {
		out.FinishedAt = run.FinishedAt.Format("2006-01-02T15:04:05Z")
	}
	if run.ConfigJSON != "" && json.Valid([]byte(run.ConfigJSON)) {
		out.Config = json.RawMessage(run.ConfigJSON)
	}

	epochs, err := st.ListEpochs(runID)
	if err != nil {
		return detailOutput{}, nil, err
	}
	out.Epochs = len(epochs)
	if n := len(epochs); n > 0 {
		out.LastLossG = finite(epochs[n-1].LossG)
		out.LastLossD = finite(epochs[n-1].LossD)
	}

	evals, err := st.ListEvaluations(runID)
	if err != nil {
		return detailOutput{}, nil, err
	}
	seen := map[int]bool{}
	var sizes []int
	for _, e := range evals {
		if n := len(out.Evaluations); n == 0 || out.Evaluations[n-1].Epoch != e.Epoch {
			out.Evaluations = append(out.Evaluations, evaluationRow{Epoch: e.Epoch, Scores: map[int]*float64{}})
		}
		out.Evaluations[len(out.Evaluations)-1].Scores[e.Size] = finite(e.Score)
		if !seen[e.Size] {
			seen[e.Size] = true
			sizes = append(sizes, e.Size)
		}
	}
	sort.Ints(sizes)

	cps, err := st.ListCheckpoints(runID)
	if err != nil {
		return detailOutput{}, nil, err
	}
	for _, c := range cps {
		out.Checkpoints = append(out.Checkpoints, checkpointRow{
			VersionID: c.VersionID, Epoch: c.Epoch, Score: c.Score, BlobSize: c.BlobSize, Active: c.Active,
		})
	}

	sels, err := logging.ListSelections(st.DB(), runID)
	if err != nil {
		return detailOutput{}, nil, err
	}
	for _, s := range sels {
		out.Selections = append(out.Selections, selectionRow{
			Epoch:     s.Epoch,
			Action:    s.Action,
			Aggregate: finite(s.Aggregate),
			Previous:  finite(s.Previous),
			Reason:    s.Reason,
		})
	}
	return out, sizes, nil
}

// #endregion detail-mode

// #region output

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func fmtScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
