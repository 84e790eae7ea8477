package logging

import (
	"math"
	"time"

	"github.com/csdgan/trainer/internal/eval"
	"github.com/csdgan/trainer/internal/selector"
)

// #region selection-entry
// SelectionEntry is a single row in the selection_log table.
type SelectionEntry struct {
	RunID      string
	Epoch      int
	Action     string // "promote" | "hold"
	Aggregate  float64
	Previous   float64
	VersionID  string // checkpoint holding the best after the decision
	RecordJSON string
	Reason     string
	CreatedAt  time.Time
}

// #endregion selection-entry

// #region selection-record
// SelectionRecord captures the complete selector inputs for one evaluation.
// Serialized as JSON into selection_log.record_json. Missing scores are null.
type SelectionRecord struct {
	Epoch     int          `json:"epoch"`
	Reducer   string       `json:"reducer"`
	Scores    []SizeRecord `json:"scores"`
	Aggregate *float64     `json:"aggregate"`
	Previous  *float64     `json:"previous"`
	Action    string       `json:"action"`
	Promoted  bool         `json:"promoted"`
	Reason    string       `json:"reason"`
}

// SizeRecord is one evaluated sample size.
type SizeRecord struct {
	Size  int      `json:"size"`
	Score *float64 `json:"score"`
	Err   string   `json:"error,omitempty"`
}

// NewSelectionRecord flattens an evaluation and the decision it produced.
func NewSelectionRecord(res eval.Result, d selector.Decision, reducer selector.Reducer) SelectionRecord {
	rec := SelectionRecord{
		Epoch:     res.Epoch,
		Reducer:   string(reducer),
		Aggregate: finite(d.Aggregate),
		Previous:  finite(d.Previous),
		Action:    string(d.Action),
		Promoted:  d.Promoted,
		Reason:    d.Reason,
	}
	for _, s := range res.Scores() {
		rec.Scores = append(rec.Scores, SizeRecord{Size: s.Size, Score: finite(s.Score), Err: s.Err})
	}
	return rec
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// #endregion selection-record
