package notify

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/csdgan/trainer/internal/eval"
	"github.com/csdgan/trainer/internal/orchestrator"
	"github.com/csdgan/trainer/internal/selector"
	"github.com/csdgan/trainer/internal/trainer"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []message
	err  error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{subject, data})
	return nil
}

func TestPromotionPublished(t *testing.T) {
	conn := &fakeConn{}
	n := New(conn, "")
	ctx := context.Background()
	best := &selector.Checkpoint{VersionID: "ck", Epoch: 4, Score: 0.8}

	n.Evaluated(ctx, "run", eval.Result{}, selector.Decision{Promoted: false, Best: best, Previous: 0.8})
	if err := n.Evaluated(ctx, "run", eval.Result{}, selector.Decision{Promoted: true, Best: best, Previous: math.NaN()}); err != nil {
		t.Fatalf("Evaluated: %v", err)
	}
	if len(conn.msgs) != 1 {
		t.Fatalf("expected one message for one promotion, got %d", len(conn.msgs))
	}
	if conn.msgs[0].subject != "csdgan.checkpoint.promoted" {
		t.Fatalf("subject = %s", conn.msgs[0].subject)
	}
	var ev PromotedEvent
	if err := json.Unmarshal(conn.msgs[0].data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.RunID != "run" || ev.VersionID != "ck" || ev.Epoch != 4 || ev.Previous != nil {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestRunEvents(t *testing.T) {
	conn := &fakeConn{}
	n := New(conn, "lab")
	ctx := context.Background()
	n.RunStarted(ctx, orchestrator.RunInfo{ID: "r"})
	n.EpochFinished(ctx, "r", trainer.EpochStats{})
	n.RunFinished(ctx, "r", orchestrator.StatusFailed, errors.New("diverged"))

	if len(conn.msgs) != 2 || conn.msgs[0].subject != "lab.run.started" || conn.msgs[1].subject != "lab.run.finished" {
		t.Fatalf("unexpected messages %+v", conn.msgs)
	}
	var ev RunEvent
	json.Unmarshal(conn.msgs[1].data, &ev)
	if ev.Status != "failed" || ev.Error != "diverged" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestPublishError(t *testing.T) {
	n := New(&fakeConn{err: errors.New("no responders")}, "")
	if err := n.RunStarted(context.Background(), orchestrator.RunInfo{ID: "r"}); err == nil {
		t.Fatal("expected publish error")
	}
}
