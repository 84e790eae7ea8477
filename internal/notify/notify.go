package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/csdgan/trainer/internal/eval"
	"github.com/csdgan/trainer/internal/orchestrator"
	"github.com/csdgan/trainer/internal/selector"
	"github.com/csdgan/trainer/internal/trainer"
	"github.com/nats-io/nats.go"
)

// DefaultPrefix roots every subject the notifier publishes on.
const DefaultPrefix = "csdgan"

// #region events

// PromotedEvent is published when a checkpoint becomes the best of its run.
type PromotedEvent struct {
	RunID     string    `json:"run_id"`
	VersionID string    `json:"version_id"`
	Epoch     int       `json:"epoch"`
	Score     float64   `json:"score"`
	Previous  *float64  `json:"previous,omitempty"`
	At        time.Time `json:"at"`
}

// RunEvent is published when a run starts or ends.
type RunEvent struct {
	RunID  string    `json:"run_id"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// #endregion events

// #region notifier

// Publisher is the part of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Notifier publishes run and checkpoint events. It implements orchestrator.Observer.
type Notifier struct {
	pub    Publisher
	prefix string
	now    func() time.Time
}

// New wraps a publisher. An empty prefix means DefaultPrefix.
func New(pub Publisher, prefix string) *Notifier {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Notifier{pub: pub, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
}

// Connect dials NATS with a short timeout and bounded reconnects.
func Connect(url string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("csdgan-trainer"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

// Subject returns the full subject for an event name.
func (n *Notifier) Subject(event string) string {
	return n.prefix + "." + event
}

func (n *Notifier) publish(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	if err := n.pub.Publish(n.Subject(event), data); err != nil {
		return fmt.Errorf("publish %s: %w", event, err)
	}
	return nil
}

// #endregion notifier

// #region observer

func (n *Notifier) RunStarted(_ context.Context, run orchestrator.RunInfo) error {
	return n.publish("run.started", RunEvent{RunID: run.ID, Status: string(orchestrator.StatusRunning), At: n.now()})
}

func (n *Notifier) EpochFinished(context.Context, string, trainer.EpochStats) error {
	return nil
}

func (n *Notifier) Evaluated(_ context.Context, runID string, _ eval.Result, d selector.Decision) error {
	if !d.Promoted || d.Best == nil {
		return nil
	}
	ev := PromotedEvent{
		RunID:     runID,
		VersionID: d.Best.VersionID,
		Epoch:     d.Best.Epoch,
		Score:     d.Best.Score,
		At:        n.now(),
	}
	if !math.IsNaN(d.Previous) {
		prev := d.Previous
		ev.Previous = &prev
	}
	return n.publish("checkpoint.promoted", ev)
}

func (n *Notifier) RunFinished(_ context.Context, runID string, status orchestrator.Status, runErr error) error {
	ev := RunEvent{RunID: runID, Status: string(status), At: n.now()}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	return n.publish("run.finished", ev)
}

// #endregion observer

var (
	_ orchestrator.Observer = (*Notifier)(nil)
	_ Publisher             = (*nats.Conn)(nil)
)
