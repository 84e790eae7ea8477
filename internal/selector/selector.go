package selector

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/csdgan/trainer/internal/eval"
	"github.com/csdgan/trainer/internal/gan"
	"github.com/google/uuid"
)

// #region selector
// Selector keeps the best checkpoint seen so far. Consider is called by the training
// loop; Best may be read from any goroutine.
type Selector struct {
	config Config
	mu     sync.Mutex
	best   atomic.Pointer[Checkpoint]
}

// NewSelector creates a selector with the given policy.
func NewSelector(config Config) (*Selector, error) {
	if config.Reducer == "" {
		config.Reducer = ReduceLargest
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Selector{config: config}, nil
}

// Config returns the selection policy.
func (s *Selector) Config() Config { return s.config }

// Best returns the current checkpoint, or nil before the first promotion.
func (s *Selector) Best() *Checkpoint {
	return s.best.Load()
}

// Consider reduces result and promotes snap when the aggregate is strictly greater than
// the current best. A NaN aggregate never promotes.
func (s *Selector) Consider(result eval.Result, epoch int, snap *gan.Snapshot) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	agg := Reduce(s.config.Reducer, result.Scores())
	cur := s.best.Load()
	prev := math.NaN()
	if cur != nil {
		prev = cur.Score
	}

	d := Decision{Action: ActionHold, Aggregate: agg, Previous: prev, Best: cur}
	switch {
	case math.IsNaN(agg):
		d.Reason = "no finite score"
	case snap == nil:
		d.Reason = "no snapshot"
	case cur != nil && agg <= cur.Score:
		d.Reason = fmt.Sprintf("%s score %.4f does not beat %.4f (epoch %d)", s.config.Reducer, agg, cur.Score, cur.Epoch)
	default:
		next := &Checkpoint{
			VersionID: uuid.New().String(),
			Epoch:     epoch,
			Score:     agg,
			Snapshot:  snap,
		}
		s.best.Store(next)
		d.Promoted = true
		d.Action = ActionPromote
		d.Best = next
		if cur == nil {
			d.Reason = fmt.Sprintf("first %s score %.4f", s.config.Reducer, agg)
		} else {
			d.Reason = fmt.Sprintf("%s score %.4f beats %.4f", s.config.Reducer, agg, cur.Score)
		}
	}
	return d
}

// #endregion selector

// #region reduce
// Reduce applies r to scores. NaN entries are skipped by mean and max; largest reports
// the entry with the largest size as is.
func Reduce(r Reducer, scores []eval.SizeScore) float64 {
	if len(scores) == 0 {
		return math.NaN()
	}
	switch r {
	case ReduceMean:
		var sum float64
		n := 0
		for _, s := range scores {
			if !math.IsNaN(s.Score) {
				sum += s.Score
				n++
			}
		}
		if n == 0 {
			return math.NaN()
		}
		return sum / float64(n)
	case ReduceMax:
		best := math.NaN()
		for _, s := range scores {
			if !math.IsNaN(s.Score) && (math.IsNaN(best) || s.Score > best) {
				best = s.Score
			}
		}
		return best
	default:
		pick := scores[0]
		for _, s := range scores[1:] {
			if s.Size > pick.Size {
				pick = s
			}
		}
		return pick.Score
	}
}

// #endregion reduce
