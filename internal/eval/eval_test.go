package eval

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/csdgan/trainer/internal/classifier"
	"github.com/csdgan/trainer/internal/gan"
	"github.com/csdgan/trainer/internal/labels"
	"github.com/csdgan/trainer/internal/layout"
	"gonum.org/v1/gonum/mat"
)

// #region fakes
type fakeModel struct{ size int }

func (fakeModel) Params() classifier.Params { return classifier.Params{C: 0.5} }

// fakeClassifier scores size/1000 and fails fits for the sizes in failFit.
type fakeClassifier struct {
	mu       sync.Mutex
	failFit  map[int]bool
	nanScore map[int]bool
	counts   map[int][]int
	released int
}

func (f *fakeClassifier) Fit(_ context.Context, x *mat.Dense, y []int, _ classifier.Grid, _ int) (classifier.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, _ := x.Dims()
	if f.failFit[n] {
		return nil, errors.New("degenerate fold")
	}
	if f.counts == nil {
		f.counts = make(map[int][]int)
	}
	c := make([]int, 3)
	for _, k := range y {
		c[k]++
	}
	f.counts[n] = c
	return fakeModel{size: n}, nil
}

func (f *fakeClassifier) Score(m classifier.Model, _ *mat.Dense, _ []int) (float64, error) {
	size := m.(fakeModel).size
	if f.nanScore[size] {
		return math.NaN(), nil
	}
	return float64(size) / 1000, nil
}

func (f *fakeClassifier) Release(_ context.Context, _ classifier.Model) error {
	f.mu.Lock()
	f.released++
	f.mu.Unlock()
	return nil
}

// fakeSampler emits a fixed value in every column.
type fakeSampler struct {
	l    *layout.Layout
	fill float64
}

func (s fakeSampler) GenerateFor(idx []int, _ int) (*mat.Dense, error) {
	m := mat.NewDense(len(idx), s.l.Width(), nil)
	for r := range idx {
		for c := 0; c < s.l.Width(); c++ {
			m.Set(r, c, s.fill)
		}
	}
	return m, nil
}

func (s fakeSampler) Layout() *layout.Layout { return s.l }

func sourceOf(s Sampler) Source {
	return func(int64) (Sampler, error) { return s, nil }
}

func continuousLayout(t *testing.T) *layout.Layout {
	t.Helper()
	l, err := layout.New([]layout.Column{layout.ContinuousColumn("a"), layout.ContinuousColumn("b")})
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	return l
}

func testDist(t *testing.T) labels.Distribution {
	t.Helper()
	d, err := labels.NewDistribution([]string{"a", "b", "c"}, []float64{0.5, 0.3, 0.2})
	if err != nil {
		t.Fatalf("distribution: %v", err)
	}
	return d
}

func holdout() (*mat.Dense, []int) {
	return mat.NewDense(3, 2, []float64{0, 1, 1, 0, 1, 1}), []int{0, 1, 2}
}

// #endregion fakes

// #region evaluate-tests
func TestEvaluateProportionalCounts(t *testing.T) {
	clf := &fakeClassifier{}
	e := NewEvaluator(DefaultConfig(), clf, nil)
	testX, testY := holdout()
	res, err := e.Evaluate(context.Background(), sourceOf(fakeSampler{l: continuousLayout(t)}), []int{360}, testX, testY, testDist(t))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	got := clf.counts[360]
	if got[0] != 180 || got[1] != 108 || got[2] != 72 {
		t.Fatalf("class counts = %v, want [180 108 72]", got)
	}
	if s := res.Scores(); len(s) != 1 || s[0].Size != 360 || s[0].Score != 0.36 {
		t.Fatalf("scores = %+v", s)
	}
	if clf.released != 1 {
		t.Fatalf("released %d models", clf.released)
	}
}

func TestEvaluateFailedFitIsMissing(t *testing.T) {
	clf := &fakeClassifier{failFit: map[int]bool{180: true}, nanScore: map[int]bool{720: true}}
	cfg := DefaultConfig()
	cfg.Parallelism = 3
	e := NewEvaluator(cfg, clf, nil)
	testX, testY := holdout()
	res, err := e.Evaluate(context.Background(), sourceOf(fakeSampler{l: continuousLayout(t)}), nil, testX, testY, testDist(t))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	scores := res.Scores()
	if len(scores) != 5 {
		t.Fatalf("got %d scores", len(scores))
	}
	for i, want := range []int{90, 180, 360, 720, 1440} {
		if scores[i].Size != want {
			t.Fatalf("entry %d has size %d, want %d", i, scores[i].Size, want)
		}
	}
	if !math.IsNaN(scores[1].Score) || scores[1].Err == "" {
		t.Fatalf("failed fit should be NaN with a reason: %+v", scores[1])
	}
	if !math.IsNaN(scores[3].Score) {
		t.Fatalf("non-finite score should be NaN: %+v", scores[3])
	}
	if scores[0].Score != 0.09 || scores[4].Score != 1.44 {
		t.Fatalf("unexpected finite scores %+v", scores)
	}
	if res.Missing() != 2 {
		t.Fatalf("missing = %d", res.Missing())
	}
}

func TestEvaluateCodecBypassIsFatal(t *testing.T) {
	l, err := layout.New([]layout.Column{
		layout.ContinuousColumn("x"),
		layout.CategoricalColumn("g_a", 0, 0),
		layout.CategoricalColumn("g_b", 0, 1),
	})
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	e := NewEvaluator(DefaultConfig(), &fakeClassifier{}, nil)
	testX, testY := holdout()
	_, err = e.Evaluate(context.Background(), sourceOf(fakeSampler{l: l, fill: 0.9}), []int{90}, testX, testY, testDist(t))
	if !errors.Is(err, ErrCodecBypassed) {
		t.Fatalf("expected ErrCodecBypassed, got %v", err)
	}
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	e := NewEvaluator(DefaultConfig(), &fakeClassifier{}, nil)
	src := sourceOf(fakeSampler{l: continuousLayout(t)})
	testX, testY := holdout()
	for _, sizes := range [][]int{{90, 0}, {-5}, {}} {
		if _, err := e.Evaluate(context.Background(), src, sizes, testX, testY, testDist(t)); !errors.Is(err, ErrBadSize) {
			t.Fatalf("sizes %v: expected ErrBadSize, got %v", sizes, err)
		}
	}
	if _, err := e.Evaluate(context.Background(), src, []int{90}, nil, nil, testDist(t)); !errors.Is(err, ErrNoHoldout) {
		t.Fatalf("expected ErrNoHoldout, got %v", err)
	}
}

func TestEvaluateSnapshotWithLogistic(t *testing.T) {
	l := continuousLayout(t)
	cfg := gan.DefaultGeneratorConfig(4, 3)
	cfg.Hidden = []int{8}
	cfg.Seed = 5
	g, err := gan.NewGenerator(cfg, l)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	ecfg := DefaultConfig()
	ecfg.BatchSize = 64
	e := NewEvaluator(ecfg, classifier.LogisticRegression{MaxIter: 50}, nil)
	testX, testY := holdout()
	res, err := e.Evaluate(context.Background(), FromSnapshot(g.Snapshot()), []int{90}, testX, testY, testDist(t))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	s := res.Scores()[0]
	if math.IsNaN(s.Score) || s.Score < 0 || s.Score > 1 {
		t.Fatalf("score = %+v", s)
	}
}

func TestEvaluateReusesSeedsAcrossEvaluations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 11
	e := NewEvaluator(cfg, &fakeClassifier{}, nil)
	testX, testY := holdout()
	l := continuousLayout(t)
	var mu sync.Mutex
	var seeds []int64
	src := func(seed int64) (Sampler, error) {
		mu.Lock()
		seeds = append(seeds, seed)
		mu.Unlock()
		return fakeSampler{l: l}, nil
	}
	for i := 0; i < 2; i++ {
		if _, err := e.Evaluate(context.Background(), src, []int{90, 180}, testX, testY, testDist(t)); err != nil {
			t.Fatalf("evaluate: %v", err)
		}
	}
	want := map[int64]int{11: 2, 11 + 7919: 2}
	got := make(map[int64]int)
	for _, s := range seeds {
		got[s]++
	}
	if len(got) != len(want) || got[11] != 2 || got[11+7919] != 2 {
		t.Fatalf("sampler seeds = %v, want %v", seeds, want)
	}
}

// #endregion evaluate-tests

// #region result-tests
func TestResultCopies(t *testing.T) {
	r := NewResult(3, []SizeScore{{Size: 90, Score: 0.5}})
	s := r.Scores()
	s[0].Score = 0
	if r.Scores()[0].Score != 0.5 {
		t.Fatal("Scores must return a copy")
	}
	if v := r.Values(); len(v) != 1 || v[0] != 0.5 {
		t.Fatalf("values = %v", v)
	}
}

// #endregion result-tests
