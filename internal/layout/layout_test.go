package layout

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// #region helpers
func mixedLayout(t *testing.T) *Layout {
	t.Helper()
	l, err := New([]Column{
		ContinuousColumn("age"),
		CategoricalColumn("sex_f", 0, 0),
		CategoricalColumn("sex_m", 0, 1),
		ContinuousColumn("fare"),
		CategoricalColumn("class_1", 1, 0),
		CategoricalColumn("class_2", 1, 1),
		CategoricalColumn("class_3", 1, 2),
	})
	if err != nil {
		t.Fatalf("new layout: %v", err)
	}
	return l
}

// randomLayout builds a layout with a random mix of continuous columns and groups.
func randomLayout(rng *rand.Rand) []Column {
	var cols []Column
	group := 0
	n := 1 + rng.Intn(6)
	for i := 0; i < n; i++ {
		if rng.Intn(2) == 0 {
			cols = append(cols, ContinuousColumn("c"))
			continue
		}
		size := 1 + rng.Intn(5)
		for p := 0; p < size; p++ {
			cols = append(cols, CategoricalColumn("g", group, p))
		}
		group++
	}
	return cols
}

// #endregion helpers

// #region layout-tests
func TestNewDerivesGroups(t *testing.T) {
	l := mixedLayout(t)
	groups := l.Groups()
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0] != (Group{ID: 0, Lo: 1, Hi: 3}) {
		t.Errorf("group 0 = %+v", groups[0])
	}
	if groups[1] != (Group{ID: 1, Lo: 4, Hi: 7}) {
		t.Errorf("group 1 = %+v", groups[1])
	}
	if l.Width() != 7 {
		t.Errorf("width = %d", l.Width())
	}
	if idx := l.ContinuousIndices(); len(idx) != 2 || idx[0] != 0 || idx[1] != 3 {
		t.Errorf("continuous indices = %v", idx)
	}
}

func TestNewRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		cols []Column
		want error
	}{
		{"empty", nil, ErrEmptyLayout},
		{"split group", []Column{
			CategoricalColumn("a", 0, 0),
			ContinuousColumn("x"),
			CategoricalColumn("b", 0, 1),
		}, ErrNonContiguous},
		{"bad start", []Column{
			CategoricalColumn("a", 0, 1),
		}, ErrBadPosition},
		{"skipped position", []Column{
			CategoricalColumn("a", 0, 0),
			CategoricalColumn("b", 0, 2),
		}, ErrBadPosition},
	}
	for _, tc := range cases {
		if _, err := New(tc.cols); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

// #endregion layout-tests

// #region codec-tests
func TestApplyProducesSimplexForRandomLayouts(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		l, err := New(randomLayout(rng))
		if err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		codec, err := NewCodec(l, ActivationNone)
		if err != nil {
			t.Fatalf("codec: %v", err)
		}
		raw := make([]float64, l.Width())
		for i := range raw {
			raw[i] = rng.NormFloat64() * 10
		}
		out, err := codec.Apply(raw)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		for _, g := range l.Groups() {
			var sum float64
			for i := g.Lo; i < g.Hi; i++ {
				if out[i] < 0 {
					t.Fatalf("trial %d: negative entry %v", trial, out[i])
				}
				sum += out[i]
			}
			if math.Abs(sum-1) > 1e-9 {
				t.Fatalf("trial %d: group %d sums to %v", trial, g.ID, sum)
			}
		}
		for _, i := range l.ContinuousIndices() {
			if out[i] != raw[i] {
				t.Fatalf("trial %d: continuous column %d changed", trial, i)
			}
		}
		batch := mat.NewDense(1, l.Width(), out)
		if err := l.CheckSimplex(batch, 1e-9); err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
	}
}

func TestGroupsAreIndependent(t *testing.T) {
	l := mixedLayout(t)
	codec, _ := NewCodec(l, ActivationNone)
	raw := []float64{0.1, 1, 2, 0.3, 0.5, 0.5, 0.5}
	base, _ := codec.Apply(raw)

	raw[4] = 100 // only group 1 changes
	moved, _ := codec.Apply(raw)
	for i := 1; i < 3; i++ {
		if base[i] != moved[i] {
			t.Fatalf("group 0 changed when group 1 logits moved: %v vs %v", base[1:3], moved[1:3])
		}
	}
	if moved[4] <= base[4] {
		t.Fatalf("expected group 1 mass to shift to column 4")
	}
}

func TestTanhActivation(t *testing.T) {
	l := mixedLayout(t)
	codec, err := NewCodec(l, ActivationTanh)
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	out, _ := codec.Apply([]float64{5, 0, 0, -5, 0, 0, 0})
	if math.Abs(out[0]-math.Tanh(5)) > 1e-12 || math.Abs(out[3]-math.Tanh(-5)) > 1e-12 {
		t.Fatalf("tanh not applied: %v", out)
	}
}

func TestCodecErrors(t *testing.T) {
	l := mixedLayout(t)
	if _, err := NewCodec(l, "relu"); !errors.Is(err, ErrUnknownActivation) {
		t.Fatalf("expected ErrUnknownActivation, got %v", err)
	}
	codec, _ := NewCodec(l, "")
	if codec.Activation() != ActivationNone {
		t.Fatalf("empty activation should default to none")
	}
	if _, err := codec.Apply([]float64{1, 2}); !errors.Is(err, ErrWidthMismatch) {
		t.Fatalf("expected ErrWidthMismatch, got %v", err)
	}
}

func TestBackwardMatchesFiniteDifference(t *testing.T) {
	l := mixedLayout(t)
	codec, _ := NewCodec(l, ActivationTanh)
	raw := []float64{0.3, -0.2, 0.7, 0.1, 1.2, -0.4, 0.05}
	weights := []float64{0.5, -1, 2, 0.25, 1.5, -0.5, 0.75}

	objective := func(x []float64) float64 {
		y, _ := codec.Apply(x)
		var s float64
		for i := range y {
			s += weights[i] * y[i]
		}
		return s
	}

	out, _ := codec.ApplyBatch(mat.NewDense(1, len(raw), append([]float64(nil), raw...)))
	grad := codec.Backward(out, mat.NewDense(1, len(raw), weights))

	const h = 1e-6
	for i := range raw {
		plus := append([]float64(nil), raw...)
		minus := append([]float64(nil), raw...)
		plus[i] += h
		minus[i] -= h
		numeric := (objective(plus) - objective(minus)) / (2 * h)
		if math.Abs(numeric-grad.At(0, i)) > 1e-5 {
			t.Errorf("column %d: analytic %v, numeric %v", i, grad.At(0, i), numeric)
		}
	}
}

func TestCheckSimplexDetectsBypass(t *testing.T) {
	l := mixedLayout(t)
	raw := mat.NewDense(1, 7, []float64{0, 0.9, 0.9, 0, 0.2, 0.2, 0.2})
	if err := l.CheckSimplex(raw, 1e-6); !errors.Is(err, ErrNotSimplex) {
		t.Fatalf("expected ErrNotSimplex, got %v", err)
	}
}

// #endregion codec-tests
