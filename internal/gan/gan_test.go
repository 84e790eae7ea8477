package gan

import (
	"errors"
	"math"
	"testing"

	"github.com/csdgan/trainer/internal/labels"
	"github.com/csdgan/trainer/internal/layout"
	"gonum.org/v1/gonum/mat"
)

// #region helpers
func testLayout(t *testing.T) *layout.Layout {
	t.Helper()
	l, err := layout.New([]layout.Column{
		layout.ContinuousColumn("x0"),
		layout.CategoricalColumn("c_a", 0, 0),
		layout.CategoricalColumn("c_b", 0, 1),
		layout.CategoricalColumn("c_c", 0, 2),
		layout.ContinuousColumn("x1"),
	})
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	return l
}

func pair(t *testing.T) (*Generator, *Discriminator) {
	t.Helper()
	l := testLayout(t)
	gcfg := DefaultGeneratorConfig(4, 3)
	gcfg.Hidden = []int{8}
	gcfg.Seed = 11
	g, err := NewGenerator(gcfg, l)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	dcfg := DefaultDiscriminatorConfig(l.Width(), 3)
	dcfg.Hidden = []int{8}
	dcfg.Seed = 12
	d, err := NewDiscriminator(dcfg)
	if err != nil {
		t.Fatalf("discriminator: %v", err)
	}
	return g, d
}

func onehot(t *testing.T, idx ...int) *mat.Dense {
	t.Helper()
	m, err := labels.OneHot(idx, 3)
	if err != nil {
		t.Fatalf("onehot: %v", err)
	}
	return m
}

func realBatch() *mat.Dense {
	return mat.NewDense(3, 5, []float64{
		0.1, 1, 0, 0, -0.4,
		-0.2, 0, 1, 0, 0.3,
		0.5, 0, 0, 1, 0.9,
	})
}

func paramsEqual(a, b [][]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

// #endregion helpers

// #region generator-tests
func TestGenerateConformsToLayout(t *testing.T) {
	g, _ := pair(t)
	s, err := g.Generate(g.SampleNoise(7), onehot(t, 0, 1, 2, 0, 1, 2, 0))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if r, c := s.Records.Dims(); r != 7 || c != 5 {
		t.Fatalf("dims %dx%d", r, c)
	}
	if err := g.Layout().CheckSimplex(s.Records, 1e-9); err != nil {
		t.Fatalf("simplex: %v", err)
	}
}

func TestGenerateRejectsShapes(t *testing.T) {
	g, _ := pair(t)
	if _, err := g.Generate(g.SampleNoise(2), onehot(t, 0, 1, 2)); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for row mismatch, got %v", err)
	}
	if _, err := g.Generate(mat.NewDense(1, 3, nil), onehot(t, 0)); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for noise width, got %v", err)
	}
}

func TestNewGeneratorRejectsConfig(t *testing.T) {
	l := testLayout(t)
	cfg := DefaultGeneratorConfig(0, 3)
	if _, err := NewGenerator(cfg, l); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	cfg = DefaultGeneratorConfig(4, 3)
	cfg.Activation = "sigmoid"
	if _, err := NewGenerator(cfg, l); !errors.Is(err, layout.ErrUnknownActivation) {
		t.Fatalf("expected ErrUnknownActivation, got %v", err)
	}
	cfg = DefaultGeneratorConfig(4, 3)
	cfg.HiddenActivation = "swish"
	if _, err := NewGenerator(cfg, l); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for hidden activation, got %v", err)
	}
	dcfg := DefaultDiscriminatorConfig(l.Width(), 3)
	dcfg.HiddenActivation = "swish"
	if _, err := NewDiscriminator(dcfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for discriminator activation, got %v", err)
	}
	cfg.HiddenActivation = "tanh"
	g, err := NewGenerator(cfg, l)
	if err != nil {
		t.Fatalf("tanh hidden layers: %v", err)
	}
	if name := g.Layers()[0].Activation().Name(); name != "tanh" {
		t.Fatalf("hidden activation = %s", name)
	}
}

// #endregion generator-tests

// #region protocol-tests
func TestDiscriminatorCallOrder(t *testing.T) {
	g, d := pair(t)
	lbl := onehot(t, 0, 1, 2)
	rj, _ := d.Discriminate(realBatch(), lbl)
	s, _ := g.Generate(g.SampleNoise(3), lbl)
	fj, _ := d.Discriminate(s.Records, lbl)

	if _, err := d.TrainOneStepFake(fj); !errors.Is(err, ErrProtocolOrder) {
		t.Fatalf("fake before real: expected ErrProtocolOrder, got %v", err)
	}
	if _, err := d.CombineAndUpdateOpt(); !errors.Is(err, ErrProtocolOrder) {
		t.Fatalf("combine before real: expected ErrProtocolOrder, got %v", err)
	}
	if d.Phase() != PhaseIdle || d.Network().GradNorm() != 0 {
		t.Fatalf("rejected calls changed state: phase %s", d.Phase())
	}

	if _, err := d.TrainOneStepReal(rj); err != nil {
		t.Fatalf("real: %v", err)
	}
	if _, err := d.TrainOneStepReal(rj); !errors.Is(err, ErrProtocolOrder) {
		t.Fatalf("real twice: expected ErrProtocolOrder, got %v", err)
	}
	if _, err := d.CombineAndUpdateOpt(); !errors.Is(err, ErrProtocolOrder) {
		t.Fatalf("combine before fake: expected ErrProtocolOrder, got %v", err)
	}
	if d.Phase() != PhaseRealDone {
		t.Fatalf("phase = %s", d.Phase())
	}
	if _, err := d.TrainOneStepFake(fj); err != nil {
		t.Fatalf("fake: %v", err)
	}
	before := d.Network().CopyParams()
	u, err := d.CombineAndUpdateOpt()
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if math.Abs(u.Loss-(u.LossReal+u.LossFake)) > 1e-12 {
		t.Fatalf("combined loss %v != %v + %v", u.Loss, u.LossReal, u.LossFake)
	}
	if paramsEqual(before, d.Network().CopyParams()) {
		t.Fatalf("optimizer step did not change parameters")
	}
	if d.Phase() != PhaseIdle {
		t.Fatalf("phase after combine = %s", d.Phase())
	}
	if d.DReal() != rj.Mean() || d.DFake() != fj.Mean() {
		t.Fatalf("means not recorded")
	}
}

func TestStaleAndForeignJudgements(t *testing.T) {
	g, d := pair(t)
	_, other := pair(t)
	lbl := onehot(t, 0, 1, 2)
	rj, _ := d.Discriminate(realBatch(), lbl)
	s, _ := g.Generate(g.SampleNoise(3), lbl)
	fj, _ := d.Discriminate(s.Records, lbl)

	foreign, _ := other.Discriminate(realBatch(), lbl)
	if _, err := d.TrainOneStepReal(foreign); !errors.Is(err, ErrForeignJudgement) {
		t.Fatalf("expected ErrForeignJudgement, got %v", err)
	}

	d.TrainOneStepReal(rj)
	d.TrainOneStepFake(fj)
	d.CombineAndUpdateOpt()

	if _, err := d.TrainOneStepReal(rj); !errors.Is(err, ErrStaleJudgement) {
		t.Fatalf("expected ErrStaleJudgement, got %v", err)
	}
	if _, err := g.TrainOneStep(fj, s, d); !errors.Is(err, ErrStaleJudgement) {
		t.Fatalf("generator with stale judgement: expected ErrStaleJudgement, got %v", err)
	}
}

func TestGeneratorRejectsMissingJudgement(t *testing.T) {
	g, d := pair(t)
	lbl := onehot(t, 0, 1, 2)
	s, _ := g.Generate(g.SampleNoise(3), lbl)
	before := g.Network().CopyParams()
	if _, err := g.TrainOneStep(nil, s, d); !errors.Is(err, ErrForeignJudgement) {
		t.Fatalf("expected ErrForeignJudgement, got %v", err)
	}
	fj, _ := d.Discriminate(s.Records, lbl)
	if _, err := g.TrainOneStep(fj, nil, d); !errors.Is(err, ErrSampleMismatch) {
		t.Fatalf("expected ErrSampleMismatch, got %v", err)
	}
	if !paramsEqual(before, g.Network().CopyParams()) {
		t.Fatal("generator parameters moved on a rejected step")
	}
}

func TestAbortResetsTransaction(t *testing.T) {
	_, d := pair(t)
	rj, _ := d.Discriminate(realBatch(), onehot(t, 0, 1, 2))
	d.TrainOneStepReal(rj)
	d.Abort()
	if d.Phase() != PhaseIdle || d.Network().GradNorm() != 0 {
		t.Fatalf("abort left phase %s grad %v", d.Phase(), d.Network().GradNorm())
	}
}

func TestGeneratorStepLeavesDiscriminator(t *testing.T) {
	g, d := pair(t)
	lbl := onehot(t, 0, 1, 2)
	rj, _ := d.Discriminate(realBatch(), lbl)
	s, _ := g.Generate(g.SampleNoise(3), lbl)
	fj, _ := d.Discriminate(s.Records, lbl)
	d.TrainOneStepReal(rj)
	d.TrainOneStepFake(fj)
	d.CombineAndUpdateOpt()

	again, _ := d.Discriminate(s.Records, lbl)
	if _, err := g.TrainOneStep(again, &Sample{Records: realBatch()}, d); !errors.Is(err, ErrSampleMismatch) {
		t.Fatalf("expected ErrSampleMismatch, got %v", err)
	}

	dParams := d.Network().CopyParams()
	dGrad := d.Network().GradNorm()
	gParams := g.Network().CopyParams()
	loss, err := g.TrainOneStep(again, s, d)
	if err != nil {
		t.Fatalf("generator step: %v", err)
	}
	if math.IsNaN(loss) || loss <= 0 {
		t.Fatalf("loss = %v", loss)
	}
	if !paramsEqual(dParams, d.Network().CopyParams()) || d.Network().GradNorm() != dGrad {
		t.Fatalf("generator step touched the discriminator")
	}
	if paramsEqual(gParams, g.Network().CopyParams()) {
		t.Fatalf("generator parameters unchanged")
	}
}

// #endregion protocol-tests

// #region snapshot-tests
func TestSnapshotRoundTrip(t *testing.T) {
	g, _ := pair(t)
	snap := g.Snapshot()
	blob, err := snap.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := decoded.UnmarshalBinary(blob); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !paramsEqual(snap.Params, decoded.Params) {
		t.Fatalf("params differ after round trip")
	}
	rebuilt, err := NewGeneratorFromSnapshot(&decoded, 99)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	noise := g.SampleNoise(4)
	lbl := onehot(t, 2, 1, 0, 2)
	a, _ := g.Generate(noise, lbl)
	b, _ := rebuilt.Generate(noise, lbl)
	if !mat.Equal(a.Records, b.Records) {
		t.Fatalf("rebuilt generator output differs")
	}
}

func TestSnapshotIsFrozen(t *testing.T) {
	g, d := pair(t)
	snap := g.Snapshot()
	frozen := append([]float64(nil), snap.Params[0]...)

	lbl := onehot(t, 0, 1, 2)
	s, _ := g.Generate(g.SampleNoise(3), lbl)
	j, _ := d.Discriminate(s.Records, lbl)
	if _, err := g.TrainOneStep(j, s, d); err != nil {
		t.Fatalf("step: %v", err)
	}
	for i, v := range snap.Params[0] {
		if v != frozen[i] {
			t.Fatalf("snapshot mutated by training")
		}
	}
}

func TestUnmarshalRejectsCorruptBlobs(t *testing.T) {
	g, _ := pair(t)
	blob, _ := g.Snapshot().MarshalBinary()
	cases := map[string][]byte{
		"magic":     append([]byte("XXXX"), blob[4:]...),
		"truncated": blob[:len(blob)-3],
		"short":     blob[:2],
	}
	for name, data := range cases {
		var s Snapshot
		if err := s.UnmarshalBinary(data); !errors.Is(err, ErrBadSnapshot) {
			t.Errorf("%s: expected ErrBadSnapshot, got %v", name, err)
		}
	}
}

func TestGenerateDatasetProportional(t *testing.T) {
	g, _ := pair(t)
	dist, err := labels.NewDistribution([]string{"A", "B", "C"}, []float64{0.5, 0.3, 0.2})
	if err != nil {
		t.Fatalf("distribution: %v", err)
	}
	ds, err := GenerateDataset(g.Snapshot(), 360, dist, labels.SamplingProportional, 5)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if r, c := ds.Records.Dims(); r != 360 || c != 5 {
		t.Fatalf("dims %dx%d", r, c)
	}
	counts := make([]int, 3)
	for _, j := range ds.Labels {
		counts[j]++
	}
	if counts[0] != 180 || counts[1] != 108 || counts[2] != 72 {
		t.Fatalf("counts = %v", counts)
	}
	if err := g.Layout().CheckSimplex(ds.Records, 1e-9); err != nil {
		t.Fatalf("simplex: %v", err)
	}
	if _, err := GenerateDataset(g.Snapshot(), 0, dist, labels.SamplingProportional, 5); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for size 0, got %v", err)
	}
}

func TestGenerateForChunks(t *testing.T) {
	g, _ := pair(t)
	out, err := g.GenerateFor([]int{0, 1, 2, 0, 1}, 2)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if r, _ := out.Dims(); r != 5 {
		t.Fatalf("rows = %d", r)
	}
	if err := g.Layout().CheckSimplex(out, 1e-9); err != nil {
		t.Fatalf("simplex: %v", err)
	}
}

// #endregion snapshot-tests
