package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"

	"github.com/csdgan/trainer/internal/labels"
	"github.com/csdgan/trainer/internal/layout"
	"gonum.org/v1/gonum/mat"
)

// #region schema

// Kind is how a feature column is modelled.
type Kind string

const (
	KindContinuous  Kind = "continuous"
	KindInteger     Kind = "integer"
	KindCategorical Kind = "categorical"
)

// Field is one feature column of the source table.
type Field struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Schema names the label column and the features. With no fields, every other column
// is continuous.
type Schema struct {
	Label  string  `json:"label"`
	Fields []Field `json:"fields,omitempty"`
}

// Options controls how a table becomes a training set.
type Options struct {
	Schema       Schema
	TestFraction float64
	TestSize     int // > 0 holds out exactly this many rows and overrides TestFraction
	BatchSize    int // <= 0 means one batch with every training row
	Shuffle      bool
	Seed         int64
}

// #endregion schema

// #region dataset

// Batch is one training batch: records laid out by the dataset layout and the
// one-hot conditioning labels.
type Batch struct {
	Records *mat.Dense
	Labels  *mat.Dense
	Classes []int
}

// Rows is the batch size.
func (b Batch) Rows() int {
	r, _ := b.Records.Dims()
	return r
}

// Dataset holds the scaled train and holdout splits of one table.
type Dataset struct {
	opts    Options
	fields  []Field
	cats    map[string][]string // categorical field -> sorted values
	layout  *layout.Layout
	encoder *labels.Encoder
	scaler  *Scaler
	dist    labels.Distribution

	trainX       *mat.Dense
	trainY       *mat.Dense
	trainClasses []int
	testX        *mat.Dense
	testClasses  []int
}

// Build parses, splits and scales t. The scaler is fitted on the training split only.
func Build(t *Table, opts Options) (*Dataset, error) {
	if len(t.Rows) == 0 {
		return nil, ErrEmptyTable
	}
	switch {
	case opts.TestSize < 0:
		return nil, fmt.Errorf("%w: test size %d", ErrBadOptions, opts.TestSize)
	case opts.TestSize == 0 && (opts.TestFraction <= 0 || opts.TestFraction >= 1):
		return nil, fmt.Errorf("%w: test fraction %v", ErrBadOptions, opts.TestFraction)
	}
	labelCol, err := t.Column(opts.Schema.Label)
	if err != nil {
		return nil, err
	}
	fields := opts.Schema.Fields
	if len(fields) == 0 {
		for i, h := range t.Header {
			if i != labelCol {
				fields = append(fields, Field{Name: h, Kind: KindContinuous})
			}
		}
	}

	d := &Dataset{opts: opts, fields: fields, cats: make(map[string][]string)}
	colIdx := make([]int, len(fields))
	var columns []layout.Column
	group := 0
	for i, f := range fields {
		if colIdx[i], err = t.Column(f.Name); err != nil {
			return nil, err
		}
		switch f.Kind {
		case KindContinuous, KindInteger, "":
			columns = append(columns, layout.ContinuousColumn(f.Name))
		case KindCategorical:
			values := distinct(t.Rows, colIdx[i])
			d.cats[f.Name] = values
			for p, v := range values {
				columns = append(columns, layout.CategoricalColumn(f.Name+"="+v, group, p))
			}
			group++
		default:
			return nil, fmt.Errorf("%w: field %s kind %q", ErrBadOptions, f.Name, f.Kind)
		}
	}
	if d.layout, err = layout.New(columns); err != nil {
		return nil, err
	}

	labelValues := make([]string, len(t.Rows))
	for r, row := range t.Rows {
		labelValues[r] = row[labelCol]
	}
	if d.encoder, err = labels.Fit(labelValues); err != nil {
		return nil, err
	}
	onehot, err := d.encoder.EncodeAll(labelValues)
	if err != nil {
		return nil, err
	}
	classes, err := d.encoder.DecodeBatch(onehot)
	if err != nil {
		return nil, err
	}

	x := mat.NewDense(len(t.Rows), d.layout.Width(), nil)
	for r, row := range t.Rows {
		if err := d.encodeRow(row, colIdx, x.RawRowView(r)); err != nil {
			return nil, fmt.Errorf("row %d: %w", r+1, err)
		}
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	var train, test []int
	if opts.TestSize > 0 {
		if train, test, err = StratifiedSplitN(classes, opts.TestSize, rng); err != nil {
			return nil, err
		}
	} else {
		train, test = StratifiedSplit(classes, opts.TestFraction, rng)
	}
	if len(train) == 0 || len(test) == 0 {
		return nil, fmt.Errorf("%w: split leaves %d train and %d test rows", ErrBadOptions, len(train), len(test))
	}
	d.scaler = FitScaler(x, train, d.layout.ContinuousIndices())
	d.trainX, d.trainClasses = gather(x, classes, train)
	d.testX, d.testClasses = gather(x, classes, test)
	d.scaler.Transform(d.trainX)
	d.scaler.Transform(d.testX)

	d.trainY, _ = gather(onehot, classes, train)
	if d.dist, err = labels.FromOneHot(d.encoder, d.trainY); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dataset) encodeRow(row []string, colIdx []int, out []float64) error {
	pos := 0
	for i, f := range d.fields {
		cell := row[colIdx[i]]
		if f.Kind == KindCategorical {
			values := d.cats[f.Name]
			k := sort.SearchStrings(values, cell)
			out[pos+k] = 1
			pos += len(values)
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrBadValue, f.Name, cell)
		}
		out[pos] = v
		pos++
	}
	return nil
}

// Layout is the record layout of the features.
func (d *Dataset) Layout() *layout.Layout { return d.layout }

// Encoder is the fitted label encoder.
func (d *Dataset) Encoder() *labels.Encoder { return d.encoder }

// Scaler is the scaler fitted on the training split.
func (d *Dataset) Scaler() *Scaler { return d.scaler }

// Distribution is the class balance of the training labels.
func (d *Dataset) Distribution() labels.Distribution { return d.dist }

// Holdout returns the scaled test features and their class indices.
func (d *Dataset) Holdout() (*mat.Dense, []int) {
	return mat.DenseCopyOf(d.testX), append([]int(nil), d.testClasses...)
}

// Train returns the scaled training features and their class indices.
func (d *Dataset) Train() (*mat.Dense, []int) {
	return mat.DenseCopyOf(d.trainX), append([]int(nil), d.trainClasses...)
}

// Batches splits the training set for one epoch. Every batch has at least one row.
func (d *Dataset) Batches(epoch int) ([]Batch, error) {
	n, width := d.trainX.Dims()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if d.opts.Shuffle {
		rng := rand.New(rand.NewSource(d.opts.Seed + int64(epoch)))
		rng.Shuffle(n, func(a, b int) { order[a], order[b] = order[b], order[a] })
	}
	size := d.opts.BatchSize
	if size <= 0 || size > n {
		size = n
	}
	labelWidth := d.encoder.Width()
	var out []Batch
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		b := Batch{
			Records: mat.NewDense(hi-lo, width, nil),
			Labels:  mat.NewDense(hi-lo, labelWidth, nil),
			Classes: make([]int, hi-lo),
		}
		for i, src := range order[lo:hi] {
			copy(b.Records.RawRowView(i), d.trainX.RawRowView(src))
			copy(b.Labels.RawRowView(i), d.trainY.RawRowView(src))
			b.Classes[i] = d.trainClasses[src]
		}
		out = append(out, b)
	}
	return out, nil
}

// #endregion dataset

// #region decode

// Header is the output CSV header: feature names then the label column.
func (d *Dataset) Header() []string {
	out := make([]string, 0, len(d.fields)+1)
	for _, f := range d.fields {
		out = append(out, f.Name)
	}
	return append(out, d.opts.Schema.Label)
}

// Decode turns scaled records and class indices back into table rows: continuous
// columns are unscaled, integer columns rounded, categorical groups argmaxed.
func (d *Dataset) Decode(records *mat.Dense, classes []int) ([][]string, error) {
	rows, width := records.Dims()
	if width != d.layout.Width() || rows != len(classes) {
		return nil, fmt.Errorf("%w: %dx%d records for %d labels", ErrBadOptions, rows, width, len(classes))
	}
	raw := mat.DenseCopyOf(records)
	d.scaler.Inverse(raw)
	names := d.encoder.Classes()
	out := make([][]string, rows)
	for r := 0; r < rows; r++ {
		rec := raw.RawRowView(r)
		row := make([]string, 0, len(d.fields)+1)
		pos := 0
		for _, f := range d.fields {
			switch f.Kind {
			case KindCategorical:
				values := d.cats[f.Name]
				best := pos
				for k := pos; k < pos+len(values); k++ {
					if rec[k] > rec[best] {
						best = k
					}
				}
				row = append(row, values[best-pos])
				pos += len(values)
			case KindInteger:
				row = append(row, strconv.FormatFloat(math.Round(rec[pos]), 'f', 0, 64))
				pos++
			default:
				row = append(row, strconv.FormatFloat(rec[pos], 'g', 8, 64))
				pos++
			}
		}
		if classes[r] < 0 || classes[r] >= len(names) {
			return nil, fmt.Errorf("%w: class index %d", labels.ErrUnseenLabel, classes[r])
		}
		out[r] = append(row, names[classes[r]])
	}
	return out, nil
}

// #endregion decode

// #region helpers
func distinct(rows [][]string, col int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, row := range rows {
		if !seen[row[col]] {
			seen[row[col]] = true
			out = append(out, row[col])
		}
	}
	sort.Strings(out)
	return out
}

func gather(x *mat.Dense, classes, idx []int) (*mat.Dense, []int) {
	_, width := x.Dims()
	out := mat.NewDense(len(idx), width, nil)
	cls := make([]int, len(idx))
	for i, r := range idx {
		copy(out.RawRowView(i), x.RawRowView(r))
		cls[i] = classes[r]
	}
	return out, cls
}

// StratifiedSplit assigns about fraction of each class to the test split, keeping at
// least one row of every class in training. Both index lists are sorted.
func StratifiedSplit(classes []int, fraction float64, rng *rand.Rand) (train, test []int) {
	keys, byClass := groupByClass(classes)
	counts := make([]int, len(keys))
	for i, c := range keys {
		n := len(byClass[c])
		counts[i] = int(math.Round(fraction * float64(n)))
		if counts[i] >= n {
			counts[i] = n - 1
		}
	}
	return splitCounts(keys, byClass, counts, rng)
}

// StratifiedSplitN assigns exactly n rows to the test split, spread over the classes in
// proportion to their size with largest remainders rounded up. Every class keeps at
// least one training row.
func StratifiedSplitN(classes []int, n int, rng *rand.Rand) (train, test []int, err error) {
	keys, byClass := groupByClass(classes)
	if n <= 0 || n > len(classes)-len(keys) {
		return nil, nil, fmt.Errorf("%w: test size %d for %d rows in %d classes", ErrBadOptions, n, len(classes), len(keys))
	}
	counts := make([]int, len(keys))
	rems := make([]float64, len(keys))
	left := n
	for i, c := range keys {
		quota := float64(n) * float64(len(byClass[c])) / float64(len(classes))
		counts[i] = int(math.Floor(quota))
		rems[i] = quota - float64(counts[i])
		left -= counts[i]
	}
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return rems[order[a]] > rems[order[b]] })
	for left > 0 {
		for _, i := range order {
			if left > 0 && counts[i] < len(byClass[keys[i]])-1 {
				counts[i]++
				left--
			}
		}
	}
	train, test = splitCounts(keys, byClass, counts, rng)
	return train, test, nil
}

func groupByClass(classes []int) ([]int, map[int][]int) {
	byClass := make(map[int][]int)
	var keys []int
	for i, c := range classes {
		if _, ok := byClass[c]; !ok {
			keys = append(keys, c)
		}
		byClass[c] = append(byClass[c], i)
	}
	sort.Ints(keys)
	return keys, byClass
}

func splitCounts(keys []int, byClass map[int][]int, counts []int, rng *rand.Rand) (train, test []int) {
	for i, c := range keys {
		idx := byClass[c]
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		test = append(test, idx[:counts[i]]...)
		train = append(train, idx[counts[i]:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// #endregion helpers
