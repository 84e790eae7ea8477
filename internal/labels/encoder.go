package labels

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// #region encoder-struct

// Encoder maps label values to concatenated one-hot blocks and back.
// It is immutable after Fit.
type Encoder struct {
	groups  []Group
	index   []map[string]int
	offsets []int
	width   int
}

// #endregion encoder-struct

// #region fit

// Fit builds a single-group encoder over the observed label values.
func Fit(values []string) (*Encoder, error) {
	return FitGroups([]string{"label"}, [][]string{values})
}

// FitGroups builds a multi-group encoder. columns[i] holds the observed values of group names[i].
// Classes within a group are sorted so the encoding does not depend on row order.
func FitGroups(names []string, columns [][]string) (*Encoder, error) {
	if len(names) == 0 || len(names) != len(columns) {
		return nil, fmt.Errorf("%w: %d group names for %d columns", ErrEmptyLabelSet, len(names), len(columns))
	}

	enc := &Encoder{
		groups:  make([]Group, len(names)),
		index:   make([]map[string]int, len(names)),
		offsets: make([]int, len(names)),
	}
	for i, col := range columns {
		seen := make(map[string]struct{}, len(col))
		for _, v := range col {
			seen[v] = struct{}{}
		}
		if len(seen) == 0 {
			return nil, fmt.Errorf("%w: group %q", ErrEmptyLabelSet, names[i])
		}
		classes := make([]string, 0, len(seen))
		for v := range seen {
			classes = append(classes, v)
		}
		sort.Strings(classes)

		idx := make(map[string]int, len(classes))
		for j, c := range classes {
			idx[c] = j
		}
		enc.groups[i] = Group{Name: names[i], Classes: classes}
		enc.index[i] = idx
		enc.offsets[i] = enc.width
		enc.width += len(classes)
	}
	return enc, nil
}

// #endregion fit

// #region accessors

// Width is the total length of an encoded vector.
func (e *Encoder) Width() int {
	return e.width
}

// Groups returns a copy of the fitted groups in encoding order.
func (e *Encoder) Groups() []Group {
	out := make([]Group, len(e.groups))
	for i, g := range e.groups {
		out[i] = Group{Name: g.Name, Classes: append([]string(nil), g.Classes...)}
	}
	return out
}

// Classes returns the classes of the first (conditioning) group.
func (e *Encoder) Classes() []string {
	return append([]string(nil), e.groups[0].Classes...)
}

// Index returns the class index of a conditioning label.
func (e *Encoder) Index(label string) (int, error) {
	j, ok := e.index[0][label]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnseenLabel, label)
	}
	return j, nil
}

// #endregion accessors

// #region encode

// Encode returns the one-hot vector for one value per group.
func (e *Encoder) Encode(values ...string) ([]float64, error) {
	if len(values) != len(e.groups) {
		return nil, fmt.Errorf("%w: got %d values for %d groups", ErrWidthMismatch, len(values), len(e.groups))
	}
	vec := make([]float64, e.width)
	for i, v := range values {
		j, ok := e.index[i][v]
		if !ok {
			return nil, fmt.Errorf("%w: %q in group %q", ErrUnseenLabel, v, e.groups[i].Name)
		}
		vec[e.offsets[i]+j] = 1
	}
	return vec, nil
}

// EncodeAll encodes a column of conditioning labels into a batch of one-hot rows.
// Blocks of any further groups are left zero.
func (e *Encoder) EncodeAll(values []string) (*mat.Dense, error) {
	if len(values) == 0 {
		return nil, ErrEmptyLabelSet
	}
	idx := make([]int, len(values))
	for r, v := range values {
		j, err := e.Index(v)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		idx[r] = j
	}
	return e.EncodeIndices(idx)
}

// EncodeIndices one-hot encodes conditioning class indices.
func (e *Encoder) EncodeIndices(idx []int) (*mat.Dense, error) {
	if len(idx) == 0 {
		return nil, ErrEmptyLabelSet
	}
	k := e.groups[0].Width()
	out := mat.NewDense(len(idx), e.width, nil)
	for r, j := range idx {
		if j < 0 || j >= k {
			return nil, fmt.Errorf("%w: class index %d", ErrUnseenLabel, j)
		}
		out.Set(r, e.offsets[0]+j, 1)
	}
	return out, nil
}

// #endregion encode

// #region decode

// Decode maps a vector back to one value per group by arg-max within each block.
func (e *Encoder) Decode(vec []float64) ([]string, error) {
	if len(vec) != e.width {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWidthMismatch, len(vec), e.width)
	}
	out := make([]string, len(e.groups))
	for i, g := range e.groups {
		lo := e.offsets[i]
		out[i] = g.Classes[argmax(vec[lo:lo+g.Width()])]
	}
	return out, nil
}

// DecodeIndex returns the conditioning class index of a vector.
func (e *Encoder) DecodeIndex(vec []float64) (int, error) {
	if len(vec) != e.width {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrWidthMismatch, len(vec), e.width)
	}
	lo := e.offsets[0]
	return argmax(vec[lo : lo+e.groups[0].Width()]), nil
}

// DecodeBatch returns the conditioning class index of every row.
func (e *Encoder) DecodeBatch(m *mat.Dense) ([]int, error) {
	rows, _ := m.Dims()
	out := make([]int, rows)
	for r := 0; r < rows; r++ {
		j, err := e.DecodeIndex(m.RawRowView(r))
		if err != nil {
			return nil, err
		}
		out[r] = j
	}
	return out, nil
}

// #endregion decode

// #region helpers
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// #endregion helpers
