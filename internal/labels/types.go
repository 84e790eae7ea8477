package labels

import "errors"

// #region errors
var (
	ErrEmptyLabelSet = errors.New("labels: empty label set")
	ErrUnseenLabel   = errors.New("labels: unseen label")
	ErrWidthMismatch = errors.New("labels: vector width mismatch")
	ErrBadWeights    = errors.New("labels: invalid distribution weights")
)

// #endregion errors

// #region sampling-mode

// SamplingMode selects how conditioning labels are drawn from a Distribution.
type SamplingMode string

const (
	// SamplingProportional allocates exact per-class counts (largest remainder) and shuffles them.
	SamplingProportional SamplingMode = "proportional"
	// SamplingRandom draws every label independently from the distribution.
	SamplingRandom SamplingMode = "random"
)

// Valid reports whether m is a known sampling mode.
func (m SamplingMode) Valid() bool {
	return m == SamplingProportional || m == SamplingRandom
}

// #endregion sampling-mode

// #region group

// Group is one categorical block of an encoding: a name and its sorted classes.
type Group struct {
	Name    string
	Classes []string
}

// Width is the number of one-hot columns the group occupies.
func (g Group) Width() int {
	return len(g.Classes)
}

// #endregion group
