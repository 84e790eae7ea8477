package layout

import (
	"errors"
	"fmt"
)

// #region errors
var (
	ErrEmptyLayout       = errors.New("layout: no columns")
	ErrNonContiguous     = errors.New("layout: categorical group is not contiguous")
	ErrBadPosition       = errors.New("layout: categorical positions out of order")
	ErrWidthMismatch     = errors.New("layout: vector width mismatch")
	ErrUnknownActivation = errors.New("layout: unknown continuous activation")
	ErrNotSimplex        = errors.New("layout: categorical group is not a probability simplex")
)

// #endregion errors

// #region column

// Kind tags a column as continuous or a member of a categorical group.
type Kind int

const (
	Continuous Kind = iota
	Categorical
)

func (k Kind) String() string {
	if k == Categorical {
		return "categorical"
	}
	return "continuous"
}

// Column describes one position of an output vector. Group and Position are only
// meaningful for categorical columns.
type Column struct {
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	Group    int    `json:"group,omitempty"`
	Position int    `json:"position,omitempty"`
}

// ContinuousColumn is shorthand for a continuous column.
func ContinuousColumn(name string) Column {
	return Column{Name: name, Kind: Continuous}
}

// CategoricalColumn is shorthand for the position-th member of a categorical group.
func CategoricalColumn(name string, group, position int) Column {
	return Column{Name: name, Kind: Categorical, Group: group, Position: position}
}

// Group is a half-open [Lo, Hi) block of categorical columns.
type Group struct {
	ID int `json:"id"`
	Lo int `json:"lo"`
	Hi int `json:"hi"`
}

// Size is the number of columns in the group.
func (g Group) Size() int {
	return g.Hi - g.Lo
}

// #endregion column

// #region layout

// Layout is the validated, immutable column description of a record.
type Layout struct {
	columns []Column
	groups  []Group
}

// New validates columns: each categorical group must occupy one contiguous block whose
// positions run 0..k-1 in order.
func New(columns []Column) (*Layout, error) {
	if len(columns) == 0 {
		return nil, ErrEmptyLayout
	}

	var groups []Group
	closed := make(map[int]bool)
	for i, c := range columns {
		if c.Kind != Categorical {
			continue
		}
		if n := len(groups); n > 0 && groups[n-1].ID == c.Group && groups[n-1].Hi == i {
			g := &groups[n-1]
			if c.Position != g.Size() {
				return nil, fmt.Errorf("%w: column %d (%s) has position %d, want %d", ErrBadPosition, i, c.Name, c.Position, g.Size())
			}
			g.Hi = i + 1
			continue
		}
		if closed[c.Group] {
			return nil, fmt.Errorf("%w: group %d reappears at column %d (%s)", ErrNonContiguous, c.Group, i, c.Name)
		}
		if c.Position != 0 {
			return nil, fmt.Errorf("%w: group %d starts at position %d", ErrBadPosition, c.Group, c.Position)
		}
		closed[c.Group] = true
		groups = append(groups, Group{ID: c.Group, Lo: i, Hi: i + 1})
	}

	return &Layout{
		columns: append([]Column(nil), columns...),
		groups:  groups,
	}, nil
}

// Width is the record length.
func (l *Layout) Width() int {
	return len(l.columns)
}

// Columns returns a copy of the column descriptions.
func (l *Layout) Columns() []Column {
	return append([]Column(nil), l.columns...)
}

// Groups returns the categorical blocks in column order.
func (l *Layout) Groups() []Group {
	return append([]Group(nil), l.groups...)
}

// ContinuousIndices lists the positions of continuous columns.
func (l *Layout) ContinuousIndices() []int {
	var out []int
	for i, c := range l.columns {
		if c.Kind == Continuous {
			out = append(out, i)
		}
	}
	return out
}

// #endregion layout
