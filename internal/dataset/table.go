package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// #region errors
var (
	ErrEmptyTable    = errors.New("dataset: table has no rows")
	ErrUnknownColumn = errors.New("dataset: unknown column")
	ErrBadValue      = errors.New("dataset: value does not parse")
	ErrBadOptions    = errors.New("dataset: invalid options")
)

// #endregion errors

// #region table

// Table is a header plus string rows, as read from CSV.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadCSV reads a CSV with a header row. Surrounding whitespace is trimmed from every cell.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("dataset: read csv: %w", err)
	}
	if len(records) < 2 {
		return nil, ErrEmptyTable
	}
	t := &Table{Header: trimAll(records[0])}
	for _, rec := range records[1:] {
		t.Rows = append(t.Rows, trimAll(rec))
	}
	return t, nil
}

// LoadCSV opens path and reads it with ReadCSV.
func LoadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// WriteCSV writes a header and rows.
func WriteCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("dataset: write header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("dataset: write rows: %w", err)
	}
	return nil
}

// Column returns the index of a header name.
func (t *Table) Column(name string) (int, error) {
	for i, h := range t.Header {
		if h == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

// #endregion table
