package models

import (
	"fmt"
	"sort"
)

// Table is an immutable-by-convention long-format table of dynamically typed
// cells. Cells hold whatever the source produced: strings from CSV, typed
// values (time.Time, float64, int64, nil) from Postgres or Parquet.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]any
}

// NewTable creates an empty table with the given columns
func NewTable(columns []string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)

	index := make(map[string]int, len(cols))
	for i, c := range cols {
		index[c] = i
	}

	return &Table{
		columns: cols,
		index:   index,
	}
}

// Append adds a row. The number of cells must match the number of columns.
func (t *Table) Append(cells ...any) error {
	if len(cells) != len(t.columns) {
		return fmt.Errorf("row has %d cells, table has %d columns", len(cells), len(t.columns))
	}
	row := make([]any, len(cells))
	copy(row, cells)
	t.rows = append(t.rows, row)
	return nil
}

// Columns returns a copy of the column names in table order
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// ColumnIndex returns the position of a column
func (t *Table) ColumnIndex(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// HasColumn reports whether the table carries the column
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Cell returns the value at (row, col)
func (t *Table) Cell(row, col int) any {
	return t.rows[row][col]
}

// Row returns a copy of a row
func (t *Table) Row(i int) []any {
	out := make([]any, len(t.rows[i]))
	copy(out, t.rows[i])
	return out
}

// Column returns a copy of all values of a named column
func (t *Table) Column(name string) ([]any, error) {
	col, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("column %q not found", name)
	}
	out := make([]any, len(t.rows))
	for i, row := range t.rows {
		out[i] = row[col]
	}
	return out, nil
}

// MissingColumns returns the required columns absent from the table, sorted
func (t *Table) MissingColumns(required ...string) []string {
	var missing []string
	seen := make(map[string]struct{}, len(required))
	for _, name := range required {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if !t.HasColumn(name) {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

// RequireColumns returns a ConfigError naming every missing required column
func (t *Table) RequireColumns(field string, required ...string) error {
	missing := t.MissingColumns(required...)
	if len(missing) == 0 {
		return nil
	}
	return &ConfigError{
		Field:   field,
		Message: fmt.Sprintf("table missing required columns: %v", missing),
	}
}
