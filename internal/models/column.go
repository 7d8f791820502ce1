package models

// Kind is the physical type of a typed column
type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindInt
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFloat:
		return "float64"
	case KindInt:
		return "int64"
	case KindTime:
		return "timestamp"
	}
	return "unknown"
}

// Column is a named column with one physical type. Values hold nil or a
// string, float64, int64 or time.Time according to Kind.
type Column struct {
	Name   string
	Kind   Kind
	Values []any
}

// NewColumn allocates a column of n null values
func NewColumn(name string, kind Kind, n int) *Column {
	return &Column{Name: name, Kind: kind, Values: make([]any, n)}
}

// ColumnsToTable turns typed columns of equal length into a Table
func ColumnsToTable(cols []*Column) *Table {
	names := make([]string, len(cols))
	n := 0
	for i, c := range cols {
		names[i] = c.Name
		if len(c.Values) > n {
			n = len(c.Values)
		}
	}
	table := NewTable(names)
	for row := 0; row < n; row++ {
		cells := make([]any, len(cols))
		for i, c := range cols {
			if row < len(c.Values) {
				cells[i] = c.Values[row]
			}
		}
		_ = table.Append(cells...)
	}
	return table
}
