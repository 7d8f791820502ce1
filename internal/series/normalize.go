// Package series extracts clean per-analyte time series from a long-format
// observation table.
package series

import (
	"fmt"
	"sort"
	"time"

	"bloomrisk/internal/models"
)

// IDMode selects how analyte identifiers are compared. Source exports are
// inconsistent about zero padding ("0061" vs "61") and cell types.
type IDMode string

const (
	// ModeString compares the canonical textual form of both sides
	ModeString IDMode = "str"
	// ModeInt coerces both sides to integers; non-numeric cells never match
	ModeInt IDMode = "int"
	// ModeNone compares string cells untouched; typed cells, such as an
	// integer Parquet column, compare by their plain decimal text
	ModeNone IDMode = "none"
)

// ParseIDMode validates an identifier comparison mode
func ParseIDMode(s string) (IDMode, error) {
	switch m := IDMode(s); m {
	case ModeString, ModeInt, ModeNone:
		return m, nil
	}
	return "", &models.ConfigError{
		Field:   "determinand_cast",
		Message: fmt.Sprintf("must be one of: 'str', 'int', 'none' (got %q)", s),
	}
}

// Matcher reports whether an analyte cell identifies the target analyte
type Matcher func(cell any) bool

// NewMatcher builds the analyte predicate for a target identifier
func NewMatcher(mode IDMode, target string) (Matcher, error) {
	switch mode {
	case ModeString:
		want := models.CellString(target)
		return func(cell any) bool {
			return cell != nil && models.CellString(cell) == want
		}, nil

	case ModeInt:
		want, ok := models.ToInt(target)
		if !ok {
			return nil, &models.ConfigError{
				Field:   "determinand_id",
				Message: fmt.Sprintf("%q is not an integer identifier", target),
			}
		}
		return func(cell any) bool {
			got, ok := models.ToInt(cell)
			return ok && got == want
		}, nil

	case ModeNone:
		return func(cell any) bool {
			switch c := cell.(type) {
			case nil:
				return false
			case string:
				return c == target
			}
			return models.CellString(cell) == target
		}, nil
	}

	_, err := ParseIDMode(string(mode))
	return nil, err
}

// Window is an inclusive range of calendar years
type Window struct {
	StartYear int `json:"window_start_year" yaml:"window_start_year"`
	EndYear   int `json:"window_end_year" yaml:"window_end_year"`
}

// Validate rejects inverted windows
func (w Window) Validate() error {
	if w.EndYear < w.StartYear {
		return &models.ConfigError{
			Field:   "window_end_year",
			Message: fmt.Sprintf("must be >= window_start_year (%d < %d)", w.EndYear, w.StartYear),
		}
	}
	return nil
}

// Contains reports whether t falls in the window by calendar year
func (w Window) Contains(t time.Time) bool {
	y := t.Year()
	return y >= w.StartYear && y <= w.EndYear
}

func (w Window) String() string {
	return fmt.Sprintf("%d-%d", w.StartYear, w.EndYear)
}

// Point is one observation of a series. Row is the position of the source
// row in the input table and breaks ties between equal timestamps.
type Point struct {
	Site  string
	Time  time.Time
	Value float64
	Row   int
}

// Series is a single analyte's observations sorted by (site, time, row)
type Series struct {
	AnalyteID string
	Points    []Point
}

// Len returns the number of points
func (s *Series) Len() int {
	return len(s.Points)
}

// Values returns the point values in series order
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// Sites returns the distinct sites in series order
func (s *Series) Sites() []string {
	var out []string
	for i, p := range s.Points {
		if i == 0 || p.Site != s.Points[i-1].Site {
			out = append(out, p.Site)
		}
	}
	return out
}

// Spec describes which series to extract and how to read the table
type Spec struct {
	AnalyteID string
	Columns   models.ColumnNames
	Mode      IDMode
	Window    Window
}

// ExtractReport counts what happened to the rows of the requested analyte
type ExtractReport struct {
	RowsScanned         int `json:"rows_scanned"`
	RowsMatched         int `json:"rows_matched"`
	DroppedBadTimestamp int `json:"dropped_bad_timestamp"`
	OutsideWindow       int `json:"outside_window"`
	DroppedNonNumeric   int `json:"dropped_non_numeric"`
	Kept                int `json:"kept"`
}

// Extract filters the table to one analyte inside the year window, coerces
// types and returns the series sorted by (site, time). Per-row anomalies are
// counted in the report; only configuration problems return an error.
func Extract(table *models.Table, spec Spec) (*Series, ExtractReport, error) {
	var report ExtractReport

	cols := spec.Columns
	if err := table.RequireColumns("table", cols.Time, cols.Site, cols.Analyte, cols.Value); err != nil {
		return nil, report, err
	}
	if err := spec.Window.Validate(); err != nil {
		return nil, report, err
	}

	match, err := NewMatcher(spec.Mode, spec.AnalyteID)
	if err != nil {
		return nil, report, err
	}

	timeCol, _ := table.ColumnIndex(cols.Time)
	siteCol, _ := table.ColumnIndex(cols.Site)
	analyteCol, _ := table.ColumnIndex(cols.Analyte)
	valueCol, _ := table.ColumnIndex(cols.Value)

	out := &Series{AnalyteID: spec.AnalyteID}
	for row := 0; row < table.Len(); row++ {
		report.RowsScanned++

		if !match(table.Cell(row, analyteCol)) {
			continue
		}
		report.RowsMatched++

		ts, ok := models.ParseTimestamp(table.Cell(row, timeCol))
		if !ok {
			report.DroppedBadTimestamp++
			continue
		}
		if !spec.Window.Contains(ts) {
			report.OutsideWindow++
			continue
		}

		value, ok := models.ToFloat(table.Cell(row, valueCol))
		if !ok {
			report.DroppedNonNumeric++
			continue
		}

		out.Points = append(out.Points, Point{
			Site:  models.CellString(table.Cell(row, siteCol)),
			Time:  ts,
			Value: value,
			Row:   row,
		})
	}

	SortPoints(out.Points)
	report.Kept = len(out.Points)

	return out, report, nil
}

// SortPoints orders points by (site, time, row) in place
func SortPoints(points []Point) {
	sort.SliceStable(points, func(i, j int) bool {
		return lessPoint(points[i], points[j])
	})
}

func lessPoint(a, b Point) bool {
	if a.Site != b.Site {
		return a.Site < b.Site
	}
	if !a.Time.Equal(b.Time) {
		return a.Time.Before(b.Time)
	}
	return a.Row < b.Row
}
