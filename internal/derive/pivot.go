package derive

import (
	"fmt"
	"sort"
	"time"

	"bloomrisk/internal/models"
	"bloomrisk/internal/series"
)

// AnalyteColumn maps an analyte identifier to a wide-frame column name
type AnalyteColumn struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// DefaultAnalyteColumns returns the chlorophyll, nutrient and context analytes
func DefaultAnalyteColumns() []AnalyteColumn {
	return []AnalyteColumn{
		{ID: "7887", Name: "chl"},
		{ID: "348", Name: "tp"},
		{ID: "9686", Name: "tn"},
		{ID: "61", Name: "ph"},
		{ID: "76", Name: "temp"},
	}
}

// PivotSpec describes how to turn a long observation table into a Frame
type PivotSpec struct {
	Columns  models.ColumnNames
	Mode     series.IDMode
	Window   series.Window
	Analytes []AnalyteColumn
}

// Pivot reshapes long observations into a wide frame indexed by timestamp.
// Observations sharing a timestamp are averaged across sites. Every requested
// analyte gets a column, even when it has no observations in the window.
func Pivot(table *models.Table, spec PivotSpec) (*Frame, error) {
	if len(spec.Analytes) == 0 {
		return nil, &models.ConfigError{Field: "analytes", Message: "at least one analyte is required"}
	}

	seen := make(map[string]bool, len(spec.Analytes))
	for _, a := range spec.Analytes {
		if seen[a.Name] {
			return nil, &models.ConfigError{Field: "analytes", Message: fmt.Sprintf("duplicate column name %q", a.Name)}
		}
		seen[a.Name] = true
	}

	type acc struct {
		sum float64
		n   int
	}
	perAnalyte := make([]map[int64]*acc, len(spec.Analytes))
	stamps := map[int64]time.Time{}

	for i, a := range spec.Analytes {
		s, _, err := series.Extract(table, series.Spec{
			AnalyteID: a.ID,
			Columns:   spec.Columns,
			Mode:      spec.Mode,
			Window:    spec.Window,
		})
		if err != nil {
			return nil, fmt.Errorf("extract analyte %s: %w", a.ID, err)
		}

		cells := map[int64]*acc{}
		for _, p := range s.Points {
			key := p.Time.UnixNano()
			stamps[key] = p.Time
			c, ok := cells[key]
			if !ok {
				c = &acc{}
				cells[key] = c
			}
			c.sum += p.Value
			c.n++
		}
		perAnalyte[i] = cells
	}

	keys := make([]int64, 0, len(stamps))
	for k := range stamps {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	times := make([]time.Time, len(keys))
	for i, k := range keys {
		times[i] = stamps[k]
	}

	frame := NewFrame(times)
	for i, a := range spec.Analytes {
		column := make([]*float64, len(keys))
		for row, k := range keys {
			if c, ok := perAnalyte[i][k]; ok {
				mean := c.sum / float64(c.n)
				column[row] = &mean
			}
		}
		if err := frame.Set(a.Name, column); err != nil {
			return nil, err
		}
	}

	return frame, nil
}
