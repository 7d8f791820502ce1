package models

import (
	"time"
)

// ColumnNames maps the logical fields of a long-format observation table
// to the column names used by a particular source.
type ColumnNames struct {
	Time    string `json:"datetime_col" yaml:"datetime_col"`
	Site    string `json:"site_col" yaml:"site_col"`
	Analyte string `json:"determinand_col" yaml:"determinand_col"`
	Value   string `json:"value_col" yaml:"value_col"`
	Unit    string `json:"unit_col" yaml:"unit_col"`
}

// DefaultColumns returns the column names of the water-quality archive export
func DefaultColumns() ColumnNames {
	return ColumnNames{
		Time:    "phenomenonTime",
		Site:    "samplingPoint.notation",
		Analyte: "determinand.notation",
		Value:   "result",
		Unit:    "unit",
	}
}

// Required returns the columns every observation table must carry
func (c ColumnNames) Required() []string {
	return []string{c.Time, c.Site, c.Analyte, c.Value, c.Unit}
}

// Observation represents a single stored water-quality measurement.
// NULL values represented as pointers
type Observation struct {
	ID             int64     `json:"id" db:"id"`
	PhenomenonTime time.Time `json:"phenomenon_time" db:"phenomenon_time"`
	SiteID         string    `json:"site_id" db:"site_id"`
	AnalyteID      string    `json:"analyte_id" db:"analyte_id"`
	Value          *float64  `json:"value,omitempty" db:"value"`
	Unit           *string   `json:"unit,omitempty" db:"unit"`
	SnapshotID     string    `json:"snapshot_id" db:"snapshot_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ObservationsToTable converts stored observations into a long-format table
// using the given column names.
func ObservationsToTable(observations []*Observation, cols ColumnNames) *Table {
	table := NewTable(cols.Required())
	for _, obs := range observations {
		var value, unit any
		if obs.Value != nil {
			value = *obs.Value
		}
		if obs.Unit != nil {
			unit = *obs.Unit
		}
		// column count always matches Required()
		_ = table.Append(obs.PhenomenonTime, obs.SiteID, obs.AnalyteID, value, unit)
	}
	return table
}

// TableToObservations converts a long-format table into observations.
// Rows without a parseable timestamp, site or analyte are skipped and
// counted; non-numeric values and empty units are stored as NULL.
func TableToObservations(table *Table, cols ColumnNames, snapshotID string) ([]*Observation, int, error) {
	if err := table.RequireColumns("table", cols.Required()...); err != nil {
		return nil, 0, err
	}
	ti, _ := table.ColumnIndex(cols.Time)
	si, _ := table.ColumnIndex(cols.Site)
	ai, _ := table.ColumnIndex(cols.Analyte)
	vi, _ := table.ColumnIndex(cols.Value)
	ui, _ := table.ColumnIndex(cols.Unit)

	out := make([]*Observation, 0, table.Len())
	skipped := 0
	for i := 0; i < table.Len(); i++ {
		ts, ok := ParseTimestamp(table.Cell(i, ti))
		site := CellString(table.Cell(i, si))
		analyte := CellString(table.Cell(i, ai))
		if !ok || site == "" || analyte == "" {
			skipped++
			continue
		}
		obs := &Observation{PhenomenonTime: ts, SiteID: site, AnalyteID: analyte, SnapshotID: snapshotID}
		if v, ok := ToFloat(table.Cell(i, vi)); ok {
			obs.Value = &v
		}
		if u := CellString(table.Cell(i, ui)); u != "" {
			obs.Unit = &u
		}
		out = append(out, obs)
	}
	return out, skipped, nil
}
