// Package labels owns the exceedance target definition. It is independent of
// the feature engine so the same definition can label any table that carries
// the value column.
package labels

import (
	"fmt"
	"math"

	"bloomrisk/internal/models"
	"bloomrisk/pkg/fingerprint"
)

// Config defines the label
type Config struct {
	ValueColumn     string  `json:"chl_value_col" yaml:"chl_value_col"`
	Threshold       float64 `json:"threshold_ugL" yaml:"threshold_ugL"`
	LabelColumn     string  `json:"label_col" yaml:"label_col"`
	StrictlyGreater bool    `json:"strictly_greater" yaml:"strictly_greater"`
	Version         string  `json:"label_version" yaml:"label_version"`
}

// DefaultConfig labels chlorophyll above 20 ug/L
func DefaultConfig() Config {
	return Config{
		ValueColumn:     "chl_ugL",
		Threshold:       20.0,
		LabelColumn:     "y",
		StrictlyGreater: true,
		Version:         "LBL_V1",
	}
}

// Validate checks the label configuration
func (c Config) Validate() error {
	if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
		return &models.ConfigError{Field: "threshold_ugL", Message: "must be finite"}
	}
	if c.ValueColumn == "" {
		return &models.ConfigError{Field: "chl_value_col", Message: "must not be empty"}
	}
	if c.LabelColumn == "" {
		return &models.ConfigError{Field: "label_col", Message: "must not be empty"}
	}
	return nil
}

// Exceedance labels each value 1 when it exceeds the threshold: strictly
// greater when strict, greater-or-equal otherwise.
func Exceedance(values []float64, threshold float64, strict bool) []int {
	out := make([]int, len(values))
	for i, v := range values {
		out[i] = exceeds(v, threshold, strict)
	}
	return out
}

func exceeds(v, threshold float64, strict bool) int {
	if strict {
		if v > threshold {
			return 1
		}
		return 0
	}
	if v >= threshold {
		return 1
	}
	return 0
}

// Definer applies a label configuration and carries its fingerprint
type Definer struct {
	cfg         Config
	fingerprint string
}

// NewDefiner validates cfg and computes its fingerprint once
func NewDefiner(cfg Config) (*Definer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fp, err := fingerprint.Of(cfg)
	if err != nil {
		return nil, fmt.Errorf("label fingerprint: %w", err)
	}
	return &Definer{cfg: cfg, fingerprint: fp}, nil
}

// Config returns the label configuration
func (d *Definer) Config() Config {
	return d.cfg
}

// Fingerprint returns the SHA-256 of the canonical label configuration
func (d *Definer) Fingerprint() string {
	return d.fingerprint
}

// Label labels one value. A missing value never exceeds.
func (d *Definer) Label(value *float64) int {
	if value == nil {
		return 0
	}
	return exceeds(*value, d.cfg.Threshold, d.cfg.StrictlyGreater)
}

// LabelAll labels values in order
func (d *Definer) LabelAll(values []float64) []int {
	return Exceedance(values, d.cfg.Threshold, d.cfg.StrictlyGreater)
}

// AuditSummary describes a labelled dataset for governance records.
// PositiveRate is nil for an empty dataset.
type AuditSummary struct {
	N            int      `json:"n"`
	Positives    int      `json:"n_pos"`
	PositiveRate *float64 `json:"pos_rate"`
	Threshold    float64  `json:"threshold_ugL"`
	Strict       bool     `json:"strictly_greater"`
	Version      string   `json:"label_version"`
	Fingerprint  string   `json:"label_config_fingerprint"`
}

// Audit summarizes labels produced by this definer
func (d *Definer) Audit(labels []int) AuditSummary {
	summary := AuditSummary{
		N:           len(labels),
		Threshold:   d.cfg.Threshold,
		Strict:      d.cfg.StrictlyGreater,
		Version:     d.cfg.Version,
		Fingerprint: d.fingerprint,
	}
	for _, y := range labels {
		summary.Positives += y
	}
	if summary.N > 0 {
		rate := float64(summary.Positives) / float64(summary.N)
		summary.PositiveRate = &rate
	}
	return summary
}

// LabelTable returns a copy of table with the label column and the
// label_version / label_config_fingerprint governance columns appended.
// Cells of the value column that are not numeric are labelled 0.
func (d *Definer) LabelTable(table *models.Table) (*models.Table, []int, error) {
	if err := table.RequireColumns("chl_value_col", d.cfg.ValueColumn); err != nil {
		return nil, nil, err
	}
	valueCol, _ := table.ColumnIndex(d.cfg.ValueColumn)

	columns := table.Columns()
	for _, extra := range []string{d.cfg.LabelColumn, "label_version", "label_config_fingerprint"} {
		if !table.HasColumn(extra) {
			columns = append(columns, extra)
		}
	}

	out := models.NewTable(columns)
	labelIdx, _ := out.ColumnIndex(d.cfg.LabelColumn)
	versionIdx, _ := out.ColumnIndex("label_version")
	fpIdx, _ := out.ColumnIndex("label_config_fingerprint")

	labels := make([]int, table.Len())
	for i := 0; i < table.Len(); i++ {
		var value *float64
		if v, ok := models.ToFloat(table.Cell(i, valueCol)); ok {
			value = &v
		}
		labels[i] = d.Label(value)

		row := make([]any, len(columns))
		copy(row, table.Row(i))
		row[labelIdx] = labels[i]
		row[versionIdx] = d.cfg.Version
		row[fpIdx] = d.fingerprint
		if err := out.Append(row...); err != nil {
			return nil, nil, err
		}
	}

	return out, labels, nil
}
