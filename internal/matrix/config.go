package matrix

import (
	"fmt"
	"math"
	"strings"

	"bloomrisk/internal/labels"
	"bloomrisk/internal/models"
	"bloomrisk/internal/series"
)

// TargetColumn is the name of the anchor value column in the matrix
const TargetColumn = "chl_ugL"

// LabelColumn is the name of the label column in the matrix
const LabelColumn = "y"

// Config describes one feature matrix build. Every field takes part in the
// configuration fingerprint.
type Config struct {
	models.ColumnNames `yaml:",inline"`

	DeterminandCast string `json:"determinand_cast" yaml:"determinand_cast"`

	WindowStartYear int     `json:"window_start_year" yaml:"window_start_year"`
	WindowEndYear   int     `json:"window_end_year" yaml:"window_end_year"`
	TargetID        string  `json:"target_determinand_id" yaml:"target_determinand_id"`
	Threshold       float64 `json:"threshold_ugL" yaml:"threshold_ugL"`
	StrictlyGreater bool    `json:"strictly_greater" yaml:"strictly_greater"`

	PredictorIDs []string `json:"predictor_ids" yaml:"predictor_ids"`
	LookbackDays int      `json:"lookback_days" yaml:"lookback_days"`

	AddMissingFlags     bool  `json:"add_missing_flags" yaml:"add_missing_flags"`
	AddAgeDays          bool  `json:"add_age_days" yaml:"add_age_days"`
	AddSeasonality      bool  `json:"add_seasonality" yaml:"add_seasonality"`
	AddDaysSinceLastChl bool  `json:"add_days_since_last_chl" yaml:"add_days_since_last_chl"`
	TargetLags          []int `json:"target_lags" yaml:"target_lags"`
	TargetRolls         []int `json:"target_rolls" yaml:"target_rolls"`

	OutputDir      string  `json:"output_dir" yaml:"output_dir"`
	SnapshotID     *string `json:"snapshot_id" yaml:"snapshot_id"`
	FeatureVersion string  `json:"feature_version" yaml:"feature_version"`
	LabelVersion   string  `json:"label_version" yaml:"label_version"`
}

// DefaultConfig returns the chlorophyll-a exceedance build: target 7887,
// predictors total phosphorus, total nitrogen and pH, 30 day lookback
func DefaultConfig() Config {
	return Config{
		ColumnNames:         models.DefaultColumns(),
		DeterminandCast:     string(series.ModeString),
		WindowStartYear:     2005,
		WindowEndYear:       2025,
		TargetID:            "7887",
		Threshold:           20.0,
		StrictlyGreater:     true,
		PredictorIDs:        []string{"348", "9686", "61"},
		LookbackDays:        30,
		AddMissingFlags:     true,
		AddAgeDays:          true,
		AddSeasonality:      true,
		AddDaysSinceLastChl: true,
		TargetLags:          []int{},
		TargetRolls:         []int{},
		OutputDir:           "data/features",
		FeatureVersion:      "FEAT_V1",
		LabelVersion:        "LBL_V1",
	}
}

// Window returns the inclusive year window
func (c Config) Window() series.Window {
	return series.Window{StartYear: c.WindowStartYear, EndYear: c.WindowEndYear}
}

// Snapshot returns the snapshot id or "unknown_snapshot"
func (c Config) Snapshot() string {
	if c.SnapshotID == nil || *c.SnapshotID == "" {
		return "unknown_snapshot"
	}
	return *c.SnapshotID
}

// LabelConfig returns the label definition applied to anchors
func (c Config) LabelConfig() labels.Config {
	return labels.Config{
		ValueColumn:     TargetColumn,
		Threshold:       c.Threshold,
		LabelColumn:     LabelColumn,
		StrictlyGreater: c.StrictlyGreater,
		Version:         c.LabelVersion,
	}
}

// PredictorName returns the column prefix of a predictor
func PredictorName(id string) string {
	return "det_" + id
}

// Validate checks everything that can be checked without data
func (c Config) Validate() error {
	mode, err := series.ParseIDMode(c.DeterminandCast)
	if err != nil {
		return err
	}
	if err := c.Window().Validate(); err != nil {
		return err
	}
	if c.LookbackDays <= 0 {
		return &models.ConfigError{Field: "lookback_days", Message: fmt.Sprintf("must be > 0 (got %d)", c.LookbackDays)}
	}
	if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
		return &models.ConfigError{Field: "threshold_ugL", Message: "must be finite"}
	}
	if strings.TrimSpace(c.TargetID) == "" {
		return &models.ConfigError{Field: "target_determinand_id", Message: "must not be empty"}
	}
	if _, err := series.NewMatcher(mode, c.TargetID); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.PredictorIDs))
	for _, id := range c.PredictorIDs {
		if strings.TrimSpace(id) == "" {
			return &models.ConfigError{Field: "predictor_ids", Message: "must not contain empty ids"}
		}
		if seen[id] {
			return &models.ConfigError{Field: "predictor_ids", Message: fmt.Sprintf("duplicate id %q", id)}
		}
		seen[id] = true
		if _, err := series.NewMatcher(mode, id); err != nil {
			return err
		}
	}

	for _, k := range c.TargetLags {
		if k < 1 {
			return &models.ConfigError{Field: "target_lags", Message: fmt.Sprintf("lag must be >= 1 (got %d)", k)}
		}
	}
	for _, w := range c.TargetRolls {
		if w < 1 {
			return &models.ConfigError{Field: "target_rolls", Message: fmt.Sprintf("window must be >= 1 (got %d)", w)}
		}
	}

	for _, col := range []struct{ field, value string }{
		{"datetime_col", c.Time},
		{"site_col", c.Site},
		{"determinand_col", c.Analyte},
		{"value_col", c.Value},
		{"unit_col", c.Unit},
	} {
		if col.value == "" {
			return &models.ConfigError{Field: col.field, Message: "must not be empty"}
		}
	}

	if c.FeatureVersion == "" {
		return &models.ConfigError{Field: "feature_version", Message: "must not be empty"}
	}
	return nil
}
