package matrix

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloomrisk/internal/models"
)

func fixture(t *testing.T) *models.Table {
	t.Helper()
	table := models.NewTable(models.DefaultColumns().Required())
	rows := [][]any{
		{"2020-01-10", "S1", "7887", 25.0, "ug/L"},
		{"2020-01-01", "S1", "348", 0.05, "mg/L"},
		{"2020-02-20", "S1", "7887", 10.0, "ug/L"},
		{"2020-01-05", "S2", "7887", 20.0, "ug/L"},
		{"2020-01-05", "S2", "348", 0.08, "mg/L"},
		{"2020-01-06", "S2", "348", 0.09, "mg/L"},
		{"2020-01-07", "S1", "9686", 1.2, "mg/L"},
		{"1999-01-01", "S1", "7887", 50.0, "ug/L"},
		{"2020-03-01", "S1", "7887", "n/a", "ug/L"},
	}
	for _, r := range rows {
		require.NoError(t, table.Append(r...))
	}
	return table
}

func build(t *testing.T, table *models.Table, cfg Config) *Matrix {
	t.Helper()
	b, err := NewBuilder(table, cfg)
	require.NoError(t, err)
	m, err := b.Build(context.Background())
	require.NoError(t, err)
	return m
}

func date(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestBuild_OneRowPerAnchorInDeterministicOrder(t *testing.T) {
	m := build(t, fixture(t), DefaultConfig())

	require.Len(t, m.Rows, 3)
	assert.Equal(t, []string{"S1", "S1", "S2"}, []string{m.Rows[0].Site, m.Rows[1].Site, m.Rows[2].Site})
	assert.True(t, m.Rows[0].Time.Equal(date("2020-01-10")))
	assert.True(t, m.Rows[1].Time.Equal(date("2020-02-20")))
	assert.Equal(t, []int{1, 0, 0}, []int{m.Rows[0].Label, m.Rows[1].Label, m.Rows[2].Label})
	assert.Equal(t, []int{0, 2, 3}, []int{m.Rows[0].SourceRow, m.Rows[1].SourceRow, m.Rows[2].SourceRow})

	assert.Equal(t, 3, m.Artifacts.NRows)
	assert.Equal(t, 1, m.Artifacts.NPos)
	require.NotNil(t, m.Artifacts.PosRate)
	assert.InDelta(t, 1.0/3.0, *m.Artifacts.PosRate, 1e-12)
	assert.Equal(t, m.Fingerprint, m.Artifacts.Fingerprint)
	assert.Len(t, m.LabelFingerprint, 64)
}

func TestBuild_PredictorJoinAndStaleness(t *testing.T) {
	m := build(t, fixture(t), DefaultConfig())

	// S1 2020-01-10: total phosphorus from 01-01 (9 days), nitrogen from 01-07
	tp := m.Rows[0].Predictors[0]
	require.NotNil(t, tp.Value)
	assert.Equal(t, 0.05, *tp.Value)
	assert.Equal(t, 9.0, *tp.AgeDays)
	assert.True(t, tp.MatchedAt.Equal(date("2020-01-01")))

	tn := m.Rows[0].Predictors[1]
	require.NotNil(t, tn.Value)
	assert.Equal(t, 3.0, *tn.AgeDays)

	assert.True(t, m.Rows[0].Predictors[2].IsMissing, "no pH observations")

	// S1 2020-02-20: both matches are older than 30 days
	for j := 0; j < 2; j++ {
		cell := m.Rows[1].Predictors[j]
		assert.Nil(t, cell.Value)
		assert.Nil(t, cell.MatchedAt)
		assert.Nil(t, cell.AgeDays)
		assert.True(t, cell.IsMissing)
	}

	// S2 2020-01-05: exact match wins, the 01-06 value is in the future
	exact := m.Rows[2].Predictors[0]
	require.NotNil(t, exact.Value)
	assert.Equal(t, 0.08, *exact.Value)
	assert.Equal(t, 0.0, *exact.AgeDays)
	assert.True(t, m.Rows[2].Predictors[1].IsMissing, "nitrogen never sampled at S2")

	for _, r := range m.Rows {
		for _, cell := range r.Predictors {
			assert.Equal(t, cell.Value == nil, cell.IsMissing)
			if cell.AgeDays != nil {
				assert.LessOrEqual(t, *cell.AgeDays, float64(m.Config.LookbackDays))
			}
		}
	}
}

func TestBuild_QualityReport(t *testing.T) {
	m := build(t, fixture(t), DefaultConfig())

	assert.Equal(t, 9, m.Quality.Target.RowsScanned)
	assert.Equal(t, 5, m.Quality.Target.RowsMatched)
	assert.Equal(t, 1, m.Quality.Target.OutsideWindow)
	assert.Equal(t, 1, m.Quality.Target.DroppedNonNumeric)
	assert.Equal(t, 3, m.Quality.Target.Kept)

	require.Len(t, m.Quality.Predictors, 3)
	tp := m.Quality.Predictors[0]
	assert.Equal(t, "348", tp.ID)
	assert.Equal(t, 3, tp.Extract.Kept)
	assert.Equal(t, 2, tp.Join.Matched)
	assert.Equal(t, 1, tp.Join.Stale)
	assert.Equal(t, 3, m.Quality.Predictors[2].Join.NoMatch)
}

func TestBuild_TimeFeatures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetLags = []int{1}
	cfg.TargetRolls = []int{2}
	m := build(t, fixture(t), cfg)

	assert.Nil(t, m.Rows[0].DaysSinceLast)
	require.NotNil(t, m.Rows[1].DaysSinceLast)
	assert.Equal(t, 41.0, *m.Rows[1].DaysSinceLast)
	assert.Nil(t, m.Rows[2].DaysSinceLast, "first anchor of S2")

	assert.Nil(t, m.Rows[0].TargetLags[0])
	assert.Equal(t, 25.0, *m.Rows[1].TargetLags[0])
	assert.Nil(t, m.Rows[2].TargetLags[0], "lags never cross sites")
	assert.Equal(t, 25.0, *m.Rows[1].TargetRolls[0])
	assert.Nil(t, m.Rows[2].TargetRolls[0])

	assert.Equal(t, 1, m.Rows[0].Seasonality.Month)
	assert.Equal(t, 2, m.Rows[1].Seasonality.Month)
}

func TestBuild_IsDeterministic(t *testing.T) {
	table := fixture(t)
	a := build(t, table, DefaultConfig())
	b := build(t, table, DefaultConfig())

	assert.Equal(t, a, b)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)

	cfg := DefaultConfig()
	cfg.LookbackDays = 60
	c := build(t, table, cfg)
	assert.NotEqual(t, a.Fingerprint, c.Fingerprint)
	assert.Equal(t, a.LabelFingerprint, c.LabelFingerprint)
}

func TestColumns_OrderAndToggles(t *testing.T) {
	m := build(t, fixture(t), DefaultConfig())

	assert.Equal(t, []string{
		"samplingPoint.notation", "phenomenonTime", "chl_ugL", "y",
		"det_348", "det_348__time", "det_348__age_days", "det_348__is_missing",
		"det_9686", "det_9686__time", "det_9686__age_days", "det_9686__is_missing",
		"det_61", "det_61__time", "det_61__age_days", "det_61__is_missing",
		"month_sin", "month_cos", "doy_sin", "doy_cos",
		"days_since_last_chl",
		"feature_version", "feature_config_fingerprint", "snapshot_id",
	}, m.ColumnNames())

	cfg := DefaultConfig()
	cfg.PredictorIDs = []string{"348"}
	cfg.AddAgeDays = false
	cfg.AddMissingFlags = false
	cfg.AddSeasonality = false
	cfg.AddDaysSinceLastChl = false
	cfg.TargetLags = []int{1, 7}
	cfg.TargetRolls = []int{7}
	slim := build(t, fixture(t), cfg)

	assert.Equal(t, []string{
		"samplingPoint.notation", "phenomenonTime", "chl_ugL", "y",
		"det_348", "det_348__time",
		"chl_lag_1", "chl_lag_7", "chl_roll_mean_7",
		"feature_version", "feature_config_fingerprint", "snapshot_id",
	}, slim.ColumnNames())
}

func TestColumns_Values(t *testing.T) {
	snap := "SNAP1"
	cfg := DefaultConfig()
	cfg.SnapshotID = &snap
	m := build(t, fixture(t), cfg)

	byName := map[string]*models.Column{}
	for _, c := range m.Columns() {
		byName[c.Name] = c
		assert.Len(t, c.Values, 3, c.Name)
	}

	assert.Equal(t, models.KindTime, byName["phenomenonTime"].Kind)
	assert.Equal(t, []any{int64(1), int64(0), int64(0)}, byName["y"].Values)
	assert.Equal(t, []any{0.05, nil, 0.08}, byName["det_348"].Values)
	assert.Equal(t, []any{int64(0), int64(1), int64(0)}, byName["det_348__is_missing"].Values)
	assert.Equal(t, []any{nil, nil, nil}, byName["det_61__time"].Values)
	assert.Equal(t, []any{"SNAP1", "SNAP1", "SNAP1"}, byName["snapshot_id"].Values)
	assert.Equal(t, "FEAT_V1", byName["feature_version"].Values[0])
}

func TestColumns_ParityAcrossWindows(t *testing.T) {
	train := DefaultConfig()
	train.WindowEndYear = 2018
	test := DefaultConfig()
	test.WindowStartYear = 2019

	a := build(t, fixture(t), train)
	b := build(t, fixture(t), test)

	assert.Empty(t, a.Rows)
	assert.Len(t, b.Rows, 3)
	assert.Equal(t, a.ColumnNames(), b.ColumnNames())
	assert.Nil(t, a.Artifacts.PosRate)
}

func TestNewBuilder_ConfigurationErrors(t *testing.T) {
	table := fixture(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero lookback", func(c *Config) { c.LookbackDays = 0 }, "lookback_days"},
		{"inverted window", func(c *Config) { c.WindowEndYear = 2000 }, "window_end_year"},
		{"unknown cast", func(c *Config) { c.DeterminandCast = "float" }, "determinand_cast"},
		{"duplicate predictors", func(c *Config) { c.PredictorIDs = []string{"348", "348"} }, "predictor_ids"},
		{"non integer id in int mode", func(c *Config) {
			c.DeterminandCast = "int"
			c.PredictorIDs = []string{"tp"}
		}, "determinand_id"},
		{"bad lag", func(c *Config) { c.TargetLags = []int{0} }, "target_lags"},
		{"empty feature version", func(c *Config) { c.FeatureVersion = "" }, "feature_version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewBuilder(table, cfg)
			require.Error(t, err)

			var cfgErr *models.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestNewBuilder_MissingColumns(t *testing.T) {
	table := models.NewTable([]string{"phenomenonTime", "samplingPoint.notation", "result"})

	_, err := NewBuilder(table, DefaultConfig())
	require.Error(t, err)
	assert.True(t, models.IsConfigError(err))
	assert.Contains(t, err.Error(), "determinand.notation")
	assert.Contains(t, err.Error(), "unit")
}

func TestBuild_HonoursCancellation(t *testing.T) {
	b, err := NewBuilder(fixture(t), DefaultConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfig_Snapshot(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "unknown_snapshot", cfg.Snapshot())
	s := "20260216T055951Z"
	cfg.SnapshotID = &s
	assert.Equal(t, s, cfg.Snapshot())
}
