package matrix

import (
	"strconv"
	"time"

	"bloomrisk/internal/models"
)

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func timeOrNil(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}

// ColumnNames returns the flattened column names in output order. The set
// and order depend only on the configuration.
func (m *Matrix) ColumnNames() []string {
	cols := m.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Columns flattens the matrix into named typed columns
func (m *Matrix) Columns() []*models.Column {
	cfg := m.Config
	n := len(m.Rows)
	var out []*models.Column

	site := models.NewColumn(cfg.Site, models.KindString, n)
	ts := models.NewColumn(cfg.Time, models.KindTime, n)
	target := models.NewColumn(TargetColumn, models.KindFloat, n)
	label := models.NewColumn(LabelColumn, models.KindInt, n)
	for i, r := range m.Rows {
		site.Values[i] = r.Site
		ts.Values[i] = r.Time
		target.Values[i] = r.Target
		label.Values[i] = int64(r.Label)
	}
	out = append(out, site, ts, target, label)

	for j, id := range cfg.PredictorIDs {
		name := PredictorName(id)
		value := models.NewColumn(name, models.KindFloat, n)
		matched := models.NewColumn(name+"__time", models.KindTime, n)
		age := models.NewColumn(name+"__age_days", models.KindFloat, n)
		missing := models.NewColumn(name+"__is_missing", models.KindInt, n)
		for i, r := range m.Rows {
			cell := r.Predictors[j]
			value.Values[i] = floatOrNil(cell.Value)
			matched.Values[i] = timeOrNil(cell.MatchedAt)
			age.Values[i] = floatOrNil(cell.AgeDays)
			var flag int64
			if cell.IsMissing {
				flag = 1
			}
			missing.Values[i] = flag
		}
		out = append(out, value, matched)
		if cfg.AddAgeDays {
			out = append(out, age)
		}
		if cfg.AddMissingFlags {
			out = append(out, missing)
		}
	}

	for k, lag := range cfg.TargetLags {
		col := models.NewColumn("chl_lag_"+strconv.Itoa(lag), models.KindFloat, n)
		for i, r := range m.Rows {
			col.Values[i] = floatOrNil(r.TargetLags[k])
		}
		out = append(out, col)
	}
	for k, w := range cfg.TargetRolls {
		col := models.NewColumn("chl_roll_mean_"+strconv.Itoa(w), models.KindFloat, n)
		for i, r := range m.Rows {
			col.Values[i] = floatOrNil(r.TargetRolls[k])
		}
		out = append(out, col)
	}

	if cfg.AddSeasonality {
		names := []string{"month_sin", "month_cos", "doy_sin", "doy_cos"}
		cols := make([]*models.Column, len(names))
		for c, name := range names {
			cols[c] = models.NewColumn(name, models.KindFloat, n)
		}
		for i, r := range m.Rows {
			s := r.Seasonality
			cols[0].Values[i] = s.MonthSin
			cols[1].Values[i] = s.MonthCos
			cols[2].Values[i] = s.DoySin
			cols[3].Values[i] = s.DoyCos
		}
		out = append(out, cols...)
	}

	if cfg.AddDaysSinceLastChl {
		col := models.NewColumn("days_since_last_chl", models.KindFloat, n)
		for i, r := range m.Rows {
			col.Values[i] = floatOrNil(r.DaysSinceLast)
		}
		out = append(out, col)
	}

	version := models.NewColumn("feature_version", models.KindString, n)
	fp := models.NewColumn("feature_config_fingerprint", models.KindString, n)
	snapshot := models.NewColumn("snapshot_id", models.KindString, n)
	for i := range m.Rows {
		version.Values[i] = cfg.FeatureVersion
		fp.Values[i] = m.Fingerprint
		if cfg.SnapshotID != nil {
			snapshot.Values[i] = *cfg.SnapshotID
		}
	}
	out = append(out, version, fp, snapshot)

	return out
}
