// Package matrix assembles the anchor-aligned feature matrix: one row per
// target observation, predictors joined backward in time within the lookback
// window, time-derived features, labels and governance fields.
package matrix

import (
	"context"
	"fmt"
	"time"

	"bloomrisk/internal/asof"
	"bloomrisk/internal/derive"
	"bloomrisk/internal/labels"
	"bloomrisk/internal/models"
	"bloomrisk/internal/series"
	"bloomrisk/pkg/fingerprint"
)

// PredictorCell holds the as-of joined value of one predictor for one anchor.
// IsMissing is true exactly when Value is nil; AgeDays never exceeds the
// lookback when Value is set.
type PredictorCell struct {
	Value     *float64
	MatchedAt *time.Time
	AgeDays   *float64
	IsMissing bool
}

// Row is one anchor of the feature matrix
type Row struct {
	Site   string
	Time   time.Time
	Target float64
	Label  int

	// Predictors is aligned with Config.PredictorIDs
	Predictors []PredictorCell

	Seasonality   derive.Seasonality
	DaysSinceLast *float64

	// TargetLags and TargetRolls are aligned with Config.TargetLags and Config.TargetRolls
	TargetLags  []*float64
	TargetRolls []*float64

	// SourceRow is the position of the anchor observation in the input table
	SourceRow int
}

// Artifacts are the headline numbers of a build
type Artifacts struct {
	Fingerprint string   `json:"feature_config_fingerprint"`
	NRows       int      `json:"n_rows"`
	NPos        int      `json:"n_pos"`
	PosRate     *float64 `json:"pos_rate"`
}

// PredictorQuality reports extraction and join outcomes for one predictor
type PredictorQuality struct {
	ID      string               `json:"determinand_id"`
	Extract series.ExtractReport `json:"extract"`
	Join    asof.Stats           `json:"join"`
}

// QualityReport counts per-row anomalies encountered during a build
type QualityReport struct {
	Target     series.ExtractReport `json:"target"`
	Predictors []PredictorQuality   `json:"predictors"`
}

// Matrix is the output of a build
type Matrix struct {
	Config           Config
	Rows             []Row
	Fingerprint      string
	LabelFingerprint string
	LabelAudit       labels.AuditSummary
	Artifacts        Artifacts
	Quality          QualityReport
}

// Builder builds a feature matrix from a long observation table
type Builder struct {
	table       *models.Table
	cfg         Config
	mode        series.IDMode
	definer     *labels.Definer
	fingerprint string
}

// NewBuilder validates the configuration against the table. All
// configuration errors surface here, before any work is done.
func NewBuilder(table *models.Table, cfg Config) (*Builder, error) {
	if table == nil {
		return nil, &models.ConfigError{Field: "table", Message: "must not be nil"}
	}
	if err := table.RequireColumns("table", cfg.ColumnNames.Required()...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	definer, err := labels.NewDefiner(cfg.LabelConfig())
	if err != nil {
		return nil, err
	}

	fp, err := fingerprint.Of(cfg)
	if err != nil {
		return nil, fmt.Errorf("feature config fingerprint: %w", err)
	}

	mode, _ := series.ParseIDMode(cfg.DeterminandCast)
	return &Builder{
		table:       table,
		cfg:         cfg,
		mode:        mode,
		definer:     definer,
		fingerprint: fp,
	}, nil
}

// Fingerprint returns the configuration fingerprint
func (b *Builder) Fingerprint() string {
	return b.fingerprint
}

func (b *Builder) extract(id string) (*series.Series, series.ExtractReport, error) {
	return series.Extract(b.table, series.Spec{
		AnalyteID: id,
		Columns:   b.cfg.ColumnNames,
		Mode:      b.mode,
		Window:    b.cfg.Window(),
	})
}

// Build runs the pipeline. The result depends only on the table and the
// configuration; ctx is checked between stages.
func (b *Builder) Build(ctx context.Context) (*Matrix, error) {
	cfg := b.cfg

	target, targetReport, err := b.extract(cfg.TargetID)
	if err != nil {
		return nil, fmt.Errorf("extract target %s: %w", cfg.TargetID, err)
	}

	n := target.Len()
	anchors := make([]asof.Anchor, n)
	sites := make([]string, n)
	times := make([]time.Time, n)
	for i, p := range target.Points {
		anchors[i] = asof.Anchor{Site: p.Site, Time: p.Time}
		sites[i] = p.Site
		times[i] = p.Time
	}
	targetValues := target.Values()
	ys := b.definer.LabelAll(targetValues)

	rows := make([]Row, n)
	for i, p := range target.Points {
		rows[i] = Row{
			Site:       p.Site,
			Time:       p.Time,
			Target:     p.Value,
			Label:      ys[i],
			Predictors: make([]PredictorCell, len(cfg.PredictorIDs)),
			SourceRow:  p.Row,
		}
	}

	quality := QualityReport{Target: targetReport, Predictors: make([]PredictorQuality, 0, len(cfg.PredictorIDs))}
	for j, id := range cfg.PredictorIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pred, report, err := b.extract(id)
		if err != nil {
			return nil, fmt.Errorf("extract predictor %s: %w", id, err)
		}
		matches, err := asof.JoinBackward(anchors, pred.Points, cfg.LookbackDays)
		if err != nil {
			return nil, fmt.Errorf("join predictor %s: %w", id, err)
		}

		for i, m := range matches {
			rows[i].Predictors[j] = PredictorCell{
				Value:     m.Value,
				MatchedAt: m.MatchedAt,
				AgeDays:   m.AgeDays,
				IsMissing: m.IsMissing,
			}
		}
		quality.Predictors = append(quality.Predictors, PredictorQuality{
			ID:      id,
			Extract: report,
			Join:    asof.Summarize(matches),
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.addTimeFeatures(rows, sites, times, targetValues)

	audit := b.definer.Audit(ys)
	return &Matrix{
		Config:           cfg,
		Rows:             rows,
		Fingerprint:      b.fingerprint,
		LabelFingerprint: b.definer.Fingerprint(),
		LabelAudit:       audit,
		Artifacts: Artifacts{
			Fingerprint: b.fingerprint,
			NRows:       audit.N,
			NPos:        audit.Positives,
			PosRate:     audit.PositiveRate,
		},
		Quality: quality,
	}, nil
}

// addTimeFeatures fills seasonality, elapsed time and target history. Rows
// are sorted by (site, time, row), so grouped generators see each site as
// one contiguous run.
func (b *Builder) addTimeFeatures(rows []Row, sites []string, times []time.Time, values []float64) {
	cfg := b.cfg

	if cfg.AddSeasonality {
		for i := range rows {
			rows[i].Seasonality = derive.Seasonal(rows[i].Time)
		}
	}

	if cfg.AddDaysSinceLastChl {
		days := derive.DaysSincePrevious(sites, times)
		for i := range rows {
			rows[i].DaysSinceLast = days[i]
		}
	}

	if len(cfg.TargetLags) == 0 && len(cfg.TargetRolls) == 0 {
		return
	}

	nullable := derive.Ptrs(values)
	lags := make([][]*float64, len(cfg.TargetLags))
	for k, lag := range cfg.TargetLags {
		lags[k] = derive.GroupedLag(sites, nullable, lag)
	}
	rolls := make([][]*float64, len(cfg.TargetRolls))
	for k, w := range cfg.TargetRolls {
		rolls[k] = derive.GroupedShiftedRollingMean(sites, nullable, w)
	}

	for i := range rows {
		rows[i].TargetLags = make([]*float64, len(lags))
		for k := range lags {
			rows[i].TargetLags[k] = lags[k][i]
		}
		rows[i].TargetRolls = make([]*float64, len(rolls))
		for k := range rolls {
			rows[i].TargetRolls[k] = rolls[k][i]
		}
	}
}
