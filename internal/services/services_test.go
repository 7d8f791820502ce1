package services

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloomrisk/internal/clean"
	"bloomrisk/internal/derive"
	"bloomrisk/internal/labels"
	"bloomrisk/internal/matrix"
	"bloomrisk/internal/models"
	"bloomrisk/internal/repository"
	"bloomrisk/internal/series"
	"bloomrisk/internal/storage"
	"bloomrisk/pkg/logging"
	"bloomrisk/pkg/metrics"
)

const header = "phenomenonTime,samplingPoint.notation,determinand.notation,result,unit\n"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newCollector() *metrics.Collector {
	return metrics.NewCollectorWithRegistry("bloomrisk", prometheus.NewRegistry())
}

func TestBuildService_Build(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "obs.csv", header+
		"2020-01-10T09:30:00Z,S1,7887,25,ug/L\n"+
		"2020-01-01T08:00:00Z,S1,348,0.05,mg/L\n"+
		"2020-02-20T10:00:00Z,S1,7887,10,ug/L\n")

	col := newCollector()
	svc := NewBuildService(logging.Discard(), col)

	snap := "SNAP"
	cfg := matrix.DefaultConfig()
	cfg.SnapshotID = &snap
	out := filepath.Join(dir, "features")

	res, err := svc.Build(context.Background(), BuildRequest{InputPath: input, Config: cfg, OutputDir: out})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, filepath.Join(out, "features_SNAP_lb30_FEAT_V1.parquet"), res.Paths.Data)
	assert.FileExists(t, res.Paths.Data)
	assert.FileExists(t, res.Paths.Meta)
	assert.Equal(t, 2, res.Metadata.NRows)
	assert.Equal(t, 1, res.Metadata.NPos)

	assert.Equal(t, 2.0, testutil.ToFloat64(col.MatrixRows))
	assert.Equal(t, 0.5, testutil.ToFloat64(col.MatrixPositiveRate))
	assert.Equal(t, 1.0, testutil.ToFloat64(col.RunsTotal.WithLabelValues("build", "success")))
	assert.Equal(t, 3.0, testutil.ToFloat64(col.RecordsInTotal.WithLabelValues("build")))
	assert.Equal(t, 1.0, testutil.ToFloat64(col.PredictorMissingTotal.WithLabelValues("348")), "second anchor is 50 days after the only TP sample")
	assert.Equal(t, 1.0, testutil.ToFloat64(col.PredictorStaleTotal.WithLabelValues("348")))
	assert.Equal(t, 2.0, testutil.ToFloat64(col.PredictorMissingTotal.WithLabelValues("61")))
}

func TestBuildService_ConfigErrorWritesNothing(t *testing.T) {
	dir := t.TempDir()
	col := newCollector()
	svc := NewBuildService(logging.Discard(), col)

	table := models.NewTable(models.DefaultColumns().Required())
	cfg := matrix.DefaultConfig()
	cfg.LookbackDays = 0
	out := filepath.Join(dir, "features")

	_, err := svc.Build(context.Background(), BuildRequest{Table: table, Config: cfg, OutputDir: out})
	require.True(t, models.IsConfigError(err))
	assert.NoDirExists(t, out)
	assert.Equal(t, 1.0, testutil.ToFloat64(col.RunsTotal.WithLabelValues("build", "error")))
}

// memoryRepository filters analytes the way the SQL repository does, by exact text
type memoryRepository struct {
	observations []*models.Observation
}

func (r *memoryRepository) ReplaceSnapshot(ctx context.Context, snapshotID string, observations []*models.Observation) (int, error) {
	r.observations = observations
	return len(observations), nil
}

func (r *memoryRepository) Load(ctx context.Context, filter repository.ObservationFilter) ([]*models.Observation, error) {
	var out []*models.Observation
	for _, obs := range r.observations {
		if filter.SnapshotID != nil && obs.SnapshotID != *filter.SnapshotID {
			continue
		}
		if len(filter.AnalyteIDs) > 0 && !slices.Contains(filter.AnalyteIDs, obs.AnalyteID) {
			continue
		}
		out = append(out, obs)
	}
	return out, nil
}

func (r *memoryRepository) Snapshots(ctx context.Context) ([]repository.SnapshotSummary, error) {
	return nil, nil
}

func (r *memoryRepository) HealthCheck(ctx context.Context) error { return nil }

func TestSnapshotFilter_IntegerModeKeepsPaddedCodes(t *testing.T) {
	chl, tp := 25.0, 0.05
	repo := &memoryRepository{observations: []*models.Observation{
		{PhenomenonTime: time.Date(2020, 1, 10, 9, 30, 0, 0, time.UTC), SiteID: "S1", AnalyteID: "7887", Value: &chl, SnapshotID: "S"},
		{PhenomenonTime: time.Date(2020, 1, 1, 8, 0, 0, 0, time.UTC), SiteID: "S1", AnalyteID: "0348", Value: &tp, SnapshotID: "S"},
	}}

	snap := "S"
	cfg := matrix.DefaultConfig()
	cfg.SnapshotID = &snap
	cfg.PredictorIDs = []string{"348"}

	cfg.DeterminandCast = string(series.ModeString)
	assert.Equal(t, []string{"7887", "348"}, SnapshotFilter(snap, cfg).AnalyteIDs)

	cfg.DeterminandCast = string(series.ModeInt)
	filter := SnapshotFilter(snap, cfg)
	assert.Nil(t, filter.AnalyteIDs)
	require.NotNil(t, filter.SnapshotID)
	assert.Equal(t, "S", *filter.SnapshotID)

	ctx := context.Background()
	col := newCollector()
	table, err := NewLoadService(repo, logging.Discard(), col).FetchTable(ctx, filter, cfg.ColumnNames)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	res, err := NewBuildService(logging.Discard(), col).Build(ctx, BuildRequest{
		Table:     table,
		InputPath: "postgres:S",
		Config:    cfg,
		OutputDir: filepath.Join(t.TempDir(), "features"),
	})
	require.NoError(t, err)
	require.Len(t, res.Metadata.Quality.Predictors, 1)
	assert.Equal(t, 1, res.Metadata.Quality.Predictors[0].Join.Matched, "0348 matches 348 once both are integers")
	assert.Equal(t, 0.0, testutil.ToFloat64(col.PredictorMissingTotal.WithLabelValues("348")))
}

func TestCleanService_Clean(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "raw.csv", header+
		"2020-01-01 09:00,S1,7887,12,ug/L\n"+
		"2020-01-01 09:00,S1,7887,14,ug/L\n"+
		"2020-01-02 09:00,S1,0348,0.1,mg/L\n"+
		"2020-01-03 09:00,S1,999,1,x\n")

	col := newCollector()
	svc := NewCleanService(logging.Discard(), col)

	snap := "raw_2020"
	cfg := clean.DefaultConfig()
	cfg.SnapshotID = &snap

	res, err := svc.Clean(context.Background(), CleanRequest{
		InputPath:  input,
		Config:     cfg,
		OutputDir:  filepath.Join(dir, "clean"),
		ReportsDir: filepath.Join(dir, "reports"),
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "clean", "raw_2020.parquet"), res.DataPath)
	assert.Equal(t, filepath.Join(dir, "reports", "raw_2020_clean_report.json"), res.ReportPath)
	assert.Equal(t, clean.Rows{In: 4, Out: 2}, res.Report.Rows)
	assert.FileExists(t, res.ReportPath)

	table, err := storage.ReadParquet(context.Background(), res.DataPath)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
	norm, err := table.Column(clean.NormalizedIDColumn)
	require.NoError(t, err)
	assert.Equal(t, []any{"7887", "348"}, norm)

	assert.Equal(t, 1.0, testutil.ToFloat64(col.RecordsDroppedTotal.WithLabelValues("clean", "duplicates")))
	assert.Equal(t, 1.0, testutil.ToFloat64(col.RecordsDroppedTotal.WithLabelValues("clean", "not_selected")))
}

func TestAnalysisService_Label(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "chl.csv", "site,chl_ugL\nS1,19.9\nS1,20.0\nS1,20.1\nS1,\n")

	svc := NewAnalysisService(logging.Discard(), newCollector())
	res, err := svc.Label(context.Background(), LabelRequest{
		InputPath:  input,
		Config:     labels.DefaultConfig(),
		OutputPath: filepath.Join(dir, "labelled.parquet"),
		ReportPath: filepath.Join(dir, "audit.json"),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Audit.N)
	assert.Equal(t, 1, res.Audit.Positives)
	assert.FileExists(t, res.ReportPath)

	table, err := storage.ReadParquet(context.Background(), res.OutputPath)
	require.NoError(t, err)
	y, err := table.Column("y")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(0), int64(0), int64(1), int64(0)}, y)
}

func TestAnalysisService_Frame(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "clean.csv", header+
		"2020-06-01,S1,7887,10,ug/L\n"+
		"2020-06-01,S2,7887,30,ug/L\n"+
		"2020-06-08,S1,7887,25,ug/L\n"+
		"2020-06-08,S1,348,0.2,mg/L\n"+
		"2020-06-15,S1,7887,5,ug/L\n")

	svc := NewAnalysisService(logging.Discard(), newCollector())
	res, err := svc.Frame(context.Background(), FrameRequest{
		InputPath: input,
		Pivot: derive.PivotSpec{
			Columns:  models.DefaultColumns(),
			Mode:     series.ModeString,
			Window:   series.Window{StartYear: 2005, EndYear: 2025},
			Analytes: derive.DefaultAnalyteColumns(),
		},
		Config:     derive.DefaultFrameConfig(),
		OutputPath: filepath.Join(dir, "frame", "frame.parquet"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, "chl_lag_1", res.Columns[0])

	table, err := storage.ReadParquet(context.Background(), res.OutputPath)
	require.NoError(t, err)
	lag, err := table.Column("chl_lag_1")
	require.NoError(t, err)
	assert.Equal(t, []any{nil, 20.0, 25.0}, lag, "the first timestamp averages both sites")
}

func TestAnalysisService_Baselines(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("site,phenomenonTime,y\n")
	for _, r := range []string{
		"S1,2018-01-05,0", "S1,2018-07-05,1", "S1,2018-08-05,1",
		"S1,2019-01-05,0", "S1,2019-07-05,1", "S1,2019-08-05,0",
	} {
		b.WriteString(r + "\n")
	}
	input := writeFile(t, dir, "features.csv", b.String())

	svc := NewAnalysisService(logging.Discard(), newCollector())
	req := BaselineRequest{
		InputPath:    input,
		SiteColumn:   "site",
		TimeColumn:   "phenomenonTime",
		LabelColumn:  "y",
		TrainEndYear: 2018,
		AlertRate:    0.10,
		ReportPath:   filepath.Join(dir, "reports", "baselines.json"),
	}
	report, err := svc.Baselines(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, report.NTrain)
	assert.Equal(t, 3, report.NTest)
	require.Len(t, report.Metrics, 3)
	assert.Contains(t, report.Models, "seasonal_mean")
	assert.FileExists(t, req.ReportPath)

	req.AlertRate = 0
	_, err = svc.Baselines(context.Background(), req)
	assert.True(t, models.IsConfigError(err))

	req.AlertRate = 0.1
	req.TrainEndYear = 2030
	_, err = svc.Baselines(context.Background(), req)
	assert.Error(t, err)
}

func TestCatalogService(t *testing.T) {
	dir := t.TempDir()
	svc := NewBuildService(logging.Discard(), newCollector())
	input := writeFile(t, dir, "obs.csv", header+"2020-01-10T09:30:00Z,S1,7887,25,ug/L\n")

	var fingerprints []string
	for _, snap := range []string{"A", "B"} {
		snap := snap
		cfg := matrix.DefaultConfig()
		cfg.SnapshotID = &snap
		res, err := svc.Build(context.Background(), BuildRequest{InputPath: input, Config: cfg, OutputDir: filepath.Join(dir, "features")})
		require.NoError(t, err)
		fingerprints = append(fingerprints, res.Metadata.FeatureConfigFingerprint)
	}

	catalog := NewCatalogService(filepath.Join(dir, "features"), logging.Discard())
	ctx := context.Background()

	all, err := catalog.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyB, err := catalog.List(ctx, "B")
	require.NoError(t, err)
	require.Len(t, onlyB, 1)
	assert.Equal(t, "B", *onlyB[0].SnapshotID)

	got, err := catalog.Get(ctx, fingerprints[0])
	require.NoError(t, err)
	assert.Equal(t, "A", *got.SnapshotID)

	got, err = catalog.Get(ctx, fingerprints[1][:12])
	require.NoError(t, err)
	assert.Equal(t, "B", *got.SnapshotID)

	_, err = catalog.Get(ctx, "abc")
	assert.True(t, models.IsNotFound(err))
}
